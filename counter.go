package await

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// Counter is a non-negative counter whose Decrement suspends until a
// unit is available. An Increment prefers handing its unit directly to
// the oldest waiting Decrement over raising the visible count, so
// units are granted in strict FIFO order and can never be stolen by a
// later arrival. The zero value is an open counter at zero.
type Counter struct {
	mu      sync.Mutex
	count   int64
	waiters deque.Deque[*waiter]
	closed  bool
}

// NewCounter creates a Counter, starting at the given initial count
// when one is supplied. Panics if the initial count is negative.
func NewCounter(initial ...int64) *Counter {
	c := &Counter{}
	if len(initial) > 0 {
		if initial[0] < 0 {
			panic("await(Counter): negative initial count")
		}
		c.count = initial[0]
	}
	return c
}

// Increment releases one unit, waking the oldest waiting Decrement if
// there is one. Once the counter is closed it is a no-op.
func (c *Counter) Increment() {
	c.TryIncrement()
}

// TryIncrement releases one unit like Increment, reporting false once
// the counter is closed and the unit was discarded.
func (c *Counter) TryIncrement() bool {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		if c.waiters.Len() == 0 {
			c.count++
			c.mu.Unlock()
			return true
		}
		w := c.waiters.PopFront()
		c.mu.Unlock()
		if w.grant() {
			return true
		}
		// that waiter cancelled in the meantime, try the next
	}
}

// Decrement consumes one unit, suspending until one is released when
// the count is at zero. Returns nil on success, ctx.Err() if ctx fires
// while waiting, or ErrClosed once the counter is closed.
func (c *Counter) Decrement(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.count > 0 {
		c.count--
		c.mu.Unlock()
		return nil
	}
	w := newWaiter()
	c.waiters.PushBack(w)
	c.mu.Unlock()

	return w.await(ctx, c.removeWaiter, c.Increment)
}

// TryDecrement consumes one unit only when one is immediately
// available.
func (c *Counter) TryDecrement() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.count == 0 {
		return false
	}
	c.count--
	return true
}

// Close fails every waiting Decrement with ErrClosed and pins the
// count at zero. Later Increments are discarded and later Decrements
// fail immediately. Close is idempotent.
func (c *Counter) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.count = 0
	failed := make([]*waiter, 0, c.waiters.Len())
	for c.waiters.Len() > 0 {
		failed = append(failed, c.waiters.PopFront())
	}
	c.mu.Unlock()
	for _, w := range failed {
		w.fail(ErrClosed)
	}
}

// Count returns the units currently available.
func (c *Counter) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Waiting returns the number of suspended Decrement calls.
func (c *Counter) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters.Len()
}

func (c *Counter) removeWaiter(w *waiter) {
	c.mu.Lock()
	if i := c.waiters.Index(func(queued *waiter) bool { return queued == w }); i >= 0 {
		c.waiters.Remove(i)
	}
	c.mu.Unlock()
}
