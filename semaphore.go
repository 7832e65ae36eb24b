package await

import (
	"context"
	"sync/atomic"
)

// semState is one immutable snapshot of a Semaphore. Mutations build a
// fresh snapshot and swap it in with CompareAndSwap, so an observer
// never sees a torn state.
type semState struct {
	held    int64
	limit   int64
	waiters waiterQueue
	closed  bool
}

// Semaphore bounds concurrency to a configurable number of permits.
// Acquire suspends once every permit is held; a released permit is
// handed directly to the oldest waiter instead of being made generally
// available, so waiters are served in strict FIFO order and cannot be
// starved by new arrivals. The whole state lives in one atomic pointer
// updated by compare-and-swap retry loops; there is no lock.
type Semaphore struct {
	state atomic.Pointer[semState]
}

// NewSemaphore creates a Semaphore with the given number of permits.
// Panics if limit is less than one.
func NewSemaphore(limit int64) *Semaphore {
	if limit < 1 {
		panic("await(Semaphore): limit must be at least one")
	}
	s := &Semaphore{}
	s.state.Store(&semState{limit: limit})
	return s
}

// Acquire takes one permit, suspending until one frees when all are
// held. When a permit is free the acquisition is a single pointer swap
// with nothing allocated beyond the returned Lease. Returns ctx.Err()
// if ctx fires while waiting, or ErrClosed once the semaphore is
// closed.
func (s *Semaphore) Acquire(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var w *waiter
	for {
		cur := s.state.Load()
		if cur.closed {
			return nil, ErrClosed
		}
		if cur.held < cur.limit && cur.waiters.len() == 0 {
			next := &semState{held: cur.held + 1, limit: cur.limit}
			if s.state.CompareAndSwap(cur, next) {
				return newLease(s, leasePermit), nil
			}
			continue
		}
		if w == nil {
			w = newWaiter()
		}
		next := &semState{held: cur.held, limit: cur.limit, waiters: cur.waiters.push(w)}
		if s.state.CompareAndSwap(cur, next) {
			break
		}
	}
	err := w.await(ctx, s.removeWaiter, func() { s.releaseLease(leasePermit) })
	if err != nil {
		return nil, err
	}
	return newLease(s, leasePermit), nil
}

// TryAcquire takes a permit only when one is immediately available.
func (s *Semaphore) TryAcquire() (*Lease, bool) {
	for {
		cur := s.state.Load()
		if cur.closed || cur.held >= cur.limit || cur.waiters.len() > 0 {
			return nil, false
		}
		next := &semState{held: cur.held + 1, limit: cur.limit}
		if s.state.CompareAndSwap(cur, next) {
			return newLease(s, leasePermit), true
		}
	}
}

// SetLimit changes the number of permits at runtime. Raising it wakes
// now-satisfiable waiters on a separate goroutine, never inline on the
// caller. Lowering it lets the held count exceed the limit until
// enough permits have been released. Panics if limit is less than one.
func (s *Semaphore) SetLimit(limit int64) {
	if limit < 1 {
		panic("await(Semaphore): limit must be at least one")
	}
	for {
		cur := s.state.Load()
		if cur.closed {
			return
		}
		next := &semState{held: cur.held, limit: limit, waiters: cur.waiters}
		if s.state.CompareAndSwap(cur, next) {
			if limit > cur.limit && next.waiters.len() > 0 {
				go s.drain()
			}
			return
		}
	}
}

// Close fails every waiter with ErrClosed and pins the counts at zero.
// Outstanding leases become inert: releasing one after Close has no
// effect. Later Acquires fail immediately. Close is idempotent.
func (s *Semaphore) Close() {
	for {
		cur := s.state.Load()
		if cur.closed {
			return
		}
		next := &semState{limit: cur.limit, closed: true}
		if s.state.CompareAndSwap(cur, next) {
			cur.waiters.each(func(w *waiter) { w.fail(ErrClosed) })
			return
		}
	}
}

// Limit returns the configured number of permits.
func (s *Semaphore) Limit() int64 { return s.state.Load().limit }

// Held returns the number of permits currently held.
func (s *Semaphore) Held() int64 { return s.state.Load().held }

// Available returns the number of free permits. It can be negative
// after SetLimit lowers the limit below the held count.
func (s *Semaphore) Available() int64 {
	cur := s.state.Load()
	if cur.closed {
		return 0
	}
	return cur.limit - cur.held
}

// Waiting returns the number of suspended Acquire calls.
func (s *Semaphore) Waiting() int { return s.state.Load().waiters.len() }

// releaseLease returns one permit. While waiters are queued and the
// held count is within the limit, the permit moves to the oldest
// waiter with the count unchanged; a waiter that cancelled in the
// meantime is dropped and the next one is tried.
func (s *Semaphore) releaseLease(int8) {
	for {
		cur := s.state.Load()
		if cur.closed {
			return
		}
		if cur.held <= cur.limit {
			if w, rest, ok := cur.waiters.pop(); ok {
				next := &semState{held: cur.held, limit: cur.limit, waiters: rest}
				if !s.state.CompareAndSwap(cur, next) {
					continue
				}
				if w.grant() {
					return
				}
				continue
			}
		}
		next := &semState{held: cur.held - 1, limit: cur.limit, waiters: cur.waiters}
		if s.state.CompareAndSwap(cur, next) {
			return
		}
	}
}

// drain grants queued waiters while spare permits exist, after a limit
// raise.
func (s *Semaphore) drain() {
	for {
		cur := s.state.Load()
		if cur.closed || cur.held >= cur.limit {
			return
		}
		w, rest, ok := cur.waiters.pop()
		if !ok {
			return
		}
		next := &semState{held: cur.held + 1, limit: cur.limit, waiters: rest}
		if !s.state.CompareAndSwap(cur, next) {
			continue
		}
		if !w.grant() {
			// claimed a permit for a waiter that cancelled; put it back
			s.releaseLease(leasePermit)
		}
	}
}

func (s *Semaphore) removeWaiter(w *waiter) {
	for {
		cur := s.state.Load()
		rest, found := cur.waiters.remove(w)
		if !found {
			return
		}
		next := &semState{held: cur.held, limit: cur.limit, waiters: rest, closed: cur.closed}
		if s.state.CompareAndSwap(cur, next) {
			return
		}
	}
}
