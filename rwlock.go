package await

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// LockOption configures an RWLock or a SwitchLock.
type LockOption func(*lockConfig)

type lockConfig struct {
	unfair bool
}

// Unfair trades FIFO fairness for throughput: new same-mode holders
// may keep joining while the opposite mode waits, instead of queueing
// behind it.
func Unfair() LockOption {
	return func(c *lockConfig) { c.unfair = true }
}

// RWLock is a reader/writer lock whose acquisitions suspend instead of
// blocking. Any number of readers hold it together; a writer holds it
// alone. In the default fair mode a queued writer stops later readers
// from joining, so writers cannot be starved by a steady reader
// stream. The zero value is an open, fair lock.
//
// Readers waiting behind a writer form a single batch that is granted
// all at once when the lock frees for them. Writers wait in a queue
// and are granted one at a time, in arrival order.
type RWLock struct {
	mu      sync.Mutex
	counter int // number of readers, -1 for a writer, 0 when idle
	readers *generation
	pending int // readers in the forming generation
	writers deque.Deque[*waiter]
	unfair  bool
	closed  bool
}

// NewRWLock creates an RWLock.
func NewRWLock(opts ...LockOption) *RWLock {
	var cfg lockConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RWLock{unfair: cfg.unfair}
}

// LockRead acquires shared access, suspending while a writer holds the
// lock or, in fair mode, is waiting for it. Returns ctx.Err() if ctx
// fires while waiting, or ErrClosed once the lock is closed.
func (l *RWLock) LockRead(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if l.counter >= 0 && (l.unfair || l.writers.Len() == 0) {
		l.counter++
		l.mu.Unlock()
		return newLease(l, leaseRead), nil
	}
	if l.readers == nil {
		l.readers = newGeneration()
	}
	g := l.readers
	l.pending++
	l.mu.Unlock()

	select {
	case <-g.done:
		if g.err != nil {
			return nil, g.err
		}
		return newLease(l, leaseRead), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	if l.readers == g {
		// still queued, drop out of the forming generation
		l.pending--
		l.mu.Unlock()
		return nil, ctx.Err()
	}
	l.mu.Unlock()
	// The generation was already detached. If it was granted, this
	// caller's slot was counted and has to go back through the normal
	// release path.
	<-g.done
	if g.err == nil {
		l.releaseLease(leaseRead)
	}
	return nil, ctx.Err()
}

// LockWrite acquires exclusive access, suspending until the lock is
// idle. Writers are granted in arrival order. Returns ctx.Err() if ctx
// fires while waiting, or ErrClosed once the lock is closed.
func (l *RWLock) LockWrite(ctx context.Context) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if l.counter == 0 {
		l.counter = -1
		l.mu.Unlock()
		return newLease(l, leaseWrite), nil
	}
	w := newWaiter()
	l.writers.PushBack(w)
	l.mu.Unlock()

	err := w.await(ctx, l.removeWriter, func() { l.releaseLease(leaseWrite) })
	if err != nil {
		return nil, err
	}
	return newLease(l, leaseWrite), nil
}

// TryLockRead acquires shared access only when it is available
// immediately.
func (l *RWLock) TryLockRead() (*Lease, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.counter < 0 || (!l.unfair && l.writers.Len() > 0) {
		return nil, false
	}
	l.counter++
	return newLease(l, leaseRead), true
}

// TryLockWrite acquires exclusive access only when the lock is idle.
func (l *RWLock) TryLockWrite() (*Lease, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.counter != 0 {
		return nil, false
	}
	l.counter = -1
	return newLease(l, leaseWrite), true
}

// Close fails every waiting acquisition with ErrClosed. Current
// holders keep their access, but their releases become no-ops and no
// further acquisition succeeds. Close is idempotent.
func (l *RWLock) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	g := l.readers
	l.readers = nil
	l.pending = 0
	var failed []*waiter
	for l.writers.Len() > 0 {
		failed = append(failed, l.writers.PopFront())
	}
	l.mu.Unlock()
	if g != nil {
		g.resolve(ErrClosed)
	}
	for _, w := range failed {
		w.fail(ErrClosed)
	}
}

// IsReading reports whether at least one reader holds the lock.
func (l *RWLock) IsReading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter > 0
}

// IsWriting reports whether a writer holds the lock.
func (l *RWLock) IsWriting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter < 0
}

// WaitingReaders returns the number of suspended LockRead calls.
func (l *RWLock) WaitingReaders() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// WaitingWriters returns the number of suspended LockWrite calls.
func (l *RWLock) WaitingWriters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writers.Len()
}

func (l *RWLock) releaseLease(kind int8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	switch kind {
	case leaseRead:
		if l.counter <= 0 {
			panic("await(RWLock): release of an unheld read lock")
		}
		l.counter--
	case leaseWrite:
		if l.counter != -1 {
			panic("await(RWLock): release of an unheld write lock")
		}
		l.counter = 0
	}
	if l.counter == 0 {
		l.promoteLocked()
	}
}

// promoteLocked hands the freed lock to its next holder or holders:
// the oldest live queued writer first, otherwise the entire waiting
// reader generation at once. Called with mu held and counter at zero.
func (l *RWLock) promoteLocked() {
	for {
		for l.writers.Len() > 0 {
			w := l.writers.PopFront()
			if w.grant() {
				l.counter = -1
				return
			}
		}
		if l.readers == nil {
			return
		}
		g := l.readers
		l.readers = nil
		l.counter = l.pending
		l.pending = 0
		g.resolve(nil)
		if l.counter > 0 {
			return
		}
		// every reader of that generation had already cancelled out
	}
}

func (l *RWLock) removeWriter(w *waiter) {
	l.mu.Lock()
	if i := l.writers.Index(func(queued *waiter) bool { return queued == w }); i >= 0 {
		l.writers.Remove(i)
	}
	l.mu.Unlock()
}
