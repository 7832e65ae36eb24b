package await

import (
	"context"
	"sync"
)

// switchToken identifies one waiting acquisition so that cancellation
// can remove it from its side's wait set by identity. The field keeps
// the struct from being zero sized, since zero-size allocations may
// share an address.
type switchToken struct {
	side int8
}

// switchSide holds the waiters of one side: a set of tokens plus the
// generation completion the whole batch shares. Both are detached
// together when the lock flips to this side, so a token present in the
// set always belongs to the current generation.
type switchSide struct {
	waiting map[*switchToken]struct{}
	gen     *generation
}

// SwitchLock splits its callers into two groups, left and right. Any
// number of holders share a side, but the two sides never hold the
// lock at the same time. Neither side has priority: when the last
// holder of one side releases, the lock flips to every waiter of the
// opposite side at once. The zero value is an open, fair lock.
type SwitchLock struct {
	mu      sync.Mutex
	counter int // left holders when positive, right holders when negative
	left    switchSide
	right   switchSide
	unfair  bool
	closed  bool
}

// NewSwitchLock creates a SwitchLock.
func NewSwitchLock(opts ...LockOption) *SwitchLock {
	var cfg lockConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &SwitchLock{unfair: cfg.unfair}
}

// LockLeft acquires the left side, suspending while the right side
// holds the lock or, in fair mode, is waiting for it.
func (l *SwitchLock) LockLeft(ctx context.Context) (*Lease, error) {
	return l.lock(ctx, leaseLeft)
}

// LockRight acquires the right side, suspending while the left side
// holds the lock or, in fair mode, is waiting for it.
func (l *SwitchLock) LockRight(ctx context.Context) (*Lease, error) {
	return l.lock(ctx, leaseRight)
}

// TryLockLeft acquires the left side only when it is available
// immediately.
func (l *SwitchLock) TryLockLeft() (*Lease, bool) {
	return l.tryLock(leaseLeft)
}

// TryLockRight acquires the right side only when it is available
// immediately.
func (l *SwitchLock) TryLockRight() (*Lease, bool) {
	return l.tryLock(leaseRight)
}

// Close fails every waiting acquisition with ErrClosed. Current
// holders keep their access, but their releases become no-ops and no
// further acquisition succeeds. Close is idempotent.
func (l *SwitchLock) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	lg, rg := l.left.gen, l.right.gen
	l.left = switchSide{}
	l.right = switchSide{}
	l.mu.Unlock()
	if lg != nil {
		lg.resolve(ErrClosed)
	}
	if rg != nil {
		rg.resolve(ErrClosed)
	}
}

// IsLeft reports whether the left side currently holds the lock.
func (l *SwitchLock) IsLeft() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter > 0
}

// IsRight reports whether the right side currently holds the lock.
func (l *SwitchLock) IsRight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counter < 0
}

// WaitingLeft returns the number of suspended LockLeft calls.
func (l *SwitchLock) WaitingLeft() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.left.waiting)
}

// WaitingRight returns the number of suspended LockRight calls.
func (l *SwitchLock) WaitingRight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.right.waiting)
}

func (l *SwitchLock) lock(ctx context.Context, kind int8) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	if l.admitLocked(kind) {
		l.mu.Unlock()
		return newLease(l, kind), nil
	}
	side := l.side(kind)
	if side.gen == nil {
		side.gen = newGeneration()
		side.waiting = make(map[*switchToken]struct{})
	}
	g := side.gen
	tok := &switchToken{side: kind}
	side.waiting[tok] = struct{}{}
	l.mu.Unlock()

	select {
	case <-g.done:
		if g.err != nil {
			return nil, g.err
		}
		return newLease(l, kind), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	if _, queued := side.waiting[tok]; queued {
		delete(side.waiting, tok)
		if len(side.waiting) == 0 {
			// the batch emptied out before being granted
			side.gen = nil
			side.waiting = nil
		}
		l.mu.Unlock()
		return nil, ctx.Err()
	}
	l.mu.Unlock()
	// The flip already counted this waiter into the holding side. Give
	// the slot back; if it was the last one, that release performs the
	// next flip this caller would otherwise have blocked.
	<-g.done
	if g.err == nil {
		l.releaseLease(kind)
	}
	return nil, ctx.Err()
}

func (l *SwitchLock) tryLock(kind int8) (*Lease, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.admitLocked(kind) {
		return nil, false
	}
	return newLease(l, kind), true
}

// admitLocked grants kind immediately when the counter's sign allows
// it and, in fair mode, no opposite-side waiter would be bypassed.
func (l *SwitchLock) admitLocked(kind int8) bool {
	if kind == leaseLeft {
		if l.counter < 0 || (!l.unfair && len(l.right.waiting) > 0) {
			return false
		}
		l.counter++
	} else {
		if l.counter > 0 || (!l.unfair && len(l.left.waiting) > 0) {
			return false
		}
		l.counter--
	}
	return true
}

func (l *SwitchLock) side(kind int8) *switchSide {
	if kind == leaseLeft {
		return &l.left
	}
	return &l.right
}

func (l *SwitchLock) releaseLease(kind int8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if kind == leaseLeft {
		if l.counter <= 0 {
			panic("await(SwitchLock): release of an unheld left lock")
		}
		l.counter--
	} else {
		if l.counter >= 0 {
			panic("await(SwitchLock): release of an unheld right lock")
		}
		l.counter++
	}
	if l.counter == 0 {
		l.flipLocked(kind)
	}
}

// flipLocked hands the idle lock to waiters, preferring the side
// opposite the one that just released. Called with mu held and the
// counter at zero.
func (l *SwitchLock) flipLocked(from int8) {
	opposite := leaseRight
	if from == leaseRight {
		opposite = leaseLeft
	}
	if l.grantSideLocked(opposite) {
		return
	}
	l.grantSideLocked(from)
}

// grantSideLocked admits every waiter of one side at once, reporting
// false when nobody is waiting there.
func (l *SwitchLock) grantSideLocked(kind int8) bool {
	s := l.side(kind)
	if s.gen == nil {
		return false
	}
	g := s.gen
	n := len(s.waiting)
	s.gen = nil
	s.waiting = nil
	if kind == leaseLeft {
		l.counter = n
	} else {
		l.counter = -n
	}
	g.resolve(nil)
	return true
}
