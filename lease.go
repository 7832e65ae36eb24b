package await

import "sync/atomic"

// Lease kinds, identifying which hold a Lease returns on release.
const (
	leasePermit int8 = iota
	leaseRead
	leaseWrite
	leaseLeft
	leaseRight
)

// releaser is implemented by every primitive that issues Leases.
type releaser interface {
	releaseLease(kind int8)
}

// Lease is a held unit of a primitive: a semaphore permit, a read or
// write hold, or a hold on one side of a switch lock. It must be
// released exactly once when the holder is done; extra releases are
// no-ops.
type Lease struct {
	owner    releaser
	kind     int8
	released atomic.Bool
}

func newLease(owner releaser, kind int8) *Lease {
	return &Lease{owner: owner, kind: kind}
}

// Release returns the held unit to its primitive, waking a waiter if
// one is queued. Only the first call has any effect.
func (l *Lease) Release() {
	if l.released.CompareAndSwap(false, true) {
		l.owner.releaseLease(l.kind)
	}
}

// Released reports whether Release has been called.
func (l *Lease) Released() bool {
	return l.released.Load()
}
