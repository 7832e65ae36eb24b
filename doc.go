// Package await provides coordination primitives whose waits suspend
// the calling goroutine on a completion instead of spinning or
// polling, and hand freed resources directly to the oldest waiter.
//
// The main components include:
//
//   - Counter: a non-negative counter whose Decrement suspends at zero, with FIFO hand-off on Increment
//   - Semaphore: a lock-free counting semaphore with FIFO waiters and a limit that can change at runtime
//   - RWLock: a reader/writer lock with a fairness toggle
//   - SwitchLock: two symmetric groups, left and right, each concurrent with itself and exclusive with the other
//   - Collection: a bounded or unbounded producer/consumer queue built on two Counters and a pluggable Store
//   - TaskStream: runs queued callbacks strictly one after another without blocking the callers
//   - TaskFlag: coalesces bursts of wake-up signals into at most one pending re-run of a callback
//
// Every suspending operation takes a context.Context and resolves with
// its error if it fires first. Held resources are returned through a
// Lease, which is safe to release more than once. Primitives are shut
// down with Close, failing all of their waiters with ErrClosed.
package await
