package await

import (
	"context"
	"sync/atomic"
)

// waiter states. A waiter leaves waiterPending exactly once, by
// CompareAndSwap, and never moves again.
const (
	waiterPending int32 = iota
	waiterGranted
	waiterCancelled
	waiterFailed
)

// waiter is a single-assignment completion for one suspended request.
// The resolving side (grant or fail) publishes the outcome and closes
// done. Cancellation only flips the state: the cancelling caller has
// stopped listening, so the channel stays open and whoever loses the
// race learns about it from the failed CompareAndSwap.
type waiter struct {
	state atomic.Int32
	done  chan struct{}
	err   error
}

func newWaiter() *waiter {
	return &waiter{done: make(chan struct{})}
}

// grant resolves the waiter successfully. Reports false when the
// waiter was resolved or cancelled first, in which case the unit being
// handed over still belongs to the caller.
func (w *waiter) grant() bool {
	if !w.state.CompareAndSwap(waiterPending, waiterGranted) {
		return false
	}
	close(w.done)
	return true
}

// fail resolves the waiter with err.
func (w *waiter) fail(err error) bool {
	if !w.state.CompareAndSwap(waiterPending, waiterFailed) {
		return false
	}
	w.err = err
	close(w.done)
	return true
}

// cancel claims the waiter for the cancelling caller. Reports false
// when the waiter was already resolved.
func (w *waiter) cancel() bool {
	return w.state.CompareAndSwap(waiterPending, waiterCancelled)
}

// await suspends until the waiter resolves or ctx fires, whichever is
// first, and returns the outcome. On cancellation, abandon is called
// so the owner can drop the waiter from its wait structure. When the
// cancellation loses the race against a grant, the granted unit is no
// longer wanted and handBack returns it to the owner.
func (w *waiter) await(ctx context.Context, abandon func(*waiter), handBack func()) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
	}
	if w.cancel() {
		if abandon != nil {
			abandon(w)
		}
		return ctx.Err()
	}
	<-w.done
	if w.err == nil && handBack != nil {
		handBack()
	}
	return ctx.Err()
}

// generation is a shared completion for one batch of same-mode
// waiters, such as the readers queued behind a writer or the callers
// waiting on one side of a switch. The owner swaps the generation out
// of its structure before resolving it, so a new batch can start
// forming immediately.
type generation struct {
	done chan struct{}
	err  error
}

func newGeneration() *generation {
	return &generation{done: make(chan struct{})}
}

// resolve completes every member of the batch at once. Must be called
// exactly once, after the generation has been detached from its owner.
func (g *generation) resolve(err error) {
	g.err = err
	close(g.done)
}
