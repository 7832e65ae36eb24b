package await

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Sentinel errors returned by the primitives in this package.
// Cancellation is never translated into these: a caller whose context
// fires always receives that context's error.
var (
	// ErrClosed is returned when an operation waits on a primitive that
	// has been closed, or arrives after it was closed.
	ErrClosed = errors.New("await: closed")

	// ErrCompleted is returned by collection operations once adding has
	// been completed and no item remains to satisfy them.
	ErrCompleted = errors.New("await: adding completed")

	// ErrFull is returned by TryAdd when a bounded collection has no
	// free slot.
	ErrFull = errors.New("await: collection full")

	// ErrEmpty is returned by TryTake when a collection holds no items.
	ErrEmpty = errors.New("await: collection empty")
)

// PanicError wraps a panic recovered from a user callback so it can be
// reported through the normal error path instead of tearing down
// whichever goroutine happened to run the callback.
type PanicError struct {
	Value any    // the value passed to panic
	Stack []byte // stack trace captured at recovery
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("await: callback panic: %v", e.Value)
}

// invoke runs fn, converting a panic into a *PanicError.
func invoke(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
			slog.Debug("Recovered callback panic: ", "error", err)
		}
	}()
	return fn()
}
