package await

import (
	"context"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

// withTimeout wraps a channel receive with a timeout
func withTimeout[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case val := <-ch:
		return val
	case <-time.After(testTimeout):
		t.Fatal("Test timed out waiting for channel receive")
		var zero T
		return zero
	}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("Test timed out waiting for condition")
		}
		time.Sleep(time.Millisecond)
	}
}

// testCtx returns a context that expires with the test timeout.
func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}

// grant carries the outcome of an acquisition made on another
// goroutine.
type grant struct {
	lease *Lease
	err   error
}

// acquireAsync runs acquire on its own goroutine and returns the
// channel its outcome will arrive on.
func acquireAsync(acquire func(context.Context) (*Lease, error), ctx context.Context) <-chan grant {
	ch := make(chan grant, 1)
	go func() {
		lease, err := acquire(ctx)
		ch <- grant{lease, err}
	}()
	return ch
}
