package await

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// TaskFlag states. The state only moves by CompareAndSwap: Set raises
// the flag, the single runner goroutine lowers it.
const (
	flagIdle int32 = iota
	flagRaised
	flagRunning
)

// TaskFlag coalesces bursts of wake-up signals into single executions
// of a callback. However many times Set is called between two
// executions, at most one further execution results; a Set landing
// during an execution guarantees exactly one re-run after it. The
// callback never runs concurrently with itself.
type TaskFlag struct {
	callback func() error
	delay    time.Duration
	state    atomic.Int32
	waiters  atomic.Pointer[generation]
	closed   atomic.Bool
}

// TaskFlagOption is a functional option for configuring a TaskFlag.
type TaskFlagOption func(*TaskFlag)

// WithDelay makes each execution wait d after being triggered, so a
// rapid burst of Sets lands in a single run.
func WithDelay(d time.Duration) TaskFlagOption {
	return func(f *TaskFlag) { f.delay = d }
}

// NewTaskFlag creates a TaskFlag around callback. Panics if callback
// is nil.
func NewTaskFlag(callback func() error, opts ...TaskFlagOption) *TaskFlag {
	if callback == nil {
		panic("await(TaskFlag): nil callback")
	}
	f := &TaskFlag{callback: callback}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Set requests one execution of the callback and never blocks. From
// idle it schedules a run; while a run is already pending it is a
// no-op; during an execution it flags exactly one re-run.
func (f *TaskFlag) Set() {
	if f.closed.Load() {
		return
	}
	for {
		switch f.state.Load() {
		case flagIdle:
			if f.state.CompareAndSwap(flagIdle, flagRaised) {
				go f.run()
				return
			}
		case flagRaised:
			return
		case flagRunning:
			if f.state.CompareAndSwap(flagRunning, flagRaised) {
				return
			}
		}
	}
}

// SetAndWait triggers an execution like Set, then suspends until a run
// that started after this call finishes, and returns that run's error.
// Concurrent SetAndWait callers share a single run.
func (f *TaskFlag) SetAndWait(ctx context.Context) error {
	if f.closed.Load() {
		return ErrClosed
	}
	var g *generation
	for {
		g = f.waiters.Load()
		if g != nil {
			break
		}
		g = newGeneration()
		if f.waiters.CompareAndSwap(nil, g) {
			break
		}
	}
	if f.closed.Load() {
		// Close raced the publish. Resolve the batch here unless the
		// runner or Close already claimed it.
		if f.waiters.CompareAndSwap(g, nil) {
			g.resolve(ErrClosed)
		}
	} else {
		f.Set()
	}
	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts the flag down: Set becomes a no-op and unclaimed
// SetAndWait callers resolve with ErrClosed. An execution already in
// flight finishes. Close is idempotent.
func (f *TaskFlag) Close() {
	if !f.closed.CompareAndSwap(false, true) {
		return
	}
	if g := f.waiters.Swap(nil); g != nil {
		g.resolve(ErrClosed)
	}
}

// run is the single runner goroutine, spawned by the Set that raised
// the flag from idle. It loops while Sets keep landing during the
// execution.
func (f *TaskFlag) run() {
	for {
		if f.delay > 0 {
			time.Sleep(f.delay)
		}
		// only this runner leaves the raised state
		f.state.CompareAndSwap(flagRaised, flagRunning)
		g := f.waiters.Swap(nil)
		var err error
		if f.closed.Load() {
			err = ErrClosed
		} else {
			err = invoke(f.callback)
		}
		if g != nil {
			g.resolve(err)
		} else if err != nil {
			slog.Debug("Task flag callback failed: ", "error", err)
		}
		if f.closed.Load() || f.state.CompareAndSwap(flagRunning, flagIdle) {
			return
		}
	}
}
