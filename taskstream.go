package await

import (
	"context"
	"sync/atomic"
)

// Pending is the completion handle for one unit of work queued on a
// TaskStream. It resolves exactly once, after the unit runs or is
// skipped by cancellation.
type Pending struct {
	done chan struct{}
	err  error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Done returns a channel that is closed when the unit has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Err returns the unit's outcome: nil while it has not finished or
// when it succeeded, the callback's error, a *PanicError if the
// callback panicked, or the queuing context's error if the unit was
// skipped.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait suspends until the unit finishes or ctx fires. Waiting is
// observation only: giving up the wait does not unqueue the unit.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

// Result is a Pending that carries the callback's value.
type Result[T any] struct {
	*Pending
	value T
}

// Wait suspends until the unit finishes or ctx fires, returning the
// callback's value and error.
func (r *Result[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Value returns the callback's value. Only meaningful once the unit
// has finished.
func (r *Result[T]) Value() T {
	return r.value
}

// TaskStream runs queued callbacks strictly one after another, in
// submission order, without blocking the callers that queue them. Each
// unit is chained onto the previous one: it holds only its
// predecessor's completion, so finished units become collectable as
// soon as nobody watches their handle. The zero value is an empty
// stream.
type TaskStream struct {
	tail    atomic.Pointer[Pending]
	pending atomic.Int64
}

// NewTaskStream creates an empty TaskStream. Equivalent to
// new(TaskStream).
func NewTaskStream() *TaskStream {
	return &TaskStream{}
}

// Queue appends fn to the stream. It runs once every previously queued
// unit has finished. If ctx fires before its turn, the unit resolves
// with ctx.Err() without running and the stream moves on. Panics if fn
// is nil.
func (s *TaskStream) Queue(ctx context.Context, fn func()) *Pending {
	if fn == nil {
		panic("await(TaskStream): nil callback")
	}
	p := newPending()
	s.run(ctx, p, func() error {
		fn()
		return nil
	})
	return p
}

// QueueErr is Queue for a callback that reports an error. The error is
// surfaced through the returned Pending and does not stop the stream.
func (s *TaskStream) QueueErr(ctx context.Context, fn func() error) *Pending {
	if fn == nil {
		panic("await(TaskStream): nil callback")
	}
	p := newPending()
	s.run(ctx, p, fn)
	return p
}

// QueueResult appends a value-returning callback to s, behaving like
// TaskStream.QueueErr otherwise. A free function because a method
// cannot introduce its own type parameter.
func QueueResult[T any](ctx context.Context, s *TaskStream, fn func() (T, error)) *Result[T] {
	if fn == nil {
		panic("await(TaskStream): nil callback")
	}
	r := &Result[T]{Pending: newPending()}
	s.run(ctx, r.Pending, func() error {
		v, err := fn()
		r.value = v
		return err
	})
	return r
}

// Complete suspends until the stream has no queued work left. It
// returns only after atomically observing an idle stream: when new
// units are queued during the wait, the wait starts over on the new
// tail.
func (s *TaskStream) Complete(ctx context.Context) error {
	for {
		tail := s.tail.Load()
		if tail == nil {
			return nil
		}
		select {
		case <-tail.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if s.tail.CompareAndSwap(tail, nil) {
			return nil
		}
	}
}

// Reset detaches the stream from its queued work: units queued after
// the Reset no longer wait for units queued before it. Work already
// queued keeps running and its handles still resolve.
func (s *TaskStream) Reset() {
	s.tail.Store(nil)
}

// PendingActions returns the number of queued units that have not yet
// finished. Approximate while units are being queued concurrently.
func (s *TaskStream) PendingActions() int64 {
	return s.pending.Load()
}

func (s *TaskStream) run(ctx context.Context, p *Pending, fn func() error) {
	s.pending.Add(1)
	prev := s.tail.Swap(p)
	go func() {
		if prev != nil {
			<-prev.done
		}
		err := ctx.Err()
		if err == nil {
			err = invoke(fn)
		}
		s.pending.Add(-1)
		p.resolve(err)
	}()
}
