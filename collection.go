package await

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
)

// Store is the backing container of a Collection: any structure with
// try-insert, try-remove and an approximate count. The collection only
// touches the store after its counters have reserved the operation, so
// a Store must never reject an insert when capacity was reserved, nor
// a removal when an item was reserved. A Store that does has broken
// its contract, and the collection panics rather than mask it.
type Store[T any] interface {
	TryAdd(item T) bool
	TryTake() (T, bool)
	Len() int
}

// dequeStore is the default Store, an ordered queue that never
// rejects.
type dequeStore[T any] struct {
	mu    sync.Mutex
	items deque.Deque[T]
}

func (s *dequeStore[T]) TryAdd(item T) bool {
	s.mu.Lock()
	s.items.PushBack(item)
	s.mu.Unlock()
	return true
}

func (s *dequeStore[T]) TryTake() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items.Len() == 0 {
		var zero T
		return zero, false
	}
	return s.items.PopFront(), true
}

func (s *dequeStore[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items.Len()
}

// Collection is a producer/consumer queue whose operations suspend
// instead of blocking: Take waits for an item to arrive, and on a
// bounded collection Add waits for a slot to free. It is built from
// two Counters, items available and slots free, around a backing
// Store.
type Collection[T any] struct {
	store     Store[T]
	used      *Counter
	free      *Counter // nil when unbounded
	capacity  int
	completed atomic.Bool
}

// NewCollection creates a Collection, unbounded by default. Supplying
// a capacity bounds it; a capacity below one panics.
func NewCollection[T any](capacity ...int) *Collection[T] {
	return NewCollectionStore[T](&dequeStore[T]{}, capacity...)
}

// NewCollectionStore creates a Collection over a caller-supplied
// backing store, which may already hold items. The store must honor
// the Store contract and must not be touched directly afterwards.
func NewCollectionStore[T any](store Store[T], capacity ...int) *Collection[T] {
	if store == nil {
		panic("await(Collection): nil store")
	}
	held := store.Len()
	c := &Collection[T]{store: store, used: NewCounter(int64(held))}
	if len(capacity) > 0 {
		if capacity[0] < 1 {
			panic("await(Collection): capacity must be at least one")
		}
		if held > capacity[0] {
			panic("await(Collection): store holds more than the capacity")
		}
		c.capacity = capacity[0]
		c.free = NewCounter(int64(capacity[0] - held))
	}
	return c
}

// Add inserts an item, suspending while a bounded collection is full.
// Returns ctx.Err() if ctx fires while waiting, or ErrCompleted once
// CompleteAdding has been called.
func (c *Collection[T]) Add(ctx context.Context, item T) error {
	if c.completed.Load() {
		return ErrCompleted
	}
	if c.free != nil {
		if err := c.free.Decrement(ctx); err != nil {
			if errors.Is(err, ErrClosed) {
				return ErrCompleted
			}
			return err
		}
		if c.completed.Load() {
			// CompleteAdding raced the reservation, hand the slot back
			c.free.Increment()
			return ErrCompleted
		}
	}
	return c.insert(item)
}

// TryAdd inserts an item only when a slot is immediately available.
// Returns ErrFull when a bounded collection is full, or ErrCompleted
// once CompleteAdding has been called.
func (c *Collection[T]) TryAdd(item T) error {
	if c.completed.Load() {
		return ErrCompleted
	}
	if c.free != nil {
		if !c.free.TryDecrement() {
			if c.completed.Load() {
				return ErrCompleted
			}
			return ErrFull
		}
		if c.completed.Load() {
			c.free.Increment()
			return ErrCompleted
		}
	}
	return c.insert(item)
}

// Take removes the oldest item, suspending while the collection is
// empty. Returns ctx.Err() if ctx fires while waiting, or ErrCompleted
// once adding is completed and the collection has drained.
func (c *Collection[T]) Take(ctx context.Context) (T, error) {
	var zero T
	if err := c.used.Decrement(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return zero, ErrCompleted
		}
		return zero, err
	}
	return c.extract()
}

// TryTake removes the oldest item only when one is immediately
// available. Returns ErrEmpty on an empty collection, or ErrCompleted
// once adding is completed and the collection has drained.
func (c *Collection[T]) TryTake() (T, error) {
	var zero T
	if !c.used.TryDecrement() {
		if c.completed.Load() && c.used.Count() == 0 {
			return zero, ErrCompleted
		}
		return zero, ErrEmpty
	}
	return c.extract()
}

// CompleteAdding marks the collection as accepting no further items.
// Waiting and future Adds fail with ErrCompleted, and once the
// remaining items drain, waiting and future Takes do too. It is
// idempotent and cannot be undone.
func (c *Collection[T]) CompleteAdding() {
	if !c.completed.CompareAndSwap(false, true) {
		return
	}
	if c.free != nil {
		c.free.Close()
	}
	c.closeIfDrained()
}

// Consume returns an iterator that keeps taking items until the
// collection completes and drains, or ctx fires.
func (c *Collection[T]) Consume(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			item, err := c.Take(ctx)
			if err != nil || !yield(item) {
				return
			}
		}
	}
}

// Count returns the number of items currently held.
func (c *Collection[T]) Count() int {
	return c.store.Len()
}

// Capacity returns the configured capacity, or zero when unbounded.
func (c *Collection[T]) Capacity() int {
	return c.capacity
}

// IsAddingCompleted reports whether CompleteAdding has been called.
func (c *Collection[T]) IsAddingCompleted() bool {
	return c.completed.Load()
}

// IsCompleted reports whether adding is completed and nothing remains
// to take.
func (c *Collection[T]) IsCompleted() bool {
	return c.completed.Load() && c.used.Count() == 0
}

func (c *Collection[T]) insert(item T) error {
	if !c.store.TryAdd(item) {
		panic("await(Collection): store rejected an insert after capacity was reserved")
	}
	if !c.used.TryIncrement() {
		// completed and drained between the reservation and here
		return ErrCompleted
	}
	return nil
}

func (c *Collection[T]) extract() (T, error) {
	item, ok := c.store.TryTake()
	if !ok {
		panic("await(Collection): store had no item after one was reserved")
	}
	if c.free != nil {
		c.free.Increment()
	}
	c.closeIfDrained()
	return item, nil
}

// closeIfDrained closes the item counter once the collection is both
// completed and empty, releasing every blocked Take into ErrCompleted.
func (c *Collection[T]) closeIfDrained() {
	if c.completed.Load() && c.used.Count() == 0 {
		c.used.Close()
	}
}
