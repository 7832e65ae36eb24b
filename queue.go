package await

// wnode is one link of a persistent waiter list.
type wnode struct {
	w    *waiter
	next *wnode
}

// waiterQueue is an immutable FIFO queue of waiters. Every operation
// returns a new queue and leaves the receiver untouched, which lets a
// queue live inside a state snapshot that is swapped atomically as a
// whole. It is the classic two-list construction: pushes go onto the
// back list, pops come off the front list, and the back list is
// reversed into the front when the front runs dry.
type waiterQueue struct {
	front *wnode
	back  *wnode
	size  int
}

func (q waiterQueue) len() int { return q.size }

// push appends w at the back.
func (q waiterQueue) push(w *waiter) waiterQueue {
	return waiterQueue{
		front: q.front,
		back:  &wnode{w: w, next: q.back},
		size:  q.size + 1,
	}
}

// pop removes the oldest waiter. Reports false on an empty queue.
func (q waiterQueue) pop() (*waiter, waiterQueue, bool) {
	if q.size == 0 {
		return nil, q, false
	}
	front, back := q.front, q.back
	if front == nil {
		// The back list holds newest first; reversing it yields the
		// front list in FIFO order.
		for n := back; n != nil; n = n.next {
			front = &wnode{w: n.w, next: front}
		}
		back = nil
	}
	return front.w, waiterQueue{front: front.next, back: back, size: q.size - 1}, true
}

// remove drops the first occurrence of w, preserving the order of the
// remaining waiters. Reports false when w is not queued.
func (q waiterQueue) remove(w *waiter) (waiterQueue, bool) {
	if q.size == 0 {
		return q, false
	}
	found := false
	out := waiterQueue{}
	q.each(func(queued *waiter) {
		if !found && queued == w {
			found = true
			return
		}
		out = out.push(queued)
	})
	if !found {
		return q, false
	}
	return out, true
}

// each visits the waiters in FIFO order.
func (q waiterQueue) each(fn func(*waiter)) {
	for n := q.front; n != nil; n = n.next {
		fn(n.w)
	}
	if q.back == nil {
		return
	}
	rev := make([]*waiter, 0, q.size)
	for n := q.back; n != nil; n = n.next {
		rev = append(rev, n.w)
	}
	for i := len(rev) - 1; i >= 0; i-- {
		fn(rev[i])
	}
}
