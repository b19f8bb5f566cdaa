// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

// sleepHeap is a min-heap of fibers keyed by absolute deadline, in
// microseconds, array-backed rather than navigated by the binary
// expansion of a linked tree — a simpler structure to verify and
// reason about than a pointer-heavy tree form. heapIndex on each Fiber
// caches its current slot (0-based; heapIndex+1 is the 1-based
// breadth-first position, and -1 means not on the heap).
//
// A strict less-than comparison on deadline, combined with a monotonic
// insertion sequence counter as a tiebreaker, keeps fibers with an equal
// deadline in FIFO order among themselves (this module "Tie-break").
type sleepHeap struct {
	items []*Fiber
	seq   uint64
}

func newSleepHeap() *sleepHeap {
	return &sleepHeap{}
}

func (h *sleepHeap) len() int { return len(h.items) }

func (h *sleepHeap) peek() *Fiber {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

func (h *sleepHeap) less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.deadlineUS != b.deadlineUS {
		return a.deadlineUS < b.deadlineUS
	}
	return a.sleepSeq < b.sleepSeq
}

func (h *sleepHeap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}

// insert places f on the heap keyed by deadlineUS (already computed by
// the caller as lastClock + timeout) and marks it reachable from the
// root (this module invariant: ON_SLEEP_HEAP <-> reachable from sleep-heap root).
func (h *sleepHeap) insert(f *Fiber) {
	h.seq++
	f.sleepSeq = h.seq
	f.flags.set(flagOnSleepHeap)
	f.heapIndex = len(h.items)
	h.items = append(h.items, f)
	h.siftUp(f.heapIndex)
}

func (h *sleepHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

func (h *sleepHeap) siftDown(i int) {
	n := len(h.items)
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < n && h.less(l, smallest) {
			smallest = l
		}
		if r < n && h.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}

// delete removes f from the heap, wherever it currently sits (not only
// the root). It is the caller's responsibility to check flagOnSleepHeap
// first; delete is a no-op if f isn't tracked.
func (h *sleepHeap) delete(f *Fiber) {
	if !f.flags.has(flagOnSleepHeap) {
		return
	}
	i := f.heapIndex
	n := len(h.items) - 1
	h.swap(i, n)
	h.items = h.items[:n]
	f.flags.clear(flagOnSleepHeap)
	f.heapIndex = -1
	if i < n {
		h.siftDown(i)
		h.siftUp(i)
	}
}

// extractMin removes and returns the fiber with the smallest deadline, or
// nil if the heap is empty.
func (h *sleepHeap) extractMin() *Fiber {
	f := h.peek()
	if f == nil {
		return nil
	}
	h.delete(f)
	return f
}
