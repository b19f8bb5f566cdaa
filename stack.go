// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package fiberloop

import "sync"

// stackSlot is the logical handle for what a fiber thinks of as its
// "stack": a backing resource reservation for one fiber's execution
// context.
//
// Go's runtime already provides what a from-scratch allocator would need
// guard pages and mmap-on-miss for: every goroutine stack grows on demand
// from a few kilobytes, is bounds-checked by the runtime on every call,
// and is freed automatically when the goroutine exits. There is no
// portable, safe way for library code to reserve raw guarded memory and
// splice a goroutine onto it, and doing so would defeat the memory
// safety the runtime exists to provide. This type therefore keeps the
// *observable contract* of a real stack allocator — first-fit reuse by
// requested size, O(1) release, a free-list whose count is visible to
// callers and tests — as a bookkeeping layer, while the real stack
// memory backing each fiber's goroutine is managed entirely by the Go
// runtime.
type stackSlot struct {
	size int // usable size requested at allocation, in bytes
}

// stackPool is a free-list of stackSlot reservations: acquire() scans
// the free list in insertion order for the first slot whose size is at
// least the request (first-fit); release pushes back onto the list for
// reuse.
//
// randomize, when enabled via WithRandomizedStacks, perturbs which
// among several equally-eligible free slots is returned: it removes the
// deterministic, predictable reuse order without changing any
// observable size accounting.
type stackPool struct {
	mu        sync.Mutex
	free      []*stackSlot
	randomize bool
	randSrc   func() uint32
	randState uint32
}

func newStackPool(randomize bool, randSrc func() uint32) *stackPool {
	p := &stackPool{randomize: randomize, randSrc: randSrc, randState: 0x9e3779b9}
	if p.randSrc == nil {
		p.randSrc = p.xorshift
	}
	return p
}

// xorshift is a tiny non-cryptographic generator used only to pick among
// equally-eligible free-list entries; it carries no security weight of
// its own (unlike this module's guard-page offset, which defends real memory).
// Always called with mu held, so the shared state needs no atomics.
func (p *stackPool) xorshift() uint32 {
	p.randState ^= p.randState << 13
	p.randState ^= p.randState >> 17
	p.randState ^= p.randState << 5
	return p.randState
}

// acquire returns a stack slot usable for at least requestedSize bytes,
// reusing one from the free list (first-fit) or minting a new logical
// reservation on miss. Allocation never fails in this realization (there
// is no mmap to exhaust); the error return is kept for API fidelity with
// this runtime's "failure to map -> allocator yields failure" contract, which a
// caller-supplied, memory-constrained Option could in principle enforce.
func (p *stackPool) acquire(requestedSize int) (*stackSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]int, 0, len(p.free))
	for i, s := range p.free {
		if s.size >= requestedSize {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) > 0 {
		pick := candidates[0]
		if p.randomize && len(candidates) > 1 {
			pick = candidates[int(p.randSrc()%uint32(len(candidates)))]
		}
		s := p.free[pick]
		p.free = append(p.free[:pick], p.free[pick+1:]...)
		return s, nil
	}
	return &stackSlot{size: requestedSize}, nil
}

// release returns s to the free list. No unmapping occurs; this trades
// memory for reuse latency, exactly as this module specifies.
func (p *stackPool) release(s *stackSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, s)
}

// len reports the current free-list size (used by Stats and tests to
// observe property 7 / scenario S6).
func (p *stackPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
