package fiberloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackPoolFirstFitReuse(t *testing.T) {
	p := newStackPool(false, nil)

	s1, err := p.acquire(4096)
	require.NoError(t, err)
	require.Equal(t, 4096, s1.size)
	assert.Equal(t, 0, p.len())

	p.release(s1)
	assert.Equal(t, 1, p.len())

	// A request for a smaller size should reuse the larger free slot
	// rather than minting a new one (first-fit, this module).
	s2, err := p.acquire(2048)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 0, p.len())
}

func TestStackPoolMissAllocatesNew(t *testing.T) {
	p := newStackPool(false, nil)
	small, err := p.acquire(1024)
	require.NoError(t, err)
	p.release(small)

	// Nothing on the free list is big enough, so a fresh slot is minted
	// and the free list is left untouched.
	big, err := p.acquire(8192)
	require.NoError(t, err)
	assert.NotSame(t, small, big)
	assert.Equal(t, 1, p.len())
}

func TestStackPoolFreeListCountRoundTrips(t *testing.T) {
	p := newStackPool(false, nil)
	var slots []*stackSlot
	for i := 0; i < 10; i++ {
		s, err := p.acquire(4096)
		require.NoError(t, err)
		slots = append(slots, s)
	}
	assert.Equal(t, 0, p.len())
	for _, s := range slots {
		p.release(s)
	}
	assert.Equal(t, 10, p.len())
}

func TestStackPoolRandomizedPickStaysWithinCandidates(t *testing.T) {
	p := newStackPool(true, nil)
	var slots []*stackSlot
	for i := 0; i < 5; i++ {
		s, err := p.acquire(4096)
		require.NoError(t, err)
		slots = append(slots, s)
	}
	for _, s := range slots {
		p.release(s)
	}
	seen := make(map[*stackSlot]bool, len(slots))
	for i := 0; i < len(slots); i++ {
		s, err := p.acquire(4096)
		require.NoError(t, err)
		seen[s] = true
	}
	assert.Equal(t, 0, p.len())
	assert.Len(t, seen, len(slots))
}
