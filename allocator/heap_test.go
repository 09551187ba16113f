package allocator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemslab/segproxy/allocator"
)

func newHeap(t *testing.T) *allocator.Heap {
	t.Helper()
	h, err := allocator.New(allocator.NewSliceExtender())
	require.NoError(t, err)
	return h
}

// Scenario A: init(); p = alloc(1) -> p != null, p % 8 == 0, block size 32.
func TestScenarioA_SmallAllocIsMinBlock(t *testing.T) {
	h := newHeap(t)

	ref, err := h.Alloc(1)
	require.NoError(t, err)
	require.NotZero(t, ref)
	assert.Zero(t, int(ref)%8)
	assert.NoError(t, h.Check())

	b := h.Bytes(ref)
	assert.Equal(t, allocator.MinBlockSize-16, len(b), "a 1-byte request gets a minimum-size block")
}

// Scenario B: p = alloc(24); q = alloc(24); free(p); r = alloc(24) -> r == p,
// the LIFO free list reuses the just-freed block from its class head.
func TestScenarioB_LIFOReuse(t *testing.T) {
	h := newHeap(t)

	p, err := h.Alloc(24)
	require.NoError(t, err)
	_, err = h.Alloc(24)
	require.NoError(t, err)

	h.Free(p)
	r, err := h.Alloc(24)
	require.NoError(t, err)

	assert.Equal(t, p, r)
	assert.NoError(t, h.Check())
}

// Scenario C: p = alloc(40); q = alloc(40); free(q); free(p) -> after the
// second free the coalesced region is one free block of at least 80 bytes
// and the checker reports no errors.
func TestScenarioC_CoalesceOnDoubleFree(t *testing.T) {
	h := newHeap(t)

	p, err := h.Alloc(40)
	require.NoError(t, err)
	q, err := h.Alloc(40)
	require.NoError(t, err)

	h.Free(q)
	h.Free(p)

	assert.NoError(t, h.Check())

	// A 79-byte request needs a 96-byte block, larger than p's own 56-byte
	// block, so it can only land at p if p and q were merged.
	pAgain, err := h.Alloc(79)
	require.NoError(t, err)
	assert.Equal(t, p, pAgain, "the merged free region should satisfy a request spanning both original blocks")
	assert.NoError(t, h.Check())
}

// Scenario D: p = alloc(16); memset(p, 0xAB, 16); q = realloc(p, 128) ->
// q != null, first 16 bytes of q equal 0xAB.
func TestScenarioD_ReallocPreservesContent(t *testing.T) {
	h := newHeap(t)

	p, err := h.Alloc(16)
	require.NoError(t, err)
	b := h.Bytes(p)
	for i := range b[:16] {
		b[i] = 0xAB
	}

	q, err := h.Realloc(p, 128)
	require.NoError(t, err)
	require.NotZero(t, q)

	got := h.Bytes(q)
	require.GreaterOrEqual(t, len(got), 128)
	for i := 0; i < 16; i++ {
		assert.Equal(t, byte(0xAB), got[i])
	}
	assert.NoError(t, h.Check())
}

func TestAllocZeroReturnsNull(t *testing.T) {
	h := newHeap(t)
	ref, err := h.Alloc(0)
	require.NoError(t, err)
	assert.Zero(t, ref)
}

func TestFreeNullIsNoop(t *testing.T) {
	h := newHeap(t)
	h.Free(0) // must not panic
	assert.NoError(t, h.Check())
}

func TestReallocNullBehavesAsAlloc(t *testing.T) {
	h := newHeap(t)
	ref, err := h.Realloc(0, 24)
	require.NoError(t, err)
	assert.NotZero(t, ref)
}

func TestReallocZeroBehavesAsFree(t *testing.T) {
	h := newHeap(t)
	p, err := h.Alloc(24)
	require.NoError(t, err)

	ref, err := h.Realloc(p, 0)
	require.NoError(t, err)
	assert.Zero(t, ref)
	assert.NoError(t, h.Check())
}

func TestReallocShrinkSplitsRemainder(t *testing.T) {
	h := newHeap(t)
	p, err := h.Alloc(200)
	require.NoError(t, err)

	q, err := h.Realloc(p, 8)
	require.NoError(t, err)
	assert.Equal(t, p, q)
	assert.NoError(t, h.Check())

	// the split-off remainder should be available to a subsequent alloc.
	_, err = h.Alloc(64)
	require.NoError(t, err)
	assert.NoError(t, h.Check())
}

func TestCallocZeroesMemory(t *testing.T) {
	h := newHeap(t)
	ref, err := h.Calloc(8, 16)
	require.NoError(t, err)
	require.NotZero(t, ref)

	b := h.Bytes(ref)
	require.GreaterOrEqual(t, len(b), 128)
	for _, v := range b[:128] {
		assert.Zero(t, v)
	}
}

// Property 1: every returned payload is 8-byte aligned and within bounds.
func TestProperty_AlignmentAndBounds(t *testing.T) {
	h := newHeap(t)
	for i := 1; i < 500; i += 7 {
		ref, err := h.Alloc(i)
		require.NoError(t, err)
		require.NotZero(t, ref)
		assert.Zero(t, int(ref)%8)
	}
	assert.NoError(t, h.Check())
}

// Property 4: writes across the full requested span do not corrupt
// invariants or neighbouring blocks.
func TestProperty_WritesDontCorruptNeighbours(t *testing.T) {
	h := newHeap(t)
	var refs []allocator.Ref
	for i := 0; i < 50; i++ {
		ref, err := h.Alloc(17 + i)
		require.NoError(t, err)
		b := h.Bytes(ref)
		for j := range b {
			b[j] = byte(i)
		}
		refs = append(refs, ref)
	}
	assert.NoError(t, h.Check())

	for i, ref := range refs {
		b := h.Bytes(ref)
		for _, v := range b[:17+i] {
			assert.Equal(t, byte(i), v)
		}
	}
}

func TestAllocExhaustionLeavesHeapValid(t *testing.T) {
	ext := allocator.NewBoundedSliceExtender(1024)
	h, err := allocator.New(ext)
	require.NoError(t, err)

	var lastErr error
	for i := 0; i < 1000; i++ {
		_, err := h.Alloc(64)
		if err != nil {
			lastErr = err
			break
		}
	}
	require.Error(t, lastErr)
	assert.NoError(t, h.Check())
}

func TestExtendHeapGrowsAcrossManyAllocations(t *testing.T) {
	h := newHeap(t)
	for i := 0; i < 2000; i++ {
		_, err := h.Alloc(32)
		require.NoError(t, err)
	}
	assert.NoError(t, h.Check())
}
