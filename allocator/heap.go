// Package allocator implements a size-segregated, boundary-tagged heap
// allocator over an abstract, sbrk-style Extender.
//
// The heap is a single contiguous arena tiled by blocks, each carrying a
// header and footer word encoding (size, allocated-bit). Free blocks of a
// given size land in one of Segs doubly linked class lists, threaded
// through the free block's own payload — the same intrusive-free-list
// technique cznic/memory uses over real OS pages, translated here from raw
// pointers to arena byte offsets (see DESIGN.md).
//
// The allocator is not safe for concurrent use, matching spec.md §5: a
// single goroutine owns a *Heap at a time.
package allocator

import (
	"github.com/pkg/errors"
)

// initialChunkBytes is the size of the first extension New performs, after
// installing the sentinels: ~260 bytes, rounded up to an even word count
// (a multiple of 16), per spec.md §4.1.
const initialChunkBytes = 272

// chunkSize is the default growth increment used whenever Alloc can't find
// a fit and must extend the heap, the general-case analogue of CS:APP's
// CHUNKSIZE.
const chunkSize = 4096

// Heap is a segregated free-list allocator over a contiguous arena.
type Heap struct {
	ext      Extender
	arena    []byte
	segHeads [Segs]Ref
	prologue int // header offset of the permanently allocated left sentinel
	epilogue int // header offset of the zero-size allocated right sentinel
}

// New installs sentinels and empty class lists, then performs the default
// initial extension. It fails only if ext itself fails.
func New(ext Extender) (*Heap, error) {
	h := &Heap{ext: ext}

	// (1) alignment pad: one word, so the prologue's header - and every
	// payload after it - lands on an 8-byte boundary.
	if _, err := h.grow(wordSize); err != nil {
		return nil, errors.Wrap(err, "allocator: initial alignment pad")
	}

	// (2) the class heads (h.segHeads) are native Go fields rather than
	// words embedded in the arena, so no arena bytes are reserved for them.

	// (3) prologue: a permanently allocated minimum-size block.
	prologueOff, err := h.grow(MinBlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "allocator: prologue block")
	}
	h.setBlock(prologueOff, MinBlockSize, true)
	h.prologue = prologueOff

	// (5) epilogue: a zero-size allocated header, the right sentinel.
	epilogueOff, err := h.grow(wordSize)
	if err != nil {
		return nil, errors.Wrap(err, "allocator: epilogue header")
	}
	h.putHeader(epilogueOff, 0, true)
	h.epilogue = epilogueOff

	// (4) the tiled working region starts out empty; extend it now.
	if _, err := h.extendHeap(initialChunkBytes / wordSize); err != nil {
		return nil, errors.Wrap(err, "allocator: initial extension")
	}
	return h, nil
}

// grow asks the extender for more bytes and refreshes the cached arena,
// since growing may reallocate the underlying storage (the same contract
// append() has).
func (h *Heap) grow(nbytes int) (int, error) {
	low, err := h.ext.Grow(nbytes)
	if err != nil {
		return 0, err
	}
	h.arena = h.ext.Bytes()
	return low, nil
}

// Alloc returns a handle to at least n writable, 8-byte-aligned bytes. A
// zero-byte request returns the null Ref with no error, per spec.md §4.1.
func (h *Heap) Alloc(n int) (Ref, error) {
	if n <= 0 {
		return 0, nil
	}

	asize := adjustedSize(n)
	fitOff := h.findFit(asize)
	if fitOff == 0 {
		words := asize
		if words < chunkSize {
			words = chunkSize
		}
		newBlockOff, err := h.extendHeap(words / wordSize)
		if err != nil {
			return 0, errors.Wrap(err, "allocator: alloc")
		}
		fitOff = newBlockOff
	}

	h.place(fitOff, asize)
	return refFromBlockOff(fitOff), nil
}

// Free releases a block previously returned by Alloc/Realloc/Calloc and
// not yet freed. It is a no-op on the null Ref.
func (h *Heap) Free(ref Ref) {
	if ref == 0 {
		return
	}
	off := blockOffFromRef(ref)
	size := h.blockSize(off)
	h.setBlock(off, size, false)
	h.coalesce(off)
}

// Realloc implements the classic contract: null p behaves as Alloc, zero n
// behaves as Free, and otherwise the result holds at least n bytes with the
// first min(old, n) bytes preserved. Three in-place paths are attempted
// before falling back to alloc+copy+free, per spec.md §4.1.
func (h *Heap) Realloc(ref Ref, n int) (Ref, error) {
	if ref == 0 {
		return h.Alloc(n)
	}
	if n == 0 {
		h.Free(ref)
		return 0, nil
	}

	asize := adjustedSize(n)
	off := blockOffFromRef(ref)
	oldSize := h.blockSize(off)

	switch {
	case asize == oldSize:
		return ref, nil

	case asize < oldSize:
		if oldSize-asize >= MinBlockSize {
			h.setBlock(off, asize, true)
			remOff := off + asize
			remSize := oldSize - asize
			h.setBlock(remOff, remSize, false)
			h.coalesce(remOff)
		}
		return ref, nil

	default: // asize > oldSize
		rightOff := h.nextBlockOff(off)
		if !h.blockAllocated(rightOff) {
			rightSize := h.blockSize(rightOff)
			if oldSize+rightSize >= asize {
				h.detachFromClass(rightOff)
				h.setBlock(off, oldSize+rightSize, true)
				return ref, nil
			}
		}

		newRef, err := h.Alloc(n)
		if err != nil {
			return 0, err
		}
		copyLen := oldSize - 2*wordSize
		if want := h.payloadLen(newRef); want < copyLen {
			copyLen = want
		}
		copy(h.Bytes(newRef), h.rawPayload(ref)[:copyLen])
		h.Free(ref)
		return newRef, nil
	}
}

// Calloc returns a zero-filled region of count*size bytes. The product is
// computed with plain int multiplication, without an overflow guard,
// matching the original contract spec.md §4.1 documents; see DESIGN.md's
// Open Question decisions for why the (unrelated) null-check-before-memset
// bug is NOT preserved.
func (h *Heap) Calloc(count, size int) (Ref, error) {
	n := count * size
	ref, err := h.Alloc(n)
	if err != nil || ref == 0 {
		return ref, err
	}
	b := h.Bytes(ref)
	for i := range b {
		b[i] = 0
	}
	return ref, nil
}

// Bytes returns a view over ref's usable payload, sized to the block's
// actual capacity (which may exceed the originally requested n).
func (h *Heap) Bytes(ref Ref) []byte {
	if ref == 0 {
		return nil
	}
	return h.rawPayload(ref)
}

func (h *Heap) rawPayload(ref Ref) []byte {
	off := blockOffFromRef(ref)
	size := h.blockSize(off)
	start := int(ref)
	return h.arena[start : start+size-2*wordSize]
}

func (h *Heap) payloadLen(ref Ref) int {
	off := blockOffFromRef(ref)
	return h.blockSize(off) - 2*wordSize
}

// findFit implements first-best-of-ten: starting from asize's class, walk
// toward larger classes; within a class, examine at most the first ten
// candidates of sufficient size, short-circuiting on an exact match and
// otherwise keeping the smallest of the (up to ten) seen. Returns the
// header offset of the chosen block, or 0 if no class yields a fit.
func (h *Heap) findFit(asize int) int {
	for class := bucket(asize); class < Segs; class++ {
		best := 0
		bestSize := 0
		examined := 0
		for cur := h.segHeads[class]; cur != 0 && examined < 10; cur = h.linkNext(blockOffFromRef(cur)) {
			off := blockOffFromRef(cur)
			size := h.blockSize(off)
			if size < asize {
				continue
			}
			examined++
			if size == asize {
				return off
			}
			if best == 0 || size < bestSize {
				best = off
				bestSize = size
			}
		}
		if best != 0 {
			return best
		}
	}
	return 0
}

// place splits or fully consumes the chosen free block to satisfy asize,
// per spec.md §4.1's split policy.
func (h *Heap) place(off, asize int) {
	h.detachFromClass(off)
	csize := h.blockSize(off)

	if csize-asize >= MinBlockSize {
		h.setBlock(off, asize, true)
		remOff := off + asize
		remSize := csize - asize
		h.setBlock(remOff, remSize, false)
		h.coalesce(remOff)
		return
	}

	h.setBlock(off, csize, true)
}

// coalesce merges off with any free physical neighbours (the four
// boundary-tag cases of spec.md §4.1), then inserts the resulting free
// block at the head of its class list (LIFO), and returns its header
// offset. off's own header/footer must already be marked free by the
// caller before calling coalesce.
func (h *Heap) coalesce(off int) int {
	prevOff := h.prevBlockOff(off)
	nextOff := h.nextBlockOff(off)
	prevFree := !h.blockAllocated(prevOff)
	nextFree := !h.blockAllocated(nextOff)
	size := h.blockSize(off)

	switch {
	case !prevFree && !nextFree:
		// both neighbours allocated: nothing to merge.

	case !prevFree && nextFree:
		nextSize := h.blockSize(nextOff)
		h.detachFromClass(nextOff)
		size += nextSize
		h.setBlock(off, size, false)

	case prevFree && !nextFree:
		prevSize := h.blockSize(prevOff)
		h.detachFromClass(prevOff)
		size += prevSize
		off = prevOff
		h.setBlock(off, size, false)

	default: // both free
		prevSize := h.blockSize(prevOff)
		nextSize := h.blockSize(nextOff)
		h.detachFromClass(prevOff)
		h.detachFromClass(nextOff)
		size += prevSize + nextSize
		off = prevOff
		h.setBlock(off, size, false)
	}

	h.insertAtHead(off)
	return off
}

func (h *Heap) insertAtHead(off int) {
	class := bucket(h.blockSize(off))
	ref := refFromBlockOff(off)
	oldHead := h.segHeads[class]

	h.setLinkPrev(off, 0)
	h.setLinkNext(off, oldHead)
	if oldHead != 0 {
		h.setLinkPrev(blockOffFromRef(oldHead), ref)
	}
	h.segHeads[class] = ref
}

// detachFromClass removes a free block from whichever class list holds it.
func (h *Heap) detachFromClass(off int) {
	class := bucket(h.blockSize(off))
	ref := refFromBlockOff(off)
	prev := h.linkPrev(off)
	next := h.linkNext(off)

	if prev != 0 {
		h.setLinkNext(blockOffFromRef(prev), next)
	} else {
		h.segHeads[class] = next
	}
	if next != 0 {
		h.setLinkPrev(blockOffFromRef(next), prev)
	}
}

// extendHeap rounds words to even, grows the region, repurposes the old
// epilogue word as the new block's header, writes a fresh epilogue at the
// new end, coalesces (which may absorb a trailing free block), and returns
// the resulting block's header offset.
func (h *Heap) extendHeap(words int) (int, error) {
	if words%2 != 0 {
		words++
	}
	size := words * wordSize
	if size < MinBlockSize {
		size = MinBlockSize
	}

	newBlockOff := h.epilogue
	if _, err := h.grow(size); err != nil {
		return 0, errors.Wrap(err, "allocator: extend heap")
	}

	h.setBlock(newBlockOff, size, false)
	newEpilogueOff := newBlockOff + size
	h.putHeader(newEpilogueOff, 0, true)
	h.epilogue = newEpilogueOff

	return h.coalesce(newBlockOff), nil
}
