package allocator

import "encoding/binary"

// Ref is a handle to a payload previously returned by Alloc/Calloc/Realloc.
// It is a byte offset into the heap's arena, never a real pointer, per the
// index-arithmetic translation described for this package (see DESIGN.md).
// The zero Ref is the null handle: no real payload ever lands at offset 0,
// since every block sits strictly after the leading alignment pad and the
// permanently allocated prologue block.
type Ref int

const (
	wordSize = 8  // one machine word: a header, a footer, or one free-list link
	dsize    = 16 // double word: the payload of a minimum-size block

	// MinBlockSize is the smallest block the heap ever hands out: header +
	// payload + footer, large enough for a free block's next/prev links.
	MinBlockSize = 2 * dsize

	// Segs is the number of segregated size classes.
	Segs = 5

	// Ratio is the geometric growth factor between adjacent size classes.
	Ratio = 6
)

// pack encodes a block's total size and allocated bit into one header or
// footer word. size is always a multiple of 8, so the low bit is free for
// the allocated flag.
func pack(size int, allocated bool) uint64 {
	w := uint64(size)
	if allocated {
		w |= 1
	}
	return w
}

func unpackSize(w uint64) int   { return int(w &^ 1) }
func unpackAlloc(w uint64) bool { return w&1 == 1 }

func (h *Heap) getWord(off int) uint64 {
	return binary.LittleEndian.Uint64(h.arena[off : off+wordSize])
}

func (h *Heap) putWord(off int, w uint64) {
	binary.LittleEndian.PutUint64(h.arena[off:off+wordSize], w)
}

// blockOffFromRef converts a payload handle to the offset of its header.
func blockOffFromRef(ref Ref) int { return int(ref) - wordSize }

// refFromBlockOff converts a block header offset to the payload handle
// callers see.
func refFromBlockOff(off int) Ref { return Ref(off + wordSize) }

func (h *Heap) blockSize(off int) int      { return unpackSize(h.getWord(off)) }
func (h *Heap) blockAllocated(off int) bool { return unpackAlloc(h.getWord(off)) }

func (h *Heap) putHeader(off, size int, allocated bool) {
	h.putWord(off, pack(size, allocated))
}

func (h *Heap) putFooter(off, size int, allocated bool) {
	h.putWord(off+size-wordSize, pack(size, allocated))
}

// setBlock writes matching header and footer words in one call, the
// invariant every block must satisfy outside of a single atomic operation.
func (h *Heap) setBlock(off, size int, allocated bool) {
	h.putHeader(off, size, allocated)
	h.putFooter(off, size, allocated)
}

func (h *Heap) nextBlockOff(off int) int { return off + h.blockSize(off) }

func (h *Heap) prevBlockOff(off int) int {
	prevFooter := h.getWord(off - wordSize)
	return off - unpackSize(prevFooter)
}

// free-list link accessors: a free block's payload holds its class-list
// next pointer in the first word and prev pointer in the second, exactly
// the "two intra-heap pointers" spec.md describes and the technique
// cznic-memory's node{prev,next} uses, translated from raw pointers to
// arena offsets.
func (h *Heap) linkNext(off int) Ref { return Ref(h.getWord(off + wordSize)) }
func (h *Heap) linkPrev(off int) Ref { return Ref(h.getWord(off + wordSize + wordSize)) }

func (h *Heap) setLinkNext(off int, ref Ref) { h.putWord(off+wordSize, uint64(ref)) }
func (h *Heap) setLinkPrev(off int, ref Ref) { h.putWord(off+wordSize+wordSize, uint64(ref)) }

// align8 rounds n up to the next multiple of 8.
func align8(n int) int { return (n + 7) &^ 7 }

// adjustedSize is the total block size (header+payload+footer) needed to
// satisfy a user request of n bytes.
func adjustedSize(n int) int {
	size := align8(n + 2*wordSize)
	if size < MinBlockSize {
		size = MinBlockSize
	}
	return size
}

// bucket returns the segregated size class for a block of the given total
// size: class(size) = min(Segs-1, floor(log_Ratio(size/MinBlockSize))).
// Class 0 holds the smallest blocks; each further class covers a band
// Ratio times as wide as the one before it, until the top class absorbs
// everything beyond the Ratio^(Segs-1) cutoff.
func bucket(size int) int {
	n := size / MinBlockSize
	if n < 1 {
		n = 1
	}
	class := 0
	for n >= Ratio && class < Segs-1 {
		n /= Ratio
		class++
	}
	return class
}
