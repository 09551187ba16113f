package allocator

import "github.com/pkg/errors"

// Check walks the heap and its class lists, verifying every invariant
// spec.md §4.1 names. It is a diagnostic only: nothing on the alloc/free/
// realloc/calloc path calls it, matching spec.md's "not in release path".
func (h *Heap) Check() error {
	if err := h.checkSentinels(); err != nil {
		return err
	}

	walkFree, err := h.checkBlockWalk()
	if err != nil {
		return err
	}

	classFree, err := h.checkClassLists()
	if err != nil {
		return err
	}

	if walkFree != classFree {
		return errors.Errorf("allocator: free block count mismatch: heap walk found %d, class lists found %d", walkFree, classFree)
	}
	return nil
}

func (h *Heap) checkSentinels() error {
	if h.blockSize(h.prologue) != MinBlockSize || !h.blockAllocated(h.prologue) {
		return errors.New("allocator: prologue sentinel corrupted")
	}
	if h.blockSize(h.epilogue) != 0 || !h.blockAllocated(h.epilogue) {
		return errors.New("allocator: epilogue sentinel corrupted")
	}
	return nil
}

// checkBlockWalk walks every block low-to-high, verifying per-block
// invariants (header==footer, size>=MinBlockSize, 8-byte alignment,
// in-heap bounds) and the no-two-adjacent-frees invariant. It returns the
// number of free blocks it saw.
func (h *Heap) checkBlockWalk() (int, error) {
	free := 0
	prevFree := false
	off := h.nextBlockOff(h.prologue)

	for off != h.epilogue {
		if off < h.ext.Low() || off+wordSize > len(h.arena) {
			return 0, errors.Errorf("allocator: block at %d out of heap bounds", off)
		}
		size := h.blockSize(off)
		if size < MinBlockSize {
			return 0, errors.Errorf("allocator: block at %d smaller than MinBlockSize: %d", off, size)
		}
		if size%8 != 0 {
			return 0, errors.Errorf("allocator: block at %d has unaligned size %d", off, size)
		}
		if off+size > h.epilogue {
			return 0, errors.Errorf("allocator: block at %d extends past epilogue", off)
		}

		header := h.getWord(off)
		footer := h.getWord(off + size - wordSize)
		if header != footer {
			return 0, errors.Errorf("allocator: block at %d header/footer mismatch", off)
		}

		allocated := h.blockAllocated(off)
		if !allocated {
			free++
			if prevFree {
				return 0, errors.Errorf("allocator: two adjacent free blocks at/before %d", off)
			}
		}
		prevFree = !allocated
		off += size
	}
	return free, nil
}

// checkClassLists runs a Floyd cycle check on each class list and verifies
// every listed block is free, correctly bucketed, doubly-linked
// consistently, and inside the heap. It returns the total number of
// free blocks found across all classes.
func (h *Heap) checkClassLists() (int, error) {
	total := 0
	for class := 0; class < Segs; class++ {
		n, err := h.checkOneClassList(class)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (h *Heap) checkOneClassList(class int) (int, error) {
	if err := h.checkNoCycle(h.segHeads[class]); err != nil {
		return 0, errors.Wrapf(err, "allocator: class %d", class)
	}

	count := 0
	prev := Ref(0)
	for cur := h.segHeads[class]; cur != 0; cur = h.linkNext(blockOffFromRef(cur)) {
		off := blockOffFromRef(cur)
		if off < h.prologue || off >= h.epilogue {
			return 0, errors.Errorf("allocator: class %d entry at %d out of heap bounds", class, off)
		}
		if h.blockAllocated(off) {
			return 0, errors.Errorf("allocator: class %d contains allocated block at %d", class, off)
		}
		if got := bucket(h.blockSize(off)); got != class {
			return 0, errors.Errorf("allocator: block at %d belongs in class %d, found in class %d", off, got, class)
		}
		if h.linkPrev(off) != prev {
			return 0, errors.Errorf("allocator: class %d broken prev link at %d", class, off)
		}
		prev = cur
		count++
	}
	return count, nil
}

// checkNoCycle is a Floyd tortoise/hare walk over a class list's next links.
func (h *Heap) checkNoCycle(head Ref) error {
	slow, fast := head, head
	for fast != 0 {
		fast = h.linkNext(blockOffFromRef(fast))
		if fast == 0 {
			break
		}
		fast = h.linkNext(blockOffFromRef(fast))
		slow = h.linkNext(blockOffFromRef(slow))
		if slow != 0 && slow == fast {
			return errors.New("cycle detected in free list")
		}
	}
	return nil
}
