package allocator

import "github.com/pkg/errors"

// Extender is the backing "sbrk"-style abstraction the heap grows over, per
// spec.md §6: a monotonic grow-by-bytes primitive plus the current high and
// low addresses. The heap never assumes anything about where the bytes
// physically live, only that Grow never moves bytes already handed out.
type Extender interface {
	// Grow extends the region by nbytes and returns the offset at which the
	// new bytes begin. It fails only if the extender itself is exhausted.
	Grow(nbytes int) (low int, err error)
	// Bytes returns the full backing region from offset 0 to High(). It may
	// return a different slice header after every Grow (the way append can
	// reallocate), but never a different slice for bytes already committed.
	Bytes() []byte
	// High returns the current high address (exclusive) of the region.
	High() int
	// Low returns the current low address of the region. Used only by the
	// heap checker.
	Low() int
}

// errExtenderExhausted is wrapped with context by SliceExtender.Grow.
var errExtenderExhausted = errors.New("allocator: extender exhausted")

// SliceExtender is the default Extender: a growable []byte standing in for
// a real sbrk-managed heap segment, the systems-course analogue used by the
// allocator's own tests.
type SliceExtender struct {
	buf      []byte
	maxBytes int // 0 means unbounded
}

// NewSliceExtender returns a SliceExtender with no imposed size limit.
func NewSliceExtender() *SliceExtender {
	return &SliceExtender{}
}

// NewBoundedSliceExtender returns a SliceExtender that fails Grow once the
// region would exceed maxBytes, letting tests exercise allocation exhaustion
// (spec.md §7, "Allocation exhaustion").
func NewBoundedSliceExtender(maxBytes int) *SliceExtender {
	return &SliceExtender{maxBytes: maxBytes}
}

func (s *SliceExtender) Grow(nbytes int) (int, error) {
	if nbytes < 0 {
		return 0, errors.New("allocator: negative grow request")
	}
	low := len(s.buf)
	if s.maxBytes > 0 && low+nbytes > s.maxBytes {
		return 0, errors.Wrapf(errExtenderExhausted, "requested %d bytes past %d byte limit", nbytes, s.maxBytes)
	}
	s.buf = append(s.buf, make([]byte, nbytes)...)
	return low, nil
}

func (s *SliceExtender) Bytes() []byte { return s.buf }
func (s *SliceExtender) High() int     { return len(s.buf) }
func (s *SliceExtender) Low() int      { return 0 }
