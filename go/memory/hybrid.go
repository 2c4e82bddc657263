package memory

import (
	"fmt"
	"unsafe"
)

// ownership tags stored in front of every Hybrid block. Deliberately
// non-zero so a stray pointer is more likely to trip the panic in Free
// than to be routed somewhere at random.
const (
	ownerSmall uintptr = 1
	ownerBig   uintptr = 2
)

// Hybrid routes allocations at or below a size threshold to the small
// allocator and everything else to the big one. Each block carries an
// explicit one-word ownership tag in front of the payload, so the free
// path knows its owner without ever probing an allocator about a
// pointer it may not have issued.
type Hybrid[S, B Allocator] struct {
	threshold  uintptr
	small      S
	big        B
	headerSize uintptr
}

// NewHybrid builds a router sending requests of at most threshold
// bytes to small and the rest to big. The tag word is padded to the
// larger of the two alignments so payloads keep whichever guarantee
// their side provides.
func NewHybrid[S, B Allocator](threshold uintptr, small S, big B) *Hybrid[S, B] {
	align := small.Alignment()
	if b := big.Alignment(); b > align {
		align = b
	}
	if a := unsafe.Alignof(uintptr(0)); align < a {
		align = a
	}
	return &Hybrid[S, B]{
		threshold:  threshold,
		small:      small,
		big:        big,
		headerSize: alignUp(unsafe.Sizeof(uintptr(0)), align),
	}
}

var _ Allocator = new(Hybrid[Allocator, Allocator])

// Allocate implements Allocator.
func (h *Hybrid[S, B]) Allocate(size uintptr) (unsafe.Pointer, error) {
	if size > ^uintptr(0)-h.headerSize {
		return nil, ErrSizeOverflow
	}

	var (
		ptr unsafe.Pointer
		err error
		tag uintptr
	)
	if size <= h.threshold {
		ptr, err = h.small.Allocate(size + h.headerSize)
		tag = ownerSmall
	} else {
		ptr, err = h.big.Allocate(size + h.headerSize)
		tag = ownerBig
	}
	if err != nil {
		return nil, err
	}

	*(*uintptr)(ptr) = tag
	return unsafe.Add(ptr, h.headerSize), nil
}

// Free implements Allocator, returning the block to whichever side
// issued it. A pointer with no valid tag was not allocated here (or
// was corrupted) and trips a panic rather than corrupting an allocator.
func (h *Hybrid[S, B]) Free(ptr unsafe.Pointer) {
	base := unsafe.Add(ptr, -int(h.headerSize))
	switch *(*uintptr)(base) {
	case ownerSmall:
		h.small.Free(base)
	case ownerBig:
		h.big.Free(base)
	default:
		panic(fmt.Sprintf("memory: freeing pointer %p not owned by this allocator", ptr))
	}
}

// SizeOf implements Allocator.
func (h *Hybrid[S, B]) SizeOf(ptr unsafe.Pointer) uintptr {
	base := unsafe.Add(ptr, -int(h.headerSize))
	switch *(*uintptr)(base) {
	case ownerSmall:
		return h.small.SizeOf(base) - h.headerSize
	case ownerBig:
		return h.big.SizeOf(base) - h.headerSize
	default:
		panic(fmt.Sprintf("memory: sizing pointer %p not owned by this allocator", ptr))
	}
}

// Reset implements Allocator, resetting both sides.
func (h *Hybrid[S, B]) Reset() {
	h.small.Reset()
	h.big.Reset()
}

// Alignment implements Allocator: the weaker of the two sides, since a
// caller cannot know which one will serve a given request.
func (h *Hybrid[S, B]) Alignment() uintptr {
	align := h.small.Alignment()
	if b := h.big.Alignment(); b < align {
		align = b
	}
	return align
}
