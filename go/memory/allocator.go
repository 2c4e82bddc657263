// Package memory provides manually managed allocators that stack on
// top of each other: concrete backends (Go heap, anonymous mappings)
// and decorators that add leak tracking, size-class routing and
// metrics on top of any of them.
//
// Every layer both consumes and satisfies the same Allocator contract,
// so any composition order works. Decorators are generic over their
// upstream type to keep the hot allocate/free path free of interface
// dispatch.
package memory

import (
	"errors"
	"unsafe"
)

// Allocator is the minimal allocation contract shared by every layer.
//
// Free and SizeOf must only be handed pointers previously returned by
// Allocate on the same instance and not yet freed; anything else is
// undefined behavior, exactly as with a C allocator.
type Allocator interface {
	// Allocate returns a block of at least size usable bytes, aligned
	// to Alignment(), or an error when the request cannot be satisfied.
	Allocate(size uintptr) (unsafe.Pointer, error)

	// Free returns a block to the allocator.
	Free(ptr unsafe.Pointer)

	// SizeOf reports the usable size of a block. Allocators are
	// allowed to round requests up, so the result may exceed the size
	// originally asked for, but never undercuts it.
	SizeOf(ptr unsafe.Pointer) uintptr

	// Reset drops allocator state. What exactly is dropped is
	// layer-specific; each implementation documents its own semantics.
	Reset()

	// Alignment is the guaranteed alignment of pointers returned by
	// Allocate. Always a power of two.
	Alignment() uintptr
}

// ErrSizeOverflow is returned when a requested size is so large that
// adding a layer's bookkeeping overhead would wrap around.
var ErrSizeOverflow = errors.New("memory: allocation size overflows")

// maxAlign is the conventional malloc alignment guarantee, enough for
// any scalar type.
const maxAlign = 16

// alignUp rounds n up to the next multiple of align, which must be a
// power of two.
func alignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}
