package memory

import (
	"sync"
	"unsafe"
)

// GoAllocator satisfies Allocator with ordinary Go heap memory. Every
// outstanding block is retained in a map, both to keep the garbage
// collector from reclaiming it while it is logically allocated and to
// answer SizeOf.
//
// It exists as the portable backend and as the workhorse for tests;
// production stacks usually sit on MmapAllocator instead.
type GoAllocator struct {
	mu     sync.Mutex
	blocks map[uintptr][]byte
}

// NewGoAllocator returns an empty Go-heap-backed allocator.
func NewGoAllocator() *GoAllocator {
	return &GoAllocator{
		blocks: make(map[uintptr][]byte),
	}
}

var _ Allocator = (*GoAllocator)(nil)

// Allocate implements Allocator.
func (g *GoAllocator) Allocate(size uintptr) (unsafe.Pointer, error) {
	// All zero-length slices share the runtime's zero base and would
	// collide as registry keys, so hand out at least one byte.
	if size == 0 {
		size = 1
	}
	b := make([]byte, size)
	ptr := unsafe.Pointer(unsafe.SliceData(b))

	g.mu.Lock()
	g.blocks[uintptr(ptr)] = b
	g.mu.Unlock()

	return ptr, nil
}

// Free implements Allocator. The block becomes garbage once the
// registry entry is gone.
func (g *GoAllocator) Free(ptr unsafe.Pointer) {
	g.mu.Lock()
	delete(g.blocks, uintptr(ptr))
	g.mu.Unlock()
}

// SizeOf implements Allocator.
func (g *GoAllocator) SizeOf(ptr unsafe.Pointer) uintptr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return uintptr(len(g.blocks[uintptr(ptr)]))
}

// Reset drops every outstanding block at once.
func (g *GoAllocator) Reset() {
	g.mu.Lock()
	g.blocks = make(map[uintptr][]byte)
	g.mu.Unlock()
}

// Alignment implements Allocator. The Go runtime guarantees at least
// word alignment for byte slices of this size.
func (g *GoAllocator) Alignment() uintptr {
	return 8
}
