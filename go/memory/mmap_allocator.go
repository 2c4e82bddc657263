//go:build linux || darwin

package memory

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/planetscale/memlayers/go/log"
)

// MmapAllocator hands out page-granular anonymous mappings. Requests
// are rounded up to whole pages, so SizeOf routinely reports more than
// was asked for.
type MmapAllocator struct {
	pageSize uintptr

	mu     sync.Mutex
	blocks map[uintptr][]byte
}

// NewMmapAllocator returns an empty mmap-backed allocator.
func NewMmapAllocator() *MmapAllocator {
	return &MmapAllocator{
		pageSize: uintptr(os.Getpagesize()),
		blocks:   make(map[uintptr][]byte),
	}
}

var _ Allocator = (*MmapAllocator)(nil)

// Allocate implements Allocator.
func (m *MmapAllocator) Allocate(size uintptr) (unsafe.Pointer, error) {
	length := alignUp(size, m.pageSize)
	if length < size {
		return nil, ErrSizeOverflow
	}
	if length == 0 {
		length = m.pageSize
	}

	b, err := unix.Mmap(
		-1, 0,
		int(length),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", length, err)
	}
	ptr := unsafe.Pointer(unsafe.SliceData(b))

	m.mu.Lock()
	m.blocks[uintptr(ptr)] = b
	m.mu.Unlock()

	return ptr, nil
}

// Free implements Allocator.
func (m *MmapAllocator) Free(ptr unsafe.Pointer) {
	m.mu.Lock()
	b, ok := m.blocks[uintptr(ptr)]
	delete(m.blocks, uintptr(ptr))
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := unix.Munmap(b); err != nil {
		log.Errorf("munmap of %d bytes at %p failed: %v", len(b), ptr, err)
	}
}

// SizeOf implements Allocator.
func (m *MmapAllocator) SizeOf(ptr unsafe.Pointer) uintptr {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uintptr(len(m.blocks[uintptr(ptr)]))
}

// Reset unmaps every outstanding block.
func (m *MmapAllocator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.blocks {
		if err := unix.Munmap(b); err != nil {
			log.Errorf("munmap of %d bytes failed: %v", len(b), err)
		}
	}
	m.blocks = make(map[uintptr][]byte)
}

// Alignment implements Allocator. Blocks are in fact page-aligned,
// but the stated guarantee is the conventional malloc alignment so
// that layers stacked on top do not pad their headers to a whole page.
func (m *MmapAllocator) Alignment() uintptr {
	return maxAlign
}
