package memory

import (
	"fmt"
	"io"
	"sync"
	"unsafe"

	"github.com/planetscale/memlayers/go/stack"
)

// block is the tracking header placed immediately before every payload
// handed out by Tracking. It embeds the captured allocation stack and
// the intrusive links of the live-allocation registry, so membership
// costs no extra allocation and unlink is O(1) given only the header.
type block struct {
	stack      stack.Callstack
	next, prev *block
}

// Tracking wraps an upstream allocator and records, for every live
// allocation, the call stack that created it. The registry of live
// blocks is a doubly linked list threaded through the headers, newest
// block first, with no sentinel node.
//
// The mutex guards the head pointer and every header's links. It does
// not need to be re-entrant: dumping resolves symbols through the Go
// runtime only, which never allocates through this instance, so a walk
// cannot recurse into Allocate or Free on the same lock.
type Tracking[U Allocator] struct {
	upstream   U
	headerSize uintptr

	mu   sync.Mutex
	head *block
}

// NewTracking wraps upstream with leak tracking. The header is padded
// to the upstream alignment so payload pointers keep the upstream
// guarantee.
func NewTracking[U Allocator](upstream U) *Tracking[U] {
	align := upstream.Alignment()
	if a := unsafe.Alignof(block{}); align < a {
		align = a
	}
	return &Tracking[U]{
		upstream:   upstream,
		headerSize: alignUp(unsafe.Sizeof(block{}), align),
	}
}

var _ Allocator = new(Tracking[Allocator])

// Allocate implements Allocator. On success the returned block is
// registered together with a snapshot of the calling stack; the
// snapshot is raw program counters only, all symbolization cost is
// deferred to Dump. An upstream failure registers nothing.
func (t *Tracking[U]) Allocate(size uintptr) (unsafe.Pointer, error) {
	if size > ^uintptr(0)-t.headerSize {
		return nil, ErrSizeOverflow
	}
	ptr, err := t.upstream.Allocate(size + t.headerSize)
	if err != nil {
		return nil, err
	}

	hdr := (*block)(ptr)
	// The capture deliberately starts at this very function: trimming
	// the allocator's own frames from a report is a display option,
	// not a capture one.
	hdr.stack.Capture(0)

	t.mu.Lock()
	hdr.prev = nil
	hdr.next = t.head
	if t.head != nil {
		t.head.prev = hdr
	}
	t.head = hdr
	t.mu.Unlock()

	return unsafe.Add(ptr, t.headerSize), nil
}

// Free implements Allocator. ptr must have come from Allocate on this
// same instance and not have been freed since.
func (t *Tracking[U]) Free(ptr unsafe.Pointer) {
	hdr := t.header(ptr)

	t.mu.Lock()
	if t.head == hdr {
		t.head = hdr.next
	}
	if hdr.prev != nil {
		hdr.prev.next = hdr.next
	}
	if hdr.next != nil {
		hdr.next.prev = hdr.prev
	}
	t.mu.Unlock()

	*hdr = block{}
	t.upstream.Free(unsafe.Pointer(hdr))
}

// SizeOf implements Allocator: the upstream size minus the tracking
// header. Upstream round-up shows through, so the result can exceed
// the originally requested size.
func (t *Tracking[U]) SizeOf(ptr unsafe.Pointer) uintptr {
	return t.upstream.SizeOf(unsafe.Pointer(t.header(ptr))) - t.headerSize
}

// Reset forgets every tracked allocation without freeing any memory
// and without telling the upstream allocator. Outstanding blocks stay
// valid and freeable, they just no longer appear in dumps: use Reset
// to checkpoint a known baseline so only newer leaks get reported.
func (t *Tracking[U]) Reset() {
	t.mu.Lock()
	for hdr := t.head; hdr != nil; {
		next := hdr.next
		hdr.next, hdr.prev = nil, nil
		hdr = next
	}
	t.head = nil
	t.mu.Unlock()
}

// Alignment implements Allocator, passing the upstream guarantee
// through.
func (t *Tracking[U]) Alignment() uintptr {
	return t.upstream.Alignment()
}

// Dump writes one entry per live allocation, newest first: its usable
// size and address, then the formatted allocation stack, entries
// separated by a divider. An empty registry writes nothing.
//
// The registry lock is held for the whole walk, so the output is a
// consistent snapshot: allocations racing with the dump land either
// entirely before or entirely after it.
func (t *Tracking[U]) Dump(w io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for hdr := t.head; hdr != nil; hdr = hdr.next {
		if hdr != t.head {
			fmt.Fprintln(w, "---")
		}
		size := t.upstream.SizeOf(unsafe.Pointer(hdr)) - t.headerSize
		fmt.Fprintf(w, "%d byte(s) leaked @ %p\n", size, t.payload(hdr))
		hdr.stack.Format(w, stack.FormatOptions{Indent: "  "})
	}
}

// Observe invokes cb once per live allocation, newest first, with the
// payload pointer, usable size and captured stack. This is the
// structured counterpart of Dump. The registry lock is held
// across the walk; cb must not call back into this instance.
func (t *Tracking[U]) Observe(cb func(ptr unsafe.Pointer, size uintptr, cs *stack.Callstack)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for hdr := t.head; hdr != nil; hdr = hdr.next {
		cb(
			t.payload(hdr),
			t.upstream.SizeOf(unsafe.Pointer(hdr))-t.headerSize,
			&hdr.stack,
		)
	}
}

func (t *Tracking[U]) header(ptr unsafe.Pointer) *block {
	return (*block)(unsafe.Add(ptr, -int(t.headerSize)))
}

func (t *Tracking[U]) payload(hdr *block) unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(hdr), t.headerSize)
}
