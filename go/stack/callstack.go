// Package stack captures bounded call stacks and resolves them into
// human-readable module/function/file/line form on demand. Capture is
// cheap (one runtime.Callers call into a fixed array, no heap
// allocation); all symbolization cost is deferred until a stack is
// actually rendered or observed.
package stack

import "runtime"

// MaxFrames is the fixed capacity of a Callstack. Deeper stacks are
// truncated silently at capture time.
const MaxFrames = 16

// Callstack is a snapshot of up to MaxFrames raw program counters,
// innermost frame first. The zero value is a valid empty stack; a
// Callstack is immutable after capture.
//
// Callstacks are plain data and may live inside manually managed
// memory (see the memory package, which embeds one in each allocation
// header).
type Callstack struct {
	pcs [MaxFrames]uintptr
	n   int
}

// Capture records the calling goroutine's current stack. skip names
// the number of frames to omit before the caller of Capture; 0 starts
// the snapshot at the caller itself.
//
// No frames at all is not an error: the result is simply empty.
func Capture(skip int) Callstack {
	var cs Callstack
	cs.Capture(skip + 1)
	return cs
}

// Capture records the current stack in place, overwriting any previous
// snapshot. It exists so a Callstack embedded in reused memory can be
// filled without copying; skip behaves as in the package-level Capture.
func (cs *Callstack) Capture(skip int) {
	// +2 skips runtime.Callers and this method.
	cs.n = runtime.Callers(skip+2, cs.pcs[:])
}

// Depth reports how many frames were captured.
func (cs *Callstack) Depth() int {
	return cs.n
}

// PCs returns the captured program counters, innermost first. The
// returned slice aliases the snapshot and must not be modified.
func (cs *Callstack) PCs() []uintptr {
	return cs.pcs[:cs.n]
}

// Observe resolves every captured frame in order, invoking visit once
// per resolved record. A single pc may yield several records when
// inlining is involved, innermost first; a pc that resolves to nothing
// yields none. visit returning false stops the walk.
func (cs *Callstack) Observe(r Resolver, visit func(pc uintptr, rec Record) bool) {
	if r == nil {
		r = DefaultResolver
	}
	for _, pc := range cs.PCs() {
		stopped := false
		r.ResolvePC(pc, func(rec Record) bool {
			if !visit(pc, rec) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
	}
}
