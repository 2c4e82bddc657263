package stack

import (
	"runtime"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ianlancetaylor/demangle"
)

// Record is one resolved location for a program counter. Every field
// is best-effort: a Record may carry only a module, only a symbol name
// with an offset, or full file/line detail.
type Record struct {
	// Module is the file path of the object the pc belongs to.
	Module string
	// Function is the (demangled, when applicable) function name.
	Function string
	// File and Line locate the source line when line-level information
	// is available.
	File string
	Line int
	// Offset is the byte distance from the start of the nearest symbol.
	// It is only meaningful when no file/line could be resolved.
	Offset uintptr
}

// A Resolver turns one raw program counter into zero or more Records,
// innermost inlined location first. visit returning false stops the
// walk early.
//
// Resolution never fails: an address nothing is known about simply
// produces no records.
type Resolver interface {
	ResolvePC(pc uintptr, visit func(Record) bool)
}

// DefaultResolver resolves through the Go runtime's own tables.
var DefaultResolver Resolver = runtimeResolver{}

type runtimeResolver struct{}

func (runtimeResolver) ResolvePC(pc uintptr, visit func(Record) bool) {
	if pc == 0 {
		return
	}

	module := moduleForPC(pc)

	// Precise strategy: the runtime line tables, including inline
	// expansion. One pc can produce a whole chain of records here,
	// innermost inlined call first.
	frames := runtime.CallersFrames([]uintptr{pc})
	resolved := false
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			resolved = true
			if !visit(Record{
				Module:   module,
				Function: demangleName(frame.Function),
				File:     frame.File,
				Line:     frame.Line,
			}) {
				return
			}
		}
		if !more {
			break
		}
	}
	if resolved {
		return
	}

	// Fallback strategy: nearest preceding symbol plus a byte offset,
	// with no line information. pc is a return address, so look up the
	// call instruction before it.
	if fn := runtime.FuncForPC(pc - 1); fn != nil {
		visit(Record{
			Module:   module,
			Function: demangleName(fn.Name()),
			Offset:   pc - fn.Entry(),
		})
		return
	}

	// Last resort: at least name the owning module.
	if module != "" {
		visit(Record{Module: module})
	}
}

// demangleName maps compiler-mangled names (C++ or Rust frames pulled
// in through cgo) back to source form. Names that are not mangled, Go
// names included, pass through untouched; so does anything the
// demangler cannot handle.
func demangleName(name string) string {
	if name == "" {
		return ""
	}
	return demangle.Filter(name)
}

// CachingResolver memoizes per-pc resolution in an LRU, for callers
// that render the same registry repeatedly. Safe for concurrent use.
type CachingResolver struct {
	upstream Resolver
	cache    *lru.Cache
}

// NewCachingResolver wraps upstream with an LRU of at most size
// entries.
func NewCachingResolver(upstream Resolver, size int) (*CachingResolver, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	if upstream == nil {
		upstream = DefaultResolver
	}
	return &CachingResolver{upstream: upstream, cache: cache}, nil
}

// ResolvePC implements Resolver.
func (c *CachingResolver) ResolvePC(pc uintptr, visit func(Record) bool) {
	records, ok := c.cache.Get(pc)
	if !ok {
		var collected []Record
		c.upstream.ResolvePC(pc, func(r Record) bool {
			collected = append(collected, r)
			return true
		})
		c.cache.Add(pc, collected)
		records = collected
	}
	for _, rec := range records.([]Record) {
		if !visit(rec) {
			return
		}
	}
}
