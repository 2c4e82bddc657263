package memory

import (
	"io"
	"unsafe"

	"github.com/google/pprof/profile"

	"github.com/planetscale/memlayers/go/stack"
)

// Observable is the structured view a Tracking allocator exposes over
// its live registry.
type Observable interface {
	Observe(func(ptr unsafe.Pointer, size uintptr, cs *stack.Callstack))
}

// WriteProfile encodes the live registry as a pprof profile with
// inuse_objects/inuse_bytes sample types, one sample per live
// allocation, and writes it to w. A nil resolver uses
// stack.DefaultResolver.
//
// The registry itself keeps an independent capture per allocation; the
// location/function tables of the output are shared across samples
// only because the pprof encoding requires it.
func WriteProfile(o Observable, w io.Writer, resolver stack.Resolver) error {
	if resolver == nil {
		resolver = stack.DefaultResolver
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "inuse_objects", Unit: "count"},
			{Type: "inuse_bytes", Unit: "bytes"},
		},
		DefaultSampleType: "inuse_bytes",
	}

	locations := make(map[uintptr]*profile.Location)
	functions := make(map[string]*profile.Function)

	locationFor := func(pc uintptr) *profile.Location {
		if loc, ok := locations[pc]; ok {
			return loc
		}
		loc := &profile.Location{
			ID:      uint64(len(locations) + 1),
			Address: uint64(pc),
		}
		resolver.ResolvePC(pc, func(r stack.Record) bool {
			if r.Function == "" {
				return true
			}
			fn, ok := functions[r.Function]
			if !ok {
				fn = &profile.Function{
					ID:         uint64(len(functions) + 1),
					Name:       r.Function,
					SystemName: r.Function,
					Filename:   r.File,
				}
				functions[r.Function] = fn
				p.Function = append(p.Function, fn)
			}
			loc.Line = append(loc.Line, profile.Line{
				Function: fn,
				Line:     int64(r.Line),
			})
			return true
		})
		locations[pc] = loc
		p.Location = append(p.Location, loc)
		return loc
	}

	o.Observe(func(_ unsafe.Pointer, size uintptr, cs *stack.Callstack) {
		sample := &profile.Sample{
			Value: []int64{1, int64(size)},
		}
		for _, pc := range cs.PCs() {
			sample.Location = append(sample.Location, locationFor(pc))
		}
		p.Sample = append(p.Sample, sample)
	})

	return p.Write(w)
}
