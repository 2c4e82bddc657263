package stack

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FormatOptions controls how a Callstack is rendered.
type FormatOptions struct {
	// Indent prefixes every rendered line.
	Indent string
	// Skip drops that many leading frames from the output. Frames are
	// always captured unfiltered; hiding an allocator's own frames is
	// strictly a display decision.
	Skip int
	// Resolver overrides DefaultResolver when non-nil.
	Resolver Resolver
}

// ptrWidth is "0x" plus a full 64-bit address in hex.
const ptrWidth = 2 + 2*8

// Format writes a human-readable rendering of the stack, one captured
// frame per line: the address in fixed-width hex, the owning module in
// brackets, the function name, then file:line when known or +offset
// from the nearest symbol otherwise. When one address resolves to a
// chain of inlined records, the extra records render as continuation
// lines aligned under the function column.
//
// Formatting performs no capture and allocates only on the Go runtime
// heap, so it is safe to call while an allocator registry lock is
// held. Rendering the same stack twice produces identical output.
func (cs *Callstack) Format(w io.Writer, opts FormatOptions) {
	resolver := opts.Resolver
	if resolver == nil {
		resolver = DefaultResolver
	}

	pcs := cs.PCs()
	if opts.Skip > 0 {
		if opts.Skip >= len(pcs) {
			return
		}
		pcs = pcs[opts.Skip:]
	}

	for _, pc := range pcs {
		fmt.Fprintf(w, "%s0x%0*x", opts.Indent, ptrWidth-2, pc)

		first := true
		resolver.ResolvePC(pc, func(r Record) bool {
			if first {
				if r.Module != "" {
					fmt.Fprintf(w, " [%s]", normalizePath(r.Module))
				}
			} else {
				fmt.Fprintf(w, "\n%s%*s ...", opts.Indent, ptrWidth, "")
			}
			first = false

			if r.Function != "" {
				fmt.Fprintf(w, " %s", r.Function)
			}
			if r.File != "" && r.Line != 0 {
				fmt.Fprintf(w, " %s:%d", normalizePath(r.File), r.Line)
			} else if r.Function != "" {
				fmt.Fprintf(w, "+%d", r.Offset)
			}
			return true
		})

		fmt.Fprintln(w)
	}
}

// String renders the stack with default options and a two-space
// indent.
func (cs *Callstack) String() string {
	var buf strings.Builder
	cs.Format(&buf, FormatOptions{Indent: "  "})
	return buf.String()
}

// normalizePath makes paths under the working directory relative to
// it, keeping in-tree paths short while leaving system paths absolute
// and unambiguous.
func normalizePath(path string) string {
	if !filepath.IsAbs(path) {
		return path
	}
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	rel, err := filepath.Rel(wd, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
