// Package cli implements the leaktrace command, a workbench for the
// memlayers allocator stack: it runs a configurable allocate/leak
// scenario over a tracked allocator, reports the surviving blocks and
// can keep serving metrics and live dumps over HTTP while doing so.
package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/planetscale/memlayers/go/log"
	"github.com/planetscale/memlayers/go/memory"
	"github.com/planetscale/memlayers/go/stack"
)

var (
	allocations int
	leakEvery   int
	blockSize   int
	threshold   int
	summary     bool
	listenAddr  string

	Main = &cobra.Command{
		Use:   "leaktrace",
		Short: "Run an allocation scenario and report leaked blocks",
		Long: "leaktrace allocates a configurable number of blocks through a " +
			"leak-tracking allocator stack (size-routed between a Go-heap and an " +
			"mmap backend), deliberately leaks some of them, and prints the " +
			"surviving allocations with the call stacks that created them.",
		Args: cobra.NoArgs,
		RunE: run,
	}
)

func init() {
	Main.Flags().IntVar(&allocations, "allocations", 64, "number of blocks to allocate")
	Main.Flags().IntVar(&leakEvery, "leak-every", 8, "leak every Nth block instead of freeing it (0 frees everything)")
	Main.Flags().IntVar(&blockSize, "block-size", 256, "base block size in bytes; actual sizes vary around it")
	Main.Flags().IntVar(&threshold, "threshold", 4096, "size routing threshold between the Go-heap and mmap backends")
	Main.Flags().BoolVar(&summary, "summary", false, "print a per-call-site summary table instead of full stacks")
	Main.Flags().StringVar(&listenAddr, "listen", "", "serve /metrics, /debug/leaks and /debug/pprof/leaks on this address after the scenario")
	log.RegisterFlags(Main.PersistentFlags())
}

func run(cmd *cobra.Command, args []string) error {
	base := memory.NewHybrid(
		uintptr(threshold),
		memory.NewGoAllocator(),
		memory.NewMmapAllocator(),
	)
	tracked := memory.NewTracking(base)
	alloc := memory.NewMetrics(tracked, "leaktrace")
	prometheus.MustRegister(alloc)

	if err := scenario(alloc); err != nil {
		return err
	}

	if summary {
		summarize(tracked, os.Stdout)
	} else {
		tracked.Dump(os.Stdout)
	}

	if listenAddr != "" {
		return serve(tracked)
	}
	return nil
}

// scenario allocates blocks of varying sizes around --block-size and
// frees all but every Nth one.
func scenario(alloc memory.Allocator) error {
	var survivors []unsafe.Pointer

	for i := 0; i < allocations; i++ {
		// Vary sizes enough to exercise both sides of the router.
		size := uintptr(blockSize << uint(i%6))
		ptr, err := alloc.Allocate(size)
		if err != nil {
			return fmt.Errorf("allocation %d (%d bytes): %w", i, size, err)
		}
		if leakEvery > 0 && i%leakEvery == 0 {
			continue // deliberately leaked
		}
		survivors = append(survivors, ptr)
	}

	for _, ptr := range survivors {
		alloc.Free(ptr)
	}

	log.Infof("scenario done: %d allocations, leaked every %d", allocations, leakEvery)
	return nil
}

// allocatorFrames matches the allocator stack's own functions, which
// lead every capture and are not interesting call sites.
const allocatorFrames = "github.com/planetscale/memlayers/go/memory."

// summarize aggregates the live registry by allocating call site and
// renders it as a table. The call site is the innermost resolvable
// frame outside the allocator stack itself.
func summarize(tracked memory.Observable, w io.Writer) {
	type callSite struct {
		blocks int
		bytes  uintptr
	}
	sites := make(map[string]*callSite)

	var resolver stack.Resolver
	if cache, err := stack.NewCachingResolver(nil, 1024); err == nil {
		resolver = cache
	} else {
		log.Warningf("resolver cache unavailable: %v", err)
	}

	tracked.Observe(func(_ unsafe.Pointer, size uintptr, cs *stack.Callstack) {
		name := "<unresolved>"
		cs.Observe(resolver, func(pc uintptr, rec stack.Record) bool {
			if rec.Function == "" || strings.HasPrefix(rec.Function, allocatorFrames) {
				return true
			}
			name = fmt.Sprintf("%s (%s:%d)", rec.Function, rec.File, rec.Line)
			return false
		})
		site, ok := sites[name]
		if !ok {
			site = &callSite{}
			sites[name] = site
		}
		site.blocks++
		site.bytes += size
	})

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Call site", "Blocks", "Bytes"})
	for name, site := range sites {
		table.Append([]string{
			name,
			strconv.Itoa(site.blocks),
			strconv.FormatUint(uint64(site.bytes), 10),
		})
	}
	table.Render()
}

// serve blocks forever, exposing prometheus metrics plus textual and
// pprof views of the live registry.
func serve(tracked interface {
	memory.Observable
	Dump(io.Writer)
}) error {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/debug/leaks", func(w http.ResponseWriter, r *http.Request) {
		tracked.Dump(w)
	})
	http.HandleFunc("/debug/pprof/leaks", func(w http.ResponseWriter, r *http.Request) {
		if err := memory.WriteProfile(tracked, w, nil); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	log.Infof("listening on %s", listenAddr)
	return http.ListenAndServe(listenAddr, nil)
}
