//go:build linux

package stack

import (
	"os"
	"strconv"
	"strings"
	"sync"
)

// mapping is one executable range parsed out of /proc/self/maps.
type mapping struct {
	start, end uintptr
	path       string
}

var (
	mappingsOnce sync.Once
	mappings     []mapping
)

// moduleForPC returns the file path of the loaded object containing
// pc, or "" when no mapping covers it. The maps table is parsed once
// per process; objects dlopened afterwards will not be attributed.
func moduleForPC(pc uintptr) string {
	mappingsOnce.Do(loadMappings)
	for _, m := range mappings {
		if pc >= m.start && pc < m.end {
			return m.path
		}
	}
	return ""
}

func loadMappings() {
	data, err := os.ReadFile("/proc/self/maps")
	if err != nil {
		// No mappings means module attribution quietly degrades to
		// nothing; resolution carries on without it.
		return
	}
	for _, line := range strings.Split(string(data), "\n") {
		// start-end perms offset dev inode path
		fields := strings.Fields(line)
		if len(fields) < 6 || !strings.Contains(fields[1], "x") {
			continue
		}
		path := fields[5]
		if !strings.HasPrefix(path, "/") {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err1 := strconv.ParseUint(addrs[0], 16, 64)
		end, err2 := strconv.ParseUint(addrs[1], 16, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		mappings = append(mappings, mapping{
			start: uintptr(start),
			end:   uintptr(end),
			path:  path,
		})
	}
}
