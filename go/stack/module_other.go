//go:build !linux

package stack

import "runtime"

// moduleForPC attributes runtime-known pcs to the executable image.
// Without a mapping table there is nothing to say about foreign pcs.
func moduleForPC(pc uintptr) string {
	if pc == 0 || runtime.FuncForPC(pc-1) == nil {
		return ""
	}
	return executablePath()
}
