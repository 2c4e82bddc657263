package stack

import (
	"os"
	"sync"
)

var (
	exeOnce sync.Once
	exePath string
)

// executablePath is the lazily resolved path of the running binary,
// used to attribute pcs when no per-mapping table is available.
func executablePath() string {
	exeOnce.Do(func() {
		exePath, _ = os.Executable()
	})
	return exePath
}
