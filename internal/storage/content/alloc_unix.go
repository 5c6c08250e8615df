//go:build !windows

package content

import (
	"os"
	"syscall"
)

// allocatedBytes reports the blocks a file occupies on disk, which is less
// than its size for sparse piece files.
func allocatedBytes(info os.FileInfo) int64 {
	if info == nil {
		return 0
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if ok && stat != nil {
		blocks := int64(stat.Blocks)
		if blocks > 0 {
			return blocks * 512
		}
	}
	if size := info.Size(); size > 0 {
		return size
	}
	return 0
}
