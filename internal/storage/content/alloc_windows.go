//go:build windows

package content

import "os"

func allocatedBytes(info os.FileInfo) int64 {
	if info == nil {
		return 0
	}
	if size := info.Size(); size > 0 {
		return size
	}
	return 0
}
