//go:build !linux && !darwin

package usecase

import "errors"

var errDiskFreeUnsupported = errors.New("disk space check not supported on this platform")

func diskFreeBytes(string) (int64, error) {
	return 0, errDiskFreeUnsupported
}
