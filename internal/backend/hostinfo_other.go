//go:build !linux

package backend

import "runtime"

func hostInfo() (string, uint64) {
	return runtime.GOOS + " " + runtime.GOARCH + " CPU", fallbackMemory
}
