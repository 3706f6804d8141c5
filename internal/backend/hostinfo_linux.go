//go:build linux

package backend

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// hostInfo reads the kernel's view of the machine and its physical memory.
func hostInfo() (string, uint64) {
	name := "host CPU"
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		name = fmt.Sprintf("%s %s CPU", unix.ByteSliceToString(uts.Sysname[:]), unix.ByteSliceToString(uts.Machine[:]))
	}

	total := fallbackMemory
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err == nil && si.Totalram > 0 {
		unit := uint64(si.Unit)
		if unit == 0 {
			unit = 1
		}
		total = uint64(si.Totalram) * unit
	}
	return name, total
}
