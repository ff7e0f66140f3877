//go:build !windows

package dispatcher

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// serverOS returns the kernel name and release, e.g. "Linux 6.8.0".
func serverOS() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return runtime.GOOS
	}
	return unix.ByteSliceToString(uts.Sysname[:]) + " " + unix.ByteSliceToString(uts.Release[:])
}
