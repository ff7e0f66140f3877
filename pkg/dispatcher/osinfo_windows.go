//go:build windows

package dispatcher

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// serverOS returns the Windows version, e.g. "Windows 10.0.22631".
func serverOS() string {
	v := windows.RtlGetVersion()
	return fmt.Sprintf("Windows %d.%d.%d", v.MajorVersion, v.MinorVersion, v.BuildNumber)
}
