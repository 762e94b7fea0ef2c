//go:build windows

package detect

import (
	"syscall"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess  = kernel32.NewProc("OpenProcess")
	procCloseHandle  = kernel32.NewProc("CloseHandle")
	queryInformation = uintptr(0x0400) // PROCESS_QUERY_INFORMATION
)

// pidAlive returns true if a process with given pid exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, _, _ := procOpenProcess.Call(queryInformation, 0, uintptr(uint32(pid)))
	if handle == 0 {
		return false
	}
	_, _, _ = procCloseHandle.Call(handle)
	return true
}
