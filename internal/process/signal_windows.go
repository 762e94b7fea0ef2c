//go:build windows

package process

import (
	"syscall"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	PROCESS_TERMINATE         = 0x0001
	PROCESS_QUERY_INFORMATION = 0x0400
)

// terminateProcess requests termination. Windows has no SIGTERM analogue
// for arbitrary processes, so graceful and forced paths both terminate;
// the escalation logic above remains portable.
func terminateProcess(pid int) error {
	return killProcess(pid)
}

// killProcess terminates a Windows process by PID.
func killProcess(pid int) error {
	if pid <= 0 {
		return nil
	}
	actualPid := pid
	if pid < 0 {
		actualPid = -pid
	}
	handle, err := openProcess(PROCESS_TERMINATE, uint32(actualPid))
	if err != nil {
		// The process likely exited already; treat as terminated.
		return nil
	}
	defer closeHandle(handle)
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

// processExists checks whether a process with the given pid is alive.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := openProcess(PROCESS_QUERY_INFORMATION, uint32(pid))
	if err != nil {
		return false
	}
	defer closeHandle(handle)
	return true
}

func openProcess(access uint32, processID uint32) (syscall.Handle, error) {
	ret, _, err := procOpenProcess.Call(uintptr(access), 0, uintptr(processID))
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) {
	_, _, _ = procCloseHandle.Call(uintptr(handle))
}
