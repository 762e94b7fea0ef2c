//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// Windows creation flags
const (
	CREATE_NEW_PROCESS_GROUP = 0x00000200
	DETACHED_PROCESS         = 0x00000008
)

// configureSysProcAttr sets platform-specific attributes for Windows.
// A new process group is always created; detached services additionally
// drop the parent's console.
func configureSysProcAttr(cmd *exec.Cmd, spec Spec) {
	attrs := &syscall.SysProcAttr{}
	flags := uint32(CREATE_NEW_PROCESS_GROUP)
	if spec.Detached {
		flags |= DETACHED_PROCESS
	}
	attrs.CreationFlags = flags
	cmd.SysProcAttr = attrs
}
