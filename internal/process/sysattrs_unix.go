//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the child in its own process group so that
// killing the login shell also takes down the server it started.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree sends SIGKILL to the child's process group, falling back to the
// single process when the group is already gone.
func killTree(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.ESRCH) {
		err = p.Kill()
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
	}
	return err
}
