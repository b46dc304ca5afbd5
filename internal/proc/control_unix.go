//go:build !windows

package proc

import (
	"golang.org/x/sys/unix"
)

type platformController struct{}

func (platformController) Suspend(pid int) error {
	return unix.Kill(pid, unix.SIGSTOP)
}

func (platformController) Resume(pid int) error {
	return unix.Kill(pid, unix.SIGCONT)
}

func (platformController) Terminate(pid int) error {
	return unix.Kill(pid, unix.SIGTERM)
}

func (platformController) Kill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}
