//go:build windows

package proc

import (
	"golang.org/x/sys/windows"
)

// NtSuspendProcess/NtResumeProcess suspend and resume every thread of the
// target process. They are the documented-in-practice equivalents of
// SIGSTOP/SIGCONT and what debuggers use under the hood.
var (
	ntdll            = windows.NewLazySystemDLL("ntdll.dll")
	ntSuspendProcess = ntdll.NewProc("NtSuspendProcess")
	ntResumeProcess  = ntdll.NewProc("NtResumeProcess")
)

type platformController struct{}

func openProcess(pid int, access uint32) (windows.Handle, error) {
	return windows.OpenProcess(access, false, uint32(pid))
}

func (platformController) Suspend(pid int) error {
	handle, err := openProcess(pid, windows.PROCESS_SUSPEND_RESUME)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(handle)

	if status, _, _ := ntSuspendProcess.Call(uintptr(handle)); status != 0 {
		return windows.NTStatus(status)
	}
	return nil
}

func (platformController) Resume(pid int) error {
	handle, err := openProcess(pid, windows.PROCESS_SUSPEND_RESUME)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(handle)

	if status, _, _ := ntResumeProcess.Call(uintptr(handle)); status != 0 {
		return windows.NTStatus(status)
	}
	return nil
}

func (platformController) Terminate(pid int) error {
	// Windows has no graceful TERM for GUI-less children; terminating the
	// process is the only option, so Terminate and Kill coincide.
	return platformController{}.Kill(pid)
}

func (platformController) Kill(pid int) error {
	handle, err := openProcess(pid, windows.PROCESS_TERMINATE)
	if err != nil {
		return err
	}
	defer windows.CloseHandle(handle)

	return windows.TerminateProcess(handle, 1)
}
