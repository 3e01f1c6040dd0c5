//go:build windows

package process

import (
	"os"
	"syscall"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
)

const ctrlBreakEvent = 1

var (
	kernel32                     = syscall.NewLazyDLL("kernel32.dll")
	procGenerateConsoleCtrlEvent = kernel32.NewProc("GenerateConsoleCtrlEvent")
)

// SendTerminationSignal sends Ctrl-Break to the child's process group
func SendTerminationSignal(pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	r, _, err := procGenerateConsoleCtrlEvent.Call(ctrlBreakEvent, uintptr(pid))
	if r == 0 {
		return errors.NewInternalError("GenerateConsoleCtrlEvent failed", err).WithContext("pid", pid)
	}
	return nil
}

// ForceKill terminates the process with TerminateProcess
func ForceKill(pid int) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return errors.NewNotRunningError("process not found", err).WithContext("pid", pid)
	}
	if err := process.Kill(); err != nil {
		return errors.NewInternalError("failed to kill process", err).WithContext("pid", pid)
	}
	return nil
}

// SignalProcess only supports os.Kill on Windows
func SignalProcess(pid int, sig os.Signal) error {
	if sig == os.Kill {
		return ForceKill(pid)
	}
	return errors.NewValidationError("signal not supported on windows: "+sig.String(), nil).WithContext("pid", pid)
}
