//go:build !windows

package process

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
)

// SendTerminationSignal sends SIGTERM to the process group
func SendTerminationSignal(pid int) error {
	return signalGroup(pid, syscall.SIGTERM)
}

// ForceKill sends SIGKILL to the process group
func ForceKill(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

// SignalProcess delivers sig to the process only, not its group
func SignalProcess(pid int, sig os.Signal) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return errors.NewNotRunningError("process not found", err).WithContext("pid", pid)
	}
	if err := process.Signal(sig); err != nil {
		if stderrors.Is(err, os.ErrProcessDone) {
			return errors.NewNotRunningError("process already finished", err).WithContext("pid", pid)
		}
		return errors.NewInternalError("failed to signal process", err).WithContext("pid", pid).WithContext("signal", sig.String())
	}
	return nil
}

func signalGroup(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return errors.NewValidationError("invalid PID", nil).WithContext("pid", pid)
	}
	// Negative PID addresses the whole process group
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	if stderrors.Is(err, syscall.ESRCH) {
		return errors.NewNotRunningError("process group not found", err).WithContext("pid", pid)
	}
	return errors.NewInternalError("failed to signal process group", err).WithContext("pid", pid).WithContext("signal", sig.String())
}
