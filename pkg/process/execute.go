package process

import (
	"context"
	stderrors "errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
)

// DefaultWaitDelay bounds how long Wait keeps copying output after the
// process exited, for grandchildren that inherited the pipes.
const DefaultWaitDelay = 2 * time.Second

type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// Execute spawns the configured executable with stdout and stderr attached to
// the given writers. On success the process exists and has a PID; the caller
// owns the returned command and must Wait on it.
//
// ctx only guards the spawn itself: cancelling it later does not kill the
// server, which lives until it is stopped explicitly.
func Execute(ctx context.Context, execution ExecutionConfig, stdout, stderr io.Writer, id string, logger logging.Logger) (*exec.Cmd, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCancelledError("spawn cancelled", err).WithContext("id", id)
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
		return nil, errors.NewSpawnFailedError("invalid execution configuration", err).
			WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	if err := checkExecutable(execution.ExecutablePath); err != nil {
		return nil, errors.NewSpawnFailedError("executable cannot be run", err).
			WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	// Relative paths are resolved against our directory, not the child's
	absPath, err := filepath.Abs(execution.ExecutablePath)
	if err != nil {
		return nil, errors.NewSpawnFailedError("failed to get absolute path", err).
			WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	workDir := execution.WorkingDirectory
	if workDir == "" {
		workDir = filepath.Dir(absPath)
	}

	logger.Debugf("Executing process, id: %s, executable path: '%s', args: %v, working directory: '%s'",
		id, absPath, execution.Args, workDir)

	cmd := exec.Command(absPath, execution.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), execution.Environment...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	setupProcessAttributes(cmd)

	cmd.WaitDelay = execution.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	if err := cmd.Start(); err != nil {
		return nil, classifyStartError(err).
			WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
	}

	logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)

	return cmd, nil
}

func classifyStartError(err error) *errors.DomainError {
	switch {
	case stderrors.Is(err, exec.ErrNotFound), stderrors.Is(err, os.ErrNotExist):
		return errors.NewSpawnFailedError("executable not found", err)
	case stderrors.Is(err, os.ErrPermission):
		return errors.NewSpawnFailedError("permission denied", err)
	default:
		return errors.NewSpawnFailedError("failed to start the process", err)
	}
}

// checkExecutable fails when the file cannot be executed by anyone
func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}
	if info.IsDir() {
		return errors.NewValidationError("executable path is a directory", nil).WithContext("path", path)
	}

	// Windows has no execute bit
	if runtime.GOOS == "windows" {
		return nil
	}

	if info.Mode()&0111 == 0 {
		return errors.NewPermissionError("file is not executable", os.ErrPermission).WithContext("path", path)
	}
	return nil
}
