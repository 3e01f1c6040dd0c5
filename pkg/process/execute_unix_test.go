//go:build !windows

package process

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/capture"
	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_CapturesOutput(t *testing.T) {
	buffer := capture.NewBuffer(0)
	cmd, err := Execute(context.Background(), ExecutionConfig{
		ExecutablePath: "/bin/sh",
		Args:           []string{"-c", "echo READY; echo oops 1>&2; pwd"},
		Environment:    []string{"COUCHBAR_TEST=1"},
	}, buffer, buffer, "test", logging.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, cmd.Process)
	assert.Greater(t, cmd.Process.Pid, 0)

	require.NoError(t, cmd.Wait())

	output := buffer.String()
	assert.Contains(t, output, "READY")
	assert.Contains(t, output, "oops")
	// Working directory defaults to the executable's directory
	assert.True(t, strings.HasSuffix(strings.TrimSpace(output), "/bin"), "unexpected output: %q", output)
}

func TestExecute_SpawnFailures(t *testing.T) {
	dir := t.TempDir()
	notExecutable := filepath.Join(dir, "couchdb")
	require.NoError(t, os.WriteFile(notExecutable, []byte("#!/bin/sh\necho hi\n"), 0644))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		ctx    context.Context
		config ExecutionConfig
		check  func(error) bool
	}{
		{"missing executable", context.Background(), ExecutionConfig{ExecutablePath: filepath.Join(dir, "missing")}, errors.IsSpawnFailedError},
		{"not executable", context.Background(), ExecutionConfig{ExecutablePath: notExecutable}, errors.IsSpawnFailedError},
		{"directory", context.Background(), ExecutionConfig{ExecutablePath: dir}, errors.IsSpawnFailedError},
		{"cancelled context", cancelled, ExecutionConfig{ExecutablePath: "/bin/sh"}, errors.IsCancelledError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := Execute(tt.ctx, tt.config, nil, nil, "test", logging.NewNopLogger())
			assert.Nil(t, cmd)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}
}

func TestTerminationSignals(t *testing.T) {
	cmd, err := Execute(context.Background(), ExecutionConfig{
		ExecutablePath: "/bin/sleep",
		Args:           []string{"30"},
	}, nil, nil, "test", logging.NewNopLogger())
	require.NoError(t, err)
	pid := cmd.Process.Pid

	require.NoError(t, SendTerminationSignal(pid))

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	select {
	case err := <-waitErr:
		require.Error(t, err)
		status := cmd.ProcessState.Sys().(syscall.WaitStatus)
		assert.True(t, status.Signaled())
		assert.Equal(t, syscall.SIGTERM, status.Signal())
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after SIGTERM")
	}

	// The group is gone now
	err = ForceKill(pid)
	assert.True(t, errors.IsNotRunningError(err), "unexpected error: %v", err)
}

func TestSignalValidation(t *testing.T) {
	assert.True(t, errors.IsValidationError(SendTerminationSignal(0)))
	assert.True(t, errors.IsValidationError(ForceKill(-1)))
	assert.True(t, errors.IsValidationError(SignalProcess(0, syscall.SIGHUP)))
}

func TestExecute_RelativeExecutablePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bin"), 0755))
	script := "#!/bin/sh\necho started\npwd\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bin", "srv"), []byte(script), 0755))

	previous, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(previous) })

	buffer := capture.NewBuffer(0)
	cmd, err := Execute(context.Background(), ExecutionConfig{ExecutablePath: "./bin/srv"},
		buffer, buffer, "test", logging.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, cmd.Wait())

	output := buffer.String()
	assert.Contains(t, output, "started")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(output), "/bin"), "unexpected output: %q", output)
}
