//go:build !windows

package shutdown

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
)

func TestSignalHook_DeliversSignal(t *testing.T) {
	cmd := exec.Command("/bin/sleep", "30")
	require.NoError(t, cmd.Start())

	hook := NewSignalHook(syscall.SIGUSR1, logging.NewNopLogger())
	assert.Equal(t, "signal:user defined signal 1", hook.Name())
	require.NoError(t, hook.Run(context.Background(), Target{ID: "sleep", PID: cmd.Process.Pid}))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
		status := cmd.ProcessState.Sys().(syscall.WaitStatus)
		assert.Equal(t, syscall.SIGUSR1, status.Signal())
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatal("signal was not delivered")
	}
}

func TestSignalHook_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	hook := NewSignalHook(syscall.SIGHUP, logging.NewNopLogger())
	assert.True(t, errors.IsCancelledError(hook.Run(ctx, Target{PID: 1})))
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		name     string
		expected syscall.Signal
	}{
		{"SIGHUP", syscall.SIGHUP},
		{"hup", syscall.SIGHUP},
		{" USR1 ", syscall.SIGUSR1},
		{"sigterm", syscall.SIGTERM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := ParseSignal(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sig)
		})
	}

	_, err := ParseSignal("SIGWHATEVER")
	assert.True(t, errors.IsValidationError(err))
}
