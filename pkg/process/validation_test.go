package process

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/errors"

	"github.com/stretchr/testify/assert"
)

// getTestExecutable returns a platform-specific executable path that exists
func getTestExecutable() (string, string) {
	if runtime.GOOS == "windows" {
		return "C:\\Windows\\System32\\cmd.exe", "C:\\Windows\\Temp"
	}
	return "/bin/sh", os.TempDir()
}

func TestValidateExecutionConfig(t *testing.T) {
	executable, workDir := getTestExecutable()
	regularFile := filepath.Join(t.TempDir(), "file.txt")
	assert.NoError(t, os.WriteFile(regularFile, []byte("x"), 0644))

	tests := []struct {
		name      string
		config    ExecutionConfig
		shouldErr bool
	}{
		{
			name:   "valid_minimal",
			config: ExecutionConfig{ExecutablePath: executable},
		},
		{
			name: "valid_full",
			config: ExecutionConfig{
				ExecutablePath:   executable,
				Args:             []string{"-c", "true"},
				Environment:      []string{"COUCHDB_ARGS_FILE=/tmp/vm.args"},
				WorkingDirectory: workDir,
				WaitDelay:        time.Second,
			},
		},
		{
			name:      "missing_executable_path",
			config:    ExecutionConfig{},
			shouldErr: true,
		},
		{
			name:      "executable_not_found",
			config:    ExecutionConfig{ExecutablePath: "/nonexistent/couchdb"},
			shouldErr: true,
		},
		{
			name:      "relative_working_directory",
			config:    ExecutionConfig{ExecutablePath: executable, WorkingDirectory: "relative/dir"},
			shouldErr: true,
		},
		{
			name:      "working_directory_is_file",
			config:    ExecutionConfig{ExecutablePath: executable, WorkingDirectory: regularFile},
			shouldErr: true,
		},
		{
			name:      "invalid_environment",
			config:    ExecutionConfig{ExecutablePath: executable, Environment: []string{"NO_EQUALS_SIGN"}},
			shouldErr: true,
		},
		{
			name:      "negative_wait_delay",
			config:    ExecutionConfig{ExecutablePath: executable, WaitDelay: -time.Second},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateExecutionConfig(tt.config)
			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
