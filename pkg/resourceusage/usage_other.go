//go:build !linux && !darwin
// +build !linux,!darwin

package resourceusage

import (
	"runtime"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
)

func readProcessUsage(pid int) (*Usage, error) {
	return nil, errors.NewInternalError("resource usage is not supported on "+runtime.GOOS, nil).WithContext("pid", pid)
}
