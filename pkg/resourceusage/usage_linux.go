//go:build linux
// +build linux

package resourceusage

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
)

// USER_HZ is 100 on every mainstream Linux architecture
const clockTicksPerSecond = 100

func readProcessUsage(pid int) (*Usage, error) {
	usage := &Usage{Timestamp: time.Now()}

	statm, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return nil, errors.NewIOError("failed to read process memory", err).WithContext("pid", pid)
	}
	fields := strings.Fields(string(statm))
	if len(fields) < 2 {
		return nil, errors.NewInternalError("unexpected statm format", nil).WithContext("pid", pid)
	}
	pageSize := int64(os.Getpagesize())
	if pages, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
		usage.MemoryVirtual = pages * pageSize
	}
	if pages, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
		usage.MemoryRSS = pages * pageSize
	}

	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, errors.NewIOError("failed to read process stat", err).WithContext("pid", pid)
	}
	// The command name may contain spaces; fields restart after the last ')'
	content := string(stat)
	closing := strings.LastIndexByte(content, ')')
	if closing < 0 {
		return nil, errors.NewInternalError("unexpected stat format", nil).WithContext("pid", pid)
	}
	rest := strings.Fields(content[closing+1:])
	// rest[0] is field 3 (state); utime and stime are fields 14 and 15
	if len(rest) < 13 {
		return nil, errors.NewInternalError("unexpected stat format", nil).WithContext("pid", pid)
	}
	utime, _ := strconv.ParseFloat(rest[11], 64)
	stime, _ := strconv.ParseFloat(rest[12], 64)
	usage.CPUTime = (utime + stime) / clockTicksPerSecond

	return usage, nil
}
