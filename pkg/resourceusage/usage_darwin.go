//go:build darwin
// +build darwin

package resourceusage

import (
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
)

// readProcessUsage asks ps for RSS and VSZ in KB plus CPU percentage
func readProcessUsage(pid int) (*Usage, error) {
	output, err := exec.Command("ps", "-o", "rss=,vsz=,%cpu=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return nil, errors.NewIOError("ps command failed", err).WithContext("pid", pid)
	}

	fields := strings.Fields(string(output))
	if len(fields) < 3 {
		return nil, errors.NewInternalError("unexpected ps output format", nil).WithContext("pid", pid)
	}

	usage := &Usage{Timestamp: time.Now()}
	if rssKB, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
		usage.MemoryRSS = rssKB * 1024
	}
	if vszKB, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
		usage.MemoryVirtual = vszKB * 1024
	}
	if percent, err := strconv.ParseFloat(fields[2], 64); err == nil {
		usage.CPUPercent = percent
	}
	return usage, nil
}
