package resourceusage

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/logging"
)

// Usage is a point-in-time sample of a process's resource consumption
type Usage struct {
	Timestamp time.Time `json:"timestamp"`

	MemoryRSS     int64 `json:"memory_rss"`     // Resident Set Size, bytes
	MemoryVirtual int64 `json:"memory_virtual"` // bytes

	CPUPercent float64 `json:"cpu_percent"`
	CPUTime    float64 `json:"cpu_time"` // seconds of user plus system time
}

// Sampler reads the resource usage of a running process
type Sampler interface {
	Sample(pid int) (*Usage, error)
}

type cpuSample struct {
	cpuTime   float64
	timestamp time.Time
}

type sampler struct {
	logger logging.Logger

	mutex   sync.Mutex
	lastCPU map[int]cpuSample
}

func NewSampler(logger logging.Logger) Sampler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &sampler{
		logger:  logger,
		lastCPU: make(map[int]cpuSample),
	}
}

func (s *sampler) Sample(pid int) (*Usage, error) {
	usage, err := readProcessUsage(pid)
	if err != nil {
		s.logger.Debugf("Resource usage unavailable, pid: %d, error: %v", pid, err)
		return nil, err
	}
	if usage.Timestamp.IsZero() {
		usage.Timestamp = time.Now()
	}

	s.mutex.Lock()
	previous, ok := s.lastCPU[pid]
	// Only the most recent process is tracked
	s.lastCPU = map[int]cpuSample{pid: {cpuTime: usage.CPUTime, timestamp: usage.Timestamp}}
	s.mutex.Unlock()

	// Platforms that report CPU% directly leave CPUPercent set
	if ok && usage.CPUPercent == 0 {
		usage.CPUPercent = cpuPercent(previous, usage.CPUTime, usage.Timestamp)
	}

	s.logger.Debugf("Resource usage, pid: %d, rss: %dMB, cpu: %.1f%%",
		pid, usage.MemoryRSS/(1024*1024), usage.CPUPercent)
	return usage, nil
}

func cpuPercent(previous cpuSample, cpuTime float64, now time.Time) float64 {
	elapsed := now.Sub(previous.timestamp).Seconds()
	if elapsed <= 0 || cpuTime < previous.cpuTime {
		return 0
	}
	return (cpuTime - previous.cpuTime) / elapsed * 100.0
}
