package resourceusage

import (
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUPercent(t *testing.T) {
	now := time.Now()
	previous := cpuSample{cpuTime: 1.0, timestamp: now.Add(-2 * time.Second)}

	assert.InDelta(t, 50.0, cpuPercent(previous, 2.0, now), 0.001)
	assert.Equal(t, 0.0, cpuPercent(previous, 0.5, now))
	assert.Equal(t, 0.0, cpuPercent(cpuSample{cpuTime: 1.0, timestamp: now}, 2.0, now))
}

func TestSample_CurrentProcess(t *testing.T) {
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("resource usage sampling is not supported on " + runtime.GOOS)
	}

	sampler := NewSampler(nil)

	usage, err := sampler.Sample(os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, usage.MemoryRSS, int64(0))
	assert.GreaterOrEqual(t, usage.MemoryVirtual, usage.MemoryRSS)
	assert.False(t, usage.Timestamp.IsZero())

	second, err := sampler.Sample(os.Getpid())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
}

func TestSample_MissingProcess(t *testing.T) {
	_, err := NewSampler(nil).Sample(999999999)
	assert.Error(t, err)
}
