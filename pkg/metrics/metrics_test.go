package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-couchbar/pkg/supervisor"
)

func TestMetrics_Lifecycle(t *testing.T) {
	m := NewMetrics(func() float64 { return 42 })

	m.ProcessStarted("couchdb", 100)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.starts.WithLabelValues("couchdb")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.running.WithLabelValues("couchdb")))

	m.SpawnFailed("couchdb", errors.New("no such file"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.spawnFailures.WithLabelValues("couchdb")))

	m.StopCompleted("couchdb", 300*time.Millisecond, true)
	m.ProcessExited(supervisor.ExitReport{ID: "couchdb", Reason: supervisor.ExitReasonKilled})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.exits.WithLabelValues("couchdb", "killed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.running.WithLabelValues("couchdb")))

	count, err := testutil.GatherAndCount(m.Registry(), "couchbar_stop_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics(func() float64 { return 42 })
	m.ProcessStarted("couchdb", 100)

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	body := recorder.Body.String()
	assert.Equal(t, 200, recorder.Code)
	assert.True(t, strings.Contains(body, `couchbar_process_starts_total{id="couchdb"} 1`), body)
	assert.True(t, strings.Contains(body, "couchbar_captured_output_bytes 42"), body)
}
