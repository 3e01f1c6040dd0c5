package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/core-tools/hsu-couchbar/pkg/supervisor"
)

const namespace = "couchbar"

// Metrics records supervisor lifecycle events on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	starts        *prometheus.CounterVec
	spawnFailures *prometheus.CounterVec
	exits         *prometheus.CounterVec
	stopDuration  *prometheus.HistogramVec
	running       *prometheus.GaugeVec
}

// NewMetrics registers the collectors. outputBytes, when set, reports the
// size of the current capture buffer.
func NewMetrics(outputBytes func() float64) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		starts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_starts_total",
			Help:      "The total number of successful server spawns",
		}, []string{"id"}),
		spawnFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_spawn_failures_total",
			Help:      "The total number of failed server spawns",
		}, []string{"id"}),
		exits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_exits_total",
			Help:      "The total number of server exits per reason",
		}, []string{"id", "reason"}),
		stopDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stop_duration_seconds",
			Help:      "Time from stop request to server exit",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"id", "forced"}),
		running: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "process_running",
			Help:      "Whether the server process is running",
		}, []string{"id"}),
	}

	if outputBytes != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "captured_output_bytes",
			Help:      "Bytes captured from the current server's stdout and stderr",
		}, outputBytes)
	}

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ProcessStarted(id string, pid int) {
	m.starts.WithLabelValues(id).Inc()
	m.running.WithLabelValues(id).Set(1)
}

func (m *Metrics) SpawnFailed(id string, err error) {
	m.spawnFailures.WithLabelValues(id).Inc()
}

func (m *Metrics) ProcessExited(report supervisor.ExitReport) {
	m.exits.WithLabelValues(report.ID, string(report.Reason)).Inc()
	m.running.WithLabelValues(report.ID).Set(0)
}

func (m *Metrics) StopCompleted(id string, duration time.Duration, forced bool) {
	label := "false"
	if forced {
		label = "true"
	}
	m.stopDuration.WithLabelValues(id, label).Observe(duration.Seconds())
}

var _ supervisor.Observer = (*Metrics)(nil)
