package supervisor

import (
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/monitoring"
)

// Status is a point-in-time snapshot of the supervisor
type Status struct {
	ID            string                       `json:"id"`
	State         State                        `json:"state"`
	Handle        *Handle                      `json:"handle,omitempty"`
	Uptime        time.Duration                `json:"uptime,omitempty"`
	OutputBytes   int                          `json:"output_bytes"`
	OutputDropped int64                        `json:"output_dropped"`
	Health        *monitoring.HealthCheckState `json:"health,omitempty"`
	LastExit      *ExitReport                  `json:"last_exit,omitempty"`
}

func (s *Supervisor) Status() Status {
	status := Status{
		ID:            s.options.ID,
		State:         s.State(),
		Handle:        s.Handle(),
		OutputBytes:   s.output.Len(),
		OutputDropped: s.output.Dropped(),
		Health:        s.Health(),
		LastExit:      s.Report(),
	}
	if status.Handle != nil && status.State.IsActive() {
		status.Uptime = time.Since(status.Handle.StartedAt)
	}
	return status
}
