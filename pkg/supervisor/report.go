package supervisor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
)

// ExitReason classifies how the supervised process ended
type ExitReason string

const (
	ExitReasonExited  ExitReason = "exited"  // Exited on its own with status 0
	ExitReasonCrashed ExitReason = "crashed" // Exited on its own with a failure status or signal
	ExitReasonStopped ExitReason = "stopped" // Exited after Stop asked it to
	ExitReasonKilled  ExitReason = "killed"  // Force-terminated by the supervisor
)

// Force kill causes
const (
	forceCauseGracePeriod = "grace_period_expired"
	forceCauseCancelled   = "context_cancelled"
	forceCauseCleanup     = "cleanup"
)

// ExitReport is delivered to termination callbacks
type ExitReport struct {
	ID              string        `json:"id"`
	RunID           string        `json:"run_id"`
	PID             int           `json:"pid"`
	ExitCode        int           `json:"exit_code"`
	Signal          string        `json:"signal,omitempty"`
	Reason          ExitReason    `json:"reason"`
	Requested       bool          `json:"requested"`
	ShutdownTimeout bool          `json:"shutdown_timeout"`
	ForceCause      string        `json:"force_cause,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	ExitedAt        time.Time     `json:"exited_at"`
	Uptime          time.Duration `json:"uptime"`
	OutputBytes     int           `json:"output_bytes"`
	WaitError       string        `json:"wait_error,omitempty"`
}

// Normal reports an exit status of zero without a signal
func (r *ExitReport) Normal() bool {
	return r.ExitCode == 0 && r.Signal == ""
}

// Unexpected reports an exit that Stop did not cause
func (r *ExitReport) Unexpected() bool {
	return !r.Requested
}

// Err returns the asynchronous condition carried by the report, or nil for a clean stop
func (r *ExitReport) Err() error {
	switch {
	case r.ShutdownTimeout:
		return errors.NewShutdownTimeoutError("process ignored graceful shutdown and was killed", nil).
			WithContext("id", r.ID).WithContext("pid", r.PID)
	case !r.Requested:
		return errors.NewUnexpectedExitError("process exited without a stop request", nil).
			WithContext("id", r.ID).WithContext("pid", r.PID).
			WithContext("exit_code", r.ExitCode).WithContext("signal", r.Signal)
	}
	return nil
}

func (r *ExitReport) String() string {
	bits := []string{fmt.Sprintf("reason=%s", r.Reason), fmt.Sprintf("status=%d", r.ExitCode)}
	if r.Signal != "" {
		bits = append(bits, "signal="+r.Signal)
	}
	if r.ForceCause != "" {
		bits = append(bits, "force_cause="+r.ForceCause)
	}
	return fmt.Sprintf("process %d %s", r.PID, strings.Join(bits, ", "))
}

// exitInfo extracts status and signal name from a finished process
func exitInfo(state *os.ProcessState) (int, string) {
	if state == nil {
		return -1, ""
	}
	return state.ExitCode(), exitSignal(state)
}

func classifyExit(requested bool, forceCause string, exitCode int, signal string) ExitReason {
	switch {
	case forceCause != "":
		return ExitReasonKilled
	case requested:
		return ExitReasonStopped
	case exitCode == 0 && signal == "":
		return ExitReasonExited
	default:
		return ExitReasonCrashed
	}
}
