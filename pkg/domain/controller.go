package domain

import (
	"context"
	"io"
	"sync"

	"go.uber.org/multierr"

	"github.com/core-tools/hsu-couchbar/pkg/capture"
	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
	"github.com/core-tools/hsu-couchbar/pkg/process"
	"github.com/core-tools/hsu-couchbar/pkg/resourceusage"
	"github.com/core-tools/hsu-couchbar/pkg/supervisor"
)

// SupervisorFactory creates a fresh supervisor for every launch
type SupervisorFactory func() *supervisor.Supervisor

type ControllerOptions struct {
	ID            string
	Execution     process.ExecutionConfig
	AdminURL      string
	NewSupervisor SupervisorFactory
	// Optional; fills Status.Resources
	Usage resourceusage.Sampler
}

// Controller relaunches the server on demand. A supervisor is single-shot,
// so every start after a termination gets a new one.
type Controller struct {
	options ControllerOptions
	logger  logging.Logger

	mutex     sync.Mutex
	current   *supervisor.Supervisor
	runs      int
	listeners []supervisor.TerminationCallback
}

func NewController(options ControllerOptions, logger logging.Logger) (*Controller, error) {
	if options.NewSupervisor == nil {
		return nil, errors.NewValidationError("supervisor factory is required", nil)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Controller{
		options: options,
		logger:  logger,
	}, nil
}

// OnTerminated registers a callback for every process exit, across relaunches
func (c *Controller) OnTerminated(callback supervisor.TerminationCallback) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.listeners = append(c.listeners, callback)
	if c.current != nil {
		c.current.OnTerminated(callback)
	}
}

func (c *Controller) Start(ctx context.Context) (*supervisor.Handle, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.current == nil || c.current.State() == supervisor.StateTerminated {
		c.replaceSupervisorLocked()
	}

	handle, err := c.current.Start(ctx, c.options.Execution)
	if errors.IsTerminatedError(err) {
		// A stop in progress finished while this start waited for it
		c.logger.Debugf("Supervisor terminated while starting, relaunching, id: %s", c.options.ID)
		c.replaceSupervisorLocked()
		return c.current.Start(ctx, c.options.Execution)
	}
	return handle, err
}

func (c *Controller) replaceSupervisorLocked() {
	if c.current != nil {
		if err := c.current.Cleanup(); err != nil {
			c.logger.Warnf("Failed to clean up previous supervisor, id: %s, error: %v", c.options.ID, err)
		}
	}
	c.current = c.newSupervisorLocked()
}

func (c *Controller) newSupervisorLocked() *supervisor.Supervisor {
	s := c.options.NewSupervisor()
	for _, listener := range c.listeners {
		s.OnTerminated(listener)
	}
	c.runs++
	c.logger.Debugf("Created supervisor, id: %s, run: %d", c.options.ID, c.runs)
	return s
}

func (c *Controller) Stop(ctx context.Context) error {
	current := c.currentSupervisor()
	if current == nil {
		return errors.NewNotRunningError("server was never started", nil).WithContext("id", c.options.ID)
	}
	return current.Stop(ctx)
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	c.mutex.Lock()
	current := c.current
	runs := c.runs
	c.mutex.Unlock()

	status := Status{
		Runs:     runs,
		AdminURL: c.options.AdminURL,
	}
	if current == nil {
		status.Status = supervisor.Status{ID: c.options.ID, State: supervisor.StateNotStarted}
		return status, nil
	}
	status.Status = current.Status()
	if c.options.Usage != nil && status.State == supervisor.StateRunning && status.Handle != nil {
		if usage, err := c.options.Usage.Sample(status.Handle.PID); err == nil {
			status.Resources = usage
		}
	}
	return status, nil
}

func (c *Controller) Output(ctx context.Context) ([]byte, error) {
	buffer := c.OutputBuffer()
	if buffer == nil {
		return []byte{}, nil
	}
	return buffer.Bytes(), nil
}

// OutputBuffer is the capture buffer of the current run, nil before the first start
func (c *Controller) OutputBuffer() *capture.Buffer {
	current := c.currentSupervisor()
	if current == nil {
		return nil
	}
	return current.Output()
}

// CurrentOutputBytes reports the size of the current capture buffer
func (c *Controller) CurrentOutputBytes() float64 {
	buffer := c.OutputBuffer()
	if buffer == nil {
		return 0
	}
	return float64(buffer.Len())
}

func (c *Controller) FollowOutput(ctx context.Context, w io.Writer) error {
	buffer := c.OutputBuffer()
	if buffer == nil {
		return errors.NewNotRunningError("server was never started", nil).WithContext("id", c.options.ID)
	}
	return buffer.Follow(ctx, w)
}

func (c *Controller) AdminURL(ctx context.Context) (string, error) {
	if c.options.AdminURL == "" {
		return "", errors.NewValidationError("admin URL is not configured", nil)
	}
	return c.options.AdminURL, nil
}

// Close stops a running server and releases the current supervisor
func (c *Controller) Close(ctx context.Context) error {
	current := c.currentSupervisor()
	if current == nil {
		return nil
	}

	var err error
	if stopErr := current.Stop(ctx); stopErr != nil && !errors.IsNotRunningError(stopErr) {
		err = multierr.Append(err, stopErr)
	}
	err = multierr.Append(err, current.Cleanup())
	return err
}

func (c *Controller) currentSupervisor() *supervisor.Supervisor {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.current
}

var (
	_ Contract       = (*Controller)(nil)
	_ OutputFollower = (*Controller)(nil)
)
