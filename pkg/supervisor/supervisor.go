package supervisor

import (
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/core-tools/hsu-couchbar/pkg/capture"
	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
	"github.com/core-tools/hsu-couchbar/pkg/monitoring"
	"github.com/core-tools/hsu-couchbar/pkg/process"
	"github.com/core-tools/hsu-couchbar/pkg/shutdown"
)

const (
	DefaultGracePeriod = 5 * time.Second
	DefaultKillTimeout = 5 * time.Second
)

// TerminationCallback receives the exit report of the supervised process
type TerminationCallback func(report ExitReport)

// PIDFileWriter persists the PID of the running child
type PIDFileWriter interface {
	WritePIDFile(id string, pid int) error
	RemovePIDFile(id string) error
}

type Options struct {
	ID string

	// Shutdown sequence
	GracePeriod  time.Duration
	KillTimeout  time.Duration
	ShutdownHook shutdown.Hook
	HookTimeout  time.Duration

	// Output capture
	OutputLimit    datasize.ByteSize
	OutputObserver capture.LineObserver

	// Optional readiness monitoring
	HealthCheck *monitoring.HealthCheckConfig
	OnReady     func()

	PIDFile  PIDFileWriter
	Observer Observer
}

// Handle identifies a started process
type Handle struct {
	ID               string    `json:"id"`
	RunID            string    `json:"run_id"`
	PID              int       `json:"pid"`
	ExecutablePath   string    `json:"executable_path"`
	Args             []string  `json:"args,omitempty"`
	WorkingDirectory string    `json:"working_directory,omitempty"`
	StartedAt        time.Time `json:"started_at"`
}

// Supervisor launches one child process, captures its output and
// guarantees a graceful shutdown directive before termination.
// A Supervisor runs at most one process over its lifetime.
type Supervisor struct {
	options Options
	logger  logging.Logger

	// Serializes Start, Stop and Cleanup
	opMutex sync.Mutex

	// Guards the fields below; never held while waiting on the child
	mutex         sync.Mutex
	state         State
	cmd           *exec.Cmd
	handle        *Handle
	report        *ExitReport
	callbacks     []TerminationCallback
	healthMonitor monitoring.HealthMonitor

	output     *capture.Buffer
	forceCause *atomic.String
	cleaned    *atomic.Bool

	started    chan struct{} // closed once Start publishes success
	terminated chan struct{} // closed once state is Terminated
	done       chan struct{} // closed once callbacks have run
}

func New(options Options, logger logging.Logger) *Supervisor {
	if options.GracePeriod <= 0 {
		options.GracePeriod = DefaultGracePeriod
	}
	if options.KillTimeout <= 0 {
		options.KillTimeout = DefaultKillTimeout
	}
	if options.HookTimeout <= 0 {
		options.HookTimeout = shutdown.DefaultTimeout
	}
	if options.OutputLimit == 0 {
		options.OutputLimit = capture.DefaultLimit
	}
	if options.Observer == nil {
		options.Observer = nopObserver{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &Supervisor{
		options:    options,
		logger:     logger,
		state:      StateNotStarted,
		output:     capture.NewBuffer(options.OutputLimit),
		forceCause: atomic.NewString(""),
		cleaned:    atomic.NewBool(false),
		started:    make(chan struct{}),
		terminated: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *Supervisor) ID() string {
	return s.options.ID
}

// Start spawns the child and returns once the OS has confirmed it
func (s *Supervisor) Start(ctx context.Context, execution process.ExecutionConfig) (*Handle, error) {
	if ctx == nil {
		return nil, errors.NewValidationError("context is required", nil)
	}

	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	if err := s.checkCanStart(); err != nil {
		return nil, err
	}

	s.logger.Infof("Starting process, id: %s, executable: %s", s.options.ID, execution.ExecutablePath)

	stdout := s.output.StreamWriter("stdout", s.options.OutputObserver)
	stderr := s.output.StreamWriter("stderr", s.options.OutputObserver)

	cmd, err := process.Execute(ctx, execution, stdout, stderr, s.options.ID, s.logger)
	if err != nil {
		s.logger.Errorf("Failed to start process, id: %s, error: %v", s.options.ID, err)
		s.options.Observer.SpawnFailed(s.options.ID, err)
		return nil, err
	}

	handle := &Handle{
		ID:               s.options.ID,
		RunID:            uuid.NewString(),
		PID:              cmd.Process.Pid,
		ExecutablePath:   execution.ExecutablePath,
		Args:             append([]string(nil), execution.Args...),
		WorkingDirectory: cmd.Dir,
		StartedAt:        time.Now(),
	}

	s.mutex.Lock()
	s.state = StateRunning
	s.cmd = cmd
	s.handle = handle
	s.mutex.Unlock()

	go s.watch(cmd, handle, stdout, stderr)

	if s.options.PIDFile != nil {
		if err := s.options.PIDFile.WritePIDFile(s.options.ID, handle.PID); err != nil {
			s.logger.Warnf("Failed to write PID file, id: %s, pid: %d, error: %v", s.options.ID, handle.PID, err)
		}
	}

	s.startHealthMonitor(handle.PID)

	s.options.Observer.ProcessStarted(s.options.ID, handle.PID)
	s.logger.Infof("Process started, id: %s, pid: %d, run: %s", s.options.ID, handle.PID, handle.RunID)

	close(s.started)

	handleCopy := *handle
	return &handleCopy, nil
}

func (s *Supervisor) checkCanStart() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if canStartFromState(s.state) {
		return nil
	}
	if s.state == StateTerminated {
		return errors.NewTerminatedError("supervisor already ran its process", nil).
			WithContext("id", s.options.ID)
	}
	return errors.NewAlreadyRunningError("process is already running", nil).
		WithContext("id", s.options.ID).
		WithContext("pid", s.handle.PID).
		WithContext("state", string(s.state))
}

func (s *Supervisor) startHealthMonitor(pid int) {
	if s.options.HealthCheck == nil {
		return
	}

	monitor := monitoring.NewHealthMonitor(s.options.HealthCheck, s.options.ID, &monitoring.ProcessInfo{PID: pid}, s.logger)
	monitor.SetReadyCallback(func() {
		s.logger.Infof("Process is ready, id: %s, pid: %d", s.options.ID, pid)
		if s.options.OnReady != nil {
			s.options.OnReady()
		}
	})

	if err := monitor.Start(context.Background()); err != nil {
		s.logger.Warnf("Failed to start health monitor, id: %s, error: %v", s.options.ID, err)
		return
	}

	s.mutex.Lock()
	s.healthMonitor = monitor
	s.mutex.Unlock()
}

// watch waits for the child to exit, then publishes the report exactly once
func (s *Supervisor) watch(cmd *exec.Cmd, handle *Handle, streams ...*capture.StreamWriter) {
	waitErr := cmd.Wait()

	// Wait has copied all stdout/stderr data by now
	for _, stream := range streams {
		stream.Flush()
	}
	s.output.Seal()

	// Callbacks must not observe an exit before Start has returned
	<-s.started

	exitCode, signal := exitInfo(cmd.ProcessState)
	forceCause := s.forceCause.Load()

	s.mutex.Lock()
	requested := s.state == StateStopping
	report := ExitReport{
		ID:              handle.ID,
		RunID:           handle.RunID,
		PID:             handle.PID,
		ExitCode:        exitCode,
		Signal:          signal,
		Reason:          classifyExit(requested, forceCause, exitCode, signal),
		Requested:       requested,
		ShutdownTimeout: forceCause == forceCauseGracePeriod,
		ForceCause:      forceCause,
		StartedAt:       handle.StartedAt,
		ExitedAt:        time.Now(),
		OutputBytes:     s.output.Len(),
	}
	report.Uptime = report.ExitedAt.Sub(report.StartedAt)
	if waitErr != nil {
		if _, isExitErr := waitErr.(*exec.ExitError); !isExitErr {
			report.WaitError = waitErr.Error()
		}
	}

	s.state = StateTerminated
	s.report = &report
	callbacks := s.callbacks
	s.callbacks = nil
	monitor := s.healthMonitor
	s.mutex.Unlock()

	close(s.terminated)

	if monitor != nil {
		monitor.Stop()
	}
	if s.options.PIDFile != nil {
		if err := s.options.PIDFile.RemovePIDFile(s.options.ID); err != nil {
			s.logger.Warnf("Failed to remove PID file, id: %s, error: %v", s.options.ID, err)
		}
	}

	if report.Requested {
		s.logger.Infof("Process terminated, id: %s, %s", s.options.ID, report.String())
	} else {
		s.logger.Warnf("Process exited unexpectedly, id: %s, %s", s.options.ID, report.String())
	}

	s.options.Observer.ProcessExited(report)

	for _, callback := range callbacks {
		s.runCallback(callback, report)
	}

	close(s.done)
}

func (s *Supervisor) runCallback(callback TerminationCallback, report ExitReport) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Termination callback panicked, id: %s, panic: %v", s.options.ID, r)
		}
	}()
	callback(report)
}

// OnTerminated registers a callback invoked once when the process exits.
// Registering after exit delivers the stored report asynchronously.
func (s *Supervisor) OnTerminated(callback TerminationCallback) {
	if callback == nil {
		return
	}

	s.mutex.Lock()
	report := s.report
	if report == nil {
		s.callbacks = append(s.callbacks, callback)
	}
	s.mutex.Unlock()

	if report != nil {
		go s.runCallback(callback, *report)
	}
}

// Stop runs the shutdown hook, signals the child and escalates to a kill
// after the grace period or when ctx is done. It returns once the child
// has exited.
func (s *Supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context is required", nil)
	}

	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	s.mutex.Lock()
	if !canStopFromState(s.state) {
		state := s.state
		s.mutex.Unlock()
		return errors.NewNotRunningError("no running process to stop", nil).
			WithContext("id", s.options.ID).
			WithContext("state", string(state))
	}
	s.state = StateStopping
	pid := s.handle.PID
	s.mutex.Unlock()

	begin := time.Now()
	s.logger.Infof("Stopping process, id: %s, pid: %d", s.options.ID, pid)

	s.runShutdownHook(ctx, pid)

	if err := process.SendTerminationSignal(pid); err != nil && !errors.IsNotRunningError(err) {
		s.logger.Warnf("Failed to send termination signal, id: %s, pid: %d, error: %v", s.options.ID, pid, err)
	}

	timer := time.NewTimer(s.options.GracePeriod)
	defer timer.Stop()

	cause := s.awaitExit(ctx, timer.C)
	switch cause {
	case forceCauseGracePeriod:
		s.logger.Warnf("Process did not exit within grace period, killing, id: %s, pid: %d, grace: %v",
			s.options.ID, pid, s.options.GracePeriod)
	case forceCauseCancelled:
		s.logger.Warnf("Stop cancelled, killing, id: %s, pid: %d", s.options.ID, pid)
	}
	forced := cause != ""
	if forced {
		if err := s.kill(pid, cause); err != nil {
			return err
		}
	}

	duration := time.Since(begin)
	s.options.Observer.StopCompleted(s.options.ID, duration, forced)
	s.logger.Infof("Process stopped, id: %s, pid: %d, took: %v", s.options.ID, pid, duration)

	return nil
}

func (s *Supervisor) runShutdownHook(ctx context.Context, pid int) {
	if s.options.ShutdownHook == nil {
		return
	}

	select {
	case <-s.terminated:
		return
	default:
	}

	hook := s.options.ShutdownHook
	target := shutdown.Target{ID: s.options.ID, PID: pid}

	if err := shutdown.RunWithTimeout(ctx, hook, target, s.options.HookTimeout); err != nil {
		s.logger.Warnf("Shutdown hook failed, id: %s, hook: %s, error: %v", s.options.ID, hook.Name(), err)
		return
	}
	s.logger.Debugf("Shutdown hook completed, id: %s, hook: %s", s.options.ID, hook.Name())
}

// awaitExit waits for the child to exit, for the grace timer or for ctx.
// It returns the force cause, or "" when the child is gone; an exit that
// becomes ready together with the timer or ctx wins.
func (s *Supervisor) awaitExit(ctx context.Context, grace <-chan time.Time) string {
	cause := ""
	select {
	case <-s.terminated:
		return ""
	case <-grace:
		cause = forceCauseGracePeriod
	case <-ctx.Done():
		cause = forceCauseCancelled
	}

	select {
	case <-s.terminated:
		return ""
	default:
		return cause
	}
}

// kill force-terminates the child and waits for the watcher to observe the exit
func (s *Supervisor) kill(pid int, cause string) error {
	s.forceCause.CompareAndSwap("", cause)

	if err := process.ForceKill(pid); err != nil && !errors.IsNotRunningError(err) {
		s.logger.Errorf("Failed to kill process, id: %s, pid: %d, error: %v", s.options.ID, pid, err)
		return err
	}

	select {
	case <-s.terminated:
		return nil
	case <-time.After(s.options.KillTimeout):
		return errors.NewShutdownTimeoutError("process did not terminate after kill", nil).
			WithContext("id", s.options.ID).
			WithContext("pid", pid).
			WithContext("kill_timeout", s.options.KillTimeout.String())
	}
}

// Cleanup releases every OS resource held by the supervisor. A child that
// is still running is killed without the graceful sequence. Subsequent
// calls are no-ops.
func (s *Supervisor) Cleanup() error {
	s.opMutex.Lock()
	defer s.opMutex.Unlock()

	var err error

	s.mutex.Lock()
	state := s.state
	switch state {
	case StateNotStarted:
		s.state = StateTerminated
	case StateRunning:
		s.state = StateStopping
	}
	pid := 0
	if s.handle != nil {
		pid = s.handle.PID
	}
	s.mutex.Unlock()

	if state == StateNotStarted {
		close(s.terminated)
		close(s.done)
	}

	if state.IsActive() {
		s.logger.Infof("Cleaning up running process, id: %s, pid: %d", s.options.ID, pid)
		err = multierr.Append(err, s.kill(pid, forceCauseCleanup))
	}

	if s.cleaned.CompareAndSwap(false, true) {
		s.output.Seal()

		s.mutex.Lock()
		monitor := s.healthMonitor
		s.mutex.Unlock()
		if monitor != nil {
			monitor.Stop()
		}

		if s.options.PIDFile != nil && state != StateNotStarted {
			if removeErr := s.options.PIDFile.RemovePIDFile(s.options.ID); removeErr != nil {
				err = multierr.Append(err, removeErr)
			}
		}
		s.logger.Debugf("Supervisor cleaned up, id: %s", s.options.ID)
	}

	return err
}

// Output is the live capture buffer of the child's stdout and stderr
func (s *Supervisor) Output() *capture.Buffer {
	return s.output
}

// CurrentOutput returns everything captured since launch
func (s *Supervisor) CurrentOutput() []byte {
	return s.output.Bytes()
}

func (s *Supervisor) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

// Handle returns the started process, or nil before Start succeeded
func (s *Supervisor) Handle() *Handle {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.handle == nil {
		return nil
	}
	handleCopy := *s.handle
	return &handleCopy
}

// Done is closed once the termination callbacks have run
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Report returns the exit report, or nil while the process has not exited
func (s *Supervisor) Report() *ExitReport {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.report == nil {
		return nil
	}
	reportCopy := *s.report
	return &reportCopy
}

// Wait blocks until the process exited and callbacks ran
func (s *Supervisor) Wait(ctx context.Context) (*ExitReport, error) {
	select {
	case <-s.done:
		return s.Report(), nil
	case <-ctx.Done():
		return nil, errors.NewCancelledError("wait cancelled", ctx.Err()).WithContext("id", s.options.ID)
	}
}

func (s *Supervisor) Health() *monitoring.HealthCheckState {
	s.mutex.Lock()
	monitor := s.healthMonitor
	s.mutex.Unlock()
	if monitor == nil {
		return nil
	}
	return monitor.State()
}
