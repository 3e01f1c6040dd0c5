//go:build !windows

package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/process"
	"github.com/core-tools/hsu-couchbar/pkg/processstate"
	"github.com/core-tools/hsu-couchbar/pkg/shutdown"
)

type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

type MockPIDFile struct {
	mock.Mock
}

func (m *MockPIDFile) WritePIDFile(id string, pid int) error {
	args := m.Called(id, pid)
	return args.Error(0)
}

func (m *MockPIDFile) RemovePIDFile(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

type recordingObserver struct {
	mutex    sync.Mutex
	started  int
	failures int
	exits    []ExitReport
	stops    []bool
}

func (o *recordingObserver) ProcessStarted(id string, pid int) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.started++
}

func (o *recordingObserver) SpawnFailed(id string, err error) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.failures++
}

func (o *recordingObserver) ProcessExited(report ExitReport) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.exits = append(o.exits, report)
}

func (o *recordingObserver) StopCompleted(id string, duration time.Duration, forced bool) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.stops = append(o.stops, forced)
}

func shellExecution(script string) process.ExecutionConfig {
	return process.ExecutionConfig{
		ExecutablePath: "/bin/sh",
		Args:           []string{"-c", script},
	}
}

func newTestSupervisor(options Options) *Supervisor {
	if options.ID == "" {
		options.ID = "couchdb"
	}
	return New(options, &TestLogger{})
}

func waitReport(t *testing.T, reports <-chan ExitReport, timeout time.Duration) ExitReport {
	t.Helper()
	select {
	case report := <-reports:
		return report
	case <-time.After(timeout):
		t.Fatalf("termination callback did not fire within %v", timeout)
		return ExitReport{}
	}
}

func assertNotRunning(t *testing.T, pid int) {
	t.Helper()
	running, err := processstate.IsProcessRunning(pid)
	require.NoError(t, err)
	assert.False(t, running, "process %d leaked", pid)
}

func TestSupervisor_ReadyThenNormalExit(t *testing.T) {
	supervisor := newTestSupervisor(Options{})

	reports := make(chan ExitReport, 1)
	outputAtCallback := make(chan string, 1)
	supervisor.OnTerminated(func(report ExitReport) {
		outputAtCallback <- string(supervisor.CurrentOutput())
		reports <- report
	})

	handle, err := supervisor.Start(context.Background(), shellExecution("echo READY; sleep 0.1"))
	require.NoError(t, err)
	assert.Greater(t, handle.PID, 0)
	assert.NotEmpty(t, handle.RunID)
	assert.Equal(t, "couchdb", handle.ID)

	report := waitReport(t, reports, time.Second)
	assert.Contains(t, <-outputAtCallback, "READY")

	assert.True(t, report.Normal())
	assert.Equal(t, ExitReasonExited, report.Reason)
	assert.Equal(t, 0, report.ExitCode)
	assert.False(t, report.Requested)
	assert.True(t, report.Unexpected())
	assert.True(t, errors.IsUnexpectedExitError(report.Err()))
	assert.Equal(t, handle.PID, report.PID)
	assert.Equal(t, len("READY\n"), report.OutputBytes)

	<-supervisor.Done()
	assert.Equal(t, StateTerminated, supervisor.State())
	assert.True(t, supervisor.Output().Sealed())
	require.NotNil(t, supervisor.Report())
	assert.Equal(t, report.RunID, supervisor.Report().RunID)
	assertNotRunning(t, handle.PID)
}

func TestSupervisor_StartThenStop(t *testing.T) {
	observer := &recordingObserver{}
	supervisor := newTestSupervisor(Options{Observer: observer})
	assert.Equal(t, StateNotStarted, supervisor.State())
	assert.Nil(t, supervisor.Handle())
	assert.Nil(t, supervisor.Report())

	reports := make(chan ExitReport, 1)
	supervisor.OnTerminated(func(report ExitReport) { reports <- report })

	handle, err := supervisor.Start(context.Background(), shellExecution("echo READY; exec sleep 30"))
	require.NoError(t, err)
	assert.Equal(t, StateRunning, supervisor.State())

	require.NoError(t, supervisor.Stop(context.Background()))
	assert.Equal(t, StateTerminated, supervisor.State())

	report := waitReport(t, reports, time.Second)
	assert.True(t, report.Requested)
	assert.False(t, report.ShutdownTimeout)
	assert.Equal(t, ExitReasonStopped, report.Reason)
	assert.Equal(t, syscall.SIGTERM.String(), report.Signal)
	assert.NoError(t, report.Err())

	require.NoError(t, supervisor.Cleanup())
	assertNotRunning(t, handle.PID)

	<-supervisor.Done()
	observer.mutex.Lock()
	defer observer.mutex.Unlock()
	assert.Equal(t, 1, observer.started)
	assert.Len(t, observer.exits, 1)
	assert.Equal(t, []bool{false}, observer.stops)
}

func TestSupervisor_StartWhileRunning(t *testing.T) {
	supervisor := newTestSupervisor(Options{})
	handle, err := supervisor.Start(context.Background(), shellExecution("exec sleep 30"))
	require.NoError(t, err)
	defer supervisor.Cleanup()

	second, err := supervisor.Start(context.Background(), shellExecution("exec sleep 30"))
	assert.Nil(t, second)
	assert.True(t, errors.IsAlreadyRunningError(err))
	assert.Equal(t, handle.PID, supervisor.Handle().PID)
}

func TestSupervisor_StopWithoutProcess(t *testing.T) {
	supervisor := newTestSupervisor(Options{})

	err := supervisor.Stop(context.Background())
	assert.True(t, errors.IsNotRunningError(err))
	assert.Equal(t, StateNotStarted, supervisor.State())

	_, err = supervisor.Start(context.Background(), shellExecution("exit 0"))
	require.NoError(t, err)
	<-supervisor.Done()

	err = supervisor.Stop(context.Background())
	assert.True(t, errors.IsNotRunningError(err))
	assert.Equal(t, StateTerminated, supervisor.State())
}

func TestSupervisor_StartAfterTermination(t *testing.T) {
	supervisor := newTestSupervisor(Options{})
	_, err := supervisor.Start(context.Background(), shellExecution("exit 0"))
	require.NoError(t, err)
	<-supervisor.Done()

	_, err = supervisor.Start(context.Background(), shellExecution("exit 0"))
	assert.True(t, errors.IsTerminatedError(err))
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	observer := &recordingObserver{}
	supervisor := newTestSupervisor(Options{Observer: observer})

	_, err := supervisor.Start(context.Background(), process.ExecutionConfig{
		ExecutablePath: filepath.Join(t.TempDir(), "couchdb"),
	})
	assert.True(t, errors.IsSpawnFailedError(err))
	assert.Equal(t, StateNotStarted, supervisor.State())
	assert.Equal(t, 1, observer.failures)

	// A failed spawn leaves the supervisor usable
	_, err = supervisor.Start(context.Background(), shellExecution("exit 0"))
	require.NoError(t, err)
	<-supervisor.Done()
}

func TestSupervisor_ExternalKill(t *testing.T) {
	supervisor := newTestSupervisor(Options{})

	calls := atomic.NewInt32(0)
	reports := make(chan ExitReport, 2)
	supervisor.OnTerminated(func(report ExitReport) {
		calls.Inc()
		reports <- report
	})

	handle, err := supervisor.Start(context.Background(), shellExecution("exec sleep 30"))
	require.NoError(t, err)

	require.NoError(t, syscall.Kill(handle.PID, syscall.SIGKILL))

	report := waitReport(t, reports, 2*time.Second)
	assert.Equal(t, ExitReasonCrashed, report.Reason)
	assert.Equal(t, syscall.SIGKILL.String(), report.Signal)
	assert.False(t, report.Normal())
	assert.True(t, report.Unexpected())
	assert.True(t, errors.IsUnexpectedExitError(report.Err()))

	<-supervisor.Done()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSupervisor_StopIgnoringSIGTERM(t *testing.T) {
	observer := &recordingObserver{}
	grace := 300 * time.Millisecond
	supervisor := newTestSupervisor(Options{GracePeriod: grace, Observer: observer})

	reports := make(chan ExitReport, 1)
	supervisor.OnTerminated(func(report ExitReport) { reports <- report })

	handle, err := supervisor.Start(context.Background(), shellExecution("trap '' TERM; echo READY; sleep 30"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return supervisor.Output().Contains("READY") }, 2*time.Second, 10*time.Millisecond)

	begin := time.Now()
	require.NoError(t, supervisor.Stop(context.Background()))
	elapsed := time.Since(begin)
	assert.GreaterOrEqual(t, elapsed, grace)
	assert.Less(t, elapsed, grace+2*time.Second)

	report := waitReport(t, reports, time.Second)
	assert.True(t, report.ShutdownTimeout)
	assert.True(t, report.Requested)
	assert.Equal(t, ExitReasonKilled, report.Reason)
	assert.Equal(t, forceCauseGracePeriod, report.ForceCause)
	assert.True(t, errors.IsShutdownTimeoutError(report.Err()))

	assertNotRunning(t, handle.PID)
	assert.Equal(t, []bool{true}, observer.stops)
}

func TestSupervisor_StopCancelledContextKills(t *testing.T) {
	supervisor := newTestSupervisor(Options{GracePeriod: 10 * time.Second})

	_, err := supervisor.Start(context.Background(), shellExecution("trap '' TERM; sleep 30"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, supervisor.Stop(ctx))

	report := supervisor.Report()
	require.NotNil(t, report)
	assert.Equal(t, ExitReasonKilled, report.Reason)
	assert.Equal(t, forceCauseCancelled, report.ForceCause)
	assert.False(t, report.ShutdownTimeout)
}

func TestSupervisor_ShutdownHookRunsBeforeSignal(t *testing.T) {
	hookRan := make(chan bool, 1)
	hook := shutdown.NewHook("probe", func(ctx context.Context, target shutdown.Target) error {
		running, _ := processstate.IsProcessRunning(target.PID)
		hookRan <- running
		return nil
	})
	supervisor := newTestSupervisor(Options{ShutdownHook: hook})

	_, err := supervisor.Start(context.Background(), shellExecution("exec sleep 30"))
	require.NoError(t, err)
	require.NoError(t, supervisor.Stop(context.Background()))

	select {
	case running := <-hookRan:
		assert.True(t, running, "hook must see the process alive")
	default:
		t.Fatal("shutdown hook did not run")
	}
}

func TestSupervisor_ShutdownHookFailureDoesNotBlockStop(t *testing.T) {
	hook := shutdown.NewHook("failing", func(ctx context.Context, target shutdown.Target) error {
		return errors.NewNetworkError("connection refused", nil)
	})
	supervisor := newTestSupervisor(Options{ShutdownHook: hook})

	_, err := supervisor.Start(context.Background(), shellExecution("exec sleep 30"))
	require.NoError(t, err)
	require.NoError(t, supervisor.Stop(context.Background()))
	assert.Equal(t, StateTerminated, supervisor.State())
}

func TestSupervisor_OnTerminatedAfterExit(t *testing.T) {
	supervisor := newTestSupervisor(Options{})
	_, err := supervisor.Start(context.Background(), shellExecution("exit 3"))
	require.NoError(t, err)
	<-supervisor.Done()

	reports := make(chan ExitReport, 1)
	supervisor.OnTerminated(func(report ExitReport) { reports <- report })

	report := waitReport(t, reports, time.Second)
	assert.Equal(t, 3, report.ExitCode)
	assert.Equal(t, ExitReasonCrashed, report.Reason)
}

func TestSupervisor_OutputGrowsMonotonically(t *testing.T) {
	supervisor := newTestSupervisor(Options{})
	_, err := supervisor.Start(context.Background(),
		shellExecution("for i in 1 2 3 4 5; do echo line $i; sleep 0.02; done"))
	require.NoError(t, err)

	previous := []byte{}
	for {
		current := supervisor.CurrentOutput()
		require.GreaterOrEqual(t, len(current), len(previous))
		assert.Equal(t, previous, current[:len(previous)])
		previous = current

		select {
		case <-supervisor.Done():
			assert.Equal(t, 5, len(supervisor.Output().Lines()))
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSupervisor_CleanupIsIdempotent(t *testing.T) {
	pidFile := &MockPIDFile{}
	pidFile.On("WritePIDFile", "couchdb", mock.AnythingOfType("int")).Return(nil).Once()
	pidFile.On("RemovePIDFile", "couchdb").Return(nil)

	supervisor := newTestSupervisor(Options{PIDFile: pidFile})
	handle, err := supervisor.Start(context.Background(), shellExecution("exec sleep 30"))
	require.NoError(t, err)

	require.NoError(t, supervisor.Cleanup())
	require.NoError(t, supervisor.Cleanup())

	<-supervisor.Done()
	assert.Equal(t, StateTerminated, supervisor.State())
	assert.True(t, supervisor.Output().Sealed())
	assertNotRunning(t, handle.PID)

	report := supervisor.Report()
	require.NotNil(t, report)
	assert.Equal(t, forceCauseCleanup, report.ForceCause)

	pidFile.AssertExpectations(t)
}

func TestSupervisor_CleanupBeforeStart(t *testing.T) {
	supervisor := newTestSupervisor(Options{})
	require.NoError(t, supervisor.Cleanup())
	require.NoError(t, supervisor.Cleanup())

	assert.Equal(t, StateTerminated, supervisor.State())
	select {
	case <-supervisor.Done():
	default:
		t.Fatal("done must be closed after cleanup")
	}

	_, err := supervisor.Start(context.Background(), shellExecution("exit 0"))
	assert.True(t, errors.IsTerminatedError(err))
}

func TestSupervisor_OutputObserverReceivesLines(t *testing.T) {
	var mutex sync.Mutex
	var lines []string
	supervisor := newTestSupervisor(Options{
		OutputObserver: func(stream, line string) {
			mutex.Lock()
			defer mutex.Unlock()
			lines = append(lines, stream+":"+line)
		},
	})

	_, err := supervisor.Start(context.Background(), shellExecution("echo out; echo err 1>&2"))
	require.NoError(t, err)
	<-supervisor.Done()

	mutex.Lock()
	defer mutex.Unlock()
	assert.ElementsMatch(t, []string{"stdout:out", "stderr:err"}, lines)
}

func TestSupervisor_Status(t *testing.T) {
	supervisor := newTestSupervisor(Options{})
	status := supervisor.Status()
	assert.Equal(t, StateNotStarted, status.State)
	assert.Nil(t, status.Handle)

	_, err := supervisor.Start(context.Background(), shellExecution("echo READY; exec sleep 30"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return supervisor.Status().OutputBytes > 0 }, 2*time.Second, 10*time.Millisecond)

	status = supervisor.Status()
	assert.Equal(t, StateRunning, status.State)
	require.NotNil(t, status.Handle)
	assert.Nil(t, status.LastExit)

	require.NoError(t, supervisor.Stop(context.Background()))
	status = supervisor.Status()
	assert.Equal(t, StateTerminated, status.State)
	require.NotNil(t, status.LastExit)
	assert.Zero(t, status.Uptime)
}

func TestSupervisor_WaitCancelled(t *testing.T) {
	supervisor := newTestSupervisor(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := supervisor.Wait(ctx)
	assert.Nil(t, report)
	assert.True(t, errors.IsCancelledError(err))
}

func TestSupervisor_ExitWinsOverSimultaneousEscalation(t *testing.T) {
	supervisor := newTestSupervisor(Options{})
	close(supervisor.terminated)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 100; i++ {
		grace := make(chan time.Time, 1)
		grace <- time.Now()
		assert.Empty(t, supervisor.awaitExit(ctx, grace))
	}
}

func TestSupervisor_AwaitExitEscalates(t *testing.T) {
	supervisor := newTestSupervisor(Options{})

	grace := make(chan time.Time, 1)
	grace <- time.Now()
	assert.Equal(t, forceCauseGracePeriod, supervisor.awaitExit(context.Background(), grace))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, forceCauseCancelled, supervisor.awaitExit(ctx, make(chan time.Time)))
}

func countOpenFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir("/proc/self/fd")
	require.NoError(t, err)
	return len(entries)
}

func TestSupervisor_NoDescriptorLeaks(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("descriptor counting uses /proc")
	}

	cycle := func() {
		supervisor := newTestSupervisor(Options{GracePeriod: time.Second})
		_, err := supervisor.Start(context.Background(), shellExecution("echo READY; exec sleep 30"))
		require.NoError(t, err)
		require.NoError(t, supervisor.Stop(context.Background()))
		require.NoError(t, supervisor.Cleanup())
		<-supervisor.Done()
	}

	// Warm up runtime descriptors (netpoller, pidfd) before measuring
	cycle()
	before := countOpenFiles(t)

	for i := 0; i < 5; i++ {
		cycle()
	}

	assert.Equal(t, before, countOpenFiles(t))
}
