package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
	"github.com/core-tools/hsu-couchbar/pkg/processstate"
)

type HealthCheckType string

const (
	HealthCheckTypeHTTP    HealthCheckType = "http"
	HealthCheckTypeTCP     HealthCheckType = "tcp"
	HealthCheckTypeProcess HealthCheckType = "process"
)

type HTTPHealthCheckConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type TCPHealthCheckConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type HealthCheckConfig struct {
	Type HealthCheckType `yaml:"type"`

	HTTP HTTPHealthCheckConfig `yaml:"http,omitempty"`
	TCP  TCPHealthCheckConfig  `yaml:"tcp,omitempty"`

	RunOptions HealthCheckRunOptions `yaml:"run_options,omitempty"`
}

type HealthCheckRunOptions struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
}

type HealthCheckStatus string

const (
	HealthCheckStatusUnknown   HealthCheckStatus = "unknown"
	HealthCheckStatusHealthy   HealthCheckStatus = "healthy"
	HealthCheckStatusDegraded  HealthCheckStatus = "degraded"
	HealthCheckStatusUnhealthy HealthCheckStatus = "unhealthy"
)

type HealthCheckState struct {
	Status               HealthCheckStatus `json:"status"`
	LastCheck            time.Time         `json:"last_check"`
	Message              string            `json:"message"`
	ConsecutiveFailures  int               `json:"consecutive_failures"`
	ConsecutiveSuccesses int               `json:"consecutive_successes"`
	ReadyAt              *time.Time        `json:"ready_at,omitempty"`
}

// HealthReadyCallback fires once, on the first successful check
type HealthReadyCallback func()

type HealthMonitor interface {
	Start(ctx context.Context) error
	Stop()
	State() *HealthCheckState
	SetReadyCallback(callback HealthReadyCallback)
}

// ProcessInfo holds what a process health check needs
type ProcessInfo struct {
	PID int
}

type healthMonitor struct {
	config        *HealthCheckConfig
	state         *HealthCheckState
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
	mutex         sync.Mutex
	logger        logging.Logger
	id            string
	processInfo   *ProcessInfo
	readyCallback HealthReadyCallback
	client        *http.Client
}

func NewHealthMonitor(config *HealthCheckConfig, id string, processInfo *ProcessInfo, logger logging.Logger) HealthMonitor {
	return &healthMonitor{
		config:      config,
		state:       &HealthCheckState{Status: HealthCheckStatusUnknown},
		stopChan:    make(chan struct{}),
		logger:      logger,
		id:          id,
		processInfo: processInfo,
		client:      &http.Client{Timeout: config.RunOptions.Timeout},
	}
}

func (h *healthMonitor) Start(ctx context.Context) error {
	h.logger.Infof("Starting health monitor, id: %s, type: %s, interval: %v", h.id, h.config.Type, h.config.RunOptions.Interval)

	if err := ValidateHealthCheckConfig(*h.config); err != nil {
		h.logger.Errorf("Health check configuration validation failed, id: %s, error: %v", h.id, err)
		return errors.NewValidationError("invalid health check configuration", err).WithContext("id", h.id)
	}
	if h.config.Type == HealthCheckTypeProcess && (h.processInfo == nil || h.processInfo.PID <= 0) {
		return errors.NewValidationError("process health check requires a PID", nil).WithContext("id", h.id)
	}

	h.wg.Add(1)
	go h.loop(ctx)
	return nil
}

// Stop is safe to call more than once
func (h *healthMonitor) Stop() {
	h.stopOnce.Do(func() {
		h.logger.Debugf("Stopping health monitor, id: %s", h.id)
		close(h.stopChan)
	})
	h.wg.Wait()
}

func (h *healthMonitor) State() *HealthCheckState {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	stateCopy := *h.state
	return &stateCopy
}

func (h *healthMonitor) SetReadyCallback(callback HealthReadyCallback) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.readyCallback = callback
}

func (h *healthMonitor) loop(ctx context.Context) {
	defer h.wg.Done()

	if h.config.RunOptions.InitialDelay > 0 {
		select {
		case <-time.After(h.config.RunOptions.InitialDelay):
		case <-h.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(h.config.RunOptions.Interval)
	defer ticker.Stop()

	h.performCheck(ctx)

	for {
		select {
		case <-ticker.C:
			h.performCheck(ctx)
		case <-h.stopChan:
			h.logger.Debugf("Health monitor loop stopping, id: %s", h.id)
			return
		case <-ctx.Done():
			h.logger.Debugf("Health monitor context done, id: %s", h.id)
			return
		}
	}
}

func (h *healthMonitor) performCheck(ctx context.Context) {
	var isHealthy bool
	var message string

	switch h.config.Type {
	case HealthCheckTypeHTTP:
		isHealthy, message = h.checkHTTP(ctx)
	case HealthCheckTypeTCP:
		isHealthy, message = h.checkTCP()
	case HealthCheckTypeProcess:
		isHealthy, message = h.checkProcess()
	default:
		message = "unknown health check type: " + string(h.config.Type)
	}

	h.updateState(isHealthy, message)
}

func (h *healthMonitor) updateState(isHealthy bool, message string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	previousStatus := h.state.Status
	h.state.LastCheck = time.Now()
	h.state.Message = message

	if isHealthy {
		h.state.ConsecutiveSuccesses++
		h.state.ConsecutiveFailures = 0
		h.state.Status = HealthCheckStatusHealthy

		if previousStatus != HealthCheckStatusHealthy {
			h.logger.Infof("Health check passed, id: %s, previous: %s, message: %s", h.id, previousStatus, message)
		}
		if h.state.ReadyAt == nil {
			readyAt := h.state.LastCheck
			h.state.ReadyAt = &readyAt
			if h.readyCallback != nil {
				go h.readyCallback()
			}
		}
		return
	}

	h.state.ConsecutiveFailures++
	h.state.ConsecutiveSuccesses = 0
	if h.state.ConsecutiveFailures == 1 && previousStatus == HealthCheckStatusHealthy {
		h.state.Status = HealthCheckStatusDegraded
	} else if h.state.ReadyAt != nil {
		h.state.Status = HealthCheckStatusUnhealthy
	}
	// Before the first success the server is still starting; status stays unknown

	if h.state.Status != previousStatus {
		h.logger.Warnf("Health check status changed, id: %s, status: %s->%s, consecutive_failures: %d, message: %s",
			h.id, previousStatus, h.state.Status, h.state.ConsecutiveFailures, message)
	} else {
		h.logger.Debugf("Health check failed, id: %s, status: %s, consecutive_failures: %d, message: %s",
			h.id, h.state.Status, h.state.ConsecutiveFailures, message)
	}
}

func (h *healthMonitor) checkHTTP(ctx context.Context) (bool, string) {
	method := h.config.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, h.config.HTTP.URL, nil)
	if err != nil {
		return false, fmt.Sprintf("failed to create HTTP request: %v", err)
	}
	for key, value := range h.config.HTTP.Headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, fmt.Sprintf("HTTP health check passed: %s", resp.Status)
	}
	return false, fmt.Sprintf("HTTP health check failed: %s", resp.Status)
}

func (h *healthMonitor) checkTCP() (bool, string) {
	address := net.JoinHostPort(h.config.TCP.Address, fmt.Sprintf("%d", h.config.TCP.Port))

	conn, err := net.DialTimeout("tcp", address, h.config.RunOptions.Timeout)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	defer conn.Close()

	return true, fmt.Sprintf("TCP connection successful to %s", address)
}

func (h *healthMonitor) checkProcess() (bool, string) {
	pid := h.processInfo.PID
	running, err := processstate.IsProcessRunning(pid)
	if err != nil {
		return false, fmt.Sprintf("process check failed: PID %d: %v", pid, err)
	}
	if !running {
		return false, fmt.Sprintf("process not running: PID %d", pid)
	}
	return true, fmt.Sprintf("process is running: PID %d", pid)
}
