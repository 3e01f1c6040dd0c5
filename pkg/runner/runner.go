package runner

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/core-tools/hsu-couchbar/pkg/config"
	"github.com/core-tools/hsu-couchbar/pkg/control"
	"github.com/core-tools/hsu-couchbar/pkg/domain"
	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
	"github.com/core-tools/hsu-couchbar/pkg/metrics"
	"github.com/core-tools/hsu-couchbar/pkg/process"
	"github.com/core-tools/hsu-couchbar/pkg/processfile"
	"github.com/core-tools/hsu-couchbar/pkg/resourceusage"
	"github.com/core-tools/hsu-couchbar/pkg/supervisor"
)

// Upper bound for stopping the server on exit, on top of the configured grace period
const shutdownSlack = 15 * time.Second

type RunOptions struct {
	ConfigFile string
	// Seconds to run before shutting down; 0 runs until signalled
	RunDuration int
	// Launch the server right away instead of waiting for a start request
	Autostart bool
}

// Run loads the configuration, serves the control API and supervises the
// server until a signal arrives or the run duration elapses.
func Run(options RunOptions, bootstrapLogger logging.Logger) error {
	bootstrapLogger.Infof("Runner starting...")

	ctx := context.Background()
	if options.RunDuration > 0 {
		duration := time.Duration(options.RunDuration) * time.Second
		bootstrapLogger.Infof("Using RUN DURATION of %v", duration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	bootstrapLogger.Infof("Using CONFIGURATION FILE: %s", options.ConfigFile)

	cfg, err := LoadAndValidateConfig(options.ConfigFile)
	if err != nil {
		return err
	}

	fileManager := processfile.NewProcessFileManager(cfg.ProcessFile, bootstrapLogger)
	if err := fileManager.EnsureDirectories(); err != nil {
		return err
	}

	instanceLock, err := fileManager.AcquireInstanceLock(cfg.Supervisor.ID)
	if err != nil {
		return err
	}
	defer instanceLock.Release()

	zapLogger, err := logging.NewZapLogger(resolveLogOutputs(cfg.Log, fileManager))
	if err != nil {
		return errors.NewValidationError("failed to create logger", err)
	}
	defer zapLogger.Sync()

	logger := logging.Logger(zapLogger)
	summary := GetConfigSummary(cfg)
	logger.Infof("Configuration loaded, id: %s, executable: %s, admin: %s, control: %s",
		summary.ID, summary.ExecutablePath, summary.AdminURL, summary.ControlAddress)

	execution := ExpandExecution(cfg.Server.Execution, fileManager)
	if err := process.ValidateExecutionConfig(execution); err != nil {
		return errors.NewValidationError("invalid expanded server execution configuration", err)
	}

	hook, err := cfg.ShutdownHook(&http.Client{}, logger)
	if err != nil {
		return errors.NewValidationError("failed to build shutdown hook", err)
	}

	var controller *domain.Controller
	collectors := metrics.NewMetrics(func() float64 { return controller.CurrentOutputBytes() })

	controller, err = domain.NewController(domain.ControllerOptions{
		ID:        cfg.Supervisor.ID,
		Execution: execution,
		AdminURL:  cfg.Server.AdminURL,
		Usage:     resourceusage.NewSampler(logger),
		NewSupervisor: func() *supervisor.Supervisor {
			supervisorOptions := cfg.SupervisorOptions(hook)
			supervisorOptions.Observer = collectors
			if cfg.Supervisor.EchoOutput {
				supervisorOptions.OutputObserver = zapLogger.OutputObserver(cfg.Supervisor.ID)
			}
			if cfg.Supervisor.PIDFile {
				supervisorOptions.PIDFile = fileManager
			}
			return supervisor.New(supervisorOptions, logger)
		},
	}, logger)
	if err != nil {
		return errors.NewInternalError("failed to create controller", err)
	}

	controller.OnTerminated(func(report supervisor.ExitReport) {
		if reportErr := report.Err(); reportErr != nil {
			logger.Warnf("Server terminated, id: %s, %s, error: %v", report.ID, report.String(), reportErr)
		}
	})

	server, err := control.NewServer(
		control.ServerOptions{Address: cfg.Control.Address},
		control.NewRouter(controller, collectors.Handler(), logger),
		logger)
	if err != nil {
		return err
	}
	server.Start()

	if options.Autostart {
		if _, err := controller.Start(ctx); err != nil {
			logger.Errorf("Failed to start server, id: %s, error: %v", cfg.Supervisor.ID, err)
		}
	}

	logger.Infof("Enabling signal handling...")

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}
	defer signal.Stop(sig)

	logger.Infof("Runner is ready, control API at %s", server.URL())

	select {
	case receivedSignal := <-sig:
		logger.Infof("Runner received signal: %v", receivedSignal)
	case <-ctx.Done():
		logger.Infof("Runner timed out")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Supervisor.GracePeriod+shutdownSlack)
	defer cancel()

	// Stop the server before the control API so clients see the final status
	err = multierr.Combine(
		controller.Close(stopCtx),
		server.Shutdown(stopCtx),
	)

	logger.Infof("Runner stopped")
	return err
}

// LoadAndValidateConfig loads configFile and validates it
func LoadAndValidateConfig(configFile string) (*config.Config, error) {
	cfg, err := config.LoadConfigFromFile(configFile)
	if err != nil {
		return nil, errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return cfg, nil
}

// ExpandExecution substitutes {support_dir}, {data_dir} and {log_dir} in the
// server's arguments, environment and working directory.
func ExpandExecution(execution process.ExecutionConfig, fileManager *processfile.ProcessFileManager) process.ExecutionConfig {
	replacer := strings.NewReplacer(
		"{support_dir}", fileManager.SupportDirectory(),
		"{data_dir}", fileManager.DataDirectory(),
		"{log_dir}", fileManager.LogDirectory(),
	)

	expanded := execution
	expanded.Args = make([]string, len(execution.Args))
	for i, arg := range execution.Args {
		expanded.Args[i] = replacer.Replace(arg)
	}
	expanded.Environment = make([]string, len(execution.Environment))
	for i, env := range execution.Environment {
		expanded.Environment[i] = replacer.Replace(env)
	}
	expanded.WorkingDirectory = replacer.Replace(execution.WorkingDirectory)

	return expanded
}

// resolveLogOutputs places relative log file names in the log directory
func resolveLogOutputs(logConfig logging.ZapConfig, fileManager *processfile.ProcessFileManager) logging.ZapConfig {
	resolved := logConfig
	resolved.Outputs = make([]string, len(logConfig.Outputs))
	for i, output := range logConfig.Outputs {
		switch {
		case output == "stdout" || output == "stderr":
			resolved.Outputs[i] = output
		case filepath.IsAbs(output) || strings.Contains(output, "://"):
			resolved.Outputs[i] = output
		default:
			resolved.Outputs[i] = fileManager.LogFilePath(output)
		}
	}
	return resolved
}

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	ID               string        `json:"id"`
	ExecutablePath   string        `json:"executable_path"`
	AdminURL         string        `json:"admin_url"`
	ControlAddress   string        `json:"control_address"`
	GracePeriod      time.Duration `json:"grace_period"`
	EnsureFullCommit bool          `json:"ensure_full_commit"`
	HealthCheckType  string        `json:"health_check_type,omitempty"`
}

func GetConfigSummary(cfg *config.Config) ConfigSummary {
	summary := ConfigSummary{
		ID:               cfg.Supervisor.ID,
		ExecutablePath:   cfg.Server.Execution.ExecutablePath,
		AdminURL:         cfg.Server.AdminURL,
		ControlAddress:   cfg.Control.Address,
		GracePeriod:      cfg.Supervisor.GracePeriod,
		EnsureFullCommit: cfg.Shutdown.EnsureFullCommit.Enabled,
	}
	if cfg.HealthCheck != nil {
		summary.HealthCheckType = string(cfg.HealthCheck.Type)
	}
	return summary
}
