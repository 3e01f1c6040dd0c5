package config

import (
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-couchbar/pkg/capture"
	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
	"github.com/core-tools/hsu-couchbar/pkg/monitoring"
	"github.com/core-tools/hsu-couchbar/pkg/process"
	"github.com/core-tools/hsu-couchbar/pkg/processfile"
	"github.com/core-tools/hsu-couchbar/pkg/shutdown"
	"github.com/core-tools/hsu-couchbar/pkg/supervisor"
)

const (
	DefaultID             = "couchdb"
	DefaultAdminURL       = "http://127.0.0.1:5984/_utils"
	DefaultControlAddress = "127.0.0.1:5985"
)

// Config represents the top-level configuration file structure
type Config struct {
	Supervisor  SupervisorConfig              `yaml:"supervisor"`
	Server      ServerConfig                  `yaml:"server"`
	Shutdown    ShutdownConfig                `yaml:"shutdown"`
	HealthCheck *monitoring.HealthCheckConfig `yaml:"health_check,omitempty"`
	Control     ControlConfig                 `yaml:"control"`
	ProcessFile processfile.ProcessFileConfig `yaml:"process_file"`
	Log         logging.ZapConfig             `yaml:"log"`
}

type SupervisorConfig struct {
	ID          string            `yaml:"id"`
	GracePeriod time.Duration     `yaml:"grace_period,omitempty"`
	KillTimeout time.Duration     `yaml:"kill_timeout,omitempty"`
	OutputLimit datasize.ByteSize `yaml:"output_limit,omitempty"`
	// Echo every server output line into the supervisor log
	EchoOutput bool `yaml:"echo_output,omitempty"`
	// Write a PID file while the server runs
	PIDFile bool `yaml:"pid_file,omitempty"`
}

type ServerConfig struct {
	Execution process.ExecutionConfig `yaml:"execution"`
	// Admin console opened by "browse"
	AdminURL string `yaml:"admin_url,omitempty"`
}

type ShutdownConfig struct {
	EnsureFullCommit shutdown.EnsureFullCommitConfig `yaml:"ensure_full_commit"`
	// Optional signal delivered before the termination signal, e.g. "SIGHUP"
	Signal      string        `yaml:"signal,omitempty"`
	HookTimeout time.Duration `yaml:"hook_timeout,omitempty"`
}

type ControlConfig struct {
	Address string `yaml:"address,omitempty"`
}

// LoadConfigFromFile loads configuration from a YAML file and applies defaults
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		if domainErr, ok := err.(*errors.DomainError); ok {
			return nil, domainErr.WithContext("filename", filename)
		}
		return nil, err
	}
	return config, nil
}

// ParseConfig decodes YAML and applies defaults
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	if err := setConfigDefaults(&config); err != nil {
		return nil, errors.NewValidationError("failed to apply configuration defaults", err)
	}

	return &config, nil
}

// DefaultConfig returns a configuration for the given server executable
func DefaultConfig(executablePath string, args ...string) *Config {
	config := &Config{
		Server: ServerConfig{
			Execution: process.ExecutionConfig{
				ExecutablePath: executablePath,
				Args:           args,
			},
		},
	}
	_ = setConfigDefaults(config)
	return config
}

func setConfigDefaults(config *Config) error {
	if config.Supervisor.ID == "" {
		config.Supervisor.ID = DefaultID
	}
	if config.Supervisor.GracePeriod == 0 {
		config.Supervisor.GracePeriod = supervisor.DefaultGracePeriod
	}
	if config.Supervisor.KillTimeout == 0 {
		config.Supervisor.KillTimeout = supervisor.DefaultKillTimeout
	}
	if config.Supervisor.OutputLimit == 0 {
		config.Supervisor.OutputLimit = capture.DefaultLimit
	}

	if config.Server.AdminURL == "" {
		config.Server.AdminURL = DefaultAdminURL
	}
	if config.Server.Execution.WaitDelay == 0 {
		config.Server.Execution.WaitDelay = process.DefaultWaitDelay
	}

	commit := &config.Shutdown.EnsureFullCommit
	if commit.BaseURL == "" {
		baseURL, err := serverBaseURL(config.Server.AdminURL)
		if err != nil {
			return err
		}
		commit.BaseURL = baseURL
	}
	if commit.Timeout == 0 {
		commit.Timeout = shutdown.DefaultTimeout
	}
	if config.Shutdown.HookTimeout == 0 {
		config.Shutdown.HookTimeout = commit.Timeout
	}

	if config.HealthCheck != nil {
		options := &config.HealthCheck.RunOptions
		if options.Interval == 0 {
			options.Interval = 2 * time.Second
		}
		if options.Timeout == 0 {
			options.Timeout = time.Second
		}
		if config.HealthCheck.Type == monitoring.HealthCheckTypeHTTP && config.HealthCheck.HTTP.URL == "" {
			config.HealthCheck.HTTP.URL = commit.BaseURL + "/"
		}
	}

	if config.Control.Address == "" {
		config.Control.Address = DefaultControlAddress
	}

	defaults := logging.DefaultZapConfig()
	if config.Log.Level == "" {
		config.Log.Level = defaults.Level
	}
	if config.Log.Encoding == "" {
		config.Log.Encoding = defaults.Encoding
	}
	if len(config.Log.Outputs) == 0 {
		config.Log.Outputs = defaults.Outputs
	}

	return nil
}

// HasPlaceholders reports whether value references {support_dir}, {data_dir} or {log_dir}
func HasPlaceholders(value string) bool {
	return strings.Contains(value, "{support_dir}") ||
		strings.Contains(value, "{data_dir}") ||
		strings.Contains(value, "{log_dir}")
}

// serverBaseURL strips the admin console path: http://host:5984/_utils -> http://host:5984
func serverBaseURL(adminURL string) (string, error) {
	parsed, err := url.Parse(adminURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.NewValidationError("invalid admin URL: "+adminURL, err)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateSupervisorConfig(config.Supervisor); err != nil {
		return errors.NewValidationError("invalid supervisor configuration", err)
	}

	execution := config.Server.Execution
	if HasPlaceholders(execution.WorkingDirectory) {
		// Checked again once the runner has expanded it
		execution.WorkingDirectory = ""
	}
	if err := process.ValidateExecutionConfig(execution); err != nil {
		return errors.NewValidationError("invalid server execution configuration", err)
	}
	if _, err := serverBaseURL(config.Server.AdminURL); err != nil {
		return errors.NewValidationError("invalid server configuration", err)
	}

	if err := validateShutdownConfig(config.Shutdown); err != nil {
		return errors.NewValidationError("invalid shutdown configuration", err)
	}

	if config.HealthCheck != nil {
		if err := monitoring.ValidateHealthCheckConfig(*config.HealthCheck); err != nil {
			return errors.NewValidationError("invalid health check configuration", err)
		}
	}

	if err := ValidateNetworkAddress(config.Control.Address); err != nil {
		return errors.NewValidationError("invalid control configuration", err)
	}

	if err := validateLogLevel(config.Log.Level); err != nil {
		return errors.NewValidationError("invalid log configuration", err)
	}

	return nil
}

func validateSupervisorConfig(config SupervisorConfig) error {
	if err := ValidateID(config.ID); err != nil {
		return err
	}
	if err := ValidateTimeout(config.GracePeriod, "grace period"); err != nil {
		return err
	}
	if err := ValidateTimeout(config.KillTimeout, "kill"); err != nil {
		return err
	}
	if config.OutputLimit < datasize.KB {
		return errors.NewValidationError("output limit must be at least 1KB", nil).
			WithContext("output_limit", config.OutputLimit.HumanReadable())
	}
	return nil
}

func validateShutdownConfig(config ShutdownConfig) error {
	if config.EnsureFullCommit.Enabled {
		if _, err := serverBaseURL(config.EnsureFullCommit.BaseURL); err != nil {
			return err
		}
		if err := ValidateTimeout(config.EnsureFullCommit.Timeout, "ensure full commit"); err != nil {
			return err
		}
	}
	if config.Signal != "" {
		if _, err := shutdown.ParseSignal(config.Signal); err != nil {
			return err
		}
	}
	return ValidateTimeout(config.HookTimeout, "shutdown hook")
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	}
	return errors.NewValidationError("invalid log level: "+level, nil).
		WithContext("valid_levels", "debug, info, warn, error")
}

// ShutdownHook builds the graceful shutdown directive: the configured
// signal first, then the database commit request. Nil when nothing is enabled.
func (c *Config) ShutdownHook(client *http.Client, logger logging.Logger) (shutdown.Hook, error) {
	var hooks []shutdown.Hook

	if c.Shutdown.Signal != "" {
		sig, err := shutdown.ParseSignal(c.Shutdown.Signal)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, shutdown.NewSignalHook(sig, logger))
	}

	if c.Shutdown.EnsureFullCommit.Enabled {
		hooks = append(hooks, shutdown.NewEnsureFullCommitHook(c.Shutdown.EnsureFullCommit, client, logger))
	}

	switch len(hooks) {
	case 0:
		return nil, nil
	case 1:
		return hooks[0], nil
	default:
		return shutdown.Chain(hooks...), nil
	}
}

// SupervisorOptions maps the configuration onto supervisor options
func (c *Config) SupervisorOptions(hook shutdown.Hook) supervisor.Options {
	return supervisor.Options{
		ID:           c.Supervisor.ID,
		GracePeriod:  c.Supervisor.GracePeriod,
		KillTimeout:  c.Supervisor.KillTimeout,
		ShutdownHook: hook,
		HookTimeout:  c.Shutdown.HookTimeout,
		OutputLimit:  c.Supervisor.OutputLimit,
		HealthCheck:  c.HealthCheck,
	}
}
