package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-couchbar/pkg/errors"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
)

const DefaultAppName = "couchbar"

// ProcessFileConfig controls where support data, logs and PID files live
type ProcessFileConfig struct {
	// Overrides every OS default when set
	BaseDirectory string `yaml:"base_directory,omitempty"`

	ServiceContext ServiceContext `yaml:"service_context,omitempty"`

	AppName string `yaml:"app_name,omitempty"`

	// Nest runtime files (PID) under an app subdirectory
	UseSubdirectory bool `yaml:"use_subdirectory,omitempty"`
}

// ServiceContext defines the context in which the supervisor runs
type ServiceContext string

const (
	// UserService runs for the logged-in user, e.g. from the menu bar
	UserService ServiceContext = "user"

	// SystemService runs as a daemon
	SystemService ServiceContext = "system"

	// SessionService files are cleaned up on logout
	SessionService ServiceContext = "session"
)

// ProcessFileManager resolves application directories and manages the PID file
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

func (m *ProcessFileManager) Config() ProcessFileConfig {
	return m.config
}

// SupportDirectory is the per-application support folder
// (~/Library/Application Support/<app> on macOS)
func (m *ProcessFileManager) SupportDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		return filepath.Join(systemSupportDirectory(), m.config.AppName)
	case SessionService:
		return filepath.Join(os.TempDir(), m.config.AppName)
	default:
		return filepath.Join(userSupportDirectory(), m.config.AppName)
	}
}

// DataDirectory holds the server's database files
func (m *ProcessFileManager) DataDirectory() string {
	return filepath.Join(m.SupportDirectory(), "data")
}

// LogDirectory holds log files of the supervisor and the server
func (m *ProcessFileManager) LogDirectory() string {
	if m.config.BaseDirectory != "" {
		return filepath.Join(m.config.BaseDirectory, "logs")
	}

	switch m.config.ServiceContext {
	case SystemService:
		return filepath.Join(systemLogDirectory(), m.config.AppName)
	case SessionService:
		return filepath.Join(os.TempDir(), m.config.AppName, "logs")
	default:
		return userLogDirectory(m.config.AppName)
	}
}

// LogFilePath resolves a relative log file name against the log directory
func (m *ProcessFileManager) LogFilePath(name string) string {
	return filepath.Join(m.LogDirectory(), name)
}

// EnsureDirectories creates the support, data and log directories
func (m *ProcessFileManager) EnsureDirectories() error {
	for _, dir := range []string{m.SupportDirectory(), m.DataDirectory(), m.LogDirectory()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create directory", err).WithContext("directory", dir)
		}
	}
	return nil
}

// PIDFilePath returns the PID file path for the given server ID
func (m *ProcessFileManager) PIDFilePath(id string) string {
	baseDir := m.runtimeDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return filepath.Join(baseDir, id+".pid")
}

func (m *ProcessFileManager) WritePIDFile(id string, pid int) error {
	pidFilePath := m.PIDFilePath(id)
	m.logger.Debugf("Writing PID file, id: %s, pid: %d, path: %s", id, pid, pidFilePath)

	if err := ValidateDirectory(pidFilePath); err != nil {
		m.logger.Errorf("PID file directory validation failed, id: %s, path: %s, error: %v", id, pidFilePath, err)
		return errors.NewIOError("PID file directory validation failed", err).WithContext("pid_file", pidFilePath)
	}

	pidContent := fmt.Sprintf("%d\n", pid)
	if err := os.WriteFile(pidFilePath, []byte(pidContent), 0644); err != nil {
		m.logger.Errorf("Failed to write PID file, id: %s, pid: %d, path: %s, error: %v", id, pid, pidFilePath, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", pidFilePath).WithContext("pid", pid)
	}

	m.logger.Infof("PID file written, id: %s, pid: %d, path: %s", id, pid, pidFilePath)
	return nil
}

func (m *ProcessFileManager) ReadPIDFile(id string) (int, error) {
	pidFilePath := m.PIDFilePath(id)

	content, err := os.ReadFile(pidFilePath)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", pidFilePath)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, errors.NewValidationError("invalid PID in PID file", err).
			WithContext("pid_file", pidFilePath).
			WithContext("content", pidStr)
	}

	return pid, nil
}

// RemovePIDFile deletes the PID file; a missing file is not an error
func (m *ProcessFileManager) RemovePIDFile(id string) error {
	pidFilePath := m.PIDFilePath(id)

	if err := os.Remove(pidFilePath); err != nil && !os.IsNotExist(err) {
		m.logger.Warnf("Failed to remove PID file, id: %s, path: %s, error: %v", id, pidFilePath, err)
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}

	m.logger.Debugf("PID file removed, id: %s, path: %s", id, pidFilePath)
	return nil
}

func (m *ProcessFileManager) runtimeDirectory() string {
	if m.config.BaseDirectory != "" {
		return filepath.Join(m.config.BaseDirectory, "run")
	}

	switch m.config.ServiceContext {
	case SystemService:
		return systemRuntimeDirectory()
	case SessionService:
		return sessionRuntimeDirectory()
	default:
		return userRuntimeDirectory(m.SupportDirectory())
	}
}

func userSupportDirectory() string {
	switch runtime.GOOS {
	case "windows":
		return localAppData()

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")

	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return dataHome
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, ".local", "share")
	}
}

func systemSupportDirectory() string {
	switch runtime.GOOS {
	case "windows":
		return programData()
	case "darwin":
		return filepath.Join("/Library", "Application Support")
	default:
		return "/var/lib"
	}
}

func userLogDirectory(appName string) string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(localAppData(), appName, "logs")

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName, "logs")
		}
		return filepath.Join(homeDir, "Library", "Logs", appName)

	default:
		if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
			return filepath.Join(stateHome, appName, "logs")
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appName, "logs")
		}
		return filepath.Join(homeDir, ".local", "state", appName, "logs")
	}
}

func systemLogDirectory() string {
	if runtime.GOOS == "windows" {
		return programData()
	}
	return "/var/log"
}

func userRuntimeDirectory(supportDirectory string) string {
	if runtime.GOOS == "linux" {
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
	}
	return supportDirectory
}

func systemRuntimeDirectory() string {
	switch runtime.GOOS {
	case "windows":
		return programData()
	case "darwin":
		return "/var/run"
	default:
		// Modern standard is /run, with fallback to /var/run
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func sessionRuntimeDirectory() string {
	if runtime.GOOS == "linux" {
		sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
		if _, err := os.Stat(sessionDir); err == nil {
			return sessionDir
		}
	}
	return os.TempDir()
}

func localAppData() string {
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		return dir
	}
	if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
		return filepath.Join(userProfile, "AppData", "Local")
	}
	return "C:\\Users\\Default\\AppData\\Local"
}

func programData() string {
	if dir := os.Getenv("PROGRAMDATA"); dir != "" {
		return dir
	}
	return "C:\\ProgramData"
}

// ValidateDirectory makes sure the parent directory of path exists and is writable
func ValidateDirectory(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewPermissionError("directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}

// RecommendedConfig returns the process file configuration for a deployment scenario
func RecommendedConfig(scenario string, appName string) ProcessFileConfig {
	if appName == "" {
		appName = DefaultAppName
	}

	switch strings.ToLower(scenario) {
	case "system", "daemon", "service":
		return ProcessFileConfig{
			ServiceContext:  SystemService,
			AppName:         appName,
			UseSubdirectory: true,
		}

	case "session":
		return ProcessFileConfig{
			ServiceContext: SessionService,
			AppName:        appName,
		}

	case "development", "dev", "test":
		return ProcessFileConfig{
			BaseDirectory:  filepath.Join(os.TempDir(), appName+"-dev"),
			ServiceContext: UserService,
			AppName:        appName,
		}

	default:
		return ProcessFileConfig{
			ServiceContext: UserService,
			AppName:        appName,
		}
	}
}
