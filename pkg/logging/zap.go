package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines the zap backend configuration
type ZapConfig struct {
	Level       string   `yaml:"level,omitempty"`    // "debug", "info", "warn", "error"
	Encoding    string   `yaml:"encoding,omitempty"` // "json", "console"
	Outputs     []string `yaml:"outputs,omitempty"`  // "stdout", "stderr" or file paths
	Caller      bool     `yaml:"caller,omitempty"`
	Development bool     `yaml:"development,omitempty"`
}

func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:    "info",
		Encoding: "console",
		Outputs:  []string{"stderr"},
	}
}

// ZapLogger adapts a zap logger to the Logger interface
type ZapLogger struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	close  func()
}

func NewZapLogger(config ZapConfig) (*ZapLogger, error) {
	var level zapcore.Level
	if config.Level == "" {
		config.Level = "info"
	}
	if err := level.UnmarshalText([]byte(strings.ToLower(config.Level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	outputs := config.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}
	sink, closeSink, err := zap.Open(outputs...)
	if err != nil {
		return nil, fmt.Errorf("failed to open log outputs %v: %w", outputs, err)
	}

	var encoderConfig zapcore.EncoderConfig
	if config.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	}
	encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	switch config.Encoding {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		closeSink()
		return nil, fmt.Errorf("invalid log encoding: %s", config.Encoding)
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if config.Caller {
		// Skip the Logger adapter frames
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(3))
	}
	if config.Development {
		opts = append(opts, zap.Development())
	}

	zapLogger := zap.New(zapcore.NewCore(encoder, sink, level), opts...)
	return &ZapLogger{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
		close:  closeSink,
	}, nil
}

// NewZapLoggerFrom wraps an existing zap logger (tests use zaptest/observer cores)
func NewZapLoggerFrom(zapLogger *zap.Logger) *ZapLogger {
	return &ZapLogger{
		logger: zapLogger,
		sugar:  zapLogger.Sugar(),
		close:  func() {},
	}
}

func (z *ZapLogger) LogLevelf(level int, format string, args ...interface{}) {
	switch level {
	case LogLevelDebug:
		z.sugar.Debugf(format, args...)
	case LogLevelWarn:
		z.sugar.Warnf(format, args...)
	case LogLevelError:
		z.sugar.Errorf(format, args...)
	default:
		z.sugar.Infof(format, args...)
	}
}

func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapLogger) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapLogger) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// Zap exposes the underlying logger for structured call sites
func (z *ZapLogger) Zap() *zap.Logger {
	return z.logger
}

// OutputObserver returns a line observer that logs child process output
// as structured entries tagged with the supervisor id and stream name.
func (z *ZapLogger) OutputObserver(id string) func(stream, line string) {
	childLogger := z.logger.Named("child").With(zap.String("id", id))
	return func(stream, line string) {
		childLogger.Info(line, zap.String("stream", stream))
	}
}

// Sync flushes buffered entries and releases file outputs
func (z *ZapLogger) Sync() error {
	err := z.logger.Sync()
	z.close()
	return err
}
