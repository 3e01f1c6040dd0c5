package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordedLine struct {
	level int
	text  string
}

func recordingFuncs(lines *[]recordedLine) LogFuncs {
	record := func(level int) LogFunc {
		return func(format string, args ...interface{}) {
			*lines = append(*lines, recordedLine{level: level, text: fmt.Sprintf(format, args...)})
		}
	}
	return LogFuncs{
		Debugf: record(LogLevelDebug),
		Infof:  record(LogLevelInfo),
		Warnf:  record(LogLevelWarn),
		Errorf: record(LogLevelError),
	}
}

func TestLogger_PrefixAndLevels(t *testing.T) {
	var lines []recordedLine
	logger := NewLogger("supervisor: couchdb , ", recordingFuncs(&lines))

	logger.Debugf("debug %d", 1)
	logger.Infof("info %s", "x")
	logger.Warnf("warn")
	logger.Errorf("error")
	logger.LogLevelf(LogLevelInfo, "level %d", LogLevelInfo)

	require.Len(t, lines, 5)
	assert.Equal(t, recordedLine{LogLevelDebug, "supervisor: couchdb , debug 1"}, lines[0])
	assert.Equal(t, recordedLine{LogLevelInfo, "supervisor: couchdb , info x"}, lines[1])
	assert.Equal(t, recordedLine{LogLevelWarn, "supervisor: couchdb , warn"}, lines[2])
	assert.Equal(t, recordedLine{LogLevelError, "supervisor: couchdb , error"}, lines[3])
	assert.Equal(t, recordedLine{LogLevelInfo, "supervisor: couchdb , level 1"}, lines[4])
}

func TestLogger_WithPrefixChains(t *testing.T) {
	var lines []recordedLine
	parent := NewLogger("root , ", recordingFuncs(&lines))
	child := WithPrefix(parent, "child , ")

	child.Warnf("hello %s", "world")

	require.Len(t, lines, 1)
	assert.Equal(t, LogLevelWarn, lines[0].level)
	assert.Equal(t, "root , child , hello world", lines[0].text)
}

func TestLogger_NopDoesNotPanic(t *testing.T) {
	logger := NewNopLogger()
	assert.NotPanics(t, func() {
		logger.Infof("ignored %d", 1)
		logger.LogLevelf(LogLevelError, "ignored")
	})
}

func TestZapLogger_RoutesLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLoggerFrom(zap.New(core))

	logger.Debugf("d")
	logger.Infof("i %d", 2)
	logger.LogLevelf(LogLevelWarn, "w")
	logger.Errorf("e")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "i 2", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestZapLogger_OutputObserver(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewZapLoggerFrom(zap.New(core))

	observe := logger.OutputObserver("couchdb")
	observe("stdout", "Apache CouchDB has started")

	entries := logs.FilterField(zap.String("stream", "stdout")).AllUntimed()
	require.Len(t, entries, 1)
	assert.Equal(t, "Apache CouchDB has started", entries[0].Message)
	assert.Equal(t, "child", entries[0].LoggerName)
	assert.Equal(t, "couchdb", entries[0].ContextMap()["id"])
}

func TestNewZapLogger_Validation(t *testing.T) {
	_, err := NewZapLogger(ZapConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewZapLogger(ZapConfig{Level: "info", Encoding: "xml"})
	assert.Error(t, err)

	logger, err := NewZapLogger(ZapConfig{Level: "debug", Encoding: "json", Outputs: []string{t.TempDir() + "/out.log"}})
	require.NoError(t, err)
	logger.Infof("written")
	// Sync on file sinks succeeds
	assert.NoError(t, logger.Sync())
}
