package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultsToStderr(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
	require.Equal(t, LevelInfo, logger.level)
	require.Equal(t, os.Stderr, logger.logger.Writer())
}

func TestNewLoggerUsesSuppliedOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("hello")
	require.Contains(t, buf.String(), "hello")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("also should not appear")
	require.Empty(t, buf.String())

	logger.Warn("this should appear")
	require.Contains(t, buf.String(), "[WARN] this should appear")
}

func TestLoggerFormatArgsAppendsKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("opened device", "addr", "mem0", "zones", 4)

	output := buf.String()
	require.True(t, strings.Contains(output, "addr=mem0"))
	require.True(t, strings.Contains(output, "zones=4"))
}

func TestLoggerFormatArgsDropsTrailingUnpairedKey(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Info("message", "orphan")

	require.NotContains(t, buf.String(), "orphan")
}

func TestLoggerPrintfDelegatesToInfof(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Output: &buf})

	logger.Printf("channel %d ready", 3)

	require.Contains(t, buf.String(), "[INFO] channel 3 ready")
}

func TestDebugfWarnfErrorfFormatMessages(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debugf("debug %d", 1)
	logger.Warnf("warn %d", 2)
	logger.Errorf("error %d", 3)

	output := buf.String()
	require.Contains(t, output, "[DEBUG] debug 1")
	require.Contains(t, output, "[WARN] warn 2")
	require.Contains(t, output, "[ERROR] error 3")
}

func TestSetDefaultReplacesGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))
	defer SetDefault(NewLogger(nil))

	Info("global info message")
	Warn("global warn message")

	output := buf.String()
	require.Contains(t, output, "global info message")
	require.Contains(t, output, "global warn message")
}

func TestDefaultCreatesLoggerOnFirstUse(t *testing.T) {
	defer SetDefault(NewLogger(nil))

	logger := Default()
	require.NotNil(t, logger)
	require.Same(t, logger, Default())
}
