package dlogger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger, err := GetLogger(LogLevelInfo, WithConsole(&buf))
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown", zap.String("dataset", "tank/data"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "tank/data")
}

func TestGetLoggerQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger, err := GetLogger(LogLevelError, WithConsole(&buf))
	require.NoError(t, err)

	logger.Info("quieted")
	logger.Error("kept")
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "quieted")
	assert.Contains(t, out, "kept")
}

func TestGetLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	logger, err := GetLogger(LogLevelTrace, WithConsole(&buf))
	require.NoError(t, err)

	logger.Debug("traced")
	require.NoError(t, logger.Sync())
	assert.Contains(t, buf.String(), "traced")
}

func TestGetLoggerNone(t *testing.T) {
	logger, err := GetLogger(LogLevelNone)
	require.NoError(t, err)
	logger.Error("goes nowhere")
}

func TestGetLoggerBadLevel(t *testing.T) {
	_, err := GetLogger("shouting")
	require.Error(t, err)
}

func TestMustGetLoggerPanics(t *testing.T) {
	assert.Panics(t, func() {
		MustGetLogger("shouting")
	})
}
