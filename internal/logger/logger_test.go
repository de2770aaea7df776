package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("valid verbosity level", func(t *testing.T) {
		logger := New("info")
		assert.NotNil(t, logger)
		assert.True(t, logger.Core().Enabled(zap.InfoLevel))
		assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("debug verbosity level", func(t *testing.T) {
		logger := New("DEBUG")
		assert.True(t, logger.Core().Enabled(zap.DebugLevel))
	})

	t.Run("invalid verbosity level only logs critical", func(t *testing.T) {
		logger := New("invalid")
		assert.False(t, logger.Core().Enabled(zap.ErrorLevel))
		assert.True(t, logger.Core().Enabled(zap.DPanicLevel))
	})

	t.Run("empty verbosity level is silent", func(t *testing.T) {
		logger := New("")
		assert.False(t, logger.Core().Enabled(zap.ErrorLevel))
		assert.False(t, logger.Core().Enabled(zap.FatalLevel))
	})
}

func TestLineFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("debug", &buf)

	logger.Debug("Patching codegen for forward compatibility", zap.String("driver", "11.2"))
	_ = logger.Sync()

	line := buf.String()
	assert.Regexp(t, `^== CUDA \(ptxcompiler\) \[\d+\] DEBUG -- Patching codegen for forward compatibility`, line)
	assert.Contains(t, line, `"driver": "11.2"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, zapcore.DPanicLevel, ParseLevel("critical"))
}
