package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const prefix = "== CUDA (ptxcompiler)"

var start = time.Now()

// New returns a logger writing to stderr at the given verbosity.
//
// An empty verbosity returns a no-op logger, so nothing is printed unless the
// user asked for it. Unknown verbosities log only critical messages.
func New(verbosity string) *zap.Logger {
	return NewWithWriter(verbosity, os.Stderr)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(verbosity string, w io.Writer) *zap.Logger {
	if strings.TrimSpace(verbosity) == "" {
		return zap.NewNop()
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(w), ParseLevel(verbosity))
	return zap.New(core)
}

// ParseLevel maps a verbosity name to a zap level. "critical" and unknown
// names map to DPanicLevel, the most severe level this module logs at.
func ParseLevel(verbosity string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(verbosity)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// encoderConfig renders lines as
//
//	== CUDA (ptxcompiler) [12] DEBUG -- message {"field": "value"}
//
// where the bracketed number is milliseconds since process start.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:    "T",
		LevelKey:   "L",
		MessageKey: "M",
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(fmt.Sprintf("%s [%d]", prefix, t.Sub(start).Milliseconds()))
		},
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			name := l.CapitalString()
			if l >= zapcore.DPanicLevel {
				name = "CRITICAL"
			}
			enc.AppendString(fmt.Sprintf("%5s --", name))
		},
		EncodeDuration:   zapcore.StringDurationEncoder,
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
	}
}
