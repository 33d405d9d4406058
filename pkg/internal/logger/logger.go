package logger

import (
	"encoding/hex"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel parses a level name, defaulting to LevelInfo
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Char returns the one letter label of the level
func (l Level) Char() byte {
	switch l {
	case LevelDebug:
		return 'D'
	case LevelInfo:
		return 'I'
	case LevelWarn:
		return 'W'
	case LevelError:
		return 'E'
	default:
		return 'O'
	}
}

// String returns string representation of Level
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the interface for logging
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level Level)
}

// NewDefaultLogger creates the package default: a zap console logger on
// stdout at level
func NewDefaultLogger(level Level) *ZapLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), zap.DebugLevel)
	l := NewZapLogger(zap.New(core))
	l.SetLevel(level)
	return l
}

// NoOpLogger is a logger that doesn't log anything
type NoOpLogger struct{}

// NewNoOpLogger creates a logger that doesn't log
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

// Debug does nothing
func (l *NoOpLogger) Debug(format string, args ...interface{}) {}

// Info does nothing
func (l *NoOpLogger) Info(format string, args ...interface{}) {}

// Warn does nothing
func (l *NoOpLogger) Warn(format string, args ...interface{}) {}

// Error does nothing
func (l *NoOpLogger) Error(format string, args ...interface{}) {}

// SetLevel does nothing
func (l *NoOpLogger) SetLevel(level Level) {}

// Global default logger
var defaultLogger atomic.Value

func init() {
	defaultLogger.Store(loggerHolder{NewDefaultLogger(LevelInfo)})
}

type loggerHolder struct{ Logger }

// SetDefault sets the default logger
func SetDefault(logger Logger) {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	defaultLogger.Store(loggerHolder{logger})
}

// GetDefault returns the default logger
func GetDefault() Logger {
	return defaultLogger.Load().(loggerHolder).Logger
}

var frameDebug atomic.Bool

// SetFrameDebug enables or disables hex dumps of frames
func SetFrameDebug(enable bool) {
	frameDebug.Store(enable)
}

// FrameDebugEnabled reports whether frame hex dumps are enabled
func FrameDebugEnabled() bool {
	return frameDebug.Load()
}

// FrameDebug logs a hex dump of a frame on l when frame debugging is enabled
func FrameDebug(l Logger, direction string, data []byte) {
	if !frameDebug.Load() || l == nil {
		return
	}
	l.Debug("%s %d bytes\n%s", direction, len(data), strings.TrimRight(hex.Dump(data), "\n"))
}
