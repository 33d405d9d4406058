package stack

import (
	"go.uber.org/zap"

	"comstack/cantp-go/pkg/config"
	"comstack/cantp-go/pkg/internal/logger"
)

// LogLevel represents logging level
type LogLevel int

const (
	// LevelDebug shows all log messages (most verbose)
	LevelDebug LogLevel = iota
	// LevelInfo shows info, warn, and error messages (default)
	LevelInfo
	// LevelWarn shows warn and error messages
	LevelWarn
	// LevelError shows only error messages
	LevelError
)

// SetLogLevel installs a zap console logger on stdout at level as the default
func SetLogLevel(level LogLevel) {
	logger.SetDefault(logger.NewDefaultLogger(logger.Level(level)))
}

// EnableFrameDebug enables or disables hex dumps of every CAN frame sent
// and received
func EnableFrameDebug(enable bool) {
	logger.SetFrameDebug(enable)
}

// SetupLogging installs a zap logger built from cfg as the default for
// every layer and returns it. The caller should defer Sync on the result.
func SetupLogging(cfg config.LogConfig) *zap.Logger {
	c := config.Config{Log: cfg}
	_, zl := logger.Setup(c.LogOptions())
	logger.SetFrameDebug(cfg.FrameDebug)
	return zl
}
