package logger

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ZapLogger adapts a zap logger to the Logger interface
type ZapLogger struct {
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// NewZapLogger wraps an existing zap logger.
// The level starts at debug and is narrowed by SetLevel; the core's own
// level still applies.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	level := zap.NewAtomicLevelAt(zap.DebugLevel)
	gated := l.WithOptions(
		zap.AddCallerSkip(1),
		zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return levelCore{Core: c, level: level}
		}),
	)
	return &ZapLogger{sugar: gated.Sugar(), level: level}
}

// Debug logs debug message
func (l *ZapLogger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs info message
func (l *ZapLogger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs warning message
func (l *ZapLogger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs error message
func (l *ZapLogger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// SetLevel sets the logging level
func (l *ZapLogger) SetLevel(level Level) {
	l.level.SetLevel(toZapLevel(level))
}

// Sync flushes buffered entries
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}

type levelCore struct {
	zapcore.Core
	level zap.AtomicLevel
}

func (c levelCore) Enabled(lvl zapcore.Level) bool {
	return c.level.Enabled(lvl) && c.Core.Enabled(lvl)
}

func (c levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.level.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c levelCore) With(fields []zapcore.Field) zapcore.Core {
	return levelCore{Core: c.Core.With(fields), level: c.level}
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zap.DebugLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Rotation controls log file rotation for file outputs
type Rotation struct {
	Enable     bool
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Options configures Setup
type Options struct {
	Level       string   // debug, info, warn, error
	Format      string   // console or json
	Outputs     []string // stdout, stderr or file paths
	Rotation    Rotation
	Development bool
}

// Setup builds a zap logger from opts, installs it as the package default
// and returns it. The caller should defer Sync on the result.
func Setup(opts Options) (*ZapLogger, *zap.Logger) {
	level := zap.NewAtomicLevelAt(toZapLevel(ParseLevel(opts.Level)))

	encCfg := zap.NewProductionEncoderConfig()
	if opts.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	var encoder zapcore.Encoder
	if strings.ToLower(opts.Format) == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	outputs := opts.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	var cores []zapcore.Core
	for _, out := range outputs {
		cores = append(cores, zapcore.NewCore(encoder, writerFor(out, opts.Rotation), level))
	}

	zopts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if opts.Development {
		zopts = append(zopts, zap.Development())
	}

	zl := zap.New(zapcore.NewTee(cores...), zopts...)
	l := NewZapLogger(zl)
	SetDefault(l)
	return l, zl
}

func writerFor(out string, rot Rotation) zapcore.WriteSyncer {
	switch strings.ToLower(out) {
	case "stdout":
		return zapcore.AddSync(os.Stdout)
	case "stderr":
		return zapcore.AddSync(os.Stderr)
	}

	if rot.Enable {
		filename := out
		if strings.TrimSpace(rot.Filename) != "" {
			filename = rot.Filename
		}
		return zapcore.AddSync(&lumberjack.Logger{
			Filename:   filename,
			MaxSize:    max(rot.MaxSizeMB, 10),
			MaxBackups: max(rot.MaxBackups, 1),
			MaxAge:     max(rot.MaxAgeDays, 7),
			Compress:   rot.Compress,
		})
	}

	if dir := filepath.Dir(out); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(f)
}
