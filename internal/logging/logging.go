// Package logging provides structured component loggers for the control
// loop. Events go to a rotated JSON file and, optionally, a human-readable
// console stream.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures log destinations and verbosity.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// FilePath receives JSON lines with rotation. Empty disables the file.
	FilePath string
	// Console mirrors events to stderr in console encoding.
	Console bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger wraps zap with a component tag and the control loop's event
// vocabulary.
type Logger struct {
	z         *zap.Logger
	component string
}

// New builds a logger from options. At least one destination must be
// enabled or the logger is a no-op.
func New(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		var err error
		level, err = zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, fmt.Errorf("parsing log level: %w", err)
		}
	}

	var cores []zapcore.Core
	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
		rotated := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    defaultInt(opts.MaxSizeMB, 20),
			MaxBackups: defaultInt(opts.MaxBackups, 5),
			MaxAge:     defaultInt(opts.MaxAgeDays, 30),
			Compress:   true,
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotated), level))
	}
	if opts.Console {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level))
	}

	if len(cores) == 0 {
		return Nop(), nil
	}
	return &Logger{z: zap.New(zapcore.NewTee(cores...))}, nil
}

// Nop returns a logger that discards everything. Handy in tests.
func Nop() *Logger {
	return &Logger{z: zap.NewNop()}
}

// WithComponent returns a logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{z: l.z, component: name}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.z.Sync()
}

func (l *Logger) log(level zapcore.Level, msg string, fields map[string]any) {
	zf := make([]zap.Field, 0, len(fields)+1)
	if l.component != "" {
		zf = append(zf, zap.String("component", l.component))
	}
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	switch level {
	case zapcore.DebugLevel:
		l.z.Debug(msg, zf...)
	case zapcore.WarnLevel:
		l.z.Warn(msg, zf...)
	case zapcore.ErrorLevel:
		l.z.Error(msg, zf...)
	default:
		l.z.Info(msg, zf...)
	}
}

// Debug logs at debug level with optional structured fields.
func (l *Logger) Debug(msg string, fields map[string]any) { l.log(zapcore.DebugLevel, msg, fields) }

// Info logs at info level with optional structured fields.
func (l *Logger) Info(msg string, fields map[string]any) { l.log(zapcore.InfoLevel, msg, fields) }

// Warn logs at warn level with optional structured fields.
func (l *Logger) Warn(msg string, fields map[string]any) { l.log(zapcore.WarnLevel, msg, fields) }

// Error logs at error level with optional structured fields.
func (l *Logger) Error(msg string, fields map[string]any) { l.log(zapcore.ErrorLevel, msg, fields) }

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
