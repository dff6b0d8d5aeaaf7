// Package logger wraps zap with the surface the daemon needs: leveled
// structured logging, child loggers with bound fields, and a
// configurable sink.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig selects the level, encoding and sink for a new Logger.
// An empty Format picks console output for terminals and json when the
// process looks like it runs unattended.
type LoggingConfig struct {
	Level      string // debug, info, warn, error
	Format     string // json, console or text
	OutputPath string // stdout, stderr or a file path
}

// Logger is a thin wrapper over *zap.Logger. Children returned by
// WithFields share the underlying core, so binding a component field
// per subsystem is cheap.
type Logger struct {
	zl *zap.Logger
}

// NewLogger builds a Logger from cfg. An unknown level falls back to
// info rather than failing startup; an unwritable OutputPath is the
// only error case.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	sink, err := openSink(cfg.OutputPath)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(newEncoder(cfg.Format), sink, parseLevel(cfg.Level))
	return &Logger{
		zl: zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)),
	}, nil
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// newEncoder maps "console" and its alias "text" to zap's colored
// console encoder; everything else encodes as json.
func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "" {
		format = autoFormat()
	}
	switch format {
	case "console", "text":
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return zapcore.NewConsoleEncoder(ec)
	default:
		ec.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(ec)
	}
}

// autoFormat returns json under Kubernetes or an explicit production
// environment, console otherwise.
func autoFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CREWLY_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "console"
}

func openSink(path string) (zapcore.WriteSyncer, error) {
	switch path {
	case "", "stdout":
		return zapcore.AddSync(os.Stdout), nil
	case "stderr":
		return zapcore.AddSync(os.Stderr), nil
	default:
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return zapcore.AddSync(f), nil
	}
}

// WithFields returns a child logger that adds fields to every entry.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{zl: l.zl.With(fields...)}
}

// Sync flushes buffered entries. Callers defer it at shutdown.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zl.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zl.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zl.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zl.Error(msg, fields...) }

// Fatal logs the entry and exits the process.
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zl.Fatal(msg, fields...) }
