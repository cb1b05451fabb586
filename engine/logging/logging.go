// Package logging provides structured logging for the steward engine.
//
// Components depend on the small Logger interface; the concrete
// implementation is built on zap. Messages are snake_case event names
// ("step_started") followed by alternating key-value fields.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface for logging.
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}

// zapLogger implements Logger on a zap.SugaredLogger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// Options configures logger construction.
type Options struct {
	Level   string // "debug", "info", "warn", "error"
	Format  string // "json" or "console"
	Service string // service name attached to every record
}

// New builds a Logger with the given options.
func New(opts Options) (Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	base := zap.New(core)
	if opts.Service != "" {
		base = base.With(zap.String("service", opts.Service))
	}

	return &zapLogger{sugar: base.Sugar()}, nil
}

func (l *zapLogger) Debug(msg string, fields ...any) { l.sugar.Debugw(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...any)  { l.sugar.Infow(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...any)  { l.sugar.Warnw(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...any) { l.sugar.Errorw(msg, fields...) }

// Bind returns a child logger with the given fields attached to every record.
func (l *zapLogger) Bind(fields ...any) Logger {
	return &zapLogger{sugar: l.sugar.With(fields...)}
}

// nopLogger discards everything. Used in tests and as a nil-safe default.
type nopLogger struct{}

// NewNop returns a Logger that discards all records.
func NewNop() Logger { return &nopLogger{} }

func (l *nopLogger) Debug(msg string, fields ...any) {}
func (l *nopLogger) Info(msg string, fields ...any)  {}
func (l *nopLogger) Warn(msg string, fields ...any)  {}
func (l *nopLogger) Error(msg string, fields ...any) {}
func (l *nopLogger) Bind(fields ...any) Logger       { return l }
