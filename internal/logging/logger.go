// internal/logging/logger.go
package logging

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logwarden/internal/metrics"
	"github.com/fyrsmithlabs/logwarden/internal/ratelimit"
)

// gateClient identifies the logger itself in rate-limiter state keys.
const gateClient = "logger"

// RateGate decides whether a record may be emitted. *ratelimit.Limiter
// satisfies it.
type RateGate interface {
	Check(ctx context.Context, client, endpoint, level, errType string) ratelimit.Decision
}

// Logger wraps Zap with context-aware methods, an optional rate-limiter
// gate in front of every output, and an optional transport sink fed with
// sanitized records.
type Logger struct {
	zap       *zap.Logger
	config    *Config
	gate      RateGate
	sink      RecordSink
	component string
}

// Option adjusts a Logger at construction.
type Option func(*Logger)

// WithGate installs the rate-limiter gate. Fatal records bypass it.
func WithGate(gate RateGate) Option {
	return func(l *Logger) { l.gate = gate }
}

// WithTransport tees sanitized records into sink, typically a
// *transport.Batcher wrapped by NewBatcherSink.
func WithTransport(sink RecordSink) Option {
	return func(l *Logger) { l.sink = sink }
}

// NewLogger creates a logger from config.
// otelProvider can be nil to disable OTEL output.
func NewLogger(cfg *Config, otelProvider log.LoggerProvider, opts ...Option) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l := &Logger{config: cfg}
	for _, opt := range opts {
		opt(l)
	}

	core, err := newDualCore(cfg, otelProvider, l.sink)
	if err != nil {
		return nil, fmt.Errorf("failed to create core: %w", err)
	}

	zapOpts := []zap.Option{}
	if cfg.Caller.Enabled {
		zapOpts = append(zapOpts, zap.AddCaller(), zap.AddCallerSkip(cfg.Caller.Skip))
	}
	if cfg.Stacktrace.Level != 0 {
		zapOpts = append(zapOpts, zap.AddStacktrace(cfg.Stacktrace.Level))
	}

	zapLogger := zap.New(core, zapOpts...)

	// Add constant fields from config
	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		zapLogger = zapLogger.With(fields...)
	}

	l.zap = zapLogger
	return l, nil
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// allow consults the gate. Fatal always passes: a crashing process must
// never have its last words rate limited.
func (l *Logger) allow(ctx context.Context, level zapcore.Level) bool {
	if l.gate == nil || level >= zapcore.FatalLevel {
		return true
	}
	return l.gate.Check(ctx, gateClient, l.endpoint(), levelString(level), "").Allowed
}

// endpoint names the limiter key segment for this logger.
func (l *Logger) endpoint() string {
	if l.component != "" {
		return l.component
	}
	return "root"
}

func (l *Logger) emit(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {
	if !l.Enabled(level) || !l.allow(ctx, level) {
		return
	}
	allFields := append(ContextFields(ctx), fields...)
	l.zap.Log(level, msg, allFields...)
	metrics.IncLog(levelString(level), l.endpoint())
}

// Context-aware logging methods

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, TraceLevel, msg, fields)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, zapcore.ErrorLevel, msg, fields)
}

func (l *Logger) DPanic(ctx context.Context, msg string, fields ...zap.Field) {
	l.emit(ctx, zapcore.DPanicLevel, msg, fields)
}

func (l *Logger) Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	allFields := append(ContextFields(ctx), fields...)
	metrics.IncLog(levelString(zapcore.FatalLevel), l.endpoint())
	l.zap.Fatal(msg, allFields...)
}

// Child logger creation

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		zap:       l.zap.With(fields...),
		config:    l.config,
		gate:      l.gate,
		sink:      l.sink,
		component: l.component,
	}
}

// Named creates a child logger whose name also scopes its rate-limiter
// key, so chatty components back off independently.
func (l *Logger) Named(name string) *Logger {
	component := name
	if l.component != "" {
		component = l.component + "." + name
	}
	return &Logger{
		zap:       l.zap.Named(name),
		config:    l.config,
		gate:      l.gate,
		sink:      l.sink,
		component: component,
	}
}

// Enabled returns true if the given level is enabled.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap.Core().Enabled(level)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	// Ignore sync errors on stdout/stderr (common on Linux)
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// Underlying returns the underlying zap.Logger.
// Useful when integrating with libraries that require a *zap.Logger.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}

// isStdoutSyncError checks if error is harmless stdout/stderr sync error.
// On Linux, syncing stdout/stderr returns EINVAL or ENOTTY which are safe to ignore.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
