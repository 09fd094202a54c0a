// internal/logging/context.go
package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logwarden/internal/ctxstore"
)

// ContextFields extracts correlation data from context: the attached
// operation scope (request id, user, session, metadata) merged with the
// live OpenTelemetry span. Scope resolution lives in ctxstore; this is
// the logging-side bridge.
func ContextFields(ctx context.Context) []zap.Field {
	return ctxstore.Fields(ctx)
}

// loggerCtxKey is the context key for Logger.
type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a default nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
