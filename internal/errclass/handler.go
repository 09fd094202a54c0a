package errclass

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logwarden/internal/ctxstore"
	"github.com/fyrsmithlabs/logwarden/internal/logging"
	"github.com/fyrsmithlabs/logwarden/internal/metrics"
)

// Handler routes classified errors into the logger and shapes them for
// HTTP and UI consumers.
type Handler struct {
	logger *logging.Logger
}

// NewHandler builds a handler over logger.
func NewHandler(logger *logging.Logger) *Handler {
	return &Handler{logger: logger}
}

// Handle classifies v, logs it at a severity-appropriate level, records
// the error metric, and returns the classified error to the caller.
func (h *Handler) Handle(ctx context.Context, v any, extra map[string]any) *Classified {
	ce := Classify(v, extra)
	h.log(ctx, ce, nil)
	return ce
}

// log emits one structured error event. additional, when present, lands
// under additional_data.
func (h *Handler) log(ctx context.Context, ce *Classified, additional map[string]any) {
	metrics.IncError(string(ce.Category), string(ce.Severity))

	fields := []zap.Field{
		zap.String("event_name", "error."+string(ce.Category)),
		zap.String("event_category", "error_event"),
		zap.String("error_category", string(ce.Category)),
		zap.String("error_severity", string(ce.Severity)),
		zap.Bool("error_retryable", ce.Retryable),
	}
	if len(ce.Context) > 0 {
		fields = append(fields, zap.Any("context", ce.Context))
	}
	if len(additional) > 0 {
		fields = append(fields, zap.Any("additional_data", additional))
	}

	switch levelFor(ce.Severity) {
	case zapcore.InfoLevel:
		h.logger.Info(ctx, ce.Message, fields...)
	case zapcore.WarnLevel:
		h.logger.Warn(ctx, ce.Message, fields...)
	default:
		h.logger.Error(ctx, ce.Message, fields...)
	}
}

// levelFor maps severity onto a log level: low informs, medium warns,
// high and critical are errors.
func levelFor(sev Severity) zapcore.Level {
	switch sev {
	case SeverityLow:
		return zapcore.InfoLevel
	case SeverityMedium:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// APIResponse is an HTTP-shaped error answer. The body carries only the
// safe user message; raw diagnostics for system and unknown categories
// never leak to API consumers.
type APIResponse struct {
	Status      int          `json:"-"`
	ContentType string       `json:"-"`
	Body        APIErrorBody `json:"body"`
}

// APIErrorBody is the JSON error payload.
type APIErrorBody struct {
	Error     string `json:"error"`
	Category  string `json:"category"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
}

// APIError classifies and logs v, then returns the HTTP response to
// send.
func (h *Handler) APIError(ctx context.Context, v any, extra map[string]any) APIResponse {
	ce := h.Handle(ctx, v, extra)
	return APIResponse{
		Status:      ce.StatusCode,
		ContentType: "application/json",
		Body: APIErrorBody{
			Error:     ce.UserMessage,
			Category:  string(ce.Category),
			Retryable: ce.Retryable,
			RequestID: requestID(ctx, extra),
		},
	}
}

// ComponentInfo is the deliberately minimal error shape for UI-level
// consumers.
type ComponentInfo struct {
	UserMessage string `json:"userMessage"`
	ShouldRetry bool   `json:"shouldRetry"`
	ErrorID     string `json:"errorId,omitempty"`
}

// ComponentError classifies and logs v, reduced to what a component can
// show: no raw error detail.
func (h *Handler) ComponentError(ctx context.Context, v any, extra map[string]any) ComponentInfo {
	ce := h.Handle(ctx, v, extra)
	return ComponentInfo{
		UserMessage: ce.UserMessage,
		ShouldRetry: ce.Retryable,
		ErrorID:     requestID(ctx, extra),
	}
}

// requestID resolves a correlation id: explicit context map first, then
// the operation scope.
func requestID(ctx context.Context, extra map[string]any) string {
	if id, ok := extra["request_id"].(string); ok && id != "" {
		return id
	}
	if scope := ctxstore.FromContext(ctx); scope != nil {
		return scope.RequestID
	}
	return ""
}

// UncaughtPanic classifies a recovered panic value at error severity,
// stack attached. The caller decides whether the process dies; this
// never exits.
func (h *Handler) UncaughtPanic(ctx context.Context, recovered any) *Classified {
	ce := Classify(recovered, nil)
	ce.Escalate(SeverityCritical)
	ce.Stack = string(debug.Stack())
	h.log(ctx, ce, map[string]any{"type": "uncaught_exception"})
	return ce
}

// BackgroundError classifies a failure surfaced outside any request
// path (detached goroutines, fire-and-forget work).
func (h *Handler) BackgroundError(ctx context.Context, v any) *Classified {
	ce := Classify(v, nil)
	ce.Escalate(SeverityHigh)
	h.log(ctx, ce, map[string]any{"type": "unhandled_rejection"})
	return ce
}

// WithErrorHandling wraps fn so any returned error is observed through
// the handler before being rethrown to the caller. Errors are seen, not
// swallowed.
func WithErrorHandling(h *Handler, fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return h.Handle(ctx, err, nil)
		}
		return nil
	}
}

// SafeExecute runs fn, logging any failure and returning fallback in
// its place. The observe-and-continue counterpart to WithErrorHandling.
func SafeExecute[T any](ctx context.Context, h *Handler, fn func(ctx context.Context) (T, error), fallback T) T {
	out, err := fn(ctx)
	if err != nil {
		h.Handle(ctx, err, nil)
		return fallback
	}
	return out
}
