package ctxstore

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Scope carries the correlation data for one logical request or operation.
// A Scope is attached at the operation boundary (HTTP request entry, job
// start) and stays stable across every continuation spawned from it. It is
// scoped, not owned: nothing destroys it, it simply falls out of reach when
// the root operation completes.
type Scope struct {
	RequestID string
	TraceID   string
	SpanID    string
	UserID    string
	SessionID string
	Metadata  map[string]string
}

// Validation constants.
const maxIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NewScope creates a scope with a fresh unique request ID.
func NewScope() *Scope {
	return &Scope{RequestID: uuid.NewString()}
}

// Validate checks that all identifier fields are well-formed. Metadata
// values are deliberately unvalidated; they pass through the sanitizer
// before any boundary.
func (s *Scope) Validate() error {
	if s == nil {
		return fmt.Errorf("scope cannot be nil")
	}
	if err := validateID(s.RequestID, "RequestID"); err != nil {
		return err
	}
	for name, id := range map[string]string{
		"UserID":    s.UserID,
		"SessionID": s.SessionID,
	} {
		if id == "" {
			continue
		}
		if err := validateID(id, name); err != nil {
			return err
		}
	}
	return nil
}

func validateID(id, name string) error {
	if id == "" {
		return fmt.Errorf("%s cannot be empty", name)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s contains invalid UTF-8", name)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// Fields renders the scope as structured log fields, merging live OTEL span
// correlation from ctx when present.
func (s *Scope) Fields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if s != nil {
		if s.RequestID != "" {
			fields = append(fields, zap.String("request.id", s.RequestID))
		}
		if s.UserID != "" {
			fields = append(fields, zap.String("user.id", s.UserID))
		}
		if s.SessionID != "" {
			fields = append(fields, zap.String("session.id", s.SessionID))
		}
		for k, v := range s.Metadata {
			fields = append(fields, zap.String("meta."+k, v))
		}
	}

	// Live span wins over any snapshot the scope carries.
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	} else if s != nil && s.TraceID != "" {
		fields = append(fields, zap.String("trace_id", s.TraceID))
		if s.SpanID != "" {
			fields = append(fields, zap.String("span_id", s.SpanID))
		}
	}

	return fields
}

// Fields renders the context's active scope as log fields. A context
// with no scope still yields span correlation when a live span exists.
func Fields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	return FromContext(ctx).Fields(ctx)
}

// scopeCtxKey is the context key for Scope.
type scopeCtxKey struct{}

// WithScope attaches a scope to the context.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

// FromContext extracts the active scope, or nil when none is attached.
// Never panics.
func FromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	if s, ok := ctx.Value(scopeCtxKey{}).(*Scope); ok {
		return s
	}
	return nil
}
