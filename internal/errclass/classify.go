// Package errclass turns arbitrary failure values into actionable,
// safely-loggable, and HTTP-presentable structured errors.
//
// Classification is a pure function of the error's type name and message.
// The rule table is ordered; the first match wins, so "missing
// credentials" classifies as authentication before not-found gets a look.
package errclass

import (
	"fmt"
	"strings"
)

// Category is the closed set of error classes.
type Category string

const (
	Validation     Category = "validation_error"
	Authentication Category = "authentication_error"
	Authorization  Category = "authorization_error"
	NotFound       Category = "not_found_error"
	Network        Category = "network_error"
	Database       Category = "database_error"
	RateLimit      Category = "rate_limit_error"
	System         Category = "system_error"
	Unknown        Category = "unknown_error"
)

// Severity orders how loudly a classified error is reported.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Classified is the result of classification. Created once per caught
// error at the handling boundary; only Escalate mutates it afterwards,
// before first log emission.
type Classified struct {
	Category    Category       `json:"category"`
	Severity    Severity       `json:"severity"`
	Retryable   bool           `json:"retryable"`
	StatusCode  int            `json:"status_code"`
	UserMessage string         `json:"user_message"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	Stack       string         `json:"stack,omitempty"`

	cause error
}

// Error implements error with the raw diagnostic message.
func (c *Classified) Error() string { return c.Message }

// Unwrap exposes the original error for errors.Is/As.
func (c *Classified) Unwrap() error { return c.cause }

// Escalate raises severity. Lowering is not allowed; a classified error
// never becomes quieter than its category says.
func (c *Classified) Escalate(sev Severity) {
	if severityRank(sev) > severityRank(c.Severity) {
		c.Severity = sev
	}
}

func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// rule maps matched keywords to a classification. Keywords are matched
// against the lowercased error text.
type rule struct {
	keywords    []string
	category    Category
	severity    Severity
	retryable   bool
	statusCode  int
	userMessage string
}

// rules is consulted in order; first match wins.
var rules = []rule{
	{
		keywords:    []string{"validation", "invalid input", "malformed", "bad request"},
		category:    Validation,
		severity:    SeverityLow,
		statusCode:  400,
		userMessage: "The request could not be processed. Please check your input.",
	},
	{
		keywords:    []string{"unauthorized", "unauthenticated", "authentication", "credential", "invalid token", "expired token"},
		category:    Authentication,
		severity:    SeverityMedium,
		statusCode:  401,
		userMessage: "Authentication is required to access this resource.",
	},
	{
		keywords:    []string{"forbidden", "access denied", "authorization", "permission denied", "not allowed"},
		category:    Authorization,
		severity:    SeverityMedium,
		statusCode:  403,
		userMessage: "You do not have permission to access this resource.",
	},
	{
		keywords:    []string{"not found", "no such", "does not exist"},
		category:    NotFound,
		severity:    SeverityLow,
		statusCode:  404,
		userMessage: "The requested resource was not found.",
	},
	{
		keywords:    []string{"network", "timeout", "timed out", "connection refused", "connection reset", "unreachable"},
		category:    Network,
		severity:    SeverityMedium,
		retryable:   true,
		statusCode:  503,
		userMessage: "A network problem occurred. Please try again.",
	},
	{
		keywords:    []string{"database", "query failed", "sql", "constraint", "deadlock"},
		category:    Database,
		severity:    SeverityHigh,
		retryable:   true,
		statusCode:  503,
		userMessage: "The service is temporarily unavailable. Please try again.",
	},
	{
		keywords:    []string{"rate limit", "too many requests", "throttl", "quota exceeded"},
		category:    RateLimit,
		severity:    SeverityMedium,
		retryable:   true,
		statusCode:  429,
		userMessage: "Too many requests. Please slow down and try again.",
	},
}

// systemUserMessage is the only message shown for unclassified errors;
// the raw diagnostic never reaches a user.
const systemUserMessage = "An unexpected error occurred. Please try again later."

// Classify turns any failure value into a Classified error. Never
// panics; non-error inputs are stringified. The supplied context map is
// attached verbatim for correlation.
func Classify(v any, context map[string]any) *Classified {
	err, isErr := v.(error)

	var text string
	if isErr {
		text = fmt.Sprintf("%T: %s", err, err.Error())
	} else {
		text = fmt.Sprintf("%v", v)
	}
	lower := strings.ToLower(text)

	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return &Classified{
					Category:    r.category,
					Severity:    r.severity,
					Retryable:   r.retryable,
					StatusCode:  r.statusCode,
					UserMessage: r.userMessage,
					Message:     text,
					Context:     context,
					cause:       err,
				}
			}
		}
	}

	if isErr {
		return &Classified{
			Category:    System,
			Severity:    SeverityHigh,
			StatusCode:  500,
			UserMessage: systemUserMessage,
			Message:     text,
			Context:     context,
			cause:       err,
		}
	}
	return &Classified{
		Category:    Unknown,
		Severity:    SeverityMedium,
		StatusCode:  500,
		UserMessage: systemUserMessage,
		Message:     text,
		Context:     context,
	}
}
