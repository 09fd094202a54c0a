package ctxstore

// UsageProfile statically describes how a code unit uses asynchronous
// operations relative to the scope it needs. It feeds Analyze, which is
// pure advisory logic with no runtime effect — useful for linting call
// sites in review tooling or tests.
type UsageProfile struct {
	Name string

	// NeedsScope is true when the unit reads correlation data (logging,
	// limiter keys) anywhere in its call graph.
	NeedsScope bool

	// SpawnsGoroutines is true when the unit starts its own goroutines.
	SpawnsGoroutines bool

	// PassesContext is true when the unit threads context.Context through
	// every call and goroutine it starts.
	PassesContext bool

	// UsesFanOut is true when the unit runs parallel operations and joins
	// their results.
	UsesFanOut bool

	// UsesTimers is true when the unit schedules timer callbacks.
	UsesTimers bool

	// UsesTimerManager is true when those timers are created through a
	// TimerManager (or otherwise bound via Store.Bind).
	UsesTimerManager bool
}

// Report is the result of a compliance analysis.
type Report struct {
	Compliant   bool
	Issues      []string
	Suggestions []string
}

// Analyze checks a usage profile for scope-propagation hazards.
func Analyze(p UsageProfile) Report {
	var issues, suggestions []string

	if !p.NeedsScope {
		if p.UsesTimers && !p.UsesTimerManager {
			suggestions = append(suggestions,
				"timers are untracked; TimerManager would make them enumerable and cancellable on shutdown")
		}
		return Report{Compliant: true, Issues: issues, Suggestions: suggestions}
	}

	if p.SpawnsGoroutines && !p.PassesContext {
		issues = append(issues,
			"goroutines are started without threading context.Context, so the active scope is lost across them")
		suggestions = append(suggestions,
			"pass the request context into every goroutine, or bind callbacks with Store.Bind")
	}

	if p.UsesTimers && !p.UsesTimerManager {
		issues = append(issues,
			"timer callbacks fire without the active scope; correlation fields will be missing from their logs")
		suggestions = append(suggestions,
			"create timers through TimerManager so callbacks run with the scope bound")
	}

	if p.UsesFanOut && !p.PassesContext {
		issues = append(issues,
			"fan-out operations do not receive the parent context, losing both scope and cancellation")
		suggestions = append(suggestions,
			"use RunAll to fan out with the scope active and fail-fast cancellation")
	}

	return Report{
		Compliant:   len(issues) == 0,
		Issues:      issues,
		Suggestions: suggestions,
	}
}
