package ratelimit

import (
	"math"
	"sort"
	"time"
)

// ErrorTypeCount pairs an error type with its occurrence count.
type ErrorTypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// Analysis summarizes recent error pressure on a limiter key.
type Analysis struct {
	ErrorsPerMinute         int              `json:"errors_per_minute"`
	TotalErrors             int              `json:"total_errors"`
	TopErrorTypes           []ErrorTypeCount `json:"top_error_types"`
	ShouldApplyAdaptive     bool             `json:"should_apply_adaptive"`
	RecommendedSamplingRate float64          `json:"recommended_sampling_rate"`
}

// AnalyzeErrorFrequency computes error-volume statistics from a state
// snapshot. Pure; callers own the returned value and its slice.
func AnalyzeErrorFrequency(cfg Config, s State, now time.Time) Analysis {
	a := Analysis{
		ErrorsPerMinute:         errorsPerMinute(s.ErrorTimestamps, now),
		TotalErrors:             len(s.ErrorTimestamps),
		TopErrorTypes:           topErrorTypes(s.ErrorCounts),
		RecommendedSamplingRate: 1.0,
	}

	threshold := cfg.HighVolumeThreshold
	if threshold <= 0 {
		threshold = DefaultHighVolumeThreshold
	}
	if a.ErrorsPerMinute > threshold {
		a.ShouldApplyAdaptive = true
		a.RecommendedSamplingRate = math.Max(minSamplingRate,
			float64(threshold)/float64(a.ErrorsPerMinute))
	}
	return a
}

// topErrorTypes sorts counts descending, breaking ties by type name so
// the order is stable.
func topErrorTypes(counts map[string]int64) []ErrorTypeCount {
	out := make([]ErrorTypeCount, 0, len(counts))
	for typ, n := range counts {
		out = append(out, ErrorTypeCount{Type: typ, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Type < out[j].Type
	})
	return out
}
