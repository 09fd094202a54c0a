package sanitize

import (
	"fmt"
	"reflect"
	"sort"
)

// Limits bounds the shape of a value passed to LimitObjectSize.
type Limits struct {
	MaxDepth     int
	MaxKeys      int
	MaxArrayLen  int
	MaxStringLen int
}

// DefaultLimits returns the standard bounds applied to log payloads.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:     10,
		MaxKeys:      100,
		MaxArrayLen:  100,
		MaxStringLen: 1000,
	}
}

const (
	// TruncatedKey is the synthetic entry appended when keys or array
	// elements are dropped.
	TruncatedKey = "_truncated"

	// DepthMarker replaces values nested beyond MaxDepth.
	DepthMarker = "[MAX_DEPTH_EXCEEDED]"

	// TruncationSuffix is appended to strings cut at MaxStringLen.
	TruncationSuffix = "... [TRUNCATED]"
)

// LimitObjectSize enforces depth, key-count, array-length, and string-length
// bounds on v, recursively and independently. The result is a new value; the
// input is never mutated. Idempotent on already-bounded input and linear in
// the number of distinct nodes: a repeated container reference, cyclic or
// shared, surfaces as a CircularRefKey marker instead of a second expansion.
//
// Map keys are emitted in sorted order so truncation is deterministic; Go
// maps carry no insertion order to preserve.
func LimitObjectSize(v any, lim Limits) any {
	if lim.MaxDepth <= 0 {
		lim.MaxDepth = DefaultLimits().MaxDepth
	}
	if lim.MaxKeys <= 0 {
		lim.MaxKeys = DefaultLimits().MaxKeys
	}
	if lim.MaxArrayLen <= 0 {
		lim.MaxArrayLen = lim.MaxKeys
	}
	if lim.MaxStringLen <= 0 {
		lim.MaxStringLen = DefaultLimits().MaxStringLen
	}
	l := &limiter{lim: lim, seen: make(map[uintptr]bool)}
	return l.apply(v, 0)
}

type limiter struct {
	lim  Limits
	seen map[uintptr]bool
}

func (l *limiter) apply(v any, depth int) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = v
		}
	}()

	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return l.truncateString(val)
	case []any:
		return l.applySlice(val, depth)
	case map[string]any:
		return l.applyMap(val, depth)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return v
		}
		if l.seen[rv.Pointer()] {
			return map[string]any{CircularRefKey: true}
		}
		l.seen[rv.Pointer()] = true
		return l.apply(rv.Elem().Interface(), depth)
	case reflect.Slice, reflect.Array:
		return l.applyReflectSlice(rv, depth)
	case reflect.Map:
		return l.applyReflectMap(rv, depth)
	default:
		return v
	}
}

func (l *limiter) truncateString(s string) string {
	if len(s) <= l.lim.MaxStringLen {
		return s
	}
	// Cut on rune boundaries so multi-byte characters are never split.
	runes := []rune(s)
	if len(runes) <= l.lim.MaxStringLen {
		return s
	}
	return string(runes[:l.lim.MaxStringLen]) + TruncationSuffix
}

func (l *limiter) applySlice(s []any, depth int) any {
	if depth >= l.lim.MaxDepth {
		return DepthMarker
	}
	ptr := reflect.ValueOf(s).Pointer()
	if l.seen[ptr] {
		return map[string]any{CircularRefKey: true}
	}
	l.seen[ptr] = true

	n := len(s)
	keep := n
	if keep > l.lim.MaxArrayLen {
		keep = l.lim.MaxArrayLen
	}
	out := make([]any, 0, keep+1)
	for i := 0; i < keep; i++ {
		out = append(out, l.apply(s[i], depth+1))
	}
	if n > keep {
		out = append(out, map[string]any{
			TruncatedKey: fmt.Sprintf("%d more items", n-keep),
		})
	}
	return out
}

func (l *limiter) applyMap(m map[string]any, depth int) any {
	if depth >= l.lim.MaxDepth {
		return DepthMarker
	}
	ptr := reflect.ValueOf(m).Pointer()
	if l.seen[ptr] {
		return map[string]any{CircularRefKey: true}
	}
	l.seen[ptr] = true

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keep := len(keys)
	if keep > l.lim.MaxKeys {
		keep = l.lim.MaxKeys
	}
	out := make(map[string]any, keep+1)
	for _, k := range keys[:keep] {
		out[k] = l.apply(m[k], depth+1)
	}
	if len(keys) > keep {
		out[TruncatedKey] = fmt.Sprintf("%d more keys", len(keys)-keep)
	}
	return out
}

func (l *limiter) applyReflectSlice(rv reflect.Value, depth int) any {
	if depth >= l.lim.MaxDepth {
		return DepthMarker
	}
	if rv.Kind() == reflect.Slice {
		if rv.IsNil() {
			return nil
		}
		if l.seen[rv.Pointer()] {
			return map[string]any{CircularRefKey: true}
		}
		l.seen[rv.Pointer()] = true
	}
	generic := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		generic[i] = rv.Index(i).Interface()
	}
	// Reuse []any handling; the seen entry above covers the original ref.
	return l.applyGenericSlice(generic, depth)
}

// applyGenericSlice is applySlice without re-registering a seen pointer.
func (l *limiter) applyGenericSlice(s []any, depth int) any {
	n := len(s)
	keep := n
	if keep > l.lim.MaxArrayLen {
		keep = l.lim.MaxArrayLen
	}
	out := make([]any, 0, keep+1)
	for i := 0; i < keep; i++ {
		out = append(out, l.apply(s[i], depth+1))
	}
	if n > keep {
		out = append(out, map[string]any{
			TruncatedKey: fmt.Sprintf("%d more items", n-keep),
		})
	}
	return out
}

func (l *limiter) applyReflectMap(rv reflect.Value, depth int) any {
	if depth >= l.lim.MaxDepth {
		return DepthMarker
	}
	if rv.IsNil() {
		return nil
	}
	if l.seen[rv.Pointer()] {
		return map[string]any{CircularRefKey: true}
	}
	l.seen[rv.Pointer()] = true

	generic := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		generic[fmt.Sprint(iter.Key().Interface())] = iter.Value().Interface()
	}
	return l.applyGenericMap(generic, depth)
}

// applyGenericMap is applyMap without re-registering a seen pointer.
func (l *limiter) applyGenericMap(m map[string]any, depth int) any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keep := len(keys)
	if keep > l.lim.MaxKeys {
		keep = l.lim.MaxKeys
	}
	out := make(map[string]any, keep+1)
	for _, k := range keys[:keep] {
		out[k] = l.apply(m[k], depth+1)
	}
	if len(keys) > keep {
		out[TruncatedKey] = fmt.Sprintf("%d more keys", len(keys)-keep)
	}
	return out
}
