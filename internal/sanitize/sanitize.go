// Package sanitize neutralizes log-injection payloads before records cross a
// process or network boundary.
//
// Two independent, composable transforms are provided:
//
//   - ControlChars escapes CRLF, ANSI escape, and NUL characters so a value
//     cannot forge additional log lines in a line-oriented sink.
//   - LimitObjectSize bounds depth, key count, array length, and string
//     length of arbitrarily shaped values.
//
// Both transforms terminate on cyclic input, are idempotent on already-safe
// input, and never panic regardless of input shape.
package sanitize

import (
	"fmt"
	"reflect"
	"strings"
)

// CircularRefKey marks the second encounter of an already-visited reference.
const CircularRefKey = "_circular_reference"

// ControlChars recursively escapes control characters in strings, slices,
// and string-keyed maps. Characters in U+0000–U+001F and U+007F–U+009F are
// replaced with their \uXXXX escape (uppercase hex, zero-padded).
//
// Non-string scalars (numbers including NaN/Inf, bools, nil) pass through
// unchanged. Every container reference is visited at most once per
// traversal; a repeated reference, whether a true cycle or a shared
// subtree, is replaced with map[string]any{CircularRefKey: true}. That
// keeps the walk linear in the number of distinct nodes.
func ControlChars(v any) any {
	return newWalker(escapeControlChars).walk(v, 0)
}

// Newlines is the narrower variant escaping only \n and \r, as literal
// backslash sequences. Use where full control-character escaping is
// unnecessary.
func Newlines(v any) any {
	return newWalker(escapeNewlines).walk(v, 0)
}

// ForJSON sanitizes a value for the record-serialization boundary. The
// result contains no raw CR, LF, or escape characters.
func ForJSON(v any) any {
	return ControlChars(v)
}

// escapeControlChars replaces every C0/C1 control character with \uXXXX.
func escapeControlChars(s string) string {
	if !strings.ContainsFunc(s, isControl) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for _, r := range s {
		if isControl(r) {
			fmt.Fprintf(&b, `\u%04X`, r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isControl(r rune) bool {
	return (r >= 0x00 && r <= 0x1F) || (r >= 0x7F && r <= 0x9F)
}

// escapeNewlines replaces \n and \r with their two-character escapes.
func escapeNewlines(s string) string {
	if !strings.ContainsAny(s, "\n\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\n", `\n`)
	return strings.ReplaceAll(s, "\r", `\r`)
}

// maxWalkDepth caps walker recursion. Values nested deeper pass through
// untouched rather than risking the goroutine stack, which recover cannot
// save.
const maxWalkDepth = 10000

// walker carries traversal state: the string transform and the set of
// container references already visited anywhere in the traversal.
type walker struct {
	transform func(string) string
	seen      map[uintptr]bool
}

func newWalker(transform func(string) string) *walker {
	return &walker{
		transform: transform,
		seen:      make(map[uintptr]bool),
	}
}

// walk applies the transform recursively. It must not panic on any input;
// values it does not understand are returned unmodified.
func (w *walker) walk(v any, depth int) (out any) {
	// reflect on hostile inputs (unexported fields, invalid values) can
	// panic; degrade to passing the value through untouched.
	defer func() {
		if r := recover(); r != nil {
			out = v
		}
	}()

	if depth >= maxWalkDepth {
		return v
	}

	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return w.transform(val)
	case []any:
		return w.walkSlice(val, depth)
	case map[string]any:
		return w.walkMap(val, depth)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return v
		}
		if w.visited(rv.Pointer()) {
			return circularMarker()
		}
		return w.walk(rv.Elem().Interface(), depth+1)
	case reflect.Slice, reflect.Array:
		return w.walkReflectSlice(rv, depth)
	case reflect.Map:
		return w.walkReflectMap(rv, depth)
	default:
		// Numbers, bools, channels, funcs, structs: pass through. Structs
		// are treated as opaque; callers log them via typed fields.
		return v
	}
}

func (w *walker) walkSlice(s []any, depth int) any {
	if w.visited(reflect.ValueOf(s).Pointer()) {
		return circularMarker()
	}

	out := make([]any, len(s))
	for i, item := range s {
		out[i] = w.walk(item, depth+1)
	}
	return out
}

func (w *walker) walkMap(m map[string]any, depth int) any {
	if w.visited(reflect.ValueOf(m).Pointer()) {
		return circularMarker()
	}

	out := make(map[string]any, len(m))
	for k, item := range m {
		out[w.transform(k)] = w.walk(item, depth+1)
	}
	return out
}

func (w *walker) walkReflectSlice(rv reflect.Value, depth int) any {
	if rv.Kind() == reflect.Slice {
		if rv.IsNil() {
			return nil
		}
		if w.visited(rv.Pointer()) {
			return circularMarker()
		}
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = w.walk(rv.Index(i).Interface(), depth+1)
	}
	return out
}

func (w *walker) walkReflectMap(rv reflect.Value, depth int) any {
	if rv.IsNil() {
		return nil
	}
	if w.visited(rv.Pointer()) {
		return circularMarker()
	}

	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key := fmt.Sprint(iter.Key().Interface())
		out[w.transform(key)] = w.walk(iter.Value().Interface(), depth+1)
	}
	return out
}

// visited records ptr and reports whether the reference was already walked.
// Entries are never removed, so the second encounter of any reference is
// marked and every distinct container is expanded exactly once.
func (w *walker) visited(ptr uintptr) bool {
	if w.seen[ptr] {
		return true
	}
	w.seen[ptr] = true
	return false
}

func circularMarker() map[string]any {
	return map[string]any{CircularRefKey: true}
}
