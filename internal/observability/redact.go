package observability

import (
	"encoding/json"
	"reflect"
	"strings"
)

var sensitiveKeys = []string{
	"api_key", "apikey", "apiKey", "x-api-key", "authorization", "auth", "token", "access_token", "refresh_token", "password", "secret", "bearer",
	"cpf", "email", "phone",
}

// maxRedactDepth bounds recursion on attacker-controlled or accidentally
// cyclic payloads; it is a hard cap, not a tuning knob.
const maxRedactDepth = 64

// RedactJSON takes a JSON payload and redacts sensitive values based on
// common key names, returning the raw input unchanged if it doesn't parse.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	redacted := RedactValue(v)
	b, err := json.Marshal(redacted)
	if err != nil {
		return raw
	}
	return b
}

// RedactValue walks an arbitrary decoded value (map[string]any/[]any trees,
// as produced by json.Unmarshal or assembled by hand for a tool call) and
// masks sensitive-looking keys. Unlike a plain JSON round-trip, callers may
// hand this a tree built from aliased sub-structures, so the walk carries a
// visited-set keyed by the underlying map/slice's data pointer to break
// reference cycles, and gives up past maxRedactDepth rather than recursing
// unbounded.
func RedactValue(v any) any {
	return redactValue(v, map[uintptr]bool{}, 0)
}

func redactValue(v any, visited map[uintptr]bool, depth int) any {
	if depth >= maxRedactDepth {
		return "[MAX_DEPTH]"
	}
	switch val := v.(type) {
	case map[string]any:
		if ptr, ok := dataPointer(val); ok {
			if visited[ptr] {
				return "[CYCLE]"
			}
			visited[ptr] = true
		}
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if isSensitiveKey(k) {
				out[k] = "[REDACTED]"
			} else {
				out[k] = redactValue(vv, visited, depth+1)
			}
		}
		return out
	case []any:
		if ptr, ok := dataPointer(val); ok {
			if visited[ptr] {
				return "[CYCLE]"
			}
			visited[ptr] = true
		}
		out := make([]any, len(val))
		for i := range val {
			out[i] = redactValue(val[i], visited, depth+1)
		}
		return out
	default:
		return v
	}
}

// dataPointer returns the backing array/data pointer for a map or slice, or
// ok=false for an empty one (which can't alias anything and needs no
// cycle tracking).
func dataPointer(v any) (uintptr, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() || rv.Len() == 0 {
			return 0, false
		}
		return rv.Pointer(), true
	case reflect.Slice:
		if rv.IsNil() || rv.Len() == 0 {
			return 0, false
		}
		return rv.Pointer(), true
	}
	return 0, false
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if low == s || strings.Contains(low, s) {
			return true
		}
	}
	return false
}
