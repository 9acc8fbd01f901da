// Package params holds engine parameter mappings and the merge rule that
// combines user-supplied values with engine defaults.
package params

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Set is an engine parameter mapping (opaque to the runtime).
type Set map[string]any

// Merge returns the effective parameters: every key of defaults takes the
// user's value when present, and keys only the user supplied pass through.
// A nil user set is treated as empty. Neither input is modified.
func Merge(user, defaults Set) Set {
	out := make(Set, len(defaults)+len(user))
	for key, value := range defaults {
		out[key] = value
	}
	for key, value := range user {
		out[key] = value
	}
	return out
}

// Clone returns a shallow copy of the set.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for key, value := range s {
		out[key] = value
	}
	return out
}

// Keys returns the parameter names in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value for key rendered as a string, or fallback.
func (s Set) String(key, fallback string) string {
	value, ok := s[key]
	if !ok || value == nil {
		return fallback
	}
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Int returns the value for key as an int. YAML and JSON decoders hand back
// different numeric types, and CLI overrides arrive as strings.
func (s Set) Int(key string, fallback int) (int, error) {
	value, ok := s[key]
	if !ok || value == nil {
		return fallback, nil
	}
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("params: %s must be an integer, got %v", key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("params: %s must be an integer: %w", key, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("params: %s has unsupported type %T", key, value)
	}
}

// Strings returns the value for key as a string slice, or nil. A plain
// string is read as a comma-separated list.
func (s Set) Strings(key string) []string {
	value, ok := s[key]
	if !ok || value == nil {
		return nil
	}
	switch v := value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return nil
	}
}
