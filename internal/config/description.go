package config

import (
	"fmt"
	"sort"
	"strconv"
)

// Description is the nested mapping describing a rule or an action, as read
// from the configuration file.
type Description map[string]any

// Normalize converts the shapes produced by the YAML and TOML decoders into
// Description, []any and int, recursively.
func Normalize(d Description) Description {
	if d == nil {
		return nil
	}
	out := make(Description, len(d))
	for k, v := range d {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch v := v.(type) {
	case Description:
		return Normalize(v)
	case map[string]any:
		return Normalize(Description(v))
	case map[any]any:
		m := make(Description, len(v))
		for k, e := range v {
			m[fmt.Sprint(k)] = normalizeValue(e)
		}
		return m
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalizeValue(e)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = Normalize(Description(e))
		}
		return out
	case int64:
		return int(v)
	default:
		return v
	}
}

// Has reports whether key is present.
func (d Description) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Keys returns the keys of d in sorted order.
func (d Description) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the scalar at key as a string. ok is false when the key is
// missing or null.
func (d Description) String(key string) (s string, ok bool, err error) {
	v, found := d[key]
	if !found || v == nil {
		return "", false, nil
	}
	switch v := v.(type) {
	case string:
		return v, true, nil
	case bool, int, int64, float64:
		return fmt.Sprint(v), true, nil
	default:
		return "", false, fmt.Errorf("%q: expected a string, got %T", key, v)
	}
}

// Int returns the value at key as an int.
func (d Description) Int(key string) (n int, ok bool, err error) {
	v, found := d[key]
	if !found || v == nil {
		return 0, false, nil
	}
	switch v := v.(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v != float64(int(v)) {
			return 0, false, fmt.Errorf("%q: expected an integer, got %v", key, v)
		}
		return int(v), true, nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("%q: expected an integer, got %q", key, v)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("%q: expected an integer, got %T", key, v)
	}
}

// Map returns the mapping at key.
func (d Description) Map(key string) (m Description, ok bool, err error) {
	v, found := d[key]
	if !found || v == nil {
		return nil, false, nil
	}
	switch v := normalizeValue(v).(type) {
	case Description:
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("%q: expected a mapping, got %T", key, v)
	}
}

// List returns the sequence at key.
func (d Description) List(key string) (l []any, ok bool, err error) {
	v, found := d[key]
	if !found || v == nil {
		return nil, false, nil
	}
	switch v := normalizeValue(v).(type) {
	case []any:
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("%q: expected a list, got %T", key, v)
	}
}

// AsDescription converts a list element to a Description.
func AsDescription(v any) (Description, error) {
	switch v := normalizeValue(v).(type) {
	case Description:
		return v, nil
	default:
		return nil, fmt.Errorf("expected a mapping, got %T", v)
	}
}
