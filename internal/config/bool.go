package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToBool converts a configuration option value to a boolean. Strings are
// true when they are one of y, yes, t, true, on, enabled or 1, in any case.
func ToBool(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "y", "yes", "t", "true", "on", "enabled", "1":
			return true
		}
		return false
	default:
		return ToBool(fmt.Sprint(v))
	}
}

// Bool is a boolean option that accepts the spellings understood by ToBool.
type Bool bool

func (b *Bool) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		return err
	}
	*b = Bool(ToBool(v))
	return nil
}

func (b *Bool) UnmarshalTOML(v any) error {
	*b = Bool(ToBool(v))
	return nil
}
