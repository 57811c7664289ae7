package backend

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Options carries backend configuration as a dynamic key/value map, the
// shape in which cache definitions arrive from application configuration.
// Values are validated and canonicalized by Schema.Validate before a
// backend reads them.
type Options map[string]any

// Infinite is the duration option value meaning "never expire".
const Infinite = "infinite"

// ValueType constrains what a schema option accepts.
type ValueType int

const (
	// TypeString accepts any string.
	TypeString ValueType = iota
	// TypeIdentifier accepts a string of letters, digits and underscores
	// not starting with a digit. Used for table and cache names that end
	// up as storage identifiers.
	TypeIdentifier
	// TypePath accepts a filesystem path string.
	TypePath
	// TypePositiveInt accepts an integer greater than zero.
	TypePositiveInt
	// TypeNonNegativeInt accepts an integer greater than or equal to zero.
	TypeNonNegativeInt
	// TypeBool accepts a boolean.
	TypeBool
	// TypeDuration accepts a positive integer of milliseconds, a
	// time.Duration, or the string Infinite. Canonicalized to a
	// time.Duration where zero means "never expire".
	TypeDuration
	// TypeStringList accepts a list of strings. Canonicalized to []string.
	TypeStringList
)

// OptionSpec describes one option accepted by a backend.
type OptionSpec struct {
	Type     ValueType
	Default  any
	Required bool
}

// Schema maps option names to their specifications. Each backend declares
// one and validates incoming options against it at construction.
type Schema map[string]OptionSpec

var identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks opts against the schema and returns a canonicalized copy:
// unknown keys are rejected, values are type-checked and converted to their
// canonical Go types, and defaults are filled in for absent keys. opts is
// not modified.
func (s Schema) Validate(opts Options) (Options, error) {
	var unknown []string
	for name := range opts {
		if _, ok := s[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown options: %s", strings.Join(unknown, ", "))
	}

	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(Options, len(s))
	for _, name := range names {
		spec := s[name]
		raw, ok := opts[name]
		if !ok {
			if spec.Required {
				return nil, fmt.Errorf("option %q is required", name)
			}
			if spec.Default == nil {
				continue
			}
			raw = spec.Default
		}
		v, err := coerce(name, spec.Type, raw)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func coerce(name string, t ValueType, raw any) (any, error) {
	switch t {
	case TypeString, TypePath:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("option %q: expected string, got %T", name, raw)
		}
		return s, nil
	case TypeIdentifier:
		s, ok := raw.(string)
		if !ok || !identifierRe.MatchString(s) {
			return nil, fmt.Errorf("option %q: expected identifier, got %v", name, raw)
		}
		return s, nil
	case TypePositiveInt:
		n, ok := toInt(raw)
		if !ok || n <= 0 {
			return nil, fmt.Errorf("option %q: expected a positive integer, got %v", name, raw)
		}
		return n, nil
	case TypeNonNegativeInt:
		n, ok := toInt(raw)
		if !ok || n < 0 {
			return nil, fmt.Errorf("option %q: expected a non-negative integer, got %v", name, raw)
		}
		return n, nil
	case TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("option %q: expected a boolean, got %v", name, raw)
		}
		return b, nil
	case TypeDuration:
		switch v := raw.(type) {
		case string:
			if v == Infinite {
				return time.Duration(0), nil
			}
			return nil, fmt.Errorf("option %q: expected milliseconds or %q, got %q", name, Infinite, v)
		case time.Duration:
			if v <= 0 {
				return nil, fmt.Errorf("option %q: expected a positive integer, got %v", name, raw)
			}
			return v, nil
		default:
			n, ok := toInt(raw)
			if !ok || n <= 0 {
				return nil, fmt.Errorf("option %q: expected a positive integer, got %v", name, raw)
			}
			return time.Duration(n) * time.Millisecond, nil
		}
	case TypeStringList:
		switch v := raw.(type) {
		case []string:
			out := make([]string, len(v))
			copy(out, v)
			return out, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, e := range v {
				s, ok := e.(string)
				if !ok {
					return nil, fmt.Errorf("option %q: expected a list of strings, got element %T", name, e)
				}
				out = append(out, s)
			}
			return out, nil
		case string:
			return []string{v}, nil
		default:
			return nil, fmt.Errorf("option %q: expected a list of strings, got %T", name, raw)
		}
	default:
		return nil, fmt.Errorf("option %q: unsupported value type %d", name, t)
	}
}

// toInt accepts the integer shapes configuration decoders produce. Floats
// are accepted only when integral, since JSON decodes all numbers to
// float64.
func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int(v), true
	case float32:
		if v != float32(int64(v)) {
			return 0, false
		}
		return int(v), true
	default:
		return 0, false
	}
}

// String returns the validated string option, or "" when absent.
func (o Options) String(name string) string {
	v, _ := o[name].(string)
	return v
}

// Int returns the validated integer option, or 0 when absent.
func (o Options) Int(name string) int {
	v, _ := o[name].(int)
	return v
}

// Bool returns the validated boolean option, or false when absent.
func (o Options) Bool(name string) bool {
	v, _ := o[name].(bool)
	return v
}

// Duration returns the validated duration option, or 0 when absent. A zero
// duration means "never expire" for options of TypeDuration.
func (o Options) Duration(name string) time.Duration {
	v, _ := o[name].(time.Duration)
	return v
}

// StringList returns the validated string list option, or nil when absent.
func (o Options) StringList(name string) []string {
	v, _ := o[name].([]string)
	return v
}
