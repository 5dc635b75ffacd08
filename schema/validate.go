package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// oneOfMismatch is reported when no alternative of a OneOf schema accepts
// the value.
const oneOfMismatch = "Cannot find a schema in oneOf that matches the given input"

// Errors is the ordered list of validation messages for one value. An
// empty list means the value is valid.
type Errors []string

// IsEmpty reports whether validation succeeded.
func (e Errors) IsEmpty() bool { return len(e) == 0 }

// Err returns nil for an empty list and a *ValidationError otherwise.
func (e Errors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return &ValidationError{Errors: append(Errors(nil), e...)}
}

// ValidationError carries every violation found in a value.
type ValidationError struct {
	Errors Errors
}

func (e *ValidationError) Error() string {
	return "Invalid params: " + strings.Join(e.Errors, "; ")
}

// Validate checks value against s and returns every violation found.
// A nil schema accepts everything. value is expected to be a decoded
// JSON value (nil, bool, json.Number or a Go number, string, []any,
// map[string]any) and is never modified.
func Validate(value any, s *Schema) Errors {
	var v validator
	v.validate(value, s, "")
	return v.errors
}

// Accepts reports whether value satisfies s.
func Accepts(value any, s *Schema) bool {
	return Validate(value, s).IsEmpty()
}

type validator struct {
	errors Errors
}

func (v *validator) add(format string, args ...any) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *validator) validate(value any, s *Schema, path string) {
	if s.IsWildcard() {
		return
	}
	if s.Type == TypeOneOf {
		v.validateOneOf(value, s)
		return
	}

	got := TypeOf(value)
	if !matchesType(got, s.Type) {
		v.add("Invalid type%s: expected '%s', got '%s'", at(path), s.Type, got)
		return
	}

	switch s.Type {
	case TypeInteger, TypeNumber:
		v.validateBounds(value, s, path)
	case TypeString:
		v.validateEnum(value.(string), s, path)
	case TypeObject:
		v.validateObject(value.(map[string]any), s, path)
	case TypeArray:
		v.validateArray(value.([]any), s, path)
	}
}

func (v *validator) validateOneOf(value any, s *Schema) {
	for _, alternative := range s.Alternatives {
		// Each trial collects into its own validator so one alternative's
		// failures never decide another's verdict.
		var trial validator
		trial.validate(value, alternative, "")
		if len(trial.errors) == 0 {
			return
		}
	}
	v.add(oneOfMismatch)
}

func (v *validator) validateBounds(value any, s *Schema, path string) {
	number, ok := numberValue(value)
	if !ok {
		return
	}
	if s.Minimum != nil && number < *s.Minimum {
		v.add("Value below minimum%s: expected >= %s, got %s", at(path), formatNumber(*s.Minimum), formatValue(value))
	}
	if s.Maximum != nil && number > *s.Maximum {
		v.add("Value above maximum%s: expected <= %s, got %s", at(path), formatNumber(*s.Maximum), formatValue(value))
	}
}

func (v *validator) validateEnum(value string, s *Schema, path string) {
	if len(s.Enums) == 0 {
		return
	}
	for _, e := range s.Enums {
		if e == value {
			return
		}
	}
	quoted := make([]string, len(s.Enums))
	for i, e := range s.Enums {
		quoted[i] = "'" + e + "'"
	}
	v.add("Invalid enum%s: '%s' not in [%s]", at(path), value, strings.Join(quoted, ", "))
}

func (v *validator) validateObject(value map[string]any, s *Schema, path string) {
	for _, name := range s.Required {
		if _, ok := value[name]; !ok {
			v.add("Missing property: '%s'", join(path, name))
		}
	}
	for _, p := range s.Properties {
		child, ok := value[p.Name]
		if !ok {
			continue
		}
		v.validate(child, p.Schema, join(path, p.Name))
	}
	for _, key := range sortedKeys(value) {
		if _, declared := s.Property(key); declared {
			continue
		}
		if s.AdditionalProperties == nil {
			v.add("Unknown property: '%s'", key)
			continue
		}
		v.validate(value[key], s.AdditionalProperties, join(path, key))
	}
}

func (v *validator) validateArray(value []any, s *Schema, path string) {
	count := len(value)
	if s.MinItems != nil && count < *s.MinItems {
		v.add("Not enough items: expected at least %d item(s), got %d", *s.MinItems, count)
	}
	if s.MaxItems != nil && count > *s.MaxItems {
		v.add("Too many items: expected at most %d item(s), got %d", *s.MaxItems, count)
	}
	for i, item := range value {
		v.validate(item, s.Items, path+"["+strconv.Itoa(i)+"]")
	}
}

func at(path string) string {
	if path == "" {
		return ""
	}
	return " for " + path
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// matchesType applies the integer-to-number widening rule.
func matchesType(got string, want Type) bool {
	if got == want.String() {
		return true
	}
	return want == TypeNumber && got == TypeInteger.String()
}

// TypeOf returns the JSON type name of a decoded value. Integral numbers
// report "integer" whatever their Go representation.
func TypeOf(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return "integer"
		}
		if f, err := v.Float64(); err == nil && isIntegral(f) {
			return "integer"
		}
		return "number"
	case float64:
		if isIntegral(v) {
			return "integer"
		}
		return "number"
	case float32:
		if isIntegral(float64(v)) {
			return "integer"
		}
		return "number"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "integer"
	default:
		return "unknown"
	}
}

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f) && f == math.Trunc(f)
}

func numberValue(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// formatValue prints a number the way the client sent it.
func formatValue(value any) string {
	switch v := value.(type) {
	case json.Number:
		return v.String()
	case float64:
		return formatNumber(v)
	case float32:
		return formatNumber(float64(v))
	}
	return fmt.Sprint(value)
}
