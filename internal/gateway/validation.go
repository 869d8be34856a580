package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"

	"github.com/oriys/cloudcode/internal/domain"
)

// validateParams checks specs in order. The first absent or empty
// parameter is reported as *domain.MissingParamError, a value failing its
// schema as *domain.InvalidParamError.
func validateParams(function string, params domain.Params, specs []Param) error {
	for _, p := range specs {
		v, ok := params.Lookup(p.Name)
		if !ok {
			return &domain.MissingParamError{Function: function, Param: p.Name, Hint: p.Hint}
		}
		if len(p.Schema) == 0 {
			continue
		}
		if err := validateValue(p.Name, p.Schema, normalize(v)); err != nil {
			return &domain.InvalidParamError{Function: function, Param: p.Name, Reason: err.Error()}
		}
	}
	return nil
}

// normalize turns raw JSON and json.Number values into the plain
// encoding/json shapes the validator understands.
func normalize(v any) any {
	switch t := v.(type) {
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(t, &out); err != nil {
			return string(t)
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	}
	return v
}

func validateValue(path string, schema map[string]any, value any) error {
	switch want := schema["type"].(type) {
	case string:
		if err := checkType(path, []string{want}, value); err != nil {
			return err
		}
	case []any:
		types := make([]string, 0, len(want))
		for _, t := range want {
			if s, ok := t.(string); ok {
				types = append(types, s)
			}
		}
		if err := checkType(path, types, value); err != nil {
			return err
		}
	}

	switch v := value.(type) {
	case string:
		return validateString(path, schema, v)
	case float64:
		return validateNumber(path, schema, v)
	case map[string]any:
		return validateObject(path, schema, v)
	case []any:
		return validateArray(path, schema, v)
	}
	return nil
}

func typeName(value any) string {
	switch v := value.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		if v == math.Trunc(v) {
			return "integer"
		}
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return reflect.TypeOf(value).String()
	}
}

func checkType(path string, expected []string, value any) error {
	actual := typeName(value)
	for _, want := range expected {
		if want == actual || (want == "number" && actual == "integer") {
			return nil
		}
	}
	return fmt.Errorf("%s: expected type %s, got %s", path, strings.Join(expected, " or "), actual)
}

func validateString(path string, schema map[string]any, value string) error {
	if maxLen, ok := schema["maxLength"].(float64); ok && len(value) > int(maxLen) {
		return fmt.Errorf("%s: string length %d exceeds maximum %d", path, len(value), int(maxLen))
	}
	if pattern, ok := schema["pattern"].(string); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%s: invalid pattern %q: %w", path, pattern, err)
		}
		if !re.MatchString(value) {
			return fmt.Errorf("%s: string does not match pattern %q", path, pattern)
		}
	}
	return nil
}

func validateNumber(path string, schema map[string]any, value float64) error {
	if lo, ok := schema["minimum"].(float64); ok && value < lo {
		return fmt.Errorf("%s: value %v below minimum %v", path, value, lo)
	}
	return nil
}

func validateObject(path string, schema map[string]any, obj map[string]any) error {
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			field, ok := r.(string)
			if !ok {
				continue
			}
			if _, exists := obj[field]; !exists {
				return fmt.Errorf("%s: missing required field %q", path, field)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for field, raw := range props {
			fieldSchema, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			v, exists := obj[field]
			if !exists {
				continue
			}
			if err := validateValue(path+"."+field, fieldSchema, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateArray(path string, schema map[string]any, arr []any) error {
	if minItems, ok := schema["minItems"].(float64); ok && len(arr) < int(minItems) {
		return fmt.Errorf("%s: array length %d below minimum %d", path, len(arr), int(minItems))
	}
	if items, ok := schema["items"].(map[string]any); ok {
		for i, item := range arr {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), items, item); err != nil {
				return err
			}
		}
	}
	return nil
}
