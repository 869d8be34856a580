package gateway

import (
	"encoding/json"
	"testing"

	"github.com/oriys/cloudcode/internal/domain"
)

func TestValidateParams(t *testing.T) {
	specs := []Param{
		{Name: "name", Schema: map[string]any{"type": "string", "maxLength": float64(4), "pattern": "^[a-z]+$"}},
		{Name: "count", Schema: map[string]any{"type": "integer", "minimum": float64(1)}},
		{Name: "tags", Schema: map[string]any{"type": "array", "minItems": float64(1), "items": map[string]any{"type": "string"}}},
	}

	tests := []struct {
		name    string
		params  domain.Params
		wantErr bool
	}{
		{"valid", domain.Params{"name": "ab", "count": json.Number("3"), "tags": []any{"x"}}, false},
		{"valid raw", domain.Params{"name": "ab", "count": 3, "tags": json.RawMessage(`["x","y"]`)}, false},
		{"zero count is present", domain.Params{"name": "ab", "count": 0, "tags": []any{"x"}}, true},
		{"long name", domain.Params{"name": "abcde", "count": 3, "tags": []any{"x"}}, true},
		{"name off pattern", domain.Params{"name": "AB", "count": 3, "tags": []any{"x"}}, true},
		{"fractional count", domain.Params{"name": "ab", "count": 2.5, "tags": []any{"x"}}, true},
		{"no tags", domain.Params{"name": "ab", "count": 3, "tags": []any{}}, true},
		{"bad tag", domain.Params{"name": "ab", "count": 3, "tags": []any{float64(1)}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateParams("fn", tt.params, specs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateParams() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateParamsReportsFirstMissing(t *testing.T) {
	specs := []Param{{Name: "a", Hint: "a is required"}, {Name: "b"}}

	err := validateParams("fn", domain.Params{}, specs)
	missing, ok := err.(*domain.MissingParamError)
	if !ok {
		t.Fatalf("expected *MissingParamError, got %T", err)
	}
	if missing.Param != "a" || missing.Error() != `missing required parameter "a": a is required` {
		t.Fatalf("unexpected error %q", missing.Error())
	}
}

func TestValidateObjectSchema(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		wantErr bool
	}{
		{"data only", map[string]any{"data": map[string]any{}}, false},
		{"full body", map[string]any{
			"data":                map[string]any{"alert": "hi"},
			"channels":            []any{"news"},
			"expiration_interval": float64(60),
		}, false},
		{"raw string", "text", false},
		{"missing data", map[string]any{"channels": []any{"news"}}, true},
		{"data not object", map[string]any{"data": "hi"}, true},
		{"empty channels", map[string]any{"data": map[string]any{}, "channels": []any{}}, true},
		{"negative expiry", map[string]any{"data": map[string]any{}, "expiration_interval": float64(-1)}, true},
		{"boolean", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateValue("payload", pushSchema, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateValue() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
