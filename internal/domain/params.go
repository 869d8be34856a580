package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Params is the parameter bag of one invocation. Functions treat it as
// read-only for the duration of the call.
type Params map[string]any

// Lookup returns the named parameter when it is present and non-empty.
func (p Params) Lookup(name string) (any, bool) {
	v, ok := p[name]
	if !ok || IsEmpty(v) {
		return nil, false
	}
	return v, true
}

// String returns the parameter rendered as a string, or "" when missing.
func (p Params) String(name string) string {
	v, ok := p.Lookup(name)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(t, &s); err == nil {
			return s
		}
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// Require checks names in order and reports the first one that is missing.
func (p Params) Require(function string, names ...string) error {
	for _, name := range names {
		if _, ok := p.Lookup(name); !ok {
			return &MissingParamError{Function: function, Param: name}
		}
	}
	return nil
}

// Clone returns a shallow copy of the bag.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// IsEmpty reports whether v counts as a missing parameter value: nil, the
// empty string, a zero-length object or array, or a raw JSON null/""/{}/[].
// Numeric zero and false are present values.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	case json.RawMessage:
		trimmed := bytes.TrimSpace(t)
		switch string(trimmed) {
		case "", "null", `""`, "{}", "[]":
			return true
		}
		return false
	}
	return false
}
