package domain

import (
	"encoding/json"
	"errors"
)

var errNilFailure = errors.New("function failed without an error")

// Result is the terminal outcome of one invocation. It holds either a
// success value or an error, never both.
type Result struct {
	value any
	err   error
}

// Success wraps a success value.
func Success(v any) Result {
	return Result{value: v}
}

// Failure wraps an error. A nil error is replaced so the result still
// reads as a failure.
func Failure(err error) Result {
	if err == nil {
		err = errNilFailure
	}
	return Result{err: err}
}

// OK reports whether the result is a success.
func (r Result) OK() bool { return r.err == nil }

// Value returns the success value (nil on failure).
func (r Result) Value() any { return r.value }

// Err returns the failure (nil on success).
func (r Result) Err() error { return r.err }

// Unwrap returns the pair in Go's (value, error) convention.
func (r Result) Unwrap() (any, error) { return r.value, r.err }

// MarshalJSON renders the webhook response shape: {"success": v} or
// {"code": n, "error": "msg"}.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.err != nil {
		return json.Marshal(struct {
			Code  int    `json:"code"`
			Error string `json:"error"`
		}{Code: ErrorCode(r.err), Error: r.err.Error()})
	}
	return json.Marshal(struct {
		Success any `json:"success"`
	}{Success: r.value})
}
