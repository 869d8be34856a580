package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Wire error codes used by the Parse REST and webhook contracts.
const (
	CodeInvalidJSON     = 107
	CodeObjectNotFound  = 101
	CodeScriptFailed    = 141
	CodeValidationError = 142
)

// TransportFailurePrefix starts every transport failure message.
const TransportFailurePrefix = "Request failed: "

var (
	ErrUnknownFunction = errors.New("unknown function")
	ErrUnknownJob      = errors.New("unknown job")
	ErrNoReviews       = errors.New("no reviews found")
	ErrReservedObject  = errors.New("object is reserved and cannot be deleted")
)

// MissingParamError reports a required parameter that was absent or empty.
type MissingParamError struct {
	Function string
	Param    string
	Hint     string
}

func (e *MissingParamError) Error() string {
	msg := fmt.Sprintf("missing required parameter %q", e.Param)
	if e.Hint != "" {
		msg += ": " + e.Hint
	}
	return msg
}

// InvalidParamError reports a parameter that is present but malformed.
type InvalidParamError struct {
	Function string
	Param    string
	Reason   string
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Reason)
}

// TransportError is an outbound call that failed at the network level or
// returned a non-2xx status.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	detail := e.Body
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	if detail == "" && e.StatusCode != 0 {
		detail = fmt.Sprintf("status %d", e.StatusCode)
	}
	return TransportFailurePrefix + detail
}

func (e *TransportError) Unwrap() error { return e.Err }

// NotFound reports whether the upstream answered 404.
func (e *TransportError) NotFound() bool { return e.StatusCode == 404 }

// DeliveryError is a structured failure reported by the push delivery API.
// Fields keeps every key of the upstream error object.
type DeliveryError struct {
	Code    int
	Message string
	Fields  map[string]any
}

func (e *DeliveryError) Error() string {
	msg := "push delivery failed"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if keys := e.Keys(); len(keys) > 0 {
		msg += " [" + strings.Join(keys, ",") + "]"
	}
	return msg
}

// Keys returns the error object's keys in sorted order.
func (e *DeliveryError) Keys() []string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PersistenceError is a record update that failed during a batch job.
type PersistenceError struct {
	RecordID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist record %s: %v", e.RecordID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrorCode maps an error onto the wire code reported to callers.
func ErrorCode(err error) int {
	if errors.Is(err, ErrReservedObject) {
		return CodeValidationError
	}
	return CodeScriptFailed
}
