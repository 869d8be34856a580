// Package store persists job runs and invocation logs in Postgres and
// streams job status events through Redis.
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// InvocationLog is one persisted gateway invocation.
type InvocationLog struct {
	ID             string          `json:"id"`
	FunctionName   string          `json:"function_name"`
	DurationMs     int64           `json:"duration_ms"`
	Success        bool            `json:"success"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	UpstreamMethod string          `json:"upstream_method,omitempty"`
	UpstreamURL    string          `json:"upstream_url,omitempty"`
	UpstreamStatus int             `json:"upstream_status,omitempty"`
	InputSize      int             `json:"input_size"`
	OutputSize     int             `json:"output_size"`
	Input          json.RawMessage `json:"input,omitempty"`
	TraceID        string          `json:"trace_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
