package domain

import "time"

// JobState is the lifecycle state of one job run.
type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobStatus is the per-run state: a processed count that only grows and a
// terminal outcome once the run ends.
type JobStatus struct {
	RunID        string     `json:"runId"`
	Job          string     `json:"job"`
	State        JobState   `json:"state"`
	Processed    int        `json:"processed"`
	Message      string     `json:"message,omitempty"`
	FailedRecord string     `json:"failedRecord,omitempty"`
	Detail       string     `json:"detail,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
}

// EventKind distinguishes progress reports from terminal outcomes.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventSuccess  EventKind = "success"
	EventError    EventKind = "error"
)

// JobEvent is one message written to a job's status sink.
type JobEvent struct {
	RunID     string    `json:"runId"`
	Job       string    `json:"job"`
	Kind      EventKind `json:"kind"`
	Message   string    `json:"message"`
	Processed int       `json:"processed"`
	At        time.Time `json:"at"`
}

// Terminal reports whether the event ends the run.
func (e JobEvent) Terminal() bool {
	return e.Kind == EventSuccess || e.Kind == EventError
}
