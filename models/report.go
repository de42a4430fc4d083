package models

import "time"

// SessionState is the lifecycle state of a browser session.
type SessionState string

const (
	SessionStarting SessionState = "starting"
	SessionReady    SessionState = "ready"
	SessionBusy     SessionState = "busy"
	SessionCrashed  SessionState = "crashed"
	SessionClosed   SessionState = "closed"
)

// RunStatus is the terminal (or in-flight) status of a pipeline run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusDone      RunStatus = "done"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// FieldValue is one extracted field. Value is nil when the field was
// missing or failed coercion, in which case Error carries the code.
type FieldValue struct {
	Value any    `json:"value"`
	Error string `json:"error,omitempty"`
}

// Record is one structured datum extracted from a page or fetched JSON
// document. Records are immutable once created.
type Record struct {
	// Step and StepIndex are the provenance of this record.
	Step      string `json:"step"`
	StepIndex int    `json:"step_index"`

	ExtractedAt time.Time `json:"extracted_at"`

	Fields map[string]FieldValue `json:"fields"`
}

// Report is the aggregate of all Records produced in a run plus run
// metadata. It is mutated only by the report assembler appending
// records and is read-only once finalized.
type Report struct {
	RunID string `json:"run_id"`
	Name  string `json:"name,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Status RunStatus `json:"status"`

	// Failure describes why the run failed or was cancelled. Empty on
	// success.
	Failure string `json:"failure,omitempty"`

	StepsTotal      int `json:"steps_total"`
	StepsCompleted  int `json:"steps_completed"`
	StepsFailed     int `json:"steps_failed"`
	SessionRestarts int `json:"session_restarts"`
	RunAttempts     int `json:"run_attempts"`

	// Records preserves navigation order.
	Records []Record `json:"records"`
}
