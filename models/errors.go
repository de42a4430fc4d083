package models

import (
	"errors"
	"fmt"
)

// Error codes used throughout the pipeline. Field-level codes
// (MISSING_FIELD, COERCION_FAILED) never escalate past the extraction
// engine; session-level codes escalate to the session manager before
// they can fail a run.
const (
	ErrCodeSessionStart  = "SESSION_START_FAILED"
	ErrCodeSessionCrash  = "SESSION_CRASHED"
	ErrCodeStepTimeout   = "STEP_TIMEOUT"
	ErrCodeRequiredField = "REQUIRED_FIELD_MISSING"
	ErrCodeMissingField  = "MISSING_FIELD"
	ErrCodeCoercion      = "COERCION_FAILED"
	ErrCodeRunCancelled  = "RUN_CANCELLED"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeFetchFailed   = "FETCH_FAILED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// PipelineError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type PipelineError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError.
func NewPipelineError(code, message string, err error) *PipelineError {
	return &PipelineError{Code: code, Message: message, Err: err}
}

// CodeOf returns the pipeline error code of err, or ErrCodeInternal
// when err carries no PipelineError in its chain.
func CodeOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given pipeline error code.
func IsCode(err error, code string) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Code == code
}
