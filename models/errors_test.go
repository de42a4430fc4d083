package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestPipelineError_Unwrap(t *testing.T) {
	cause := errors.New("websocket closed")
	err := NewPipelineError(ErrCodeSessionCrash, "browser connection lost", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if got := err.Error(); got != "SESSION_CRASHED: browser connection lost: websocket closed" {
		t.Errorf("Error() = %q", got)
	}
}

func TestCodeOf(t *testing.T) {
	crash := NewPipelineError(ErrCodeSessionCrash, "gone", nil)

	if got := CodeOf(crash); got != ErrCodeSessionCrash {
		t.Errorf("CodeOf = %q", got)
	}

	// Codes survive fmt wrapping.
	wrapped := fmt.Errorf("step 3: %w", crash)
	if got := CodeOf(wrapped); got != ErrCodeSessionCrash {
		t.Errorf("CodeOf(wrapped) = %q", got)
	}

	if got := CodeOf(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("CodeOf(plain) = %q, want INTERNAL_ERROR", got)
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w",
		NewPipelineError(ErrCodeStepTimeout, "budget exhausted", errors.New("predicate miss")))

	if !IsCode(err, ErrCodeStepTimeout) {
		t.Error("IsCode missed the wrapped code")
	}
	if IsCode(err, ErrCodeSessionCrash) {
		t.Error("IsCode matched the wrong code")
	}
	if IsCode(nil, ErrCodeStepTimeout) {
		t.Error("IsCode(nil) should be false")
	}
}
