package observe

import (
	"errors"
	"fmt"
)

// Failure taxonomy for one observation cycle. Each aborts only the cycle
// that produced it; the cadence continues.
var (
	ErrCaptureFailure  = errors.New("capture failed")
	ErrUploadFailure   = errors.New("upload failed")
	ErrAnalysisFailure = errors.New("analysis failed")

	// ErrBusy is returned when a cycle is requested while one is in flight.
	ErrBusy = errors.New("observation cycle already in progress")
	// ErrPaused is returned when a cycle is requested while paused or stopped.
	ErrPaused = errors.New("observation loop not accepting cycles")
)

// CycleError records the stage a cycle failed in.
type CycleError struct {
	Stage State
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("observe %s: %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

func stageError(stage State, kind error, cause error) error {
	if cause == nil {
		return &CycleError{Stage: stage, Err: kind}
	}
	return &CycleError{Stage: stage, Err: fmt.Errorf("%w: %w", kind, cause)}
}
