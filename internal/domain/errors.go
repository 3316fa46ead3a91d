package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrJobFinished      = errors.New("job already finished")
	ErrResourceTimeout  = errors.New("resource lease wait timed out")
	ErrExecutionTimeout = errors.New("stage execution timed out")
)

// StageError reports the failure of one stage execution. It carries the stage
// kind so callers can attribute the failure without parsing messages.
type StageError struct {
	Stage StageKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps cause as a failure of the given stage.
func NewStageError(stage StageKind, cause error) *StageError {
	return &StageError{Stage: stage, Err: cause}
}
