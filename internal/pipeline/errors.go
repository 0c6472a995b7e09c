package pipeline

import (
	"errors"
	"fmt"
)

// ErrValidationFailed is returned by stages that refuse to consume data
// that did not pass validation.
var ErrValidationFailed = errors.New("data validation failed")

// StageError wraps the error that aborted a run with the stage it came from.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf reports the stage that aborted a run, if err came from one.
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
