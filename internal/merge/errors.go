package merge

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFiles is returned when a merge is requested without uploads.
	ErrNoFiles = errors.New("no files uploaded")
	// ErrWriteFailed marks failures while materializing the output.
	ErrWriteFailed = errors.New("merge failed during write")
)

// StepError reports the step a failed job was working on.
type StepError struct {
	JobID string
	Step  State
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("merge job %s: %s: %v", e.JobID, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
