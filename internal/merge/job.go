package merge

import (
	"time"

	"github.com/google/uuid"

	"deckmerge/internal/shared/telemetry"
	"deckmerge/internal/uploads"
)

// State is a step of the merge job lifecycle.
type State string

const (
	StateReceived          State = "received"
	StateNormalizing       State = "normalizing"
	StateBaseLoaded        State = "base_loaded"
	StateSourcesRegistered State = "sources_registered"
	StateSlidesAppended    State = "slides_appended"
	StateWritten           State = "written"
	StateResponded         State = "responded"
	StateFailed            State = "failed"
)

// Job is one request-scoped merge. BaseFile seeds the output; Appended
// contribute their slides in order.
type Job struct {
	ID         string
	Sources    []uploads.StagedFile
	BaseFile   uploads.StagedFile
	Appended   []uploads.StagedFile
	OutputName string
	State      State
	Err        error

	started time.Time
}

func newJob(now time.Time) *Job {
	j := &Job{
		ID:      uuid.NewString(),
		State:   StateReceived,
		started: now,
	}
	telemetry.Info("merge.job.transition", map[string]any{
		"job_id": j.ID,
		"to":     string(StateReceived),
	})
	return j
}

// stage records the normalized uploads and designates the base file.
func (j *Job) stage(files []uploads.StagedFile) {
	j.Sources = files
	if len(files) == 0 {
		return
	}
	j.BaseFile = files[0]
	j.Appended = files[1:]
}

func (j *Job) transition(to State) {
	from := j.State
	j.State = to
	telemetry.Info("merge.job.transition", map[string]any{
		"job_id": j.ID,
		"from":   string(from),
		"to":     string(to),
	})
}

// fail moves the job to failed and returns the step error to report.
func (j *Job) fail(step State, err error) error {
	stepErr := &StepError{JobID: j.ID, Step: step, Err: err}
	from := j.State
	j.State = StateFailed
	j.Err = stepErr
	telemetry.Error("merge.job.transition", map[string]any{
		"job_id": j.ID,
		"from":   string(from),
		"to":     string(StateFailed),
		"step":   string(step),
		"err":    err,
	})
	return stepErr
}
