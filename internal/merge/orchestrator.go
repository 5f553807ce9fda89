package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"deckmerge/internal/pptx"
	"deckmerge/internal/shared/metrics"
	"deckmerge/internal/shared/storage/object"
	"deckmerge/internal/shared/telemetry"
	"deckmerge/internal/uploads"
)

const (
	// OutputURLPrefix is the path under which outputs are served.
	OutputURLPrefix = "/output/"

	outputNamePrefix = "merged_"
	maxNameAttempts  = 5
)

// Numbering selects how the slides of an appended file are enumerated.
type Numbering string

const (
	// NumberingListing appends the slide parts found in the container
	// listing, in ascending index order.
	NumberingListing Numbering = "listing"
	// NumberingDense counts slide parts and appends 1..count. A file whose
	// slide parts have gaps fails the job.
	NumberingDense Numbering = "dense"
)

// ParseNumbering maps a config value to a Numbering, defaulting to listing.
func ParseNumbering(s string) Numbering {
	if Numbering(s) == NumberingDense {
		return NumberingDense
	}
	return NumberingListing
}

// Assembler builds one output presentation.
type Assembler interface {
	LoadRoot(path string) error
	RegisterSource(path string) error
	AppendSlide(source string, index int) error
	Write(ctx context.Context, w io.Writer) error
}

// Inspector reads slide part listings of a container.
type Inspector interface {
	CountSlideParts(path string) (int, error)
	SlideIndices(path string) ([]int, error)
}

// Source is one uploaded file in request order.
type Source struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// Result describes a successful merge.
type Result struct {
	JobID          string
	OutputName     string
	DownloadURL    string
	BaseSlides     int
	AppendedSlides int
	Bytes          int64
	Duration       time.Duration
}

// Options configures an Orchestrator. Zero values pick the defaults.
type Options struct {
	UploadDir    string
	Store        object.ObjectStore
	Inspector    Inspector
	NewAssembler func() Assembler
	Numbering    Numbering
	Now          func() time.Time
}

// Orchestrator runs merge jobs. It holds no per-job state and is safe for
// concurrent use.
type Orchestrator struct {
	uploadDir    string
	store        object.ObjectStore
	inspector    Inspector
	newAssembler func() Assembler
	numbering    Numbering
	now          func() time.Time
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		uploadDir:    opts.UploadDir,
		store:        opts.Store,
		inspector:    opts.Inspector,
		newAssembler: opts.NewAssembler,
		numbering:    opts.Numbering,
		now:          opts.Now,
	}
	if o.inspector == nil {
		o.inspector = pptx.Inspector{}
	}
	if o.newAssembler == nil {
		o.newAssembler = func() Assembler { return pptx.NewEngine() }
	}
	if o.numbering == "" {
		o.numbering = NumberingListing
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Run merges sources into one output. The first source is the base; every
// other source contributes its slides after it, in order. Staged uploads are
// removed before Run returns.
func (o *Orchestrator) Run(ctx context.Context, sources []Source) (Result, error) {
	if len(sources) == 0 {
		return Result{}, ErrNoFiles
	}
	if o.store == nil {
		return Result{}, errors.New("merge: output store is not configured")
	}

	job := newJob(o.now())
	metrics.IncMergeStarted()
	result, err := o.run(ctx, job, sources)
	duration := o.now().Sub(job.started)
	metrics.ObserveMergeDurationMs(float64(duration.Milliseconds()))
	if err != nil {
		metrics.IncMergeFailed()
		return Result{JobID: job.ID}, err
	}
	metrics.IncMergeCompleted()
	metrics.AddSlidesAppended(result.AppendedSlides)
	result.Duration = duration
	telemetry.Info("merge.job.completed", map[string]any{
		"job_id":          job.ID,
		"output":          result.OutputName,
		"files":           len(sources),
		"base_slides":     result.BaseSlides,
		"appended_slides": result.AppendedSlides,
		"bytes":           result.Bytes,
		"duration_ms":     duration.Milliseconds(),
	})
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, job *Job, sources []Source) (Result, error) {
	ws, err := uploads.NewWorkspace(o.uploadDir)
	if err != nil {
		return Result{}, job.fail(StateNormalizing, err)
	}
	defer func() { _ = ws.Release() }()

	job.transition(StateNormalizing)
	staged := make([]uploads.StagedFile, 0, len(sources))
	for _, src := range sources {
		f, err := o.receive(ctx, ws, src)
		if err != nil {
			return Result{}, job.fail(StateNormalizing, err)
		}
		staged = append(staged, f)
	}
	job.stage(staged)

	asm := o.newAssembler()
	if err := asm.LoadRoot(job.BaseFile.Path); err != nil {
		return Result{}, job.fail(StateBaseLoaded, err)
	}
	baseSlides, err := o.slideIndices(job.BaseFile.Path)
	if err != nil {
		return Result{}, job.fail(StateBaseLoaded, err)
	}
	job.transition(StateBaseLoaded)

	for _, f := range job.Appended {
		if err := asm.RegisterSource(f.Path); err != nil {
			return Result{}, job.fail(StateSourcesRegistered, fmt.Errorf("%s: %w", f.OriginalName, err))
		}
	}
	job.transition(StateSourcesRegistered)

	appended := 0
	for _, f := range job.Appended {
		if err := ctx.Err(); err != nil {
			return Result{}, job.fail(StateSlidesAppended, err)
		}
		indices, err := o.slideIndices(f.Path)
		if err != nil {
			return Result{}, job.fail(StateSlidesAppended, fmt.Errorf("%s: %w", f.OriginalName, err))
		}
		for _, i := range indices {
			if err := asm.AppendSlide(f.Path, i); err != nil {
				return Result{}, job.fail(StateSlidesAppended, fmt.Errorf("%s: %w", f.OriginalName, err))
			}
			appended++
		}
	}
	job.transition(StateSlidesAppended)

	var buf bytes.Buffer
	if err := asm.Write(ctx, &buf); err != nil {
		return Result{}, job.fail(StateWritten, fmt.Errorf("%w: %w", ErrWriteFailed, err))
	}
	name, err := o.materialize(ctx, buf.Bytes())
	if err != nil {
		return Result{}, job.fail(StateWritten, fmt.Errorf("%w: %w", ErrWriteFailed, err))
	}
	job.OutputName = name
	job.transition(StateWritten)

	return Result{
		JobID:          job.ID,
		OutputName:     name,
		DownloadURL:    OutputURLPrefix + name,
		BaseSlides:     len(baseSlides),
		AppendedSlides: appended,
		Bytes:          int64(buf.Len()),
	}, nil
}

func (o *Orchestrator) receive(ctx context.Context, ws *uploads.Workspace, src Source) (uploads.StagedFile, error) {
	if src.Open == nil {
		return uploads.StagedFile{}, fmt.Errorf("%s: no content", src.Name)
	}
	rc, err := src.Open()
	if err != nil {
		return uploads.StagedFile{}, fmt.Errorf("open %s: %w", src.Name, err)
	}
	defer rc.Close()

	f, err := ws.Receive(ctx, src.Name, rc)
	if err != nil {
		return uploads.StagedFile{}, err
	}
	return ws.Normalize(f)
}

// slideIndices enumerates the slides to append according to the numbering
// policy.
func (o *Orchestrator) slideIndices(path string) ([]int, error) {
	if o.numbering == NumberingDense {
		count, err := o.inspector.CountSlideParts(path)
		if err != nil {
			return nil, err
		}
		indices := make([]int, count)
		for i := range indices {
			indices[i] = i + 1
		}
		return indices, nil
	}
	return o.inspector.SlideIndices(path)
}

// materialize stores data as merged_<ms>.pptx. A name taken within the same
// millisecond moves the timestamp forward by one.
func (o *Orchestrator) materialize(ctx context.Context, data []byte) (string, error) {
	ms := o.now().UnixMilli()
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := fmt.Sprintf("%s%d%s", outputNamePrefix, ms+int64(attempt), uploads.Extension)
		_, err := o.store.Create(ctx, name, pptx.MimeType, bytes.NewReader(data))
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, object.ErrExists) {
			return "", err
		}
		telemetry.Warn("merge.output.name_taken", map[string]any{"name": name, "attempt": attempt + 1})
	}
	return "", fmt.Errorf("no free output name after %d attempts", maxNameAttempts)
}
