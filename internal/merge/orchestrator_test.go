package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"deckmerge/internal/pptx"
	"deckmerge/internal/pptx/pptxtest"
	"deckmerge/internal/shared/storage/object"
	"deckmerge/internal/shared/storage/object/local"
	"deckmerge/internal/shared/telemetry"
)

var outputNamePattern = regexp.MustCompile(`^merged_\d+\.pptx$`)

type testEnv struct {
	uploadDir string
	outputDir string
	store     *local.Store
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	restore := telemetry.SetOutput(io.Discard)
	t.Cleanup(restore)
	root := t.TempDir()
	env := testEnv{
		uploadDir: filepath.Join(root, "uploads"),
		outputDir: filepath.Join(root, "public", "output"),
	}
	env.store = local.New(env.outputDir)
	return env
}

func (env testEnv) orchestrator(opts Options) *Orchestrator {
	opts.UploadDir = env.uploadDir
	if opts.Store == nil {
		opts.Store = env.store
	}
	return NewOrchestrator(opts)
}

func fileSource(path string) Source {
	return Source{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

func bytesSource(name string, data []byte) Source {
	return Source{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func outlineTexts(t *testing.T, path string) []string {
	t.Helper()
	outline, err := pptx.Inspector{}.Outline(path)
	require.NoError(t, err)
	out := make([]string, 0, len(outline))
	for _, s := range outline {
		out = append(out, s.Text)
	}
	return out
}

func TestRunAppendsSlidesInUploadOrder(t *testing.T) {
	env := newTestEnv(t)
	decks := t.TempDir()
	a := pptxtest.WriteFile(t, decks, "A.pptx", pptxtest.Texts("A1", "A2", "A3"))
	b := pptxtest.WriteFile(t, decks, "B.pptx", pptxtest.Texts("B1", "B2"))

	res, err := env.orchestrator(Options{}).Run(context.Background(), []Source{fileSource(a), fileSource(b)})
	require.NoError(t, err)

	assert.Regexp(t, outputNamePattern, res.OutputName)
	assert.Equal(t, "/output/"+res.OutputName, res.DownloadURL)
	assert.Equal(t, 3, res.BaseSlides)
	assert.Equal(t, 2, res.AppendedSlides)
	assert.NotEmpty(t, res.JobID)
	assert.Positive(t, res.Bytes)

	assert.Equal(t, []string{"A1", "A2", "A3", "B1", "B2"}, outlineTexts(t, filepath.Join(env.outputDir, res.OutputName)))
	assert.Empty(t, dirEntries(t, env.uploadDir), "staged uploads are released")
}

func TestRunSingleFileCopiesBase(t *testing.T) {
	env := newTestEnv(t)
	a := pptxtest.WriteFile(t, t.TempDir(), "A.pptx", pptxtest.Texts("A1", "A2"))

	res, err := env.orchestrator(Options{}).Run(context.Background(), []Source{fileSource(a)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.AppendedSlides)
	assert.Equal(t, []string{"A1", "A2"}, outlineTexts(t, filepath.Join(env.outputDir, res.OutputName)))
}

func TestRunWithoutSourcesCreatesNothing(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orchestrator(Options{}).Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoFiles)
	assert.Empty(t, dirEntries(t, env.outputDir))
	assert.Empty(t, dirEntries(t, env.uploadDir))
}

func TestRunCorruptSourceFailsWholeJob(t *testing.T) {
	env := newTestEnv(t)
	a := pptxtest.WriteFile(t, t.TempDir(), "A.pptx", pptxtest.Texts("A1"))

	_, err := env.orchestrator(Options{}).Run(context.Background(), []Source{
		fileSource(a),
		bytesSource("B.pptx", []byte("definitely not a zip")),
	})
	require.Error(t, err)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StateSourcesRegistered, stepErr.Step)
	assert.NotErrorIs(t, err, ErrWriteFailed)

	assert.Empty(t, dirEntries(t, env.outputDir))
	assert.Empty(t, dirEntries(t, env.uploadDir))
}

func TestRunCorruptBaseFails(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orchestrator(Options{}).Run(context.Background(), []Source{bytesSource("A.pptx", []byte("junk"))})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StateBaseLoaded, stepErr.Step)
	assert.Empty(t, dirEntries(t, env.uploadDir))
}

func TestRunSameMillisecondProducesDistinctOutputs(t *testing.T) {
	env := newTestEnv(t)
	decks := t.TempDir()
	a := pptxtest.WriteFile(t, decks, "A.pptx", pptxtest.Texts("A1"))
	b := pptxtest.WriteFile(t, decks, "B.pptx", pptxtest.Texts("B1"))

	frozen := time.UnixMilli(1_700_000_000_000)
	orch := env.orchestrator(Options{Now: func() time.Time { return frozen }})

	first, err := orch.Run(context.Background(), []Source{fileSource(a)})
	require.NoError(t, err)
	second, err := orch.Run(context.Background(), []Source{fileSource(b)})
	require.NoError(t, err)

	assert.Equal(t, "merged_1700000000000.pptx", first.OutputName)
	assert.Equal(t, "merged_1700000000001.pptx", second.OutputName)
	assert.Equal(t, []string{"A1"}, outlineTexts(t, filepath.Join(env.outputDir, first.OutputName)))
	assert.Equal(t, []string{"B1"}, outlineTexts(t, filepath.Join(env.outputDir, second.OutputName)))
}

func TestRunConcurrentJobsDoNotOverwrite(t *testing.T) {
	env := newTestEnv(t)
	decks := t.TempDir()
	frozen := time.UnixMilli(1_700_000_000_000)
	orch := env.orchestrator(Options{Now: func() time.Time { return frozen }})

	const jobs = maxNameAttempts
	var mu sync.Mutex
	names := map[string]string{}
	var g errgroup.Group
	for i := 0; i < jobs; i++ {
		text := fmt.Sprintf("job-%d", i)
		deck := pptxtest.WriteFile(t, decks, text+".pptx", pptxtest.Texts(text))
		g.Go(func() error {
			res, err := orch.Run(context.Background(), []Source{fileSource(deck)})
			if err != nil {
				return err
			}
			mu.Lock()
			names[res.OutputName] = text
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, names, jobs)
	for name, text := range names {
		assert.Equal(t, []string{text}, outlineTexts(t, filepath.Join(env.outputDir, name)))
	}
	assert.Empty(t, dirEntries(t, env.uploadDir))
}

func TestNumberingWithSlideGaps(t *testing.T) {
	decks := t.TempDir()
	a := pptxtest.WriteFile(t, decks, "A.pptx", pptxtest.Texts("A1"))
	sparse := pptxtest.WriteFile(t, decks, "S.pptx", pptxtest.Deck{Slides: []pptxtest.Slide{
		{Part: 1, Text: "S1"},
		{Part: 3, Text: "S3"},
	}})

	t.Run("listing", func(t *testing.T) {
		env := newTestEnv(t)
		res, err := env.orchestrator(Options{Numbering: NumberingListing}).Run(context.Background(), []Source{fileSource(a), fileSource(sparse)})
		require.NoError(t, err)
		assert.Equal(t, []string{"A1", "S1", "S3"}, outlineTexts(t, filepath.Join(env.outputDir, res.OutputName)))
	})

	t.Run("dense", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.orchestrator(Options{Numbering: NumberingDense}).Run(context.Background(), []Source{fileSource(a), fileSource(sparse)})
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, StateSlidesAppended, stepErr.Step)
		assert.ErrorIs(t, err, pptx.ErrSlideNotFound)
		assert.Empty(t, dirEntries(t, env.outputDir))
		assert.Empty(t, dirEntries(t, env.uploadDir))
	})
}

func TestParseNumbering(t *testing.T) {
	assert.Equal(t, NumberingDense, ParseNumbering("dense"))
	assert.Equal(t, NumberingListing, ParseNumbering("listing"))
	assert.Equal(t, NumberingListing, ParseNumbering(""))
}

type failingStore struct {
	err error
}

func (s failingStore) Create(context.Context, string, string, io.Reader) (int64, error) {
	return 0, s.err
}

func (s failingStore) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, object.ErrNotFound
}

func TestRunStoreFailuresAreWriteFailures(t *testing.T) {
	a := pptxtest.WriteFile(t, t.TempDir(), "A.pptx", pptxtest.Texts("A1"))

	for name, storeErr := range map[string]error{
		"disk error":     errors.New("disk full"),
		"names all used": object.ErrExists,
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.orchestrator(Options{Store: failingStore{err: storeErr}}).Run(context.Background(), []Source{fileSource(a)})
			assert.ErrorIs(t, err, ErrWriteFailed)
			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, StateWritten, stepErr.Step)
			assert.Empty(t, dirEntries(t, env.uploadDir))
		})
	}
}

// labelled stand-ins: every staged file holds its own label as content.
type recordingAssembler struct {
	calls []string
}

func label(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "?" + filepath.Base(path)
	}
	return string(data)
}

func (r *recordingAssembler) LoadRoot(path string) error {
	r.calls = append(r.calls, "root "+label(path))
	return nil
}

func (r *recordingAssembler) RegisterSource(path string) error {
	r.calls = append(r.calls, "register "+label(path))
	return nil
}

func (r *recordingAssembler) AppendSlide(source string, index int) error {
	r.calls = append(r.calls, fmt.Sprintf("append %s %d", label(source), index))
	return nil
}

func (r *recordingAssembler) Write(_ context.Context, w io.Writer) error {
	r.calls = append(r.calls, "write")
	_, err := io.WriteString(w, "merged")
	return err
}

type labelInspector map[string][]int

func (l labelInspector) CountSlideParts(path string) (int, error) {
	return len(l[label(path)]), nil
}

func (l labelInspector) SlideIndices(path string) ([]int, error) {
	return l[label(path)], nil
}

func TestRunDrivesAssemblerInOrder(t *testing.T) {
	env := newTestEnv(t)
	asm := &recordingAssembler{}
	inspector := labelInspector{"A": {1, 2}, "B": {1, 2}, "C": {4}}

	res, err := env.orchestrator(Options{
		NewAssembler: func() Assembler { return asm },
		Inspector:    inspector,
	}).Run(context.Background(), []Source{
		bytesSource("a.pptx", []byte("A")),
		bytesSource("b.pptx", []byte("B")),
		bytesSource("c.pptx", []byte("C")),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"root A",
		"register B",
		"register C",
		"append B 1",
		"append B 2",
		"append C 4",
		"write",
	}, asm.calls)
	assert.Equal(t, 3, res.AppendedSlides)

	data, err := os.ReadFile(filepath.Join(env.outputDir, res.OutputName))
	require.NoError(t, err)
	assert.Equal(t, "merged", string(data))
	for _, call := range asm.calls {
		assert.False(t, strings.HasPrefix(call, "append A"), "base slides are never re-appended")
	}
}
