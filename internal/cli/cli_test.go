package cli

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deckmerge/internal/collector"
	"deckmerge/internal/merge"
	"deckmerge/internal/pptx"
	"deckmerge/internal/pptx/pptxtest"
	"deckmerge/internal/shared/storage/object/local"
	"deckmerge/internal/shared/telemetry"
)

func newMergeServer(t *testing.T) *httptest.Server {
	t.Helper()
	restore := telemetry.SetOutput(io.Discard)
	t.Cleanup(restore)
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	store := local.New(filepath.Join(root, "output"))
	orch := merge.NewOrchestrator(merge.Options{UploadDir: filepath.Join(root, "uploads"), Store: store})
	r := gin.New()
	merge.NewHandler(orch, store, 0).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := Root()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestMergeCommandExcludesAndDownloads(t *testing.T) {
	srv := newMergeServer(t)
	decks := t.TempDir()
	a := pptxtest.WriteFile(t, decks, "A.pptx", pptxtest.Texts("A1", "A2"))
	b := pptxtest.WriteFile(t, decks, "B.pptx", pptxtest.Texts("B1"))
	c := pptxtest.WriteFile(t, decks, "C.pptx", pptxtest.Texts("C1", "C2"))
	notes := filepath.Join(decks, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0o644))
	out := filepath.Join(t.TempDir(), "merged.pptx")

	stdout, stderr, err := run(t, "merge", a, notes, b, c, "--server", srv.URL, "--exclude", "2", "-o", out)
	require.NoError(t, err)
	assert.Contains(t, stderr, "skipped 1 file(s)")
	assert.Contains(t, stdout, "1. A.pptx\n2. C.pptx\n")
	assert.Regexp(t, `merged: .*/output/merged_\d+\.pptx`, stdout)
	assert.Contains(t, stdout, "saved "+out)

	outline, err := pptx.Inspector{}.Outline(out)
	require.NoError(t, err)
	var texts []string
	for _, s := range outline {
		texts = append(texts, s.Text)
	}
	assert.Equal(t, []string{"A1", "A2", "C1", "C2"}, texts)
}

func TestMergeCommandRejectsNonPresentations(t *testing.T) {
	notes := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("x"), 0o644))

	_, _, err := run(t, "merge", notes, "--server", "http://127.0.0.1:1")
	assert.ErrorIs(t, err, collector.ErrNoQualifyingFiles)
}

func TestMergeCommandBadExclude(t *testing.T) {
	a := pptxtest.WriteFile(t, t.TempDir(), "A.pptx", pptxtest.Texts("A1"))

	_, _, err := run(t, "merge", a, "--exclude", "3", "--server", "http://127.0.0.1:1")
	assert.ErrorIs(t, err, collector.ErrIndexOutOfRange)
}

func TestInspectCommand(t *testing.T) {
	a := pptxtest.WriteFile(t, t.TempDir(), "A.pptx", pptxtest.Texts("Hello", "World"))

	stdout, _, err := run(t, "inspect", a)
	require.NoError(t, err)
	assert.Contains(t, stdout, "slide parts: 2 [1 2]")
	assert.Contains(t, stdout, "Hello")
	assert.Contains(t, stdout, "World")
	assert.NotContains(t, stdout, "warning")
}

func TestExcludePositionsHighestFirst(t *testing.T) {
	set := collector.NewUploadSet()
	_, err := set.Add(
		collector.File{Name: "a.pptx"},
		collector.File{Name: "b.pptx"},
		collector.File{Name: "c.pptx"},
		collector.File{Name: "d.pptx"},
	)
	require.NoError(t, err)

	require.NoError(t, excludePositions(set, []int{1, 3, 3}))
	var names []string
	for _, f := range set.Snapshot() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"b.pptx", "d.pptx"}, names)
}
