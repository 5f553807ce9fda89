package pptx_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deckmerge/internal/pptx"
	"deckmerge/internal/pptx/pptxtest"
)

func mergeDecks(t *testing.T, root string, sources ...string) *pptx.Package {
	t.Helper()
	e := pptx.NewEngine()
	require.NoError(t, e.LoadRoot(root))
	for _, src := range sources {
		require.NoError(t, e.RegisterSource(src))
	}
	for _, src := range sources {
		indices, err := pptx.Inspector{}.SlideIndices(src)
		require.NoError(t, err)
		for _, i := range indices {
			require.NoError(t, e.AppendSlide(src, i))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, e.Write(context.Background(), &buf))
	pkg, err := pptx.ReadPackage(buf.Bytes())
	require.NoError(t, err)
	return pkg
}

func texts(t *testing.T, pkg *pptx.Package) []string {
	t.Helper()
	outline, err := pkg.Outline()
	require.NoError(t, err)
	out := make([]string, 0, len(outline))
	for _, s := range outline {
		out = append(out, s.Text)
	}
	return out
}

func xmlOf(t *testing.T, pkg *pptx.Package, part string) *etree.Element {
	t.Helper()
	data, ok := pkg.Part(part)
	require.True(t, ok, "missing part %s", part)
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))
	return doc.Root()
}

// relTarget resolves the target of the first relationship of part whose type
// ends with kind.
func relTarget(t *testing.T, pkg *pptx.Package, part, kind string) (string, bool) {
	t.Helper()
	dir, base := path.Split(part)
	relsPart := dir + "_rels/" + base + ".rels"
	if !pkg.Has(relsPart) {
		return "", false
	}
	for _, el := range xmlOf(t, pkg, relsPart).SelectElements("Relationship") {
		if strings.HasSuffix(el.SelectAttrValue("Type", ""), "/"+kind) {
			target := el.SelectAttrValue("Target", "")
			if el.SelectAttrValue("TargetMode", "") == "External" {
				return target, true
			}
			return path.Clean(path.Join(dir, target)), true
		}
	}
	return "", false
}

func TestMergeKeepsFileAndSlideOrder(t *testing.T) {
	dir := t.TempDir()
	a := pptxtest.WriteFile(t, dir, "a.pptx", pptxtest.Texts("A1", "A2", "A3"))
	b := pptxtest.WriteFile(t, dir, "b.pptx", pptxtest.Texts("B1", "B2"))
	c := pptxtest.WriteFile(t, dir, "c.pptx", pptxtest.Texts("C1"))

	out := mergeDecks(t, a, b, c)

	assert.Equal(t, []string{"A1", "A2", "A3", "B1", "B2", "C1"}, texts(t, out))

	pres := xmlOf(t, out, "ppt/presentation.xml")
	ids := map[string]bool{}
	for _, el := range pres.SelectElement("sldIdLst").SelectElements("sldId") {
		var id string
		for _, a := range el.Attr {
			if a.Space == "" && a.Key == "id" {
				id = a.Value
			}
		}
		require.NotEmpty(t, id)
		assert.False(t, ids[id], "duplicate slide id %s", id)
		ids[id] = true
	}
	assert.Len(t, ids, 6)

	app := xmlOf(t, out, "docProps/app.xml")
	assert.Equal(t, "6", app.SelectElement("Slides").Text())

	types := xmlOf(t, out, "[Content_Types].xml")
	overrides := map[string]bool{}
	for _, el := range types.SelectElements("Override") {
		overrides[el.SelectAttrValue("PartName", "")] = true
	}
	for i := 1; i <= 6; i++ {
		assert.True(t, overrides[fmt.Sprintf("/ppt/slides/slide%d.xml", i)], "missing override for slide %d", i)
	}
}

func TestMergeCopiesMediaUnderFreshNames(t *testing.T) {
	dir := t.TempDir()
	a := pptxtest.WriteFile(t, dir, "a.pptx", pptxtest.Deck{Slides: []pptxtest.Slide{
		{Text: "A1", Image: []byte("root-image"), MediaName: "image1.png"},
	}})
	b := pptxtest.WriteFile(t, dir, "b.pptx", pptxtest.Deck{Slides: []pptxtest.Slide{
		{Text: "B1", Image: []byte("source-image"), MediaName: "image1.png"},
		{Text: "B2", Image: []byte("source-image"), MediaName: "image1.png"},
	}})

	out := mergeDecks(t, a, b)
	require.Equal(t, []string{"A1", "B1", "B2"}, texts(t, out))

	rootImage, ok := out.Part("ppt/media/image1.png")
	require.True(t, ok)
	assert.Equal(t, "root-image", string(rootImage))

	outline, err := out.Outline()
	require.NoError(t, err)
	first, ok := relTarget(t, out, outline[1].Part, "image")
	require.True(t, ok)
	second, ok := relTarget(t, out, outline[2].Part, "image")
	require.True(t, ok)
	assert.NotEqual(t, "ppt/media/image1.png", first)
	assert.Equal(t, first, second, "shared source media is copied once")

	data, ok := out.Part(first)
	require.True(t, ok)
	assert.Equal(t, "source-image", string(data))
}

func TestMergeRemapsLayoutsAndDropsNotes(t *testing.T) {
	dir := t.TempDir()
	a := pptxtest.WriteFile(t, dir, "a.pptx", pptxtest.Deck{
		Layouts: []pptxtest.Layout{
			{Name: "Blank", Type: "blank"},
			{Name: "Title and Content", Type: "obj"},
			{Name: "Custom Title", Type: "title"},
		},
		Slides: []pptxtest.Slide{{Text: "A1"}},
	})
	b := pptxtest.WriteFile(t, dir, "b.pptx", pptxtest.Deck{
		Layouts: []pptxtest.Layout{
			{Name: "Title Slide", Type: "title"},
			{Name: "Title and Content", Type: "obj"},
			{Name: "Odd One", Type: "twoObj"},
		},
		Slides: []pptxtest.Slide{
			{Text: "by-name", Layout: 2, Notes: "secret notes"},
			{Text: "by-type", Layout: 1},
			{Text: "fallback", Layout: 3},
		},
	})

	out := mergeDecks(t, a, b)
	outline, err := out.Outline()
	require.NoError(t, err)
	require.Len(t, outline, 4)

	layout, ok := relTarget(t, out, outline[1].Part, "slideLayout")
	require.True(t, ok)
	assert.Equal(t, "ppt/slideLayouts/slideLayout2.xml", layout)

	layout, ok = relTarget(t, out, outline[2].Part, "slideLayout")
	require.True(t, ok)
	assert.Equal(t, "ppt/slideLayouts/slideLayout3.xml", layout)

	layout, ok = relTarget(t, out, outline[3].Part, "slideLayout")
	require.True(t, ok)
	assert.Equal(t, "ppt/slideLayouts/slideLayout1.xml", layout)

	_, ok = relTarget(t, out, outline[1].Part, "notesSlide")
	assert.False(t, ok, "notes relationships are not carried over")
	for _, name := range out.Names() {
		assert.False(t, strings.HasPrefix(name, "ppt/slideLayouts/slideLayout4"), "source layouts must not be copied: %s", name)
	}
}

func TestMergeRetargetsSlideLinksAndKeepsExternalLinks(t *testing.T) {
	dir := t.TempDir()
	a := pptxtest.WriteFile(t, dir, "a.pptx", pptxtest.Texts("A1", "A2"))
	b := pptxtest.WriteFile(t, dir, "b.pptx", pptxtest.Deck{Slides: []pptxtest.Slide{
		{Text: "B1", LinkTo: 2, Hyperlink: "https://example.com/deck"},
		{Text: "B2", LinkTo: 1},
	}})

	out := mergeDecks(t, a, b)
	outline, err := out.Outline()
	require.NoError(t, err)
	require.Len(t, outline, 4)

	link, ok := relTarget(t, out, outline[2].Part, "slide")
	require.True(t, ok)
	assert.Equal(t, outline[3].Part, link)

	link, ok = relTarget(t, out, outline[3].Part, "slide")
	require.True(t, ok)
	assert.Equal(t, outline[2].Part, link)

	ext, ok := relTarget(t, out, outline[2].Part, "hyperlink")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/deck", ext)
}

func TestMergeIntoRootWithoutSlides(t *testing.T) {
	dir := t.TempDir()
	a := pptxtest.WriteFile(t, dir, "empty.pptx", pptxtest.Deck{})
	b := pptxtest.WriteFile(t, dir, "b.pptx", pptxtest.Texts("B1", "B2"))

	out := mergeDecks(t, a, b)
	assert.Equal(t, []string{"B1", "B2"}, texts(t, out))

	pres := xmlOf(t, out, "ppt/presentation.xml")
	var order []string
	for _, el := range pres.ChildElements() {
		order = append(order, el.Tag)
	}
	assert.Equal(t, []string{"sldMasterIdLst", "sldIdLst", "sldSz", "notesSz"}, order)
}

func TestMergeWithoutAppProps(t *testing.T) {
	dir := t.TempDir()
	a := pptxtest.WriteFile(t, dir, "a.pptx", pptxtest.Deck{NoAppProps: true, Slides: []pptxtest.Slide{{Text: "A1"}}})
	b := pptxtest.WriteFile(t, dir, "b.pptx", pptxtest.Texts("B1"))

	out := mergeDecks(t, a, b)
	assert.Equal(t, []string{"A1", "B1"}, texts(t, out))
	assert.False(t, out.Has("docProps/app.xml"))
}

func TestAppendSlideErrors(t *testing.T) {
	dir := t.TempDir()
	a := pptxtest.WriteFile(t, dir, "a.pptx", pptxtest.Texts("A1"))
	b := pptxtest.WriteFile(t, dir, "b.pptx", pptxtest.Deck{Slides: []pptxtest.Slide{{Part: 1}, {Part: 3}}})

	e := pptx.NewEngine()
	assert.ErrorIs(t, e.RegisterSource(b), pptx.ErrNoRoot)
	require.NoError(t, e.LoadRoot(a))

	assert.ErrorIs(t, e.AppendSlide(b, 1), pptx.ErrUnknownSource)
	require.NoError(t, e.RegisterSource(b))
	require.NoError(t, e.RegisterSource(b))
	require.NoError(t, e.AppendSlide(b, 1))
	assert.ErrorIs(t, e.AppendSlide(b, 2), pptx.ErrSlideNotFound)
	require.NoError(t, e.AppendSlide(b, 3))
}

func TestLoadRootRejectsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pptx")
	require.NoError(t, os.WriteFile(garbage, []byte("PK but not really"), 0o644))

	e := pptx.NewEngine()
	assert.Error(t, e.LoadRoot(garbage))
	assert.Error(t, e.LoadRoot(filepath.Join(dir, "missing.pptx")))

	a := pptxtest.WriteFile(t, dir, "a.pptx", pptxtest.Texts("A1"))
	require.NoError(t, e.LoadRoot(a))
	assert.Error(t, e.RegisterSource(garbage))
}

func TestWriteHonoursCancellation(t *testing.T) {
	dir := t.TempDir()
	a := pptxtest.WriteFile(t, dir, "a.pptx", pptxtest.Texts("A1"))
	b := pptxtest.WriteFile(t, dir, "b.pptx", pptxtest.Texts("B1", "B2"))

	e := pptx.NewEngine()
	require.NoError(t, e.LoadRoot(a))
	require.NoError(t, e.RegisterSource(b))
	require.NoError(t, e.AppendSlide(b, 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	err := e.Write(ctx, &buf)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, buf.Len())
}

func TestReadPackageRequiresPresentationPart(t *testing.T) {
	_, err := pptx.ReadPackage(nil)
	assert.ErrorIs(t, err, pptx.ErrNotPresentation)
}
