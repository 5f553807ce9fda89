// Package pptxtest builds small but structurally complete presentations for
// tests.
package pptxtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

// Layout describes one slide layout of a deck.
type Layout struct {
	Name string
	Type string
}

// Slide describes one slide.
type Slide struct {
	// Part is the N of ppt/slides/slideN.xml. Zero means the slide's position.
	Part int
	Text string
	// Layout is a 1-based index into Deck.Layouts. Zero means 1.
	Layout int
	// Image, when set, is embedded as ppt/media/<MediaName>.
	Image     []byte
	MediaName string
	Notes     string
	Hyperlink string
	// LinkTo is the Part of another slide in the same deck.
	LinkTo int
}

// Deck is a whole presentation.
type Deck struct {
	Layouts []Layout
	Slides  []Slide
	// NoAppProps leaves out docProps/app.xml.
	NoAppProps bool
}

// DefaultLayouts are used when a Deck has none.
var DefaultLayouts = []Layout{
	{Name: "Title Slide", Type: "title"},
	{Name: "Title and Content", Type: "obj"},
}

// Texts returns a deck with one slide per text.
func Texts(texts ...string) Deck {
	d := Deck{}
	for _, t := range texts {
		d.Slides = append(d.Slides, Slide{Text: t})
	}
	return d
}

// Build renders the deck as a zip.
func Build(d Deck) ([]byte, error) {
	layouts := d.Layouts
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	slides := make([]Slide, len(d.Slides))
	copy(slides, d.Slides)
	for i := range slides {
		if slides[i].Part == 0 {
			slides[i].Part = i + 1
		}
		if slides[i].Layout == 0 {
			slides[i].Layout = 1
		}
		if slides[i].Layout > len(layouts) {
			return nil, fmt.Errorf("slide %d: layout %d out of range", i+1, slides[i].Layout)
		}
		if len(slides[i].Image) > 0 && slides[i].MediaName == "" {
			slides[i].MediaName = fmt.Sprintf("image%d.png", slides[i].Part)
		}
	}

	parts := map[string]string{}
	parts["_rels/.rels"] = rels(
		rel{"rId1", relNS + "/officeDocument", "ppt/presentation.xml", ""},
		rel{"rId2", relNS + "/extended-properties", "docProps/app.xml", ""},
	)
	if !d.NoAppProps {
		parts["docProps/app.xml"] = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Properties xmlns="http://schemas.openxmlformats.org/officeDocument/2006/extended-properties"><Application>pptxtest</Application><Slides>%d</Slides></Properties>`, len(slides))
	}

	presRels := []rel{
		{"rId1", relNS + "/slideMaster", "slideMasters/slideMaster1.xml", ""},
		{"rId2", relNS + "/theme", "theme/theme1.xml", ""},
	}
	var sldIDs strings.Builder
	for i, s := range slides {
		rid := fmt.Sprintf("rId%d", i+3)
		presRels = append(presRels, rel{rid, relNS + "/slide", fmt.Sprintf("slides/slide%d.xml", s.Part), ""})
		fmt.Fprintf(&sldIDs, `<p:sldId id="%d" r:id="%s"/>`, 256+i, rid)
	}
	slideList := ""
	if len(slides) > 0 {
		slideList = "<p:sldIdLst>" + sldIDs.String() + "</p:sldIdLst>"
	}
	parts["ppt/presentation.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:presentation xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">` +
		`<p:sldMasterIdLst><p:sldMasterId id="2147483648" r:id="rId1"/></p:sldMasterIdLst>` +
		slideList +
		`<p:sldSz cx="9144000" cy="6858000"/><p:notesSz cx="6858000" cy="9144000"/></p:presentation>`
	parts["ppt/_rels/presentation.xml.rels"] = rels(presRels...)

	var masterLayoutIDs strings.Builder
	masterRels := []rel{}
	for i := range layouts {
		rid := fmt.Sprintf("rId%d", i+1)
		fmt.Fprintf(&masterLayoutIDs, `<p:sldLayoutId id="%d" r:id="%s"/>`, 2147483649+i, rid)
		masterRels = append(masterRels, rel{rid, relNS + "/slideLayout", fmt.Sprintf("../slideLayouts/slideLayout%d.xml", i+1), ""})
	}
	masterRels = append(masterRels, rel{fmt.Sprintf("rId%d", len(layouts)+1), relNS + "/theme", "../theme/theme1.xml", ""})
	parts["ppt/slideMasters/slideMaster1.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sldMaster xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree/></p:cSld>` +
		`<p:sldLayoutIdLst>` + masterLayoutIDs.String() + `</p:sldLayoutIdLst></p:sldMaster>`
	parts["ppt/slideMasters/_rels/slideMaster1.xml.rels"] = rels(masterRels...)

	for i, l := range layouts {
		parts[fmt.Sprintf("ppt/slideLayouts/slideLayout%d.xml", i+1)] = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sldLayout xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" type="%s"><p:cSld name="%s"><p:spTree/></p:cSld></p:sldLayout>`,
			html.EscapeString(l.Type), html.EscapeString(l.Name))
		parts[fmt.Sprintf("ppt/slideLayouts/_rels/slideLayout%d.xml.rels", i+1)] = rels(
			rel{"rId1", relNS + "/slideMaster", "../slideMasters/slideMaster1.xml", ""},
		)
	}
	parts["ppt/theme/theme1.xml"] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<a:theme xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" name="pptxtest"><a:themeElements/></a:theme>`

	hasPNG := false
	for _, s := range slides {
		slideRels := []rel{{"rId1", relNS + "/slideLayout", fmt.Sprintf("../slideLayouts/slideLayout%d.xml", s.Layout), ""}}
		extra := ""
		if len(s.Image) > 0 {
			hasPNG = true
			slideRels = append(slideRels, rel{"rId2", relNS + "/image", "../media/" + s.MediaName, ""})
			parts["ppt/media/"+s.MediaName] = string(s.Image)
			extra += `<p:pic><p:blipFill><a:blip r:embed="rId2"/></p:blipFill></p:pic>`
		}
		if s.Notes != "" {
			notesPart := fmt.Sprintf("notesSlide%d.xml", s.Part)
			slideRels = append(slideRels, rel{"rId3", relNS + "/notesSlide", "../notesSlides/" + notesPart, ""})
			parts["ppt/notesSlides/"+notesPart] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:notes xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree>` +
				textShape(s.Notes) + `</p:spTree></p:cSld></p:notes>`
		}
		if s.Hyperlink != "" {
			slideRels = append(slideRels, rel{"rId4", relNS + "/hyperlink", s.Hyperlink, "External"})
		}
		if s.LinkTo != 0 {
			slideRels = append(slideRels, rel{"rId5", relNS + "/slide", fmt.Sprintf("slide%d.xml", s.LinkTo), ""})
		}
		parts[fmt.Sprintf("ppt/slides/slide%d.xml", s.Part)] = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"><p:cSld><p:spTree>` +
			textShape(s.Text) + extra + `</p:spTree></p:cSld></p:sld>`
		parts[fmt.Sprintf("ppt/slides/_rels/slide%d.xml.rels", s.Part)] = rels(slideRels...)
	}

	parts["[Content_Types].xml"] = contentTypes(parts, hasPNG)
	return zipParts(parts)
}

// WriteFile builds the deck into dir/name and returns the path.
func WriteFile(t testing.TB, dir, name string, d Deck) string {
	t.Helper()
	data, err := Build(d)
	if err != nil {
		t.Fatalf("build deck %s: %v", name, err)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write deck %s: %v", name, err)
	}
	return p
}

const relNS = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

type rel struct {
	id, kind, target, mode string
}

func rels(items ...rel) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	for _, r := range items {
		fmt.Fprintf(&b, `<Relationship Id="%s" Type="%s" Target="%s"`, r.id, r.kind, html.EscapeString(r.target))
		if r.mode != "" {
			fmt.Fprintf(&b, ` TargetMode="%s"`, r.mode)
		}
		b.WriteString("/>")
	}
	b.WriteString("</Relationships>")
	return b.String()
}

func textShape(text string) string {
	return `<p:sp><p:txBody><a:p><a:r><a:t>` + html.EscapeString(text) + `</a:t></a:r></a:p></p:txBody></p:sp>`
}

func contentTypes(parts map[string]string, png bool) string {
	const pml = "application/vnd.openxmlformats-officedocument.presentationml."
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">`)
	b.WriteString(`<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>`)
	b.WriteString(`<Default Extension="xml" ContentType="application/xml"/>`)
	if png {
		b.WriteString(`<Default Extension="png" ContentType="image/png"/>`)
	}
	names := make([]string, 0, len(parts))
	for name := range parts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var ct string
		switch {
		case name == "ppt/presentation.xml":
			ct = pml + "presentation.main+xml"
		case name == "docProps/app.xml":
			ct = "application/vnd.openxmlformats-officedocument.extended-properties+xml"
		case name == "ppt/theme/theme1.xml":
			ct = "application/vnd.openxmlformats-officedocument.theme+xml"
		case strings.HasPrefix(name, "ppt/slideMasters/slideMaster"):
			ct = pml + "slideMaster+xml"
		case strings.HasPrefix(name, "ppt/slideLayouts/slideLayout"):
			ct = pml + "slideLayout+xml"
		case strings.HasPrefix(name, "ppt/slides/slide"):
			ct = pml + "slide+xml"
		case strings.HasPrefix(name, "ppt/notesSlides/notesSlide"):
			ct = pml + "notesSlide+xml"
		default:
			continue
		}
		fmt.Fprintf(&b, `<Override PartName="/%s" ContentType="%s"/>`, name, ct)
	}
	b.WriteString("</Types>")
	return b.String()
}

func zipParts(parts map[string]string) ([]byte, error) {
	names := make([]string, 0, len(parts))
	for name := range parts {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(parts[name])); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
