package pptx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/beevik/etree"
)

const (
	// MimeType is the media type of a presentation package.
	MimeType = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

	contentTypesPart     = "[Content_Types].xml"
	presentationPart     = "ppt/presentation.xml"
	presentationRelsPart = "ppt/_rels/presentation.xml.rels"
	appPropsPart         = "docProps/app.xml"

	ctSlide = "application/vnd.openxmlformats-officedocument.presentationml.slide+xml"
	ctRels  = "application/vnd.openxmlformats-package.relationships+xml"

	nsRelationships = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"
	relTypeSlide    = nsRelationships + "/slide"
)

// ErrNotPresentation is returned for zip files without a presentation part.
var ErrNotPresentation = errors.New("not a presentation package")

// Package is an in-memory copy of an OOXML zip. Part names use forward slashes
// and never start with "/".
type Package struct {
	names []string
	parts map[string][]byte
	index map[string]string
}

// OpenPackage reads the presentation at path.
func OpenPackage(filePath string) (*Package, error) {
	data, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, err
	}
	pkg, err := ReadPackage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(filePath), err)
	}
	return pkg, nil
}

// ReadPackage parses a presentation zip held in memory.
func ReadPackage(data []byte) (*Package, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty package: %w", ErrNotPresentation)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	pkg := newPackage()
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		content, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		pkg.put(normalizeZipName(f.Name), content)
	}
	if !pkg.Has(contentTypesPart) || !pkg.Has(presentationPart) {
		return nil, ErrNotPresentation
	}
	return pkg, nil
}

func newPackage() *Package {
	return &Package{
		parts: make(map[string][]byte),
		index: make(map[string]string),
	}
}

// Names lists part names in archive order.
func (p *Package) Names() []string {
	return append([]string(nil), p.names...)
}

// Has reports whether the part exists. Part names compare case-insensitively.
func (p *Package) Has(name string) bool {
	_, ok := p.index[strings.ToLower(name)]
	return ok
}

// Part returns the bytes of a part.
func (p *Package) Part(name string) ([]byte, bool) {
	canonical, ok := p.index[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return p.parts[canonical], true
}

func (p *Package) put(name string, data []byte) {
	key := strings.ToLower(name)
	if canonical, ok := p.index[key]; ok {
		p.parts[canonical] = data
		return
	}
	p.index[key] = name
	p.names = append(p.names, name)
	p.parts[name] = data
}

func (p *Package) clone() *Package {
	out := newPackage()
	for _, name := range p.names {
		out.put(name, p.parts[name])
	}
	return out
}

func (p *Package) xmlPart(name string) (*etree.Document, error) {
	data, ok := p.Part(name)
	if !ok {
		return nil, fmt.Errorf("missing part %s", name)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("parse %s: no root element", name)
	}
	return doc, nil
}

func (p *Package) putXML(name string, doc *etree.Document) error {
	data, err := doc.WriteToBytes()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", name, err)
	}
	p.put(name, data)
	return nil
}

// writeTo writes the package as a zip with [Content_Types].xml first.
func (p *Package) writeTo(w io.Writer, modified time.Time) error {
	zw := zip.NewWriter(w)
	ordered := make([]string, 0, len(p.names))
	if p.Has(contentTypesPart) {
		ordered = append(ordered, p.index[strings.ToLower(contentTypesPart)])
	}
	for _, name := range p.names {
		if strings.EqualFold(name, contentTypesPart) {
			continue
		}
		ordered = append(ordered, name)
	}
	for _, name := range ordered {
		if err := writeZipFile(zw, name, modified, p.parts[name]); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return zw.Close()
}

func readZipFile(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return content, nil
}

func writeZipFile(writer *zip.Writer, name string, modified time.Time, content []byte) error {
	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	}
	dst, err := writer.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = dst.Write(content)
	return err
}

func normalizeZipName(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "/")
}

// relsPartFor returns the relationships part that belongs to part.
func relsPartFor(part string) string {
	dir, base := path.Split(part)
	return dir + "_rels/" + base + ".rels"
}

// resolveTarget turns a relationship target into a part name.
func resolveTarget(fromPart, target string) string {
	if strings.HasPrefix(target, "/") {
		return path.Clean(strings.TrimPrefix(target, "/"))
	}
	return path.Clean(path.Join(path.Dir(fromPart), target))
}

// relativeTarget is the inverse of resolveTarget.
func relativeTarget(fromPart, toPart string) string {
	rel, err := filepath.Rel(filepath.FromSlash(path.Dir(fromPart)), filepath.FromSlash(toPart))
	if err != nil {
		return "/" + toPart
	}
	return filepath.ToSlash(rel)
}
