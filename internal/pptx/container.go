package pptx

import (
	"archive/zip"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const (
	slidePrefix = "ppt/slides/slide"
	slideSuffix = ".xml"
)

var slidePartPattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// SlideInfo is one slide of a presentation in display order.
type SlideInfo struct {
	Position int    `json:"position"`
	Part     string `json:"part"`
	Text     string `json:"text"`
}

// Inspector reads container listings without loading the presentation.
type Inspector struct{}

// CountSlideParts counts entries under ppt/slides/ named slide*.xml. It
// assumes slides are numbered 1..n without gaps; see SlideIndices.
func (Inspector) CountSlideParts(filePath string) (int, error) {
	names, err := listEntries(filePath)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, name := range names {
		if strings.HasPrefix(name, slidePrefix) && strings.HasSuffix(name, slideSuffix) {
			count++
		}
	}
	return count, nil
}

// SlideIndices returns the numbers N of every ppt/slides/slideN.xml entry in
// ascending order.
func (Inspector) SlideIndices(filePath string) ([]int, error) {
	names, err := listEntries(filePath)
	if err != nil {
		return nil, err
	}
	return slideIndices(names), nil
}

// Outline lists slides in presentation order with their text.
func (Inspector) Outline(filePath string) ([]SlideInfo, error) {
	pkg, err := OpenPackage(filePath)
	if err != nil {
		return nil, err
	}
	return pkg.Outline()
}

func listEntries(filePath string) ([]string, error) {
	zr, err := zip.OpenReader(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", filepath.Base(filePath), err)
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, normalizeZipName(f.Name))
	}
	return names, nil
}

func slideIndices(names []string) []int {
	var out []int
	for _, name := range names {
		m := slidePartPattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Outline lists the package's slides in presentation order.
func (p *Package) Outline() ([]SlideInfo, error) {
	parts, err := p.orderedSlideParts()
	if err != nil {
		return nil, err
	}
	out := make([]SlideInfo, 0, len(parts))
	for i, part := range parts {
		doc, err := p.xmlPart(part)
		if err != nil {
			return nil, err
		}
		out = append(out, SlideInfo{
			Position: i + 1,
			Part:     part,
			Text:     slideText(doc.Root()),
		})
	}
	return out, nil
}

// orderedSlideParts follows p:sldIdLst through the presentation relationships.
func (p *Package) orderedSlideParts() ([]string, error) {
	doc, err := p.xmlPart(presentationPart)
	if err != nil {
		return nil, err
	}
	rels, err := p.relationshipsOf(presentationPart)
	if err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(rels))
	for _, r := range rels {
		targets[r.ID] = resolveTarget(presentationPart, r.Target)
	}

	root := doc.Root()
	list := root.SelectElement("sldIdLst")
	if list == nil {
		return nil, nil
	}
	relPrefix := prefixFor(root, nsRelationships)
	var parts []string
	for _, el := range list.SelectElements("sldId") {
		rid := attrValue(el, relPrefix, "id")
		part, ok := targets[rid]
		if !ok {
			return nil, fmt.Errorf("slide id %s: unknown relationship %q", attrValue(el, "", "id"), rid)
		}
		parts = append(parts, part)
	}
	return parts, nil
}

// slideText joins the text runs of each paragraph; paragraphs are separated by
// a single space.
func slideText(root *etree.Element) string {
	var paragraphs []string
	for _, para := range root.FindElements(".//p") {
		if para.Space != "a" && para.Space != "" {
			continue
		}
		var b strings.Builder
		for _, t := range para.FindElements(".//t") {
			b.WriteString(t.Text())
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			paragraphs = append(paragraphs, s)
		}
	}
	return strings.Join(paragraphs, " ")
}
