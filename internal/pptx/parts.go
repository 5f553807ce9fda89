package pptx

import (
	"path"
	"strconv"
	"strings"

	"github.com/beevik/etree"
)

const relationshipsXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`

// relationship is one entry of a .rels part.
type relationship struct {
	ID         string
	Type       string
	Target     string
	TargetMode string
}

func (r relationship) external() bool {
	return strings.EqualFold(r.TargetMode, "External")
}

func (r relationship) is(kind string) bool {
	return strings.HasSuffix(r.Type, "/"+kind)
}

// relationshipsOf returns the relationships of part, or nil when it has none.
func (p *Package) relationshipsOf(part string) ([]relationship, error) {
	relsPart := relsPartFor(part)
	if !p.Has(relsPart) {
		return nil, nil
	}
	doc, err := p.xmlPart(relsPart)
	if err != nil {
		return nil, err
	}
	var out []relationship
	for _, el := range doc.Root().SelectElements("Relationship") {
		out = append(out, relationship{
			ID:         el.SelectAttrValue("Id", ""),
			Type:       el.SelectAttrValue("Type", ""),
			Target:     el.SelectAttrValue("Target", ""),
			TargetMode: el.SelectAttrValue("TargetMode", ""),
		})
	}
	return out, nil
}

func (p *Package) putRelationships(part string, rels []relationship) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(relationshipsXML); err != nil {
		return err
	}
	root := doc.Root()
	for _, r := range rels {
		el := root.CreateElement("Relationship")
		el.CreateAttr("Id", r.ID)
		el.CreateAttr("Type", r.Type)
		el.CreateAttr("Target", r.Target)
		if r.TargetMode != "" {
			el.CreateAttr("TargetMode", r.TargetMode)
		}
	}
	return p.putXML(relsPartFor(part), doc)
}

// nextRelationshipID returns the first rIdN above every numeric id in use.
func nextRelationshipID(root *etree.Element) int {
	next := 1
	for _, el := range root.SelectElements("Relationship") {
		id := el.SelectAttrValue("Id", "")
		if !strings.HasPrefix(id, "rId") {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(id, "rId")); err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

// contentTypes wraps [Content_Types].xml.
type contentTypes struct {
	doc       *etree.Document
	defaults  map[string]string
	overrides map[string]string
}

func (p *Package) contentTypes() (*contentTypes, error) {
	doc, err := p.xmlPart(contentTypesPart)
	if err != nil {
		return nil, err
	}
	ct := &contentTypes{
		doc:       doc,
		defaults:  make(map[string]string),
		overrides: make(map[string]string),
	}
	for _, el := range doc.Root().ChildElements() {
		switch el.Tag {
		case "Default":
			ext := strings.ToLower(el.SelectAttrValue("Extension", ""))
			ct.defaults[ext] = el.SelectAttrValue("ContentType", "")
		case "Override":
			name := strings.ToLower(normalizeZipName(el.SelectAttrValue("PartName", "")))
			ct.overrides[name] = el.SelectAttrValue("ContentType", "")
		}
	}
	return ct, nil
}

// lookup returns the content type of part and whether it came from an Override.
func (ct *contentTypes) lookup(part string) (string, bool) {
	if v, ok := ct.overrides[strings.ToLower(part)]; ok {
		return v, true
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(part), "."))
	return ct.defaults[ext], false
}

func (ct *contentTypes) addOverride(part, contentType string) {
	key := strings.ToLower(part)
	if _, ok := ct.overrides[key]; ok {
		return
	}
	el := ct.doc.Root().CreateElement("Override")
	el.CreateAttr("PartName", "/"+part)
	el.CreateAttr("ContentType", contentType)
	ct.overrides[key] = contentType
}

func (ct *contentTypes) ensureDefault(ext, contentType string) {
	ext = strings.ToLower(ext)
	if ext == "" || contentType == "" {
		return
	}
	if _, ok := ct.defaults[ext]; ok {
		return
	}
	// Defaults precede Overrides in files written by Office.
	el := etree.NewElement("Default")
	el.CreateAttr("Extension", ext)
	el.CreateAttr("ContentType", contentType)
	root := ct.doc.Root()
	pos := 0
	for _, child := range root.ChildElements() {
		if child.Tag == "Default" {
			pos = child.Index() + 1
		}
	}
	root.InsertChildAt(pos, el)
	ct.defaults[ext] = contentType
}

// partNamer hands out part names not yet present in a package.
type partNamer struct {
	used map[string]bool
}

func newPartNamer(pkg *Package) *partNamer {
	n := &partNamer{used: make(map[string]bool)}
	for _, name := range pkg.names {
		n.used[strings.ToLower(name)] = true
	}
	return n
}

// claim returns want when it is free, otherwise the lowest free name with the
// same directory, stem and extension and a numeric suffix.
func (n *partNamer) claim(want string) string {
	if !n.used[strings.ToLower(want)] {
		n.reserve(want)
		return want
	}
	dir, base := path.Split(want)
	ext := path.Ext(base)
	stem := strings.TrimRight(strings.TrimSuffix(base, ext), "0123456789")
	for i := 1; ; i++ {
		candidate := dir + stem + strconv.Itoa(i) + ext
		if !n.used[strings.ToLower(candidate)] {
			n.reserve(candidate)
			return candidate
		}
	}
}

func (n *partNamer) reserve(name string) {
	n.used[strings.ToLower(name)] = true
	n.used[strings.ToLower(relsPartFor(name))] = true
}

// attrValue matches both prefix and key, unlike etree's SelectAttrValue which
// treats an empty prefix as a wildcard.
func attrValue(el *etree.Element, space, key string) string {
	for _, a := range el.Attr {
		if a.Space == space && a.Key == key {
			return a.Value
		}
	}
	return ""
}

// prefixFor returns the prefix bound to ns on el, if any.
func prefixFor(el *etree.Element, ns string) string {
	for _, a := range el.Attr {
		if a.Space == "xmlns" && a.Value == ns {
			return a.Key
		}
	}
	return ""
}
