package pptx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

var (
	// ErrNoRoot is returned when a source is used before LoadRoot.
	ErrNoRoot = errors.New("no root presentation loaded")
	// ErrUnknownSource is returned by AppendSlide for unregistered sources.
	ErrUnknownSource = errors.New("source not registered")
	// ErrSlideNotFound is returned by AppendSlide when the slide part is missing.
	ErrSlideNotFound = errors.New("slide not found")
)

const (
	minSlideID = 256
	maxSlideID = 2147483647
)

type queuedSlide struct {
	source string
	part   string
}

// Engine assembles one presentation from a root deck plus slides appended
// from registered sources. An Engine is used by a single job.
type Engine struct {
	root    *Package
	sources map[string]*Package
	queue   []queuedSlide
	now     func() time.Time
}

// NewEngine returns an empty Engine.
func NewEngine() *Engine {
	return &Engine{
		sources: make(map[string]*Package),
		now:     time.Now,
	}
}

// LoadRoot reads the base presentation. Its slides, masters, layouts and
// theme form the start of the output.
func (e *Engine) LoadRoot(filePath string) error {
	pkg, err := OpenPackage(filePath)
	if err != nil {
		return fmt.Errorf("load root: %w", err)
	}
	e.root = pkg
	e.queue = nil
	return nil
}

// RegisterSource makes a presentation available to AppendSlide. Registering
// the same path twice is a no-op.
func (e *Engine) RegisterSource(filePath string) error {
	if e.root == nil {
		return ErrNoRoot
	}
	key := filepath.Clean(filePath)
	if _, ok := e.sources[key]; ok {
		return nil
	}
	pkg, err := OpenPackage(key)
	if err != nil {
		return fmt.Errorf("register source: %w", err)
	}
	e.sources[key] = pkg
	return nil
}

// AppendSlide queues slide index of a registered source for output.
func (e *Engine) AppendSlide(source string, index int) error {
	if e.root == nil {
		return ErrNoRoot
	}
	key := filepath.Clean(source)
	pkg, ok := e.sources[key]
	if !ok {
		return fmt.Errorf("%s: %w", filepath.Base(source), ErrUnknownSource)
	}
	part := slidePrefix + strconv.Itoa(index) + slideSuffix
	if !pkg.Has(part) {
		return fmt.Errorf("%s slide %d: %w", filepath.Base(source), index, ErrSlideNotFound)
	}
	e.queue = append(e.queue, queuedSlide{source: key, part: part})
	return nil
}

// Write builds the output presentation and writes it to w as a zip.
func (e *Engine) Write(ctx context.Context, w io.Writer) error {
	if e.root == nil {
		return ErrNoRoot
	}
	b, err := newBuilder(e.root)
	if err != nil {
		return err
	}
	if err := b.plan(e.queue, e.sources); err != nil {
		return err
	}
	for _, q := range e.queue {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.appendSlide(e.sources[q.source], q.source, q.part); err != nil {
			return fmt.Errorf("append %s from %s: %w", q.part, filepath.Base(q.source), err)
		}
	}
	if err := b.finish(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.out.writeTo(w, e.now())
}

type layoutInfo struct {
	part string
	name string
	kind string
}

type partKey struct {
	source string
	part   string
}

// builder holds the mutable state of one Write.
type builder struct {
	out       *Package
	types     *contentTypes
	pres      *etree.Document
	presRels  *etree.Document
	namer     *partNamer
	layouts   []layoutInfo
	slideMap  map[partKey]string
	copied    map[partKey]string
	layoutMap map[partKey]string
	firstPart string
	nextRID   int
	nextSID   int
}

func newBuilder(root *Package) (*builder, error) {
	out := root.clone()
	types, err := out.contentTypes()
	if err != nil {
		return nil, err
	}
	pres, err := out.xmlPart(presentationPart)
	if err != nil {
		return nil, err
	}
	presRels, err := out.xmlPart(presentationRelsPart)
	if err != nil {
		return nil, err
	}
	layouts, err := out.layouts()
	if err != nil {
		return nil, err
	}
	existing, err := out.orderedSlideParts()
	if err != nil {
		return nil, err
	}

	b := &builder{
		out:       out,
		types:     types,
		pres:      pres,
		presRels:  presRels,
		namer:     newPartNamer(out),
		layouts:   layouts,
		slideMap:  make(map[partKey]string),
		copied:    make(map[partKey]string),
		layoutMap: make(map[partKey]string),
		nextRID:   nextRelationshipID(presRels.Root()),
		nextSID:   nextSlideID(pres.Root()),
	}
	if len(existing) > 0 {
		b.firstPart = existing[0]
	}
	return b, nil
}

// plan names every output slide up front so links between appended slides
// can be resolved in any direction.
func (b *builder) plan(queue []queuedSlide, sources map[string]*Package) error {
	next := 1
	if idx := slideIndices(b.out.names); len(idx) > 0 {
		next = idx[len(idx)-1] + 1
	}
	for _, q := range queue {
		if _, ok := sources[q.source]; !ok {
			return fmt.Errorf("%s: %w", filepath.Base(q.source), ErrUnknownSource)
		}
		key := partKey{source: q.source, part: q.part}
		if _, ok := b.slideMap[key]; ok {
			continue
		}
		name := b.namer.claim(slidePrefix + strconv.Itoa(next) + slideSuffix)
		next++
		b.slideMap[key] = name
		if b.firstPart == "" {
			b.firstPart = name
		}
	}
	return nil
}

func (b *builder) appendSlide(src *Package, source, part string) error {
	key := partKey{source: source, part: part}
	name := b.slideMap[key]
	if b.out.Has(name) {
		// The same slide was queued twice; give the repeat its own part.
		name = b.namer.claim(name)
	}
	data, ok := src.Part(part)
	if !ok {
		return ErrSlideNotFound
	}
	b.out.put(name, data)
	if err := b.copyRelationships(src, source, part, name); err != nil {
		return err
	}
	b.types.addOverride(name, ctSlide)
	return b.registerSlide(name)
}

// copyRelationships writes the relationships of srcPart as those of dstPart,
// retargeting or copying what they point to.
func (b *builder) copyRelationships(src *Package, source, srcPart, dstPart string) error {
	rels, err := src.relationshipsOf(srcPart)
	if err != nil {
		return err
	}
	if rels == nil {
		return nil
	}
	out := make([]relationship, 0, len(rels))
	for _, r := range rels {
		if r.external() {
			out = append(out, r)
			continue
		}
		target := resolveTarget(srcPart, r.Target)
		switch {
		case r.is("notesSlide"):
			continue
		case r.is("slideLayout"):
			layout, err := b.mapLayout(src, source, target)
			if err != nil {
				return err
			}
			r.Target = relativeTarget(dstPart, layout)
		case r.is("slide"):
			mapped, ok := b.slideMap[partKey{source: source, part: target}]
			if !ok {
				mapped = b.firstPart
			}
			r.Target = relativeTarget(dstPart, mapped)
		default:
			copied, err := b.copyPart(src, source, target)
			if err != nil {
				return err
			}
			r.Target = relativeTarget(dstPart, copied)
		}
		out = append(out, r)
	}
	return b.out.putRelationships(dstPart, out)
}

// copyPart copies a part and everything it links to, once per source part.
func (b *builder) copyPart(src *Package, source, part string) (string, error) {
	key := partKey{source: source, part: part}
	if name, ok := b.copied[key]; ok {
		return name, nil
	}
	data, ok := src.Part(part)
	if !ok {
		return "", fmt.Errorf("missing part %s", part)
	}
	srcTypes, err := src.contentTypes()
	if err != nil {
		return "", err
	}

	name := b.namer.claim(part)
	b.copied[key] = name
	b.out.put(name, data)

	contentType, override := srcTypes.lookup(part)
	switch {
	case override:
		b.types.addOverride(name, contentType)
	default:
		if existing, _ := b.types.lookup(name); existing == "" {
			b.types.ensureDefault(strings.TrimPrefix(path.Ext(name), "."), contentType)
		} else if existing != contentType && contentType != "" {
			b.types.addOverride(name, contentType)
		}
	}

	if err := b.copyRelationships(src, source, part, name); err != nil {
		return "", err
	}
	return name, nil
}

// mapLayout picks the root layout with the same name, else the same type,
// else the first root layout.
func (b *builder) mapLayout(src *Package, source, layoutPart string) (string, error) {
	key := partKey{source: source, part: layoutPart}
	if name, ok := b.layoutMap[key]; ok {
		return name, nil
	}
	if len(b.layouts) == 0 {
		return "", errors.New("root presentation has no slide layouts")
	}
	want := layoutInfo{part: layoutPart}
	if doc, err := src.xmlPart(layoutPart); err == nil {
		want = describeLayout(layoutPart, doc)
	}

	chosen := b.layouts[0].part
	matched := false
	if want.name != "" {
		for _, l := range b.layouts {
			if l.name == want.name {
				chosen, matched = l.part, true
				break
			}
		}
	}
	if !matched && want.kind != "" {
		for _, l := range b.layouts {
			if l.kind == want.kind {
				chosen = l.part
				break
			}
		}
	}
	b.layoutMap[key] = chosen
	return chosen, nil
}

func (b *builder) registerSlide(part string) error {
	rid := "rId" + strconv.Itoa(b.nextRID)
	b.nextRID++
	rel := b.presRels.Root().CreateElement("Relationship")
	rel.CreateAttr("Id", rid)
	rel.CreateAttr("Type", relTypeSlide)
	rel.CreateAttr("Target", relativeTarget(presentationPart, part))

	if b.nextSID > maxSlideID {
		return errors.New("slide id space exhausted")
	}
	root := b.pres.Root()
	list := slideIDList(root)
	relPrefix := prefixFor(root, nsRelationships)
	if relPrefix == "" {
		relPrefix = "r"
		root.CreateAttr("xmlns:r", nsRelationships)
	}
	el := list.CreateElement(qualified(root.Space, "sldId"))
	el.CreateAttr("id", strconv.Itoa(b.nextSID))
	el.CreateAttr(relPrefix+":id", rid)
	b.nextSID++
	return nil
}

func (b *builder) finish() error {
	total := len(slideIDList(b.pres.Root()).SelectElements("sldId"))
	if err := b.out.putXML(presentationPart, b.pres); err != nil {
		return err
	}
	if err := b.out.putXML(presentationRelsPart, b.presRels); err != nil {
		return err
	}
	b.types.ensureDefault("rels", ctRels)
	if err := b.out.putXML(contentTypesPart, b.types.doc); err != nil {
		return err
	}
	if b.out.Has(appPropsPart) {
		doc, err := b.out.xmlPart(appPropsPart)
		if err != nil {
			return err
		}
		if slides := doc.Root().SelectElement("Slides"); slides != nil {
			slides.SetText(strconv.Itoa(total))
			if err := b.out.putXML(appPropsPart, doc); err != nil {
				return err
			}
		}
	}
	return nil
}

// slideIDList returns p:sldIdLst, creating it after the master lists when
// absent.
func slideIDList(root *etree.Element) *etree.Element {
	if list := root.SelectElement("sldIdLst"); list != nil {
		return list
	}
	pos := 0
	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "sldMasterIdLst", "notesMasterIdLst", "handoutMasterIdLst":
			pos = child.Index() + 1
		}
	}
	list := etree.NewElement(qualified(root.Space, "sldIdLst"))
	root.InsertChildAt(pos, list)
	return list
}

func nextSlideID(root *etree.Element) int {
	next := minSlideID
	list := root.SelectElement("sldIdLst")
	if list == nil {
		return next
	}
	for _, el := range list.SelectElements("sldId") {
		if n, err := strconv.Atoi(attrValue(el, "", "id")); err == nil && n >= next {
			next = n + 1
		}
	}
	return next
}

func qualified(space, tag string) string {
	if space == "" {
		return tag
	}
	return space + ":" + tag
}

// layouts lists the package's slide layouts by ascending part number.
func (p *Package) layouts() ([]layoutInfo, error) {
	type numbered struct {
		n    int
		part string
	}
	var found []numbered
	for _, name := range p.names {
		if !strings.HasPrefix(name, "ppt/slideLayouts/slideLayout") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		digits := strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slideLayouts/slideLayout"), ".xml")
		n, err := strconv.Atoi(digits)
		if err != nil {
			continue
		}
		found = append(found, numbered{n: n, part: name})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })

	out := make([]layoutInfo, 0, len(found))
	for _, f := range found {
		doc, err := p.xmlPart(f.part)
		if err != nil {
			return nil, err
		}
		out = append(out, describeLayout(f.part, doc))
	}
	return out, nil
}

func describeLayout(part string, doc *etree.Document) layoutInfo {
	info := layoutInfo{part: part}
	root := doc.Root()
	info.kind = attrValue(root, "", "type")
	if cSld := root.SelectElement("cSld"); cSld != nil {
		info.name = attrValue(cSld, "", "name")
	}
	return info
}
