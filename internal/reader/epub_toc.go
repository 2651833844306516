package reader

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"

	"github.com/metcalfc/lire/internal/book"
)

const ncxMediaType = "application/x-dtbncx+xml"

// errNoNavDoc reports an EPUB without an NCX navigation document.
var errNoNavDoc = errors.New("epub has no NCX navigation document")

// navDoc is the subset of an NCX document used for titles and contents.
type navDoc struct {
	Points []navPoint `xml:"navMap>navPoint"`
}

type navPoint struct {
	Label    string     `xml:"navLabel>text"`
	Src      navSrc     `xml:"content"`
	Children []navPoint `xml:"navPoint"`
}

type navSrc struct {
	Ref string `xml:"src,attr"`
}

// title is the trimmed label text.
func (p navPoint) title() string { return strings.TrimSpace(p.Label) }

// target is the content reference without its fragment.
func (p navPoint) target() string {
	ref, _, _ := strings.Cut(p.Src.Ref, "#")
	return ref
}

// walk visits every point depth first with its nesting level.
func (d *navDoc) walk(visit func(p navPoint, level int)) {
	var descend func(points []navPoint, level int)
	descend = func(points []navPoint, level int) {
		for _, p := range points {
			visit(p, level)
			descend(p.Children, level+1)
		}
	}
	descend(d.Points, 0)
}

// TOC maps the NCX navigation tree onto the chapters of b. Entries whose
// target is not a chapter of b point at the closest chapter before them.
func (f *EPUBFormat) TOC(filename string, b *book.Book) ([]TOCEntry, error) {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, fmt.Errorf("no rootfiles found in epub")
	}

	doc, err := loadNavDoc(filename, rc.Rootfiles[0])
	if err != nil {
		return nil, err
	}
	return tocEntries(doc, buildChapterMap(b)), nil
}

// titlesByHref keys NCX titles by target href, with and without fragment
// and directory. The first title for a target wins.
func titlesByHref(doc *navDoc) map[string]string {
	titles := make(map[string]string)
	if doc == nil {
		return titles
	}
	doc.walk(func(p navPoint, _ int) {
		target := p.target()
		for _, k := range []string{p.Src.Ref, target, path.Base(target)} {
			if _, seen := titles[k]; !seen {
				titles[k] = p.title()
			}
		}
	})
	return titles
}

// loadNavDoc finds the NCX through the manifest, falling back to any .ncx
// entry in the archive, and decodes it.
func loadNavDoc(filename string, rf *epub.Rootfile) (*navDoc, error) {
	zr, err := zip.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub archive: %w", err)
	}
	defer zr.Close()

	entry := ncxEntry(zr.File, rf)
	if entry == nil {
		return nil, errNoNavDoc
	}

	r, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entry.Name, err)
	}
	defer r.Close()

	var doc navDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse NCX %s: %w", entry.Name, err)
	}
	return &doc, nil
}

func ncxEntry(files []*zip.File, rf *epub.Rootfile) *zip.File {
	var href string
	for _, item := range rf.Manifest.Items {
		if item.MediaType == ncxMediaType {
			href = item.HREF
			break
		}
	}

	for _, zf := range files {
		name := zf.Name
		switch {
		case href == "" && strings.EqualFold(path.Ext(name), ".ncx"):
			return zf
		case href != "" && (name == href || strings.HasSuffix(name, "/"+href) || path.Base(name) == path.Base(href)):
			return zf
		}
	}
	return nil
}

type chapterInfo struct {
	index   int
	preview string
}

func buildChapterMap(b *book.Book) map[string]chapterInfo {
	m := make(map[string]chapterInfo)
	for i, ch := range b.Chapters {
		if ch.Href == "" {
			continue
		}
		info := chapterInfo{index: i, preview: preview(ch.Content)}
		m[ch.Href] = info
		m[path.Base(ch.Href)] = info
	}
	return m
}

// tocEntries flattens doc. An unresolved target inherits the most recent
// resolved chapter, across siblings and levels.
func tocEntries(doc *navDoc, chapters map[string]chapterInfo) []TOCEntry {
	var (
		entries []TOCEntry
		last    int
	)
	doc.walk(func(p navPoint, level int) {
		target := p.target()
		info, ok := chapters[target]
		if !ok {
			info, ok = chapters[path.Base(target)]
		}
		if ok {
			last = info.index
		} else {
			info = chapterInfo{index: last}
		}
		entries = append(entries, TOCEntry{
			Title:        p.title(),
			Preview:      info.preview,
			ChapterIndex: info.index,
			Level:        level,
		})
	})
	return entries
}
