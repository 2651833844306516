package reader

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/metcalfc/lire/internal/book"
)

// EPUBFormat implements Format for EPUB files.
type EPUBFormat struct{}

func init() {
	Register(&EPUBFormat{})
}

func (f *EPUBFormat) Name() string         { return "EPUB" }
func (f *EPUBFormat) Extensions() []string { return []string{".epub"} }

// Open reads the spine in order. Each spine item with text becomes one
// chapter, titled from the NCX when it names the item.
func (f *EPUBFormat) Open(filename string) (*book.Book, error) {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, fmt.Errorf("no rootfiles found in epub")
	}

	rf := rc.Rootfiles[0]
	doc, _ := loadNavDoc(filename, rf)
	tocByHref := titlesByHref(doc)

	b := &book.Book{
		Title:  strings.TrimSpace(rf.Title),
		Author: strings.TrimSpace(rf.Creator),
	}
	if b.Title == "" {
		b.Title = baseTitle(filename)
	}

	for i, ref := range rf.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		text, err := readItemText(ref.Item)
		if err != nil || text == "" {
			continue
		}

		title := fmt.Sprintf("Section %d", i+1)
		if ref.Item.HREF != "" {
			if t, ok := tocByHref[ref.Item.HREF]; ok {
				title = t
			} else if t, ok := tocByHref[path.Base(ref.Item.HREF)]; ok {
				title = t
			}
		}

		b.Chapters = append(b.Chapters, book.Chapter{
			Title:   title,
			Content: text,
			Href:    ref.Item.HREF,
		})
	}

	if len(b.Chapters) == 0 {
		return nil, ErrNoText
	}
	return b, nil
}

func readItemText(item *epub.Item) (string, error) {
	r, err := item.Open()
	if err != nil {
		return "", err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return cleanText(extractTextFromHTML(string(data))), nil
}

// extractTextFromHTML returns the visible body text of an XHTML document.
// Block elements end with a blank line so paragraphs stay apart.
func extractTextFromHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return ""
	}

	var out strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head, atom.Script, atom.Style:
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.Join(strings.Fields(n.Data), " "); t != "" {
				if out.Len() > 0 {
					out.WriteString(" ")
				}
				out.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) && out.Len() > 0 {
			out.WriteString("\n\n")
		}
	}
	walk(doc)
	return out.String()
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Li, atom.Blockquote, atom.Section, atom.Br, atom.Tr, atom.Pre:
		return true
	}
	return false
}
