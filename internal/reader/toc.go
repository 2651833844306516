package reader

import (
	"strings"

	"github.com/metcalfc/lire/internal/book"
)

// TOCEntry represents a single entry in a table of contents.
type TOCEntry struct {
	Title        string
	Preview      string
	ChapterIndex int
	Level        int
}

// TOCProvider is an optional interface for formats with a richer table of
// contents than one entry per chapter.
type TOCProvider interface {
	TOC(filename string, b *book.Book) ([]TOCEntry, error)
}

// TOC returns the table of contents of a book opened from filename. Formats
// without their own TOC get one top-level entry per chapter.
func TOC(filename string, b *book.Book) []TOCEntry {
	if p, ok := lookup(filename).(TOCProvider); ok {
		if entries, err := p.TOC(filename, b); err == nil && len(entries) > 0 {
			return entries
		}
	}
	return chapterTOC(b)
}

func chapterTOC(b *book.Book) []TOCEntry {
	entries := make([]TOCEntry, 0, len(b.Chapters))
	for i, ch := range b.Chapters {
		entries = append(entries, TOCEntry{
			Title:        ch.Title,
			Preview:      preview(ch.Content),
			ChapterIndex: i,
		})
	}
	return entries
}

// preview returns the first ten words of text.
func preview(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	if len(words) > 10 {
		return strings.Join(words[:10], " ") + "..."
	}
	return strings.Join(words, " ")
}
