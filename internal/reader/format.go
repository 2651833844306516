// Package reader turns document files into chapters ready for chunking.
package reader

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/metcalfc/lire/internal/book"
)

// ErrNoText is returned when a document has no readable text.
var ErrNoText = errors.New("document has no readable text")

// Format defines a file format reader.
type Format interface {
	Name() string
	Extensions() []string
	Open(filename string) (*book.Book, error)
}

var registry []Format

// Register adds a format reader to the registry.
func Register(f Format) {
	registry = append(registry, f)
}

// Open reads filename with the registered format for its extension, or as
// plain text when none matches. The returned book has no ID.
func Open(filename string) (*book.Book, error) {
	if f := lookup(filename); f != nil {
		return f.Open(filename)
	}
	return openPlainText(filename)
}

// SupportedFormats returns registered format names with their extensions.
func SupportedFormats() []string {
	var out []string
	for _, f := range registry {
		out = append(out, f.Name()+" ("+strings.Join(f.Extensions(), ", ")+")")
	}
	return out
}

func lookup(filename string) Format {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range registry {
		for _, e := range f.Extensions() {
			if ext == e {
				return f
			}
		}
	}
	return nil
}

// openPlainText reads the whole file as a single chapter.
func openPlainText(filename string) (*book.Book, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	b, err := ReadText(baseTitle(filename), f)
	if err != nil {
		return nil, err
	}
	b.Chapters[0].Href = filepath.Base(filename)
	return b, nil
}

// ReadText reads r as plain text and returns a one-chapter book.
func ReadText(title string, r io.Reader) (*book.Book, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text := cleanText(string(data))
	if text == "" {
		return nil, ErrNoText
	}
	return &book.Book{
		Title:    title,
		Chapters: []book.Chapter{{Title: title, Content: text}},
	}, nil
}

// cleanText NFC-normalizes s and trims surrounding space.
func cleanText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func baseTitle(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
