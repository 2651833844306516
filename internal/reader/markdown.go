package reader

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/metcalfc/lire/internal/book"
)

// MarkdownFormat implements Format for Markdown files.
type MarkdownFormat struct{}

func init() {
	Register(&MarkdownFormat{})
}

func (f *MarkdownFormat) Name() string         { return "Markdown" }
func (f *MarkdownFormat) Extensions() []string { return []string{".md", ".markdown"} }

var (
	// headerRegex matches markdown headers (# to ######)
	headerRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

	linkRegex     = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	emphasisRegex = regexp.MustCompile(`(\*{1,3}|_{2,3}|~~|` + "`" + `)`)
)

// section is a run of lines under one header. level is -1 for text before
// the first header.
type section struct {
	title string
	level int
	lines []string
}

// Open makes one chapter per header. Text before the first header becomes
// a leading chapter titled after the book.
func (f *MarkdownFormat) Open(filename string) (*book.Book, error) {
	sections, err := parseMarkdownFile(filename)
	if err != nil {
		return nil, err
	}

	b := &book.Book{Title: baseTitle(filename)}
	for _, s := range sections {
		if s.level == 0 {
			b.Title = s.title
			break
		}
	}

	for _, s := range sections {
		title := s.title
		if s.level < 0 {
			title = b.Title
		}
		b.Chapters = append(b.Chapters, book.Chapter{
			Title:   title,
			Content: cleanText(strings.Join(s.lines, "\n")),
			Href:    filepath.Base(filename) + "#" + slug(title),
		})
	}

	if len(b.Chapters) == 0 {
		return nil, ErrNoText
	}
	return b, nil
}

// TOC lists the headers with their nesting level. Chapter indices line up
// with the chapters returned by Open.
func (f *MarkdownFormat) TOC(filename string, b *book.Book) ([]TOCEntry, error) {
	sections, err := parseMarkdownFile(filename)
	if err != nil {
		return nil, err
	}

	var entries []TOCEntry
	for i, s := range sections {
		if s.level < 0 {
			continue
		}
		entry := TOCEntry{Title: s.title, ChapterIndex: i, Level: s.level}
		if i < len(b.Chapters) {
			entry.Preview = preview(b.Chapters[i].Content)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseMarkdownFile(filename string) ([]section, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return parseMarkdown(file)
}

func parseMarkdown(r io.Reader) ([]section, error) {
	var sections []section
	var current *section
	inFence := false

	flush := func() {
		if current == nil {
			return
		}
		if current.level >= 0 || strings.TrimSpace(strings.Join(current.lines, "")) != "" {
			sections = append(sections, *current)
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}

		if !inFence {
			if match := headerRegex.FindStringSubmatch(line); match != nil {
				flush()
				title := stripInline(strings.TrimSpace(strings.TrimRight(match[2], "# ")))
				current = &section{
					title: title,
					level: len(match[1]) - 1, // h1 = level 0, h2 = level 1, etc.
					lines: []string{title},
				}
				continue
			}
		}

		if current == nil {
			current = &section{level: -1}
		}
		current.lines = append(current.lines, stripInline(line))
	}
	flush()

	return sections, scanner.Err()
}

// stripInline removes link targets and emphasis markers, keeping the text.
func stripInline(s string) string {
	s = linkRegex.ReplaceAllString(s, "$1")
	return emphasisRegex.ReplaceAllString(s, "")
}

func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}
