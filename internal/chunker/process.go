package chunker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/timing"
)

var (
	// ErrNoChapters is returned when a book has no chapters at all.
	ErrNoChapters = errors.New("book has no chapters")
	// ErrMalformedChapter is returned for chapter content that is not text.
	ErrMalformedChapter = errors.New("malformed chapter")
	// ErrEmptyBook is returned when no chapter produced any chunk.
	ErrEmptyBook = errors.New("book has no readable text")
)

type options struct {
	maxLength   int
	parallelism int
}

// Option configures Process.
type Option func(*options)

// WithMaxLength sets the chunk length limit in runes.
func WithMaxLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLength = n
		}
	}
}

// WithParallelism bounds how many chapters are chunked at once.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.parallelism = n
		}
	}
}

// Chapter chunks the text of the chapter at chapterIndex and times each chunk.
func Chapter(chapterIndex int, text string, cfg timing.Config, maxLength int) []book.TextChunk {
	parts := Split(text, maxLength)
	chunks := make([]book.TextChunk, len(parts))
	for i, p := range parts {
		chunks[i] = book.TextChunk{
			ID:           book.ChunkID(chapterIndex, i),
			Text:         p,
			ChapterIndex: chapterIndex,
			ChunkIndex:   i,
			Duration:     timing.Duration(p, cfg),
		}
	}
	return chunks
}

// Process chunks every chapter and returns the concatenated sequence in
// chapter order.
func Process(ctx context.Context, chapters []book.Chapter, cfg timing.Config, opts ...Option) ([]book.TextChunk, error) {
	o := options{
		maxLength:   DefaultMaxLength,
		parallelism: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(chapters) == 0 {
		return nil, ErrNoChapters
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	perChapter := make([][]book.TextChunk, len(chapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i, ch := range chapters {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if !utf8.ValidString(ch.Content) {
				return fmt.Errorf("%w: chapter %d (%q) is not valid UTF-8", ErrMalformedChapter, i, ch.Title)
			}
			perChapter[i] = Chapter(i, ch.Content, cfg, o.maxLength)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, c := range perChapter {
		total += len(c)
	}
	if total == 0 {
		return nil, ErrEmptyBook
	}

	all := make([]book.TextChunk, 0, total)
	for _, c := range perChapter {
		all = append(all, c...)
	}
	return all, nil
}
