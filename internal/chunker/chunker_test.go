package chunker

import (
	"context"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/timing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxLength int
		want      []string
	}{
		{
			name:      "each sentence fits exactly",
			text:      "A. B. C.",
			maxLength: 3,
			want:      []string{"A.", "B.", "C."},
		},
		{
			name:      "sentences packed together",
			text:      "One. Two! Three? Four.",
			maxLength: 12,
			want:      []string{"One. Two!", "Three? Four."},
		},
		{
			name:      "no terminators uses clauses",
			text:      "alpha beta, gamma delta; epsilon",
			maxLength: 12,
			want:      []string{"alpha beta,", "gamma delta;", "epsilon"},
		},
		{
			name:      "oversized sentence falls back to words",
			text:      "the quick brown fox jumps.",
			maxLength: 10,
			want:      []string{"the quick", "brown fox", "jumps."},
		},
		{
			name:      "long single token kept whole",
			text:      "a supercalifragilistic b.",
			maxLength: 5,
			want:      []string{"a", "supercalifragilistic", "b."},
		},
		{
			name:      "whitespace collapsed",
			text:      "  Hello\n\n world.\tNext  line.  ",
			maxLength: 120,
			want:      []string{"Hello world. Next line."},
		},
		{
			name:      "empty",
			text:      "   \n\t ",
			maxLength: 10,
			want:      []string{},
		},
		{
			name:      "terminator without following space",
			text:      "e.g.this stays",
			maxLength: 120,
			want:      []string{"e.g.this stays"},
		},
		{
			name:      "multibyte counted as runes",
			text:      "ééé. ààà.",
			maxLength: 4,
			want:      []string{"ééé.", "ààà."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.maxLength)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitDefaultLength(t *testing.T) {
	text := strings.Repeat("word ", 100)
	for _, c := range Split(text, 0) {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), DefaultMaxLength)
	}
}

func randomText(r *rand.Rand) string {
	words := []string{"the", "a", "reader", "turned", "page.", "slowly,", "and", "then", "stopped!",
		"why?", "because;", "it", "was", "late:", "night…", "“Quiet”", "—", "antidisestablishmentarianism",
		"über", "naïve", "x"}
	seps := []string{" ", " ", " ", "  ", "\n", "\t", " \n "}

	var sb strings.Builder
	n := r.IntN(80)
	for i := 0; i < n; i++ {
		sb.WriteString(words[r.IntN(len(words))])
		sb.WriteString(seps[r.IntN(len(seps))])
	}
	return sb.String()
}

func TestSplitProperties(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))

	for i := 0; i < 500; i++ {
		text := randomText(r)
		maxLength := 1 + r.IntN(60)
		chunks := Split(text, maxLength)

		for _, c := range chunks {
			assert.NotEmpty(t, c)
			assert.Equal(t, strings.TrimSpace(c), c)
			if utf8.RuneCountInString(c) > maxLength {
				assert.Len(t, strings.Fields(c), 1, "oversized chunk %q (max %d) must be a single token", c, maxLength)
			}
		}

		assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(chunks, " ")),
			"tokens must survive chunking (max %d)", maxLength)
	}
}

func TestProcess(t *testing.T) {
	chapters := []book.Chapter{
		{Title: "One", Content: "First sentence. Second sentence.", Href: "one.xhtml"},
		{Title: "Empty", Content: "   ", Href: "empty.xhtml"},
		{Title: "Three", Content: "Third chapter here.", Href: "three.xhtml"},
	}
	cfg := timing.NewConfig(250)

	chunks, err := Process(context.Background(), chapters, cfg, WithMaxLength(20), WithParallelism(2))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, book.TextChunk{ID: "0-0", Text: "First sentence.", ChapterIndex: 0, ChunkIndex: 0, Duration: 900}, chunks[0])
	assert.Equal(t, "0-1", chunks[1].ID)
	assert.Equal(t, "Second sentence.", chunks[1].Text)
	assert.Equal(t, "2-0", chunks[2].ID)
	assert.Equal(t, 2, chunks[2].ChapterIndex)
	assert.Equal(t, 0, chunks[2].ChunkIndex)

	for _, c := range chunks {
		assert.Equal(t, timing.Duration(c.Text, cfg), c.Duration)
	}
}

func TestProcessPreservesChapterOrder(t *testing.T) {
	var chapters []book.Chapter
	for i := 0; i < 40; i++ {
		chapters = append(chapters, book.Chapter{Content: strings.Repeat("Sentence here. ", i%7+1)})
	}

	chunks, err := Process(context.Background(), chapters, timing.NewConfig(300), WithParallelism(8), WithMaxLength(20))
	require.NoError(t, err)

	last := -1
	for _, c := range chunks {
		assert.GreaterOrEqual(t, c.ChapterIndex, last)
		last = c.ChapterIndex
	}
	assert.Equal(t, 39, last)
}

func TestProcessErrors(t *testing.T) {
	ctx := context.Background()
	cfg := timing.NewConfig(250)

	_, err := Process(ctx, nil, cfg)
	assert.ErrorIs(t, err, ErrNoChapters)

	_, err = Process(ctx, []book.Chapter{{Content: "  "}}, cfg)
	assert.ErrorIs(t, err, ErrEmptyBook)

	_, err = Process(ctx, []book.Chapter{{Title: "bad", Content: "ok \xff\xfe"}}, cfg)
	assert.ErrorIs(t, err, ErrMalformedChapter)

	_, err = Process(ctx, []book.Chapter{{Content: "fine."}}, timing.Config{WPM: 0, MinDurationMs: 1, MaxDurationMs: 2})
	assert.ErrorIs(t, err, timing.ErrInvalidConfig)
}

func BenchmarkSplit(b *testing.B) {
	text := strings.Repeat("Hello world this is a test sentence with multiple words. ", 200)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Split(text, DefaultMaxLength)
	}
}
