// Package chunker splits chapter text into short display units and attaches
// a display duration to each one.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength is the chunk length limit, in runes, used when none is given.
const DefaultMaxLength = 120

const (
	sentenceMarks = ".!?"
	clauseMarks   = ",;:"
)

// Split breaks text into chunks of at most maxLength runes.
//
// Sentences are packed greedily first. Text without any sentence mark is
// packed by clauses instead. Chunks still over the limit are re-packed word
// by word. A single word longer than maxLength is emitted whole. Runs of
// whitespace are collapsed to one space; token order is preserved.
func Split(text string, maxLength int) []string {
	if maxLength < 1 {
		maxLength = DefaultMaxLength
	}

	var chunks []string
	if strings.ContainsAny(text, sentenceMarks) {
		chunks = pack(splitAfter(text, sentenceMarks), maxLength)
	}
	if len(chunks) == 0 {
		chunks = pack(splitAfter(text, clauseMarks), maxLength)
	}

	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if utf8.RuneCountInString(c) <= maxLength {
			out = append(out, c)
			continue
		}
		out = append(out, pack(strings.Split(c, " "), maxLength)...)
	}
	return out
}

// splitAfter cuts text at every whitespace run that directly follows one of
// marks. The mark stays with the preceding piece. Each piece has its inner
// whitespace collapsed; empty pieces are dropped.
func splitAfter(text, marks string) []string {
	var pieces []string
	start := 0
	var prev rune

	for i, r := range text {
		if unicode.IsSpace(r) && prev != 0 && strings.ContainsRune(marks, prev) {
			if p := normalize(text[start:i]); p != "" {
				pieces = append(pieces, p)
			}
			start = i
		}
		prev = r
	}
	if p := normalize(text[start:]); p != "" {
		pieces = append(pieces, p)
	}
	return pieces
}

// pack greedily joins parts with single spaces, starting a new chunk
// whenever the next part would push the current one past maxLength.
func pack(parts []string, maxLength int) []string {
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)

	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, cur.String())
		}
		cur.Reset()
		curLen = 0
	}

	for _, p := range parts {
		if p == "" {
			continue
		}
		n := utf8.RuneCountInString(p)
		if curLen > 0 && curLen+1+n > maxLength {
			flush()
		}
		if curLen > 0 {
			cur.WriteByte(' ')
			curLen++
		}
		cur.WriteString(p)
		curLen += n
	}
	flush()
	return chunks
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
