// Package book defines the records shared by the chunker, the playback
// scheduler and the persistence gateway.
package book

import (
	"fmt"
	"time"
)

// Chapter is one ordered section of a book as produced by a document parser.
// Content is plain text with no markup.
type Chapter struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Href    string `json:"href"`
}

// Book is a parsed document ready for chunking.
type Book struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Author   string    `json:"author"`
	Chapters []Chapter `json:"chapters"`
}

// TextChunk is a single timed display unit.
type TextChunk struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	ChapterIndex int    `json:"chapterIndex"`
	ChunkIndex   int    `json:"chunkIndex"`
	Duration     int    `json:"duration"` // milliseconds
}

// ChunkID returns the identifier of the chunk at chunkIndex within chapterIndex.
func ChunkID(chapterIndex, chunkIndex int) string {
	return fmt.Sprintf("%d-%d", chapterIndex, chunkIndex)
}

// DisplayDuration returns Duration as a time.Duration.
func (c TextChunk) DisplayDuration() time.Duration {
	return time.Duration(c.Duration) * time.Millisecond
}

// BookRecord is the per-book entry kept alongside the current progress.
type BookRecord struct {
	ID       string          `json:"id" validate:"required"`
	Title    string          `json:"title"`
	Author   string          `json:"author"`
	LastRead time.Time       `json:"lastRead"`
	Progress ReadingProgress `json:"progress"`
}
