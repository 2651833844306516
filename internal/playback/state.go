package playback

import (
	"fmt"

	"github.com/metcalfc/lire/internal/book"
)

// State is the scheduler's playback state.
type State int

const (
	Idle State = iota
	Loading
	Paused
	Playing
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Snapshot is a consistent view of the scheduler at one instant. Seq
// increases with every change so listeners can drop stale deliveries.
type Snapshot struct {
	Seq      uint64
	State    State
	Index    int
	Total    int
	Chunk    book.TextChunk
	Visible  bool
	Progress book.ReadingProgress
	Settings book.ReaderSettings
	Book     *book.Book
	Err      error

	// RemainingMs is the display time left from the current chunk to the
	// end of the book.
	RemainingMs int
}

// HasChunk reports whether there is a current chunk.
func (s Snapshot) HasChunk() bool {
	return s.Total > 0 && s.Index >= 0 && s.Index < s.Total
}

// Status renders the position as "Chapter X • Chunk Y of Z".
func (s Snapshot) Status() string {
	if !s.HasChunk() {
		return ""
	}
	return fmt.Sprintf("Chapter %d • Chunk %d of %d",
		s.Progress.CurrentChapterIndex+1, s.Index+1, s.Total)
}

// FormatRemaining renders ms as m:ss, or h:mm:ss from one hour up.
func FormatRemaining(ms int) string {
	seconds := max(ms, 0) / 1000
	minutes := seconds / 60
	hours := minutes / 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes%60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds%60)
}
