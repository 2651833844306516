package book

// Theme selects the display palette.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// Toggle returns the other theme.
func (t Theme) Toggle() Theme {
	if t == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}

// Settings bounds and control steps.
const (
	MinWPM      = 100
	MaxWPM      = 1000
	WPMStep     = 25
	MinFontSize = 16
	MaxFontSize = 48
	FontStep    = 2
)

// ReaderSettings holds the user-adjustable reading preferences.
type ReaderSettings struct {
	WPM      int   `json:"wpm" validate:"gte=100,lte=1000"`
	FontSize int   `json:"fontSize" validate:"gte=16,lte=48"`
	Theme    Theme `json:"theme" validate:"oneof=dark light"`
}

// DefaultSettings returns the settings used when none are stored.
func DefaultSettings() ReaderSettings {
	return ReaderSettings{
		WPM:      250,
		FontSize: 24,
		Theme:    ThemeDark,
	}
}

// Clamped returns s with every field forced into range. An unknown theme
// falls back to dark.
func (s ReaderSettings) Clamped() ReaderSettings {
	s.WPM = clamp(s.WPM, MinWPM, MaxWPM)
	s.FontSize = clamp(s.FontSize, MinFontSize, MaxFontSize)
	if s.Theme != ThemeDark && s.Theme != ThemeLight {
		s.Theme = ThemeDark
	}
	return s
}

// WithWPMDelta returns s with the WPM moved by delta and clamped.
func (s ReaderSettings) WithWPMDelta(delta int) ReaderSettings {
	s.WPM = clamp(s.WPM+delta, MinWPM, MaxWPM)
	return s
}

// WithFontDelta returns s with the font size moved by delta and clamped.
func (s ReaderSettings) WithFontDelta(delta int) ReaderSettings {
	s.FontSize = clamp(s.FontSize+delta, MinFontSize, MaxFontSize)
	return s
}

// ReadingProgress is the persisted reading position. CurrentChunkIndex is a
// global index into the full chunk sequence of the book.
type ReadingProgress struct {
	CurrentChapterIndex int `json:"currentChapterIndex" validate:"gte=0"`
	CurrentChunkIndex   int `json:"currentChunkIndex" validate:"gte=0"`
	TotalChunks         int `json:"totalChunks" validate:"gte=0"`
}

// Percent returns the completed share of the book in [0, 100].
func (p ReadingProgress) Percent() float64 {
	if p.TotalChunks <= 0 {
		return 0
	}
	return float64(p.CurrentChunkIndex) / float64(p.TotalChunks) * 100
}

// Matches reports whether p was recorded against a sequence of total chunks.
func (p ReadingProgress) Matches(total int) bool {
	return total > 0 && p.TotalChunks == total
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
