// Package timing computes how long a chunk of text stays on screen.
package timing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Default duration bounds in milliseconds.
const (
	DefaultMinDurationMs = 900
	DefaultMaxDurationMs = 6000
)

// Pause weights added to the base duration multiplier.
const (
	ellipsisPause = 0.3
	terminalPause = 0.2
	internalPause = 0.1
	dashPause     = 0.15
	quotePause    = 0.1
)

// ErrInvalidConfig is returned by Validate for unusable configurations.
var ErrInvalidConfig = errors.New("invalid timing config")

// Config controls the reading pace.
type Config struct {
	WPM           int `json:"wpm"`
	MinDurationMs int `json:"minDuration"`
	MaxDurationMs int `json:"maxDuration"`
}

// NewConfig returns a Config for wpm with the default bounds.
func NewConfig(wpm int) Config {
	return Config{
		WPM:           wpm,
		MinDurationMs: DefaultMinDurationMs,
		MaxDurationMs: DefaultMaxDurationMs,
	}
}

// Validate checks 0 < min <= max and wpm > 0.
func (c Config) Validate() error {
	switch {
	case c.WPM <= 0:
		return fmt.Errorf("%w: wpm must be positive, got %d", ErrInvalidConfig, c.WPM)
	case c.MinDurationMs <= 0:
		return fmt.Errorf("%w: min duration must be positive, got %d", ErrInvalidConfig, c.MinDurationMs)
	case c.MinDurationMs > c.MaxDurationMs:
		return fmt.Errorf("%w: min duration %d exceeds max %d", ErrInvalidConfig, c.MinDurationMs, c.MaxDurationMs)
	}
	return nil
}

// WordCount returns the number of whitespace separated tokens in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Multiplier returns the punctuation pause multiplier for text.
//
// Ellipsis, terminal and internal punctuation are exclusive tiers checked
// in that order. Dashes and quotation marks add on top of whichever tier
// matched.
func Multiplier(text string) float64 {
	m := 1.0

	switch {
	case strings.Contains(text, "...") || strings.ContainsRune(text, '…'):
		m += ellipsisPause
	case strings.ContainsAny(text, ".!?"):
		m += terminalPause
	case strings.ContainsAny(text, ",;:"):
		m += internalPause
	}

	if strings.ContainsAny(text, "—–") {
		m += dashPause
	}
	if strings.ContainsAny(text, "\"“”") {
		m += quotePause
	}
	return m
}

// Duration returns the display time of text in milliseconds, clamped to
// the configured bounds. cfg is assumed valid.
func Duration(text string, cfg Config) int {
	words := WordCount(text)
	wordsPerSecond := float64(cfg.WPM) / 60
	base := float64(words) / wordsPerSecond * 1000

	d := base * Multiplier(text)
	d = math.Max(float64(cfg.MinDurationMs), math.Min(float64(cfg.MaxDurationMs), d))
	return int(math.Round(d))
}
