// Package progress reads and writes reader settings, reading progress and
// per-book records through a state.Store.
//
// Settings and book records are written synchronously. Progress writes are
// debounced: SaveProgress returns immediately and the last value saved
// within the debounce window is written on a background goroutine.
// Persistence failures on that path are logged, never returned.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/observe"
	"github.com/metcalfc/lire/internal/state"
)

// Fixed record keys.
const (
	SettingsKey   = "settings/default"
	ProgressKey   = "progress/current"
	bookKeyPrefix = "books/"
)

// DefaultDebounce is the progress write debounce window.
const DefaultDebounce = 500 * time.Millisecond

// BookKey returns the key a book record is stored under.
func BookKey(id string) string { return bookKeyPrefix + id }

// Gateway is the only component that talks to the store.
type Gateway struct {
	store    state.Store
	logger   *slog.Logger
	metrics  *observe.Metrics
	debounce time.Duration

	// serialises flushes so an older value can never land after a newer one
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  *book.ReadingProgress
	inflight *book.ReadingProgress
	timer    *time.Timer
	closed   bool

	errLog rate.Sometimes
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithDebounce sets the progress write window. Zero or less writes on
// every save, still asynchronously.
func WithDebounce(d time.Duration) Option {
	return func(g *Gateway) { g.debounce = d }
}

// New creates a Gateway over store. The gateway does not own the store;
// closing the gateway leaves it open.
func New(store state.Store, opts ...Option) *Gateway {
	g := &Gateway{
		store:    store,
		debounce: DefaultDebounce,
		errLog:   rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	return g
}

// LoadSettings returns the stored settings, or the defaults when none are
// stored or the stored record cannot be used.
func (g *Gateway) LoadSettings(ctx context.Context) book.ReaderSettings {
	var s book.ReaderSettings
	if err := g.read(ctx, SettingsKey, &s); err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			g.logger.Warn("stored settings unusable, using defaults", "error", err)
		}
		return book.DefaultSettings()
	}
	if err := s.Validate(); err != nil {
		g.logger.Warn("stored settings invalid, using defaults", "error", err)
		return book.DefaultSettings()
	}
	return s
}

// SaveSettings validates and writes s.
func (g *Gateway) SaveSettings(ctx context.Context, s book.ReaderSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return g.write(ctx, "settings", SettingsKey, s)
}

// LoadProgress returns the latest progress and whether there is any. A
// value saved but not yet flushed wins over the stored one.
func (g *Gateway) LoadProgress(ctx context.Context) (book.ReadingProgress, bool) {
	g.mu.Lock()
	switch {
	case g.pending != nil:
		p := *g.pending
		g.mu.Unlock()
		return p, true
	case g.inflight != nil:
		p := *g.inflight
		g.mu.Unlock()
		return p, true
	}
	g.mu.Unlock()

	var p book.ReadingProgress
	if err := g.read(ctx, ProgressKey, &p); err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			g.logger.Warn("stored progress unusable", "error", err)
		}
		return book.ReadingProgress{}, false
	}
	if err := p.Validate(); err != nil {
		g.logger.Warn("stored progress invalid", "error", err)
		return book.ReadingProgress{}, false
	}
	return p, true
}

// SaveProgress schedules p to be written. Invalid progress is logged and
// dropped. Calls after Close are ignored.
func (g *Gateway) SaveProgress(p book.ReadingProgress) {
	if err := p.Validate(); err != nil {
		g.logger.Warn("dropping invalid progress", "error", err)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.pending = &p

	if g.timer != nil {
		g.timer.Stop()
	}
	g.timer = time.AfterFunc(max(g.debounce, 0), func() {
		if err := g.flush(context.Background()); err != nil {
			g.errLog.Do(func() {
				g.logger.Error("failed to persist progress", "error", err)
			})
		}
	})
}

// ClearProgress drops any pending progress and deletes the stored record.
func (g *Gateway) ClearProgress(ctx context.Context) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	g.pending = nil
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()

	err := g.store.Delete(ctx, ProgressKey)
	g.metrics.RecordWrite(ctx, "progress", err)
	if err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

// SaveBook validates and writes a per-book record.
func (g *Gateway) SaveBook(ctx context.Context, rec book.BookRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	return g.write(ctx, "book", BookKey(rec.ID), rec)
}

// LoadBook returns the record stored for id. A missing record matches
// state.ErrNotFound.
func (g *Gateway) LoadBook(ctx context.Context, id string) (book.BookRecord, error) {
	var rec book.BookRecord
	if err := g.read(ctx, BookKey(id), &rec); err != nil {
		return book.BookRecord{}, fmt.Errorf("load book %q: %w", id, err)
	}
	return rec, nil
}

// Flush writes any pending progress now.
func (g *Gateway) Flush(ctx context.Context) error {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.mu.Unlock()
	return g.flush(ctx)
}

// Close flushes pending progress and stops accepting saves.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return g.Flush(context.Background())
}

func (g *Gateway) flush(ctx context.Context) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	g.mu.Lock()
	p := g.pending
	g.pending = nil
	g.inflight = p
	g.mu.Unlock()

	if p == nil {
		return nil
	}
	defer func() {
		g.mu.Lock()
		g.inflight = nil
		g.mu.Unlock()
	}()

	return g.write(ctx, "progress", ProgressKey, *p)
}

func (g *Gateway) read(ctx context.Context, key string, v any) error {
	data, err := g.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (g *Gateway) write(ctx context.Context, record, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", record, err)
	}
	err = g.store.Put(ctx, key, data)
	g.metrics.RecordWrite(ctx, record, err)
	if err != nil {
		return fmt.Errorf("save %s: %w", record, err)
	}
	g.logger.Debug("record saved", "record", record, "key", key)
	return nil
}
