// Package app wires lire's components together with a samber/do container
// and exposes them to the front ends.
package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/config"
	"github.com/metcalfc/lire/internal/playback"
	"github.com/metcalfc/lire/internal/progress"
	"github.com/metcalfc/lire/internal/reader"
	"github.com/metcalfc/lire/internal/state"
	"github.com/metcalfc/lire/internal/worker"
)

// NewContainer creates the container with every provider registered.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, ProvideLogger)
	do.Provide(injector, ProvideMetrics)

	// Persistence
	do.Provide(injector, ProvideStore)
	do.Provide(injector, ProvideGateway)

	// Reading
	do.Provide(injector, ProvideRunner)
	do.Provide(injector, ProvideScheduler)

	return injector
}

// App holds the initialized components a front end drives.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Gateway   *progress.Gateway
	Runner    *worker.Runner
	Scheduler *playback.Scheduler

	injector *do.RootScope
}

// New builds the container and initializes every component.
func New(cfg *config.Config) (*App, error) {
	injector := NewContainer(cfg)

	sched, err := do.Invoke[*SchedulerHandle](injector)
	if err != nil {
		_ = injector.Shutdown()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &App{
		Config:    cfg,
		Logger:    do.MustInvoke[*LoggerHandle](injector).Logger,
		Gateway:   do.MustInvoke[*GatewayHandle](injector).Gateway,
		Runner:    do.MustInvoke[*RunnerHandle](injector).Runner,
		Scheduler: sched.Scheduler,
		injector:  injector,
	}, nil
}

// Parse reads filename into a book whose ID is the content hash of the
// file.
func (a *App) Parse(filename string) (*book.Book, error) {
	b, err := reader.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(filename), err)
	}
	if b.ID, err = state.ComputeHash(filename); err != nil {
		return nil, fmt.Errorf("hash %s: %w", filepath.Base(filename), err)
	}
	return b, nil
}

// ParseReader reads r as plain text.
func (a *App) ParseReader(title string, r io.Reader) (*book.Book, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", title, err)
	}
	b, err := reader.ReadText(title, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b.ID = state.HashBytes(data)
	return b, nil
}

// Start begins loading b into the scheduler. With Fresh set, any saved
// position for b is dropped first.
func (a *App) Start(ctx context.Context, b *book.Book) error {
	if a.Config.Fresh {
		if err := a.forget(ctx, b.ID); err != nil {
			a.Logger.Warn("failed to reset progress", "book", b.ID, "error", err)
		}
	}
	a.Logger.Info("Loading book", "title", b.Title, "chapters", len(b.Chapters), "id", b.ID)
	return a.Scheduler.LoadBook(ctx, b)
}

// forget drops the current progress and the position kept in the book
// record, so the next load starts at the first chunk.
func (a *App) forget(ctx context.Context, id string) error {
	if err := a.Gateway.ClearProgress(ctx); err != nil {
		return err
	}
	rec, err := a.Gateway.LoadBook(ctx, id)
	if errors.Is(err, state.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rec.Progress = book.ReadingProgress{}
	return a.Gateway.SaveBook(ctx, rec)
}

// Dump chunks b at the current speed and writes one JSON object per chunk.
func (a *App) Dump(ctx context.Context, w io.Writer, b *book.Book) error {
	wpm := a.Scheduler.Snapshot().Settings.WPM
	chunks, err := a.Runner.Do(ctx, b.Chapters, a.Config.Timing(wpm))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops every component in reverse dependency order: the
// scheduler saves its position, the runner drains, the gateway flushes and
// the store closes last.
func (a *App) Shutdown() error {
	a.Logger.Info("Shutting down")
	if report := a.injector.Shutdown(); report != nil && !report.Succeed {
		return fmt.Errorf("shutdown: %v", report)
	}
	return nil
}
