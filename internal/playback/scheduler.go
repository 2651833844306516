// Package playback drives the timed display of a book's chunk sequence.
//
// A Scheduler owns the current chunk index and at most one timer. Each
// chunk is shown for its own duration, hidden for a short settle delay,
// and then the index advances. Progress is persisted only after the
// settle delay, so a pause during a chunk keeps that chunk current.
package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/timing"
	"github.com/metcalfc/lire/internal/worker"
)

// DefaultSettleDelay is the hidden gap between two chunks.
const DefaultSettleDelay = 200 * time.Millisecond

// ErrClosed is returned by LoadBook after Close.
var ErrClosed = errors.New("scheduler closed")

// Runner chunks a book in the background.
type Runner interface {
	Submit(ctx context.Context, chapters []book.Chapter, cfg timing.Config, handler worker.Handler) (*worker.Ticket, error)
}

// Store persists settings and progress for the scheduler.
type Store interface {
	LoadProgress(ctx context.Context) (book.ReadingProgress, bool)
	SaveProgress(p book.ReadingProgress)
	ClearProgress(ctx context.Context) error
	SaveSettings(ctx context.Context, s book.ReaderSettings) error
	LoadBook(ctx context.Context, id string) (book.BookRecord, error)
	SaveBook(ctx context.Context, rec book.BookRecord) error
	Flush(ctx context.Context) error
}

// Scheduler is safe for concurrent use. Listeners registered with OnChange
// are called without the scheduler lock held, on the goroutine that made
// the change.
type Scheduler struct {
	runner Runner
	store  Store
	clock  Clock
	logger *slog.Logger

	settle time.Duration
	minMs  int
	maxMs  int

	mu        sync.Mutex
	state     State
	book      *book.Book
	chunks    []book.TextChunk
	remaining []int
	index     int
	visible   bool
	settings  book.ReaderSettings
	err       error
	closed    bool

	timer Timer
	gen   uint64

	loadGen    uint64
	ticket     *worker.Ticket
	staleLoad  bool
	seq        uint64
	listeners  map[int]func(Snapshot)
	listenerID int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithSettleDelay sets the gap between chunks.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.settle = d }
}

// WithDurationBounds sets the display clamp passed to the chunker.
func WithDurationBounds(minMs, maxMs int) Option {
	return func(s *Scheduler) {
		s.minMs = minMs
		s.maxMs = maxMs
	}
}

// WithSettings sets the initial settings. They are clamped into range.
func WithSettings(rs book.ReaderSettings) Option {
	return func(s *Scheduler) { s.settings = rs.Clamped() }
}

// New creates an idle Scheduler.
func New(runner Runner, store Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:    runner,
		store:     store,
		clock:     wallClock{},
		settle:    DefaultSettleDelay,
		minMs:     timing.DefaultMinDurationMs,
		maxMs:     timing.DefaultMaxDurationMs,
		settings:  book.DefaultSettings(),
		listeners: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// OnChange registers fn to receive a snapshot after every change. The
// returned func unregisters it.
func (s *Scheduler) OnChange(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.listenerID
	s.listenerID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Snapshot returns the current view.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Err returns the error of the last failed load, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LoadBook chunks b with the current settings. Playback stops; the
// previous book stays current until the new one is ready. Returns
// worker.ErrBusy while another load is pending.
func (s *Scheduler) LoadBook(ctx context.Context, b *book.Book) error {
	if b == nil {
		return errors.New("playback: nil book")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == Loading {
		s.mu.Unlock()
		return worker.ErrBusy
	}

	s.stopTimerLocked()
	prev := s.state
	if prev == Playing {
		prev = Paused
	}
	s.state = Loading
	s.err = nil
	s.loadGen++
	gen := s.loadGen
	cfg := timing.Config{WPM: s.settings.WPM, MinDurationMs: s.minMs, MaxDurationMs: s.maxMs}
	s.notifyLocked()

	s.logger.Info("loading book", "title", b.Title, "chapters", len(b.Chapters), "wpm", cfg.WPM)

	ticket, err := s.runner.Submit(ctx, b.Chapters, cfg, func(resp worker.Response) {
		s.loaded(gen, b, prev, resp)
	})

	s.mu.Lock()
	if err != nil {
		if s.loadGen == gen && s.state == Loading {
			s.state = prev
			s.err = err
			s.notifyLocked()
			return err
		}
		s.mu.Unlock()
		return err
	}
	if s.loadGen == gen && s.state == Loading {
		s.ticket = ticket
	}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) loaded(gen uint64, b *book.Book, prev State, resp worker.Response) {
	ctx := context.Background()

	var (
		p       book.ReadingProgress
		hasProg bool
	)
	if resp.Err() == nil {
		p, hasProg = s.store.LoadProgress(ctx)
		if total := len(resp.Chunks); (!hasProg || !p.Matches(total)) && b.ID != "" {
			if rec, err := s.store.LoadBook(ctx, b.ID); err == nil && rec.Progress.Matches(total) {
				p, hasProg = rec.Progress, true
			}
		}
	}

	s.mu.Lock()
	if s.closed || gen != s.loadGen || s.state != Loading {
		s.mu.Unlock()
		return
	}
	s.ticket = nil

	if err := resp.Err(); err != nil {
		s.logger.Warn("book failed to load", "title", b.Title, "error", err)
		s.err = err
		s.state = prev
		if len(s.chunks) == 0 {
			s.state = Idle
		}
		s.staleLoad = false
		s.notifyLocked()
		return
	}

	s.book = b
	s.setChunksLocked(resp.Chunks)
	s.index = 0
	if hasProg && p.Matches(len(s.chunks)) && p.CurrentChunkIndex < len(s.chunks) {
		s.index = p.CurrentChunkIndex
	}
	s.state = Paused
	s.visible = false
	progress := s.progressLocked()
	s.store.SaveProgress(progress)

	reload := s.staleLoad
	s.staleLoad = false
	rec := book.BookRecord{ID: b.ID, Title: b.Title, Author: b.Author, LastRead: s.clock.Now(), Progress: progress}
	s.logger.Info("book loaded", "title", b.Title, "chunks", len(s.chunks), "index", s.index)
	s.notifyLocked()

	if rec.ID != "" {
		if err := s.store.SaveBook(ctx, rec); err != nil {
			s.logger.Warn("failed to save book record", "id", rec.ID, "error", err)
		}
	}
	if reload {
		if err := s.LoadBook(ctx, b); err != nil {
			s.logger.Warn("recompute after settings change failed", "error", err)
		}
	}
}

// Play starts or resumes playback from the current chunk.
func (s *Scheduler) Play() {
	s.mu.Lock()
	if !s.playLocked() {
		s.mu.Unlock()
		return
	}
	s.notifyLocked()
}

// Pause stops playback. The current chunk stays current.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	if !s.pauseLocked() {
		s.mu.Unlock()
		return
	}
	s.notifyLocked()
}

// Toggle plays when paused and pauses when playing. The state is read and
// changed under one lock.
func (s *Scheduler) Toggle() {
	s.mu.Lock()
	var changed bool
	if s.state == Playing {
		changed = s.pauseLocked()
	} else {
		changed = s.playLocked()
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	s.notifyLocked()
}

func (s *Scheduler) playLocked() bool {
	if s.closed || (s.state != Paused && s.state != Finished) || len(s.chunks) == 0 {
		return false
	}
	s.state = Playing
	s.showLocked()
	return true
}

func (s *Scheduler) pauseLocked() bool {
	if s.state != Playing {
		return false
	}
	s.stopTimerLocked()
	s.state = Paused
	return true
}

// Next moves one chunk forward, stopping playback.
func (s *Scheduler) Next() { s.move(func(i int) int { return i + 1 }) }

// Previous moves one chunk back, stopping playback.
func (s *Scheduler) Previous() { s.move(func(i int) int { return i - 1 }) }

// Seek adopts p's index when p was recorded against the current sequence;
// otherwise it goes to the start.
func (s *Scheduler) Seek(p book.ReadingProgress) {
	s.move(func(int) int {
		if p.Matches(s.totalLocked()) {
			return p.CurrentChunkIndex
		}
		return 0
	})
}

// JumpToChapter moves to the first chunk of chapter i, or of the next
// chapter that has any chunks. It reports whether a chunk was found.
func (s *Scheduler) JumpToChapter(i int) bool {
	found := false
	s.move(func(cur int) int {
		for idx, c := range s.chunks {
			if c.ChapterIndex >= i {
				found = true
				return idx
			}
		}
		return cur
	})
	return found
}

// Restart returns to the first chunk, clears the stored progress and
// rewinds the book record.
func (s *Scheduler) Restart(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.state == Loading || len(s.chunks) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.stopTimerLocked()
	s.state = Paused
	s.index = 0
	rec := s.recordLocked()
	s.notifyLocked()

	if err := s.store.ClearProgress(ctx); err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	return s.store.SaveBook(ctx, *rec)
}

// ApplySettings clamps and stores rs. A WPM change re-chunks the loaded
// book since durations are fixed at chunk time; the position is kept.
func (s *Scheduler) ApplySettings(ctx context.Context, rs book.ReaderSettings) error {
	next := rs.Clamped()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	wpmChanged := next.WPM != s.settings.WPM
	s.settings = next
	var reload *book.Book
	switch {
	case wpmChanged && s.state == Loading:
		s.staleLoad = true
	case wpmChanged && s.book != nil:
		reload = s.book
		s.store.SaveProgress(s.progressLocked())
	}
	s.notifyLocked()

	if err := s.store.SaveSettings(ctx, next); err != nil {
		s.logger.Warn("failed to save settings", "error", err)
	}
	if reload != nil {
		return s.LoadBook(ctx, reload)
	}
	return nil
}

// Close stops playback, drops any pending load and flushes progress.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTimerLocked()
	if s.state == Playing {
		s.state = Paused
	}
	if s.ticket != nil {
		s.ticket.Cancel()
		s.ticket = nil
	}
	rec := s.recordLocked()
	s.mu.Unlock()

	ctx := context.Background()
	if rec != nil {
		if err := s.store.SaveBook(ctx, *rec); err != nil {
			s.logger.Warn("failed to save book record", "id", rec.ID, "error", err)
		}
	}
	return s.store.Flush(ctx)
}

func (s *Scheduler) move(to func(int) int) {
	s.mu.Lock()
	if s.closed || s.state == Loading || len(s.chunks) == 0 {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked()
	s.state = Paused
	s.index = min(max(to(s.index), 0), len(s.chunks)-1)
	s.store.SaveProgress(s.progressLocked())
	s.notifyLocked()
}

// showLocked displays the current chunk and arms its timer.
func (s *Scheduler) showLocked() {
	s.armLocked(s.chunks[s.index].DisplayDuration(), s.chunkElapsed)
	s.visible = true
}

func (s *Scheduler) chunkElapsed(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Playing {
		s.mu.Unlock()
		return
	}
	s.visible = false
	s.armLocked(s.settle, s.settled)
	s.notifyLocked()
}

func (s *Scheduler) settled(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != Playing {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.index+1 >= len(s.chunks) {
		s.state = Finished
		s.logger.Info("book finished", "chunks", len(s.chunks))
		s.notifyLocked()
		return
	}
	s.index++
	s.store.SaveProgress(s.progressLocked())
	s.showLocked()
	s.notifyLocked()
}

// armLocked replaces any outstanding timer with one that calls fire.
func (s *Scheduler) armLocked(d time.Duration, fire func(gen uint64)) {
	s.stopTimerLocked()
	gen := s.gen
	s.timer = s.clock.AfterFunc(d, func() { fire(gen) })
}

// stopTimerLocked cancels the outstanding timer and invalidates any
// callback already in flight.
func (s *Scheduler) stopTimerLocked() {
	s.gen++
	s.visible = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) setChunksLocked(chunks []book.TextChunk) {
	s.chunks = chunks
	s.remaining = make([]int, len(chunks)+1)
	settleMs := int(s.settle / time.Millisecond)
	for i := len(chunks) - 1; i >= 0; i-- {
		s.remaining[i] = s.remaining[i+1] + chunks[i].Duration + settleMs
	}
}

// recordLocked returns the per-book record for the current position, or
// nil when the loaded book has no identity.
func (s *Scheduler) recordLocked() *book.BookRecord {
	if s.book == nil || s.book.ID == "" || len(s.chunks) == 0 {
		return nil
	}
	return &book.BookRecord{
		ID:       s.book.ID,
		Title:    s.book.Title,
		Author:   s.book.Author,
		LastRead: s.clock.Now(),
		Progress: s.progressLocked(),
	}
}

func (s *Scheduler) totalLocked() int { return len(s.chunks) }

func (s *Scheduler) progressLocked() book.ReadingProgress {
	if len(s.chunks) == 0 {
		return book.ReadingProgress{}
	}
	return book.ReadingProgress{
		CurrentChapterIndex: s.chunks[s.index].ChapterIndex,
		CurrentChunkIndex:   s.index,
		TotalChunks:         len(s.chunks),
	}
}

func (s *Scheduler) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:      s.seq,
		State:    s.state,
		Index:    s.index,
		Total:    len(s.chunks),
		Visible:  s.visible,
		Progress: s.progressLocked(),
		Settings: s.settings,
		Book:     s.book,
		Err:      s.err,
	}
	if len(s.chunks) > 0 {
		snap.Chunk = s.chunks[s.index]
		snap.RemainingMs = s.remaining[s.index]
	}
	return snap
}

// notifyLocked publishes a snapshot and releases the lock.
func (s *Scheduler) notifyLocked() {
	s.seq++
	snap := s.snapshotLocked()
	listeners := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}
