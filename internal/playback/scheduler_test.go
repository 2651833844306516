package playback

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/progress"
	"github.com/metcalfc/lire/internal/state"
	"github.com/metcalfc/lire/internal/timing"
	"github.com/metcalfc/lire/internal/worker"
)

// manualClock fires timers only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	c       *manualClock
	when    time.Time
	f       func()
	stopped bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{c: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for i, other := range t.c.timers {
		if other == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			t.stopped = true
			return true
		}
	}
	return false
}

// Advance moves time forward by d, firing due timers in order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].when.Before(c.timers[j].when) })
		if len(c.timers) == 0 || c.timers[0].when.After(target) {
			c.now = target
			c.mu.Unlock()
			return
		}
		t := c.timers[0]
		c.timers = c.timers[1:]
		c.now = t.when
		c.mu.Unlock()

		t.f()
	}
}

func (c *manualClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fixedChunks returns one chapter-0 chunk per duration.
func fixedChunks(durations ...int) []book.TextChunk {
	chunks := make([]book.TextChunk, len(durations))
	for i, d := range durations {
		chunks[i] = book.TextChunk{ID: book.ChunkID(0, i), Text: "chunk", ChapterIndex: 0, ChunkIndex: i, Duration: d}
	}
	return chunks
}

type fixture struct {
	t       *testing.T
	clock   *manualClock
	store   *state.MemoryStore
	gateway *progress.Gateway
	runner  *worker.Runner
	sched   *Scheduler

	mu    sync.Mutex
	snaps []Snapshot
	wpms  []int
}

func newFixture(t *testing.T, chunks []book.TextChunk, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{t: t, clock: newManualClock(), store: state.NewMemoryStore()}
	f.gateway = progress.New(f.store, progress.WithDebounce(time.Hour))
	f.runner = worker.New(worker.WithProcessFunc(func(_ context.Context, chapters []book.Chapter, cfg timing.Config) ([]book.TextChunk, error) {
		f.mu.Lock()
		f.wpms = append(f.wpms, cfg.WPM)
		f.mu.Unlock()
		if len(chapters) == 0 {
			return nil, errors.New("no chapters")
		}
		return append([]book.TextChunk(nil), chunks...), nil
	}))
	f.sched = New(f.runner, f.gateway, append([]Option{WithClock(f.clock)}, opts...)...)
	f.sched.OnChange(func(s Snapshot) {
		f.mu.Lock()
		f.snaps = append(f.snaps, s)
		f.mu.Unlock()
	})
	t.Cleanup(func() {
		_ = f.sched.Close()
		_ = f.runner.Close()
		_ = f.gateway.Close()
	})
	return f
}

func testBook() *book.Book {
	return &book.Book{
		ID:       "book-1",
		Title:    "Test",
		Author:   "Author",
		Chapters: []book.Chapter{{Title: "One", Content: "A. B. C."}},
	}
}

func (f *fixture) load(b *book.Book) {
	f.t.Helper()
	require.NoError(f.t, f.sched.LoadBook(context.Background(), b))
	f.waitState(Paused, Idle, Finished)
	f.waitDelivered()
}

// waitDelivered blocks until listeners have seen the latest change.
func (f *fixture) waitDelivered() {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		seq := f.sched.Snapshot().Seq
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.snaps) > 0 && f.snaps[len(f.snaps)-1].Seq == seq
	}, 2*time.Second, time.Millisecond)
}

func (f *fixture) waitState(states ...State) {
	f.t.Helper()
	require.Eventually(f.t, func() bool {
		st := f.sched.Snapshot().State
		for _, want := range states {
			if st == want {
				return true
			}
		}
		return false
	}, 2*time.Second, time.Millisecond)
}

func TestPlaysThroughToFinished(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900, 900))
	f.load(testBook())

	snap := f.sched.Snapshot()
	assert.Equal(t, Paused, snap.State)
	assert.Equal(t, 0, snap.Index)
	assert.Equal(t, 3, snap.Total)
	assert.False(t, snap.Visible)

	f.sched.Play()
	snap = f.sched.Snapshot()
	assert.Equal(t, Playing, snap.State)
	assert.True(t, snap.Visible)

	f.clock.Advance(900 * time.Millisecond)
	snap = f.sched.Snapshot()
	assert.Equal(t, 0, snap.Index, "index holds during the settle delay")
	assert.False(t, snap.Visible)

	f.clock.Advance(200 * time.Millisecond)
	snap = f.sched.Snapshot()
	assert.Equal(t, 1, snap.Index)
	assert.True(t, snap.Visible)

	f.clock.Advance(1100 * time.Millisecond)
	assert.Equal(t, 2, f.sched.Snapshot().Index)

	f.clock.Advance(1100 * time.Millisecond)
	snap = f.sched.Snapshot()
	assert.Equal(t, Finished, snap.State)
	assert.Equal(t, 2, snap.Index, "finished keeps the last chunk")
	assert.Zero(t, f.clock.pending(), "no timer after finishing")

	p, ok := f.gateway.LoadProgress(context.Background())
	require.True(t, ok)
	assert.Equal(t, 2, p.CurrentChunkIndex)
}

func TestNextPreviousClamp(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900, 900))
	f.load(testBook())

	f.sched.Previous()
	assert.Equal(t, 0, f.sched.Snapshot().Index)

	for range 5 {
		f.sched.Next()
	}
	snap := f.sched.Snapshot()
	assert.Equal(t, 2, snap.Index)
	assert.Equal(t, Paused, snap.State)

	f.sched.Previous()
	assert.Equal(t, 1, f.sched.Snapshot().Index)
}

func TestNextStopsPlayback(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900, 900))
	f.load(testBook())

	f.sched.Play()
	f.sched.Next()
	assert.Equal(t, Paused, f.sched.Snapshot().State)
	assert.Zero(t, f.clock.pending())

	f.clock.Advance(10 * time.Second)
	assert.Equal(t, 1, f.sched.Snapshot().Index)
}

func TestPauseIsIdempotent(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900, 900))
	f.load(testBook())

	f.sched.Play()
	f.clock.Advance(500 * time.Millisecond)
	f.sched.Pause()

	f.mu.Lock()
	before := len(f.snaps)
	f.mu.Unlock()

	f.sched.Pause()
	f.mu.Lock()
	after := len(f.snaps)
	f.mu.Unlock()

	assert.Equal(t, before, after, "second pause publishes nothing")
	assert.Equal(t, Paused, f.sched.Snapshot().State)
	assert.Zero(t, f.clock.pending())

	// Resuming replays the interrupted chunk in full.
	f.sched.Play()
	f.clock.Advance(899 * time.Millisecond)
	assert.True(t, f.sched.Snapshot().Visible)
	assert.Equal(t, 0, f.sched.Snapshot().Index)
}

func TestPauseDuringSettleKeepsIndex(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900))
	f.load(testBook())

	f.sched.Play()
	f.clock.Advance(1000 * time.Millisecond)
	f.sched.Pause()
	f.clock.Advance(time.Second)

	assert.Equal(t, 0, f.sched.Snapshot().Index)
}

func TestToggle(t *testing.T) {
	f := newFixture(t, fixedChunks(900))
	f.load(testBook())

	f.sched.Toggle()
	assert.Equal(t, Playing, f.sched.Snapshot().State)
	f.sched.Toggle()
	assert.Equal(t, Paused, f.sched.Snapshot().State)
}

func TestTogglePublishesOneSnapshot(t *testing.T) {
	f := newFixture(t, fixedChunks(900))
	f.load(testBook())

	count := func() int {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.snaps)
	}

	tests := []struct {
		name  string
		setup func()
		want  State
	}{
		{"paused plays", func() {}, Playing},
		{"playing pauses", func() {}, Paused},
		{"finished replays", func() {
			f.sched.Play()
			f.clock.Advance(1100 * time.Millisecond)
			require.Equal(t, Finished, f.sched.Snapshot().State)
		}, Playing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			before := count()
			f.sched.Toggle()
			assert.Equal(t, before+1, count())
			assert.Equal(t, tt.want, f.sched.Snapshot().State)
		})
	}
}

func TestToggleDuringTimerCallbacks(t *testing.T) {
	f := newFixture(t, fixedChunks(10, 10, 10, 10))
	f.load(testBook())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 200 {
			f.clock.Advance(5 * time.Millisecond)
		}
	}()
	for range 200 {
		f.sched.Toggle()
	}
	wg.Wait()

	snap := f.sched.Snapshot()
	assert.Contains(t, []State{Playing, Paused, Finished}, snap.State)
	if snap.State != Playing {
		assert.False(t, snap.Visible)
	}
}

func TestPlayFromFinishedReplaysLastChunk(t *testing.T) {
	f := newFixture(t, fixedChunks(900))
	f.load(testBook())

	f.sched.Play()
	f.clock.Advance(1100 * time.Millisecond)
	require.Equal(t, Finished, f.sched.Snapshot().State)

	f.sched.Play()
	snap := f.sched.Snapshot()
	assert.Equal(t, Playing, snap.State)
	assert.Equal(t, 0, snap.Index)
	assert.True(t, snap.Visible)
}

func TestPlayWithoutBook(t *testing.T) {
	f := newFixture(t, fixedChunks(900))
	f.sched.Play()
	f.sched.Next()
	assert.Equal(t, Idle, f.sched.Snapshot().State)
	assert.False(t, f.sched.Snapshot().HasChunk())
}

func TestRestoresMatchingProgress(t *testing.T) {
	tests := []struct {
		name  string
		saved book.ReadingProgress
		want  int
	}{
		{"matching total", book.ReadingProgress{CurrentChunkIndex: 2, TotalChunks: 4}, 2},
		{"different total", book.ReadingProgress{CurrentChunkIndex: 2, TotalChunks: 9}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixedChunks(900, 900, 900, 900))
			f.gateway.SaveProgress(tt.saved)

			f.load(testBook())
			assert.Equal(t, tt.want, f.sched.Snapshot().Index)

			// Restored position is written back.
			p, ok := f.gateway.LoadProgress(context.Background())
			require.True(t, ok)
			assert.Equal(t, book.ReadingProgress{CurrentChunkIndex: tt.want, TotalChunks: 4}, p)
		})
	}
}

func TestRestoresFromBookRecord(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900, 900))
	require.NoError(t, f.gateway.SaveBook(context.Background(), book.BookRecord{
		ID:       "book-1",
		Progress: book.ReadingProgress{CurrentChunkIndex: 1, TotalChunks: 3},
	}))

	f.load(testBook())
	assert.Equal(t, 1, f.sched.Snapshot().Index)

	var rec book.BookRecord
	require.Eventually(t, func() bool {
		var err error
		rec, err = f.gateway.LoadBook(context.Background(), "book-1")
		return err == nil && rec.Title == "Test"
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, f.clock.Now(), rec.LastRead)
}

func TestSeek(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900, 900))
	f.load(testBook())

	f.sched.Seek(book.ReadingProgress{CurrentChunkIndex: 2, TotalChunks: 3})
	assert.Equal(t, 2, f.sched.Snapshot().Index)

	f.sched.Seek(book.ReadingProgress{CurrentChunkIndex: 1, TotalChunks: 7})
	assert.Equal(t, 0, f.sched.Snapshot().Index)
}

func TestJumpToChapter(t *testing.T) {
	chunks := []book.TextChunk{
		{ID: "0-0", ChapterIndex: 0, ChunkIndex: 0, Duration: 900},
		{ID: "0-1", ChapterIndex: 0, ChunkIndex: 1, Duration: 900},
		{ID: "2-0", ChapterIndex: 2, ChunkIndex: 0, Duration: 900},
	}
	f := newFixture(t, chunks)
	f.load(testBook())

	assert.True(t, f.sched.JumpToChapter(1), "empty chapter jumps to the next one")
	assert.Equal(t, 2, f.sched.Snapshot().Index)
	assert.Equal(t, 2, f.sched.Snapshot().Progress.CurrentChapterIndex)

	assert.True(t, f.sched.JumpToChapter(0))
	assert.Equal(t, 0, f.sched.Snapshot().Index)

	assert.False(t, f.sched.JumpToChapter(5))
	assert.Equal(t, 0, f.sched.Snapshot().Index)
}

func TestRestartClearsProgress(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900, 900))
	f.load(testBook())
	f.sched.Next()
	f.sched.Next()
	ctx := context.Background()

	require.NoError(t, f.sched.Restart(ctx))
	assert.Equal(t, 0, f.sched.Snapshot().Index)

	_, ok := f.gateway.LoadProgress(ctx)
	assert.False(t, ok)

	// The book record is rewound too, so a lost session resumes at the start.
	rec, err := f.gateway.LoadBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, book.ReadingProgress{TotalChunks: 3}, rec.Progress)
}

func TestRestartWithoutRecordIdentity(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900))
	b := testBook()
	b.ID = ""
	f.load(b)
	f.sched.Next()

	require.NoError(t, f.sched.Restart(context.Background()))
	assert.Equal(t, 0, f.sched.Snapshot().Index)
}

func TestLoadFailureKeepsPreviousBook(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900))

	// First load fails with nothing loaded: back to idle.
	require.NoError(t, f.sched.LoadBook(context.Background(), &book.Book{Title: "empty"}))
	f.waitState(Idle)
	assert.Error(t, f.sched.Err())
	assert.Error(t, f.sched.Snapshot().Err)

	f.load(testBook())
	require.NoError(t, f.sched.Err())
	f.sched.Next()

	require.NoError(t, f.sched.LoadBook(context.Background(), &book.Book{Title: "empty"}))
	f.waitState(Paused)
	snap := f.sched.Snapshot()
	assert.Error(t, snap.Err)
	assert.Equal(t, "Test", snap.Book.Title)
	assert.Equal(t, 1, snap.Index)
}

func TestLoadWhileLoadingIsRejected(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, nil)
	f.runner = worker.New(worker.WithProcessFunc(func(context.Context, []book.Chapter, timing.Config) ([]book.TextChunk, error) {
		<-release
		return fixedChunks(900), nil
	}))
	t.Cleanup(func() { _ = f.runner.Close() })
	f.sched = New(f.runner, f.gateway, WithClock(f.clock))
	t.Cleanup(func() { _ = f.sched.Close() })

	require.NoError(t, f.sched.LoadBook(context.Background(), testBook()))
	assert.Equal(t, Loading, f.sched.Snapshot().State)
	assert.ErrorIs(t, f.sched.LoadBook(context.Background(), testBook()), worker.ErrBusy)

	close(release)
	f.waitState(Paused)
	assert.Equal(t, 1, f.sched.Snapshot().Total)
}

func TestWPMChangeRecomputes(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900, 900))
	f.load(testBook())
	f.sched.Next()
	f.sched.Next()

	require.NoError(t, f.sched.ApplySettings(context.Background(), book.ReaderSettings{WPM: 400, FontSize: 24, Theme: book.ThemeDark}))
	f.waitState(Paused)
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.wpms) == 2
	}, 2*time.Second, time.Millisecond)

	f.mu.Lock()
	assert.Equal(t, []int{250, 400}, f.wpms)
	f.mu.Unlock()

	f.waitState(Paused)
	snap := f.sched.Snapshot()
	assert.Equal(t, 2, snap.Index, "position survives the recompute")
	assert.Equal(t, 400, snap.Settings.WPM)
	assert.Equal(t, 400, f.gateway.LoadSettings(context.Background()).WPM)
}

func TestFontChangeDoesNotRecompute(t *testing.T) {
	f := newFixture(t, fixedChunks(900))
	f.load(testBook())

	require.NoError(t, f.sched.ApplySettings(context.Background(), book.ReaderSettings{WPM: 250, FontSize: 40, Theme: book.ThemeLight}))
	f.mu.Lock()
	assert.Equal(t, []int{250}, f.wpms)
	f.mu.Unlock()
	assert.Equal(t, 40, f.sched.Snapshot().Settings.FontSize)
}

func TestApplySettingsClamps(t *testing.T) {
	f := newFixture(t, fixedChunks(900))
	require.NoError(t, f.sched.ApplySettings(context.Background(), book.ReaderSettings{WPM: 5000, FontSize: 2, Theme: "sepia"}))
	assert.Equal(t, book.ReaderSettings{WPM: 1000, FontSize: 16, Theme: book.ThemeDark}, f.sched.Snapshot().Settings)
}

func TestSnapshotsAreOrdered(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900))
	f.load(testBook())
	f.sched.Play()
	f.clock.Advance(2200 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.snaps)
	assert.Equal(t, Loading, f.snaps[0].State)
	for i := 1; i < len(f.snaps); i++ {
		assert.Greater(t, f.snaps[i].Seq, f.snaps[i-1].Seq)
	}
	assert.Equal(t, Finished, f.snaps[len(f.snaps)-1].State)
}

func TestRemainingAndStatus(t *testing.T) {
	f := newFixture(t, fixedChunks(1000, 2000, 3000))
	f.load(testBook())

	snap := f.sched.Snapshot()
	assert.Equal(t, 6000+3*200, snap.RemainingMs)
	assert.Equal(t, "Chapter 1 • Chunk 1 of 3", snap.Status())

	f.sched.Next()
	snap = f.sched.Snapshot()
	assert.Equal(t, 5000+2*200, snap.RemainingMs)
	assert.Equal(t, "Chapter 1 • Chunk 2 of 3", snap.Status())
}

func TestCloseStopsEverything(t *testing.T) {
	f := newFixture(t, fixedChunks(900, 900))
	f.load(testBook())
	f.sched.Play()

	require.NoError(t, f.sched.Close())
	assert.Zero(t, f.clock.pending())
	assert.ErrorIs(t, f.sched.LoadBook(context.Background(), testBook()), ErrClosed)

	assert.Equal(t, Paused, f.sched.Snapshot().State)

	f.sched.Play()
	assert.Equal(t, Paused, f.sched.Snapshot().State, "closed scheduler ignores input")
	f.clock.Advance(5 * time.Second)
	assert.Equal(t, 0, f.sched.Snapshot().Index)
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		ms   int
		want string
	}{
		{0, "0:00"},
		{-5, "0:00"},
		{999, "0:00"},
		{61_000, "1:01"},
		{3_599_000, "59:59"},
		{3_600_000, "1:00:00"},
		{3_725_000, "1:02:05"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRemaining(tt.ms), "ms=%d", tt.ms)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "playing", Playing.String())
	assert.Equal(t, "State(9)", State(9).String())
}
