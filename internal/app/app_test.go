package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/config"
	"github.com/metcalfc/lire/internal/playback"
)

const sample = "The first sentence is here. The second one follows it. A third closes the paragraph. " +
	"Then a fourth arrives. And a fifth ends the text."

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = backend
	cfg.Store.Dir = t.TempDir()
	cfg.Logger.File = ""
	cfg.Reading.MaxChunkLength = 30
	cfg.Reading.SettleDelay = time.Millisecond
	cfg.Reading.Debounce = time.Hour
	return cfg
}

func writeBook(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	return path
}

func startAndWait(t *testing.T, a *App, b *book.Book) playback.Snapshot {
	t.Helper()
	require.NoError(t, a.Start(context.Background(), b))
	require.Eventually(t, func() bool {
		return a.Scheduler.Snapshot().State == playback.Paused
	}, 2*time.Second, 5*time.Millisecond)
	return a.Scheduler.Snapshot()
}

func TestOpenStoreBackends(t *testing.T) {
	for _, backend := range []string{config.BackendJSON, config.BackendBadger, config.BackendSQLite, config.BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			store, err := OpenStore(config.StoreConfig{Backend: backend, Dir: filepath.Join(t.TempDir(), "state")}, nil)
			require.NoError(t, err)
			defer store.Close()

			ctx := context.Background()
			require.NoError(t, store.Put(ctx, "k", []byte(`{"v":1}`)))
			got, err := store.Get(ctx, "k")
			require.NoError(t, err)
			assert.JSONEq(t, `{"v":1}`, string(got))
		})
	}

	_, err := OpenStore(config.StoreConfig{Backend: "redis"}, nil)
	assert.Error(t, err)
}

func TestStartLoadsBook(t *testing.T) {
	a, err := New(testConfig(t, config.BackendMemory))
	require.NoError(t, err)
	defer a.Shutdown()

	b, err := a.Parse(writeBook(t))
	require.NoError(t, err)
	assert.Equal(t, "sample", b.Title)
	assert.Len(t, b.ID, 32)

	snap := startAndWait(t, a, b)
	assert.Greater(t, snap.Total, 1)
	assert.Equal(t, 0, snap.Index)
	require.NotNil(t, snap.Book)
	assert.Equal(t, "sample", snap.Book.Title)
}

func TestParseReaderHashesContent(t *testing.T) {
	a, err := New(testConfig(t, config.BackendMemory))
	require.NoError(t, err)
	defer a.Shutdown()

	b1, err := a.ParseReader("stdin", strings.NewReader(sample))
	require.NoError(t, err)
	b2, err := a.ParseReader("stdin", strings.NewReader(sample))
	require.NoError(t, err)
	assert.Equal(t, b1.ID, b2.ID)
	assert.Equal(t, "stdin", b1.Title)
}

func TestWPMOverride(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Reading.WPM = 420

	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Shutdown()

	assert.Equal(t, 420, a.Scheduler.Snapshot().Settings.WPM)
}

func TestShutdownPersistsPosition(t *testing.T) {
	cfg := testConfig(t, config.BackendJSON)
	path := writeBook(t)

	a, err := New(cfg)
	require.NoError(t, err)
	b, err := a.Parse(path)
	require.NoError(t, err)
	snap := startAndWait(t, a, b)
	require.Greater(t, snap.Total, 2)

	a.Scheduler.Next()
	a.Scheduler.Next()
	require.NoError(t, a.Shutdown())

	a, err = New(cfg)
	require.NoError(t, err)
	defer a.Shutdown()
	b, err = a.Parse(path)
	require.NoError(t, err)
	snap = startAndWait(t, a, b)
	assert.Equal(t, 2, snap.Index)

	rec, err := a.Gateway.LoadBook(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "sample", rec.Title)
}

func TestFreshStartsOver(t *testing.T) {
	cfg := testConfig(t, config.BackendJSON)
	path := writeBook(t)

	a, err := New(cfg)
	require.NoError(t, err)
	b, err := a.Parse(path)
	require.NoError(t, err)
	startAndWait(t, a, b)
	a.Scheduler.Next()
	require.NoError(t, a.Shutdown())

	cfg.Fresh = true
	a, err = New(cfg)
	require.NoError(t, err)
	defer a.Shutdown()
	b, err = a.Parse(path)
	require.NoError(t, err)
	snap := startAndWait(t, a, b)
	assert.Equal(t, 0, snap.Index)

	rec, err := a.Gateway.LoadBook(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Zero(t, rec.Progress.CurrentChunkIndex)
}

func TestDump(t *testing.T) {
	a, err := New(testConfig(t, config.BackendMemory))
	require.NoError(t, err)
	defer a.Shutdown()

	b, err := a.Parse(writeBook(t))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.Dump(context.Background(), &buf, b))

	var chunks []book.TextChunk
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var c book.TextChunk
		require.NoError(t, json.Unmarshal(sc.Bytes(), &c))
		chunks = append(chunks, c)
	}
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, book.ChunkID(0, i), c.ID)
		assert.LessOrEqual(t, len([]rune(c.Text)), 30)
		assert.GreaterOrEqual(t, c.Duration, 900)
	}
	assert.Equal(t, playback.Idle, a.Scheduler.Snapshot().State, "dump does not load the book")
}

func TestLogFileWritten(t *testing.T) {
	cfg := testConfig(t, config.BackendMemory)
	cfg.Logger.File = filepath.Join(t.TempDir(), "logs", "lire.log")

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.Shutdown())

	raw, err := os.ReadFile(cfg.Logger.File)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Starting lire")
}
