//go:build !gui

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	progressbar "github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/metcalfc/lire/internal/app"
	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/config"
	"github.com/metcalfc/lire/internal/playback"
	"github.com/metcalfc/lire/internal/reader"
)

// Version info (injected via ldflags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// palette holds the styles for one theme.
type palette struct {
	text     lipgloss.Style
	status   lipgloss.Style
	controls lipgloss.Style
	paused   lipgloss.Style
	complete lipgloss.Style
	errStyle lipgloss.Style
	cursor   lipgloss.Style
}

func paletteFor(t book.Theme) palette {
	fg, dim, faint := "#FFFFFF", "#888888", "#666666"
	if t == book.ThemeLight {
		fg, dim, faint = "#1A1A1A", "#555555", "#777777"
	}
	return palette{
		text:     lipgloss.NewStyle().Foreground(lipgloss.Color(fg)),
		status:   lipgloss.NewStyle().Foreground(lipgloss.Color(dim)).Padding(0, 1),
		controls: lipgloss.NewStyle().Foreground(lipgloss.Color(faint)).Italic(true),
		paused:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAA00")).Bold(true),
		complete: lipgloss.NewStyle().Foreground(lipgloss.Color("#00AA00")).Bold(true),
		errStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
		cursor:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
	}
}

type keyMap struct {
	Toggle  key.Binding
	Prev    key.Binding
	Next    key.Binding
	Faster  key.Binding
	Slower  key.Binding
	Bigger  key.Binding
	Smaller key.Binding
	Theme   key.Binding
	TOC     key.Binding
	Restart key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Prev, k.Next, k.Faster, k.Slower, k.TOC, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Prev, k.Next, k.Restart},
		{k.Faster, k.Slower, k.Bigger, k.Smaller},
		{k.Theme, k.TOC, k.Help, k.Quit},
	}
}

var keys = keyMap{
	Toggle:  key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "pause/play")),
	Prev:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "previous")),
	Next:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "next")),
	Faster:  key.NewBinding(key.WithKeys("up", "+", "="), key.WithHelp("↑/+", "faster")),
	Slower:  key.NewBinding(key.WithKeys("down", "-"), key.WithHelp("↓/-", "slower")),
	Bigger:  key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "bigger font")),
	Smaller: key.NewBinding(key.WithKeys("["), key.WithHelp("[", "smaller font")),
	Theme:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "dark/light")),
	TOC:     key.NewBinding(key.WithKeys("t", "T"), key.WithHelp("t", "contents")),
	Restart: key.NewBinding(key.WithKeys("r", "R"), key.WithHelp("r", "restart")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:    key.NewBinding(key.WithKeys("q", "Q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// controller is the part of the scheduler the terminal front end drives.
type controller interface {
	Snapshot() playback.Snapshot
	Toggle()
	Next()
	Previous()
	JumpToChapter(i int) bool
	Restart(ctx context.Context) error
	ApplySettings(ctx context.Context, rs book.ReaderSettings) error
}

// snapshotMsg carries a scheduler change into the event loop.
type snapshotMsg playback.Snapshot

// snapshotFeed hands scheduler changes to the event loop without blocking
// the goroutine that made the change, which may be the event loop itself.
// It holds one snapshot; the newest one wins.
type snapshotFeed struct {
	mu sync.Mutex
	ch chan playback.Snapshot
}

func newSnapshotFeed() *snapshotFeed {
	return &snapshotFeed{ch: make(chan playback.Snapshot, 1)}
}

func (f *snapshotFeed) push(s playback.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case old := <-f.ch:
		if old.Seq > s.Seq {
			s = old
		}
	default:
	}
	f.ch <- s
}

// wait delivers the next snapshot as a message.
func (f *snapshotFeed) wait() tea.Msg {
	return snapshotMsg(<-f.ch)
}

// subscribe feeds every scheduler change into a new snapshotFeed.
func subscribe(sched *playback.Scheduler) (*snapshotFeed, func()) {
	feed := newSnapshotFeed()
	return feed, sched.OnChange(feed.push)
}

// startErrMsg reports that the book could not be submitted for loading.
type startErrMsg struct{ err error }

type model struct {
	ctrl  controller
	feed  *snapshotFeed
	start func() error
	toc   []reader.TOCEntry

	snap      playback.Snapshot
	help      help.Model
	bar       progressbar.Model
	tocOpen   bool
	tocCursor int
	err       error
	quitting  bool
	width     int
	height    int
}

func newModel(ctrl controller, feed *snapshotFeed, start func() error, toc []reader.TOCEntry) model {
	return model{
		ctrl:   ctrl,
		feed:   feed,
		start:  start,
		toc:    toc,
		snap:   ctrl.Snapshot(),
		help:   help.New(),
		bar:    progressbar.New(progressbar.WithDefaultGradient(), progressbar.WithoutPercentage()),
		width:  80,
		height: 24,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), m.waitForSnapshot())
}

func (m model) startCmd() tea.Cmd {
	if m.start == nil {
		return nil
	}
	start := m.start
	return func() tea.Msg {
		if err := start(); err != nil {
			return startErrMsg{err}
		}
		return nil
	}
}

func (m model) waitForSnapshot() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	return m.feed.wait
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		// Key handlers read the scheduler directly; keep the newest.
		if msg.Seq >= m.snap.Seq {
			m.snap = playback.Snapshot(msg)
		}
		return m, m.waitForSnapshot()

	case startErrMsg:
		m.err = msg.err
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.bar.Width = max(msg.Width-20, 10)
		return m, nil

	case tea.KeyMsg:
		if m.tocOpen {
			return m.updateTOC(msg)
		}
		return m.updateReading(msg)
	}
	return m, nil
}

func (m model) updateReading(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx := context.Background()
	settings := m.snap.Settings

	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, keys.Toggle):
		m.ctrl.Toggle()
	case key.Matches(msg, keys.Prev):
		m.ctrl.Previous()
	case key.Matches(msg, keys.Next):
		m.ctrl.Next()
	case key.Matches(msg, keys.Faster):
		m.err = m.ctrl.ApplySettings(ctx, settings.WithWPMDelta(book.WPMStep))
	case key.Matches(msg, keys.Slower):
		m.err = m.ctrl.ApplySettings(ctx, settings.WithWPMDelta(-book.WPMStep))
	case key.Matches(msg, keys.Bigger):
		m.err = m.ctrl.ApplySettings(ctx, settings.WithFontDelta(book.FontStep))
	case key.Matches(msg, keys.Smaller):
		m.err = m.ctrl.ApplySettings(ctx, settings.WithFontDelta(-book.FontStep))
	case key.Matches(msg, keys.Theme):
		settings.Theme = settings.Theme.Toggle()
		m.err = m.ctrl.ApplySettings(ctx, settings)
	case key.Matches(msg, keys.Restart):
		m.err = m.ctrl.Restart(ctx)
	case key.Matches(msg, keys.TOC):
		if len(m.toc) > 0 {
			m.tocOpen = true
			m.tocCursor = m.currentTOCEntry()
		}
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	m.snap = m.ctrl.Snapshot()
	return m, nil
}

func (m model) updateTOC(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.tocCursor > 0 {
			m.tocCursor--
		}
	case "down", "j":
		if m.tocCursor < len(m.toc)-1 {
			m.tocCursor++
		}
	case "enter":
		m.ctrl.JumpToChapter(m.toc[m.tocCursor].ChapterIndex)
		m.tocOpen = false
		m.snap = m.ctrl.Snapshot()
	case "esc", "t", "T", "q":
		m.tocOpen = false
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// currentTOCEntry returns the last entry at or before the current chapter.
func (m model) currentTOCEntry() int {
	cur := 0
	for i, e := range m.toc {
		if e.ChapterIndex <= m.snap.Progress.CurrentChapterIndex {
			cur = i
		}
	}
	return cur
}

func (m model) View() string {
	p := paletteFor(m.snap.Settings.Theme)

	if m.quitting {
		if m.snap.State == playback.Finished {
			return p.complete.Render("\n  Reading complete!\n")
		}
		return ""
	}
	if m.tocOpen {
		return m.viewTOC(p)
	}

	var sb strings.Builder
	sb.WriteString(p.status.Render(m.statusLine(p)))
	sb.WriteString("\n")

	// Reserve lines for status, progress and help.
	helpView := p.controls.Render(m.help.View(keys))
	avail := max(m.height-3-lipgloss.Height(helpView), 1)
	sb.WriteString(lipgloss.Place(m.width, avail, lipgloss.Center, lipgloss.Center, m.body(p)))
	sb.WriteString("\n")

	if m.snap.HasChunk() {
		sb.WriteString(" ")
		sb.WriteString(m.bar.ViewAs(m.snap.Progress.Percent() / 100))
		sb.WriteString(p.status.Render(fmt.Sprintf("%3.0f%%  %s left", m.snap.Progress.Percent(), playback.FormatRemaining(m.snap.RemainingMs))))
	}
	sb.WriteString("\n")
	sb.WriteString(helpView)
	return sb.String()
}

func (m model) statusLine(p palette) string {
	parts := make([]string, 0, 4)
	if m.snap.Book != nil && m.snap.Book.Title != "" {
		parts = append(parts, m.snap.Book.Title)
	}
	if s := m.snap.Status(); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, fmt.Sprintf("%d WPM", m.snap.Settings.WPM))
	line := strings.Join(parts, " | ")
	if m.snap.State == playback.Paused {
		line += p.paused.Render(" [PAUSED]")
	}
	return line
}

func (m model) body(p palette) string {
	err := m.err
	if err == nil {
		err = m.snap.Err
	}
	switch {
	case err != nil && !m.snap.HasChunk():
		return p.errStyle.Render("Error: " + err.Error())
	case m.snap.State == playback.Loading:
		return p.status.Render("Preparing text...")
	case m.snap.State == playback.Idle:
		return p.status.Render("No text to read.")
	case m.snap.State == playback.Finished:
		return p.complete.Render("Reading complete! Press space to replay the last chunk or r to restart.")
	case m.snap.Visible:
		width := min(max(m.width-8, 20), 72)
		return p.text.Bold(m.snap.Settings.FontSize >= 32).Width(width).Align(lipgloss.Center).Render(m.snap.Chunk.Text)
	}
	return ""
}

func (m model) viewTOC(p palette) string {
	var sb strings.Builder
	sb.WriteString(p.status.Render("Contents"))
	sb.WriteString("\n\n")

	rows := max(m.height-4, 1)
	first := max(0, min(m.tocCursor-rows/2, len(m.toc)-rows))
	for i := first; i < len(m.toc) && i < first+rows; i++ {
		e := m.toc[i]
		line := strings.Repeat("  ", e.Level) + e.Title
		if e.Preview != "" && e.Title == "" {
			line = strings.Repeat("  ", e.Level) + e.Preview
		}
		if i == m.tocCursor {
			sb.WriteString(p.cursor.Render("> " + line))
		} else {
			sb.WriteString(p.text.Render("  " + line))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(p.controls.Render("↑/↓: select  ENTER: jump  ESC: back"))
	return sb.String()
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Printf("lire %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}()

	b, err := openInput(a, cfg.File)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if cfg.Dump {
		return a.Dump(ctx, os.Stdout, b)
	}

	feed, unsubscribe := subscribe(a.Scheduler)
	defer unsubscribe()

	m := newModel(a.Scheduler, feed, func() error { return a.Start(ctx, b) }, reader.TOC(cfg.File, b))
	if cfg.ShowTOC && len(m.toc) > 0 {
		m.tocOpen = true
	}

	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// openInput reads the named file, or stdin when no file is given.
func openInput(a *app.App, filename string) (*book.Book, error) {
	if filename != "" {
		return a.Parse(filename)
	}

	if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
		return nil, errors.New("no input provided. Provide a file or pipe text to stdin (try: lire -h)")
	}
	return a.ParseReader("stdin", os.Stdin)
}
