//go:build gui

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"os"
	"strings"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

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

// readerTheme forces the variant chosen in the reader settings and, when
// textSize is set, the body text size.
type readerTheme struct {
	fyne.Theme
	variant  fyne.ThemeVariant
	textSize float32
}

func newReaderTheme(rs book.ReaderSettings, sized bool) *readerTheme {
	t := &readerTheme{Theme: theme.DefaultTheme(), variant: theme.VariantDark}
	if rs.Theme == book.ThemeLight {
		t.variant = theme.VariantLight
	}
	if sized {
		t.textSize = float32(rs.FontSize)
	}
	return t
}

func (t *readerTheme) Color(n fyne.ThemeColorName, _ fyne.ThemeVariant) color.Color {
	return t.Theme.Color(n, t.variant)
}

func (t *readerTheme) Size(n fyne.ThemeSizeName) float32 {
	if n == theme.SizeNameText && t.textSize > 0 {
		return t.textSize
	}
	return t.Theme.Size(n)
}

// view holds the widgets updated from scheduler snapshots. Every method
// runs on the fyne goroutine.
type view struct {
	fa     fyne.App
	window fyne.Window
	sched  *playback.Scheduler
	toc    []reader.TOCEntry

	status    *widget.Label
	chunk     *widget.Label
	chunkArea *container.ThemeOverride
	bar       *widget.ProgressBar
	remaining *widget.Label
	tocPanel  *fyne.Container
	split     *container.Split

	snap     playback.Snapshot
	settings book.ReaderSettings
	startErr error
}

func newView(fa fyne.App, w fyne.Window, sched *playback.Scheduler, toc []reader.TOCEntry) *view {
	v := &view{
		fa:        fa,
		window:    w,
		sched:     sched,
		toc:       toc,
		status:    widget.NewLabel(""),
		chunk:     widget.NewLabel(""),
		bar:       widget.NewProgressBar(),
		remaining: widget.NewLabel(""),
	}
	v.status.Alignment = fyne.TextAlignCenter
	v.chunk.Alignment = fyne.TextAlignCenter
	v.chunk.Wrapping = fyne.TextWrapWord
	v.chunk.TextStyle.Bold = true
	v.bar.TextFormatter = func() string { return fmt.Sprintf("%.0f%%", v.bar.Value*100) }

	v.snap = sched.Snapshot()
	v.settings = v.snap.Settings
	v.chunkArea = container.NewThemeOverride(container.NewCenter(v.chunk), newReaderTheme(v.settings, true))
	return v
}

func (v *view) content() fyne.CanvasObject {
	controls := widget.NewLabel("SPACE: pause  ←/→: chunk  ↑/↓: speed  +/-: font  T: contents  D: dark/light  R: restart  F: fullscreen  Q: quit")
	controls.Alignment = fyne.TextAlignCenter

	reading := container.NewBorder(
		v.status,
		container.NewVBox(container.NewBorder(nil, nil, nil, v.remaining, v.bar), controls),
		nil, nil,
		v.chunkArea,
	)
	if len(v.toc) == 0 {
		return reading
	}

	list := widget.NewList(
		func() int { return len(v.toc) },
		func() fyne.CanvasObject {
			return container.NewVBox(widget.NewLabel("Title"), widget.NewLabel("Preview"))
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			entry := v.toc[id]
			vbox := obj.(*fyne.Container)
			titleLabel := vbox.Objects[0].(*widget.Label)
			previewLabel := vbox.Objects[1].(*widget.Label)

			indent := strings.Repeat("  ", entry.Level)
			titleLabel.SetText(indent + entry.Title)
			titleLabel.TextStyle.Bold = true

			preview := []rune(entry.Preview)
			if len(preview) > 50 {
				preview = append(preview[:50], []rune("...")...)
			}
			previewLabel.SetText(indent + string(preview))
		},
	)
	list.OnSelected = func(id widget.ListItemID) {
		if id < len(v.toc) {
			v.sched.JumpToChapter(v.toc[id].ChapterIndex)
			v.showTOC(false)
		}
		list.UnselectAll()
	}

	v.tocPanel = container.NewBorder(
		widget.NewLabel("Table of Contents"),
		widget.NewLabel("Click to jump • T to close"),
		nil, nil,
		list,
	)
	v.split = container.NewHSplit(v.tocPanel, reading)
	v.split.Offset = 0.33
	v.tocPanel.Hide()
	return v.split
}

func (v *view) showTOC(show bool) {
	if v.tocPanel == nil {
		return
	}
	if show {
		v.sched.Pause()
		v.tocPanel.Show()
	} else {
		v.tocPanel.Hide()
	}
	v.split.Refresh()
}

// render applies s unless a newer snapshot was already shown.
func (v *view) render(s playback.Snapshot) {
	if s.Seq < v.snap.Seq {
		return
	}
	v.snap = s

	if s.Settings != v.settings {
		v.settings = s.Settings
		v.fa.Settings().SetTheme(newReaderTheme(s.Settings, false))
		v.chunkArea.Theme = newReaderTheme(s.Settings, true)
		v.chunkArea.Refresh()
	}

	status := fmt.Sprintf("%d WPM | Font: %d", s.Settings.WPM, s.Settings.FontSize)
	if st := s.Status(); st != "" {
		status = st + " | " + status
	}
	if s.Book != nil && s.Book.Title != "" {
		status = s.Book.Title + " | " + status
	}
	if s.State == playback.Paused {
		status += " [PAUSED]"
	}
	v.status.SetText(status)

	err := v.startErr
	if err == nil {
		err = s.Err
	}
	switch {
	case err != nil && !s.HasChunk():
		v.chunk.SetText("Error: " + err.Error())
	case s.State == playback.Loading:
		v.chunk.SetText("Preparing text...")
	case s.State == playback.Finished:
		v.chunk.SetText("Reading complete!")
	case s.Visible:
		v.chunk.SetText(s.Chunk.Text)
	default:
		v.chunk.SetText("")
	}

	v.bar.SetValue(s.Progress.Percent() / 100)
	v.remaining.SetText(playback.FormatRemaining(s.RemainingMs) + " left")
}

func (v *view) apply(rs book.ReaderSettings) {
	if err := v.sched.ApplySettings(context.Background(), rs); err != nil {
		v.startErr = err
		v.render(v.sched.Snapshot())
	}
}

func (v *view) bindKeys() {
	c := v.window.Canvas()
	c.SetOnTypedKey(func(k *fyne.KeyEvent) {
		switch k.Name {
		case fyne.KeySpace:
			v.sched.Toggle()
		case fyne.KeyLeft:
			v.sched.Previous()
		case fyne.KeyRight:
			v.sched.Next()
		case fyne.KeyUp:
			v.apply(v.settings.WithWPMDelta(book.WPMStep))
		case fyne.KeyDown:
			v.apply(v.settings.WithWPMDelta(-book.WPMStep))
		case fyne.KeyEscape:
			v.showTOC(false)
		case fyne.KeyF:
			v.window.SetFullScreen(!v.window.FullScreen())
		case fyne.KeyQ:
			v.fa.Quit()
		}
	})

	c.SetOnTypedRune(func(r rune) {
		switch r {
		case 't', 'T':
			if v.tocPanel != nil {
				v.showTOC(!v.tocPanel.Visible())
			}
		case 'd', 'D':
			rs := v.settings
			rs.Theme = rs.Theme.Toggle()
			v.apply(rs)
		case 'r', 'R':
			if err := v.sched.Restart(context.Background()); err != nil {
				v.startErr = err
			}
		case '+', '=':
			v.apply(v.settings.WithFontDelta(book.FontStep))
		case '-':
			v.apply(v.settings.WithFontDelta(-book.FontStep))
		}
	})
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
		fmt.Printf("grr %s (commit: %s, built: %s)\n", version, commit, date)
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

	fa := fyneapp.New()
	w := fa.NewWindow("lire - Paced Reader")
	v := newView(fa, w, a.Scheduler, reader.TOC(cfg.File, b))
	fa.Settings().SetTheme(newReaderTheme(v.settings, false))

	w.SetContent(v.content())
	w.Resize(fyne.NewSize(800, 600))
	v.bindKeys()
	if cfg.ShowTOC {
		v.showTOC(true)
	}

	unsubscribe := a.Scheduler.OnChange(func(s playback.Snapshot) {
		fyne.Do(func() { v.render(s) })
	})
	defer unsubscribe()

	fa.Lifecycle().SetOnStarted(func() {
		go func() {
			if err := a.Start(ctx, b); err != nil {
				fyne.Do(func() {
					v.startErr = err
					v.render(a.Scheduler.Snapshot())
				})
			}
		}()
	})

	w.ShowAndRun()
	return nil
}

// openInput reads the named file, or stdin when no file is given.
func openInput(a *app.App, filename string) (*book.Book, error) {
	if filename != "" {
		return a.Parse(filename)
	}
	if stat, err := os.Stdin.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
		return nil, errors.New("no input provided. Provide a file or pipe text to stdin (try: grr -h)")
	}
	return a.ParseReader("stdin", os.Stdin)
}
