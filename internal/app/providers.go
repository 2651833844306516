package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/do/v2"

	"github.com/metcalfc/lire/internal/chunker"
	"github.com/metcalfc/lire/internal/config"
	"github.com/metcalfc/lire/internal/logger"
	"github.com/metcalfc/lire/internal/observe"
	"github.com/metcalfc/lire/internal/playback"
	"github.com/metcalfc/lire/internal/progress"
	"github.com/metcalfc/lire/internal/state"
	"github.com/metcalfc/lire/internal/state/badgerstore"
	"github.com/metcalfc/lire/internal/state/sqlitestore"
	"github.com/metcalfc/lire/internal/worker"
)

// LoggerHandle owns the log file behind the logger.
type LoggerHandle struct {
	*slog.Logger
	file io.Closer
}

// Shutdown implements do.ShutdownerWithError.
func (h *LoggerHandle) Shutdown() error {
	if h.file == nil {
		return nil
	}
	return h.file.Close()
}

// ProvideLogger provides the structured logger. Records go to the log file
// and, when configured, to stderr.
func ProvideLogger(i do.Injector) (*LoggerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)

	var writers []io.Writer
	var file io.Closer
	if cfg.Logger.File != "" {
		f, err := logger.OpenFile(cfg.Logger.File)
		if err != nil {
			return nil, err
		}
		writers = append(writers, f)
		file = f
	}
	if cfg.Logger.Stderr {
		writers = append(writers, os.Stderr)
	}

	log := logger.New(logger.Config{
		Writers:     writers,
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting lire",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"store", cfg.Store.Backend,
		"state_dir", cfg.Store.Dir,
	)

	return &LoggerHandle{Logger: log, file: file}, nil
}

// ProvideMetrics provides instruments on the global meter provider.
func ProvideMetrics(i do.Injector) (*observe.Metrics, error) {
	return observe.DefaultMetrics(), nil
}

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	state.Store
}

// Shutdown implements do.ShutdownerWithError.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the configured key-value store.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)

	store, err := OpenStore(cfg.Store, log.Logger)
	if err != nil {
		return nil, err
	}
	log.Info("State store opened", "backend", cfg.Store.Backend)
	return &StoreHandle{Store: store}, nil
}

// OpenStore opens the backend named by sc inside sc.Dir.
func OpenStore(sc config.StoreConfig, log *slog.Logger) (state.Store, error) {
	switch sc.Backend {
	case config.BackendJSON, "":
		return state.NewFileStore(sc.Dir)
	case config.BackendMemory:
		return state.NewMemoryStore(), nil
	case config.BackendBadger:
		return badgerstore.Open(filepath.Join(sc.Dir, "badger"), log)
	case config.BackendSQLite:
		if err := os.MkdirAll(sc.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		return sqlitestore.Open(filepath.Join(sc.Dir, "lire.db"), log)
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// GatewayHandle flushes pending progress on shutdown.
type GatewayHandle struct {
	*progress.Gateway
}

// Shutdown implements do.ShutdownerWithError.
func (h *GatewayHandle) Shutdown() error {
	return h.Close()
}

// ProvideGateway provides the settings and progress gateway.
func ProvideGateway(i do.Injector) (*GatewayHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)
	metrics := do.MustInvoke[*observe.Metrics](i)
	store := do.MustInvoke[*StoreHandle](i)

	g := progress.New(store,
		progress.WithLogger(log.With("component", "progress")),
		progress.WithMetrics(metrics),
		progress.WithDebounce(cfg.Reading.Debounce),
	)
	return &GatewayHandle{Gateway: g}, nil
}

// RunnerHandle waits for in-flight chunking on shutdown.
type RunnerHandle struct {
	*worker.Runner
}

// Shutdown implements do.ShutdownerWithError.
func (h *RunnerHandle) Shutdown() error {
	return h.Close()
}

// ProvideRunner provides the background chunking runner.
func ProvideRunner(i do.Injector) (*RunnerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)
	metrics := do.MustInvoke[*observe.Metrics](i)

	r := worker.New(
		worker.WithLogger(log.With("component", "worker")),
		worker.WithMetrics(metrics),
		worker.WithChunkOptions(
			chunker.WithMaxLength(cfg.Reading.MaxChunkLength),
			chunker.WithParallelism(cfg.Reading.Parallelism),
		),
	)
	return &RunnerHandle{Runner: r}, nil
}

// SchedulerHandle stops playback and saves the position on shutdown.
type SchedulerHandle struct {
	*playback.Scheduler
}

// Shutdown implements do.ShutdownerWithError.
func (h *SchedulerHandle) Shutdown() error {
	return h.Close()
}

// ProvideScheduler provides the playback scheduler, starting from the
// stored settings with any configured WPM override applied.
func ProvideScheduler(i do.Injector) (*SchedulerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*LoggerHandle](i)
	gateway := do.MustInvoke[*GatewayHandle](i)
	runner := do.MustInvoke[*RunnerHandle](i)

	settings := gateway.LoadSettings(context.Background())
	if cfg.Reading.WPM != 0 {
		settings.WPM = cfg.Reading.WPM
	}

	s := playback.New(runner.Runner, gateway.Gateway,
		playback.WithLogger(log.With("component", "playback")),
		playback.WithSettleDelay(cfg.Reading.SettleDelay),
		playback.WithDurationBounds(cfg.Reading.MinDurationMs, cfg.Reading.MaxDurationMs),
		playback.WithSettings(settings),
	)
	return &SchedulerHandle{Scheduler: s}, nil
}
