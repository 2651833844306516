// Package config provides application configuration with support for
// command-line flags, environment variables, .env files and an optional
// YAML file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/metcalfc/lire/internal/book"
	"github.com/metcalfc/lire/internal/chunker"
	"github.com/metcalfc/lire/internal/playback"
	"github.com/metcalfc/lire/internal/progress"
	"github.com/metcalfc/lire/internal/state"
	"github.com/metcalfc/lire/internal/timing"
)

const envPrefix = "LIRE_"

// Store backends.
const (
	BackendJSON   = "json"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	App     AppConfig     `yaml:"app"`
	Logger  LoggerConfig  `yaml:"logger"`
	Store   StoreConfig   `yaml:"store"`
	Reading ReadingConfig `yaml:"reading"`

	// Command-line only.
	File        string `yaml:"-"`
	Fresh       bool   `yaml:"-"`
	Dump        bool   `yaml:"-"`
	ShowTOC     bool   `yaml:"-"`
	ShowVersion bool   `yaml:"-"`
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string `yaml:"env"`
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string `yaml:"level"`
	// File defaults to lire.log inside the state directory.
	File   string `yaml:"file"`
	Stderr bool   `yaml:"stderr"`
}

// StoreConfig selects where settings and progress are kept.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
}

// ReadingConfig holds pacing and chunking configuration.
type ReadingConfig struct {
	// WPM overrides the stored reading speed when non-zero.
	WPM            int           `yaml:"wpm"`
	MaxChunkLength int           `yaml:"max_chunk_length"`
	MinDurationMs  int           `yaml:"min_duration_ms"`
	MaxDurationMs  int           `yaml:"max_duration_ms"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	Debounce       time.Duration `yaml:"debounce"`
	Parallelism    int           `yaml:"parallelism"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Store:  StoreConfig{Backend: BackendJSON},
		Reading: ReadingConfig{
			MaxChunkLength: chunker.DefaultMaxLength,
			MinDurationMs:  timing.DefaultMinDurationMs,
			MaxDurationMs:  timing.DefaultMaxDurationMs,
			SettleDelay:    playback.DefaultSettleDelay,
			Debounce:       progress.DefaultDebounce,
		},
	}
}

// Timing returns the pacing configuration for wpm.
func (c *Config) Timing(wpm int) timing.Config {
	return timing.Config{
		WPM:           wpm,
		MinDurationMs: c.Reading.MinDurationMs,
		MaxDurationMs: c.Reading.MaxDurationMs,
	}
}

// Load builds the configuration from args with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables (LIRE_*).
// 3. .env file.
// 4. YAML file named by -config or LIRE_CONFIG.
// 5. Default values (lowest priority).
//
// flag.ErrHelp is returned unwrapped when -h is given.
func Load(args []string, output io.Writer) (*Config, error) {
	fs := flag.NewFlagSet("lire", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { usage(fs) }

	env := fs.String("env", "", "Environment (development, production)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	logFile := fs.String("log-file", "", "Log file (default: <state-dir>/lire.log)")
	logStderr := fs.String("log-stderr", "", "Also log to stderr (true/false)")
	backend := fs.String("store", "", "Store backend (json, badger, sqlite, memory)")
	stateDir := fs.String("state-dir", "", "Directory for settings and progress")
	wpm := fs.String("w", "", "Words per minute, overrides the saved speed")
	maxLength := fs.String("max-chunk", "", "Maximum chunk length in characters (default: 120)")
	minDuration := fs.String("min-duration", "", "Minimum chunk duration in ms (default: 900)")
	maxDuration := fs.String("max-duration", "", "Maximum chunk duration in ms (default: 6000)")
	settle := fs.String("settle", "", "Gap between chunks (default: 200ms)")
	debounce := fs.String("debounce", "", "Progress write debounce (default: 500ms)")
	parallelism := fs.String("parallelism", "", "Chapters chunked at once (default: number of CPUs)")
	configPath := fs.String("config", "", "Path to a YAML config file")
	envFile := fs.String("env-file", ".env", "Path to .env file")

	fresh := fs.Bool("fresh", false, "Start from the beginning, ignoring saved progress")
	dump := fs.Bool("dump", false, "Print the chunk sequence as JSON lines and exit")
	showTOC := fs.Bool("toc", false, "Show table of contents at startup")
	showVersion := fs.Bool("version", false, "Show version information")
	fs.BoolVar(showVersion, "v", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load .env file if it exists. Variables already set win.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg := Default()
	if path := getConfigValue(*configPath, "CONFIG", ""); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.App.Environment = getConfigValue(*env, "ENV", cfg.App.Environment)
	cfg.Logger.Level = getConfigValue(*logLevel, "LOG_LEVEL", cfg.Logger.Level)
	cfg.Logger.File = getConfigValue(*logFile, "LOG_FILE", cfg.Logger.File)
	cfg.Store.Backend = getConfigValue(*backend, "STORE", cfg.Store.Backend)
	cfg.Store.Dir = getConfigValue(*stateDir, "STATE_DIR", cfg.Store.Dir)

	var errs []error
	var err error
	if cfg.Logger.Stderr, err = getBoolConfigValue(*logStderr, "LOG_STDERR", cfg.Logger.Stderr); err != nil {
		errs = append(errs, err)
	}
	ints := []struct {
		flag, env string
		dst       *int
	}{
		{*wpm, "WPM", &cfg.Reading.WPM},
		{*maxLength, "MAX_CHUNK", &cfg.Reading.MaxChunkLength},
		{*minDuration, "MIN_DURATION", &cfg.Reading.MinDurationMs},
		{*maxDuration, "MAX_DURATION", &cfg.Reading.MaxDurationMs},
		{*parallelism, "PARALLELISM", &cfg.Reading.Parallelism},
	}
	for _, v := range ints {
		if *v.dst, err = getIntConfigValue(v.flag, v.env, *v.dst); err != nil {
			errs = append(errs, err)
		}
	}
	durations := []struct {
		flag, env string
		dst       *time.Duration
	}{
		{*settle, "SETTLE", &cfg.Reading.SettleDelay},
		{*debounce, "DEBOUNCE", &cfg.Reading.Debounce},
	}
	for _, v := range durations {
		if *v.dst, err = getDurationConfigValue(v.flag, v.env, *v.dst); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	cfg.Fresh = *fresh
	cfg.Dump = *dump
	cfg.ShowTOC = *showTOC
	cfg.ShowVersion = *showVersion
	cfg.File = fs.Arg(0)

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that every value is usable. It returns a joined error
// listing all failures found.
func (c *Config) Validate() error {
	var errs []error

	switch c.App.Environment {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q (must be development or production)", c.App.Environment))
	}

	switch strings.ToLower(c.Logger.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %q (must be debug, info, warn, or error)", c.Logger.Level))
	}

	switch c.Store.Backend {
	case BackendJSON, BackendBadger, BackendSQLite, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("invalid store backend: %q (must be json, badger, sqlite, or memory)", c.Store.Backend))
	}
	if c.Store.Dir == "" && c.Store.Backend != BackendMemory {
		errs = append(errs, errors.New("state directory cannot be empty"))
	}

	r := c.Reading
	if r.WPM != 0 && (r.WPM < book.MinWPM || r.WPM > book.MaxWPM) {
		errs = append(errs, fmt.Errorf("wpm %d out of range [%d, %d]", r.WPM, book.MinWPM, book.MaxWPM))
	}
	if r.MaxChunkLength <= 0 {
		errs = append(errs, fmt.Errorf("max chunk length must be positive, got %d", r.MaxChunkLength))
	}
	if err := c.Timing(book.DefaultSettings().WPM).Validate(); err != nil {
		errs = append(errs, err)
	}
	if r.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("settle delay cannot be negative, got %s", r.SettleDelay))
	}
	if r.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce cannot be negative, got %s", r.Debounce))
	}
	if r.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("parallelism cannot be negative, got %d", r.Parallelism))
	}

	return errors.Join(errs...)
}

func (c *Config) expandPaths() error {
	dir, err := expandPath(c.Store.Dir, state.DefaultDir())
	if err != nil {
		return fmt.Errorf("invalid state dir: %w", err)
	}
	c.Store.Dir = dir

	logFile, err := expandPath(c.Logger.File, filepath.Join(c.Store.Dir, "lire.log"))
	if err != nil {
		return fmt.Errorf("invalid log file: %w", err)
	}
	c.Logger.File = logFile
	return nil
}

// expandPath expands ~ and makes the path absolute.
// If path is empty, defaultPath is returned as is.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		return defaultPath, nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envValue := os.Getenv(envPrefix + envKey); envValue != "" {
		return envValue
	}
	return defaultValue
}

// getBoolConfigValue accepts the forms understood by strconv.ParseBool.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) (bool, error) {
	s := getConfigValue(flagValue, envKey, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s%s %q: %w", envPrefix, envKey, s, err)
	}
	return v, nil
}

func getIntConfigValue(flagValue, envKey string, defaultValue int) (int, error) {
	s := getConfigValue(flagValue, envKey, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s %q: %w", envPrefix, envKey, s, err)
	}
	return v, nil
}

func getDurationConfigValue(flagValue, envKey string, defaultValue time.Duration) (time.Duration, error) {
	s := getConfigValue(flagValue, envKey, "")
	if s == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s %q: %w", envPrefix, envKey, s, err)
	}
	return v, nil
}

func usage(fs *flag.FlagSet) {
	w := fs.Output()
	fmt.Fprintf(w, "Lire - Paced Chunk Reader\n\n")
	fmt.Fprintf(w, "Usage:\n")
	fmt.Fprintf(w, "  lire [options] [file]\n\n")
	fmt.Fprintf(w, "Options:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  lire book.epub            Read an EPUB, resuming where you left off\n")
	fmt.Fprintf(w, "  lire -w 400 notes.md      Read Markdown at 400 WPM\n")
	fmt.Fprintf(w, "  cat file.txt | lire       Read from stdin\n")
	fmt.Fprintf(w, "  lire -dump book.epub      Print the chunk sequence as JSON lines\n")
	fmt.Fprintf(w, "\nEvery option can also be set as LIRE_<NAME> in the environment or a .env file.\n")
}
