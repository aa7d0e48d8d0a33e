package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, stdout, none
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// SyncConfig tunes the markdown view of the store.
type SyncConfig struct {
	// Enabled controls whether each persisted batch re-renders the text view.
	Enabled *bool `yaml:"enabled"`
	// ConflictStrategy is the default resolution strategy:
	// prefer-store, prefer-text or merge.
	ConflictStrategy string `yaml:"conflict_strategy"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// StorePath is the canonical store document. Defaults to
	// <home>/store.json.
	StorePath string `yaml:"store_path"`
	// MarkdownPath is the derived human-editable view. Defaults to
	// <home>/TASKS.md.
	MarkdownPath string `yaml:"markdown_path"`

	LogLevel string `yaml:"log_level"`

	// HistorySize bounds the undo ring buffer.
	HistorySize int `yaml:"history_size"`
	// FlushDebounceMillis is the window within which mutations coalesce
	// into one disk flush.
	FlushDebounceMillis int `yaml:"flush_debounce_ms"`
	// BurstWindowMillis is the inter-arrival threshold below which queued
	// operations get a priority boost.
	BurstWindowMillis int `yaml:"burst_window_ms"`
	// OpTimeoutSeconds is the per-operation queue timeout.
	OpTimeoutSeconds int `yaml:"op_timeout_seconds"`
	// ReadConcurrency caps concurrently running read operations. Writes
	// always run one at a time.
	ReadConcurrency int `yaml:"read_concurrency"`
	// CheckIntervalSeconds is the interval after which a full consistency
	// check becomes due.
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	// RecurringIntervalSeconds is the recurring-definition scheduler tick.
	RecurringIntervalSeconds int `yaml:"recurring_interval_seconds"`

	Sync SyncConfig `yaml:"sync"`
	OTel OTelConfig `yaml:"otel"`
}

// SyncEnabled reports whether markdown sync is on (default true).
func (c Config) SyncEnabled() bool {
	if c.Sync.Enabled == nil {
		return true
	}
	return *c.Sync.Enabled
}

// FlushDebounce returns the debounce window as a duration.
func (c Config) FlushDebounce() time.Duration {
	return time.Duration(c.FlushDebounceMillis) * time.Millisecond
}

// BurstWindow returns the burst-boost threshold as a duration.
func (c Config) BurstWindow() time.Duration {
	return time.Duration(c.BurstWindowMillis) * time.Millisecond
}

// OpTimeout returns the per-operation timeout as a duration.
func (c Config) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutSeconds) * time.Second
}

// CheckInterval returns the full-check interval as a duration.
func (c Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "store=%s|md=%s|hist=%d|debounce=%d|burst=%d|timeout=%d|readers=%d|check=%d|sync=%v",
		c.StorePath, c.MarkdownPath, c.HistorySize, c.FlushDebounceMillis,
		c.BurstWindowMillis, c.OpTimeoutSeconds, c.ReadConcurrency,
		c.CheckIntervalSeconds, c.SyncEnabled())
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		LogLevel:                 "info",
		HistorySize:              10,
		FlushDebounceMillis:      100,
		BurstWindowMillis:        100,
		OpTimeoutSeconds:         30,
		ReadConcurrency:          4,
		CheckIntervalSeconds:     5,
		RecurringIntervalSeconds: 60,
		Sync: SyncConfig{
			ConflictStrategy: "prefer-store",
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("TASKHOLD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskhold")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func Load() (Config, error) {
	return LoadFrom(HomeDir())
}

// LoadFrom loads config rooted at the given home directory.
func LoadFrom(homeDir string) (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = homeDir

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskhold home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.StorePath == "" {
		cfg.StorePath = filepath.Join(cfg.HomeDir, "store.json")
	}
	if cfg.MarkdownPath == "" {
		cfg.MarkdownPath = filepath.Join(cfg.HomeDir, "TASKS.md")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 10
	}
	if cfg.FlushDebounceMillis <= 0 {
		cfg.FlushDebounceMillis = 100
	}
	if cfg.BurstWindowMillis <= 0 {
		cfg.BurstWindowMillis = 100
	}
	if cfg.OpTimeoutSeconds <= 0 {
		cfg.OpTimeoutSeconds = 30
	}
	if cfg.ReadConcurrency <= 0 {
		cfg.ReadConcurrency = 4
	}
	if cfg.CheckIntervalSeconds <= 0 {
		cfg.CheckIntervalSeconds = 5
	}
	if cfg.RecurringIntervalSeconds <= 0 {
		cfg.RecurringIntervalSeconds = 60
	}
	switch cfg.Sync.ConflictStrategy {
	case "prefer-store", "prefer-text", "merge":
	default:
		cfg.Sync.ConflictStrategy = "prefer-store"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKHOLD_STORE_PATH"); raw != "" {
		cfg.StorePath = raw
	}
	if raw := os.Getenv("TASKHOLD_MARKDOWN_PATH"); raw != "" {
		cfg.MarkdownPath = raw
	}
	if raw := os.Getenv("TASKHOLD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKHOLD_HISTORY_SIZE"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.HistorySize = v
		}
	}
	if raw := os.Getenv("TASKHOLD_OP_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.OpTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("TASKHOLD_READ_CONCURRENCY"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.ReadConcurrency = v
		}
	}
	if raw := os.Getenv("TASKHOLD_SYNC_DISABLED"); raw != "" {
		disabled := strings.EqualFold(raw, "1") || strings.EqualFold(raw, "true")
		enabled := !disabled
		cfg.Sync.Enabled = &enabled
	}
}
