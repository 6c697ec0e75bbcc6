// Package config loads the YAML configuration of the horizond daemon.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/recurrence"
	"github.com/cyp0633/libhorizon/storage/sqlstore"
	"github.com/cyp0633/libhorizon/window"
	"gopkg.in/yaml.v3"
)

// StoreConfig selects the database.
type StoreConfig struct {
	// Driver is one of "sqlite" (pure Go), "sqlite3" (cgo) or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a file path for SQLite or a connection string for Postgres.
	DSN         string        `yaml:"dsn" json:"dsn"`
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// LogConfig controls the daemon logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format" json:"format"`
}

// WindowConfig mirrors window.Policy.
type WindowConfig struct {
	HotWindowMonthsAhead   int           `yaml:"hot_window_months_ahead" json:"hot_window_months_ahead"`
	HistoryRetentionMonths int           `yaml:"history_retention_months" json:"history_retention_months"`
	MaxInstancesPerRun     int           `yaml:"max_instances_per_run" json:"max_instances_per_run"`
	ProcessingPriority     int           `yaml:"processing_priority" json:"processing_priority"`
	LookAheadMonths        int           `yaml:"look_ahead_months" json:"look_ahead_months"`
	ProcessingCooldown     time.Duration `yaml:"processing_cooldown" json:"processing_cooldown"`
	NotesKept              int           `yaml:"notes_kept" json:"notes_kept"`
}

// CalculatorConfig bounds the occurrence calculator.
type CalculatorConfig struct {
	MaxIterationsBounded   int `yaml:"max_iterations_bounded" json:"max_iterations_bounded"`
	MaxIterationsUnbounded int `yaml:"max_iterations_unbounded" json:"max_iterations_unbounded"`
}

// ScheduleConfig holds the cron specs of the background jobs.
type ScheduleConfig struct {
	// Materialize runs the materialization pass (e.g. "*/30 * * * *").
	Materialize string `yaml:"materialize" json:"materialize"`
	// Sweep runs the retention cleanup.
	Sweep string `yaml:"sweep" json:"sweep"`
	// Timezone is the IANA zone cron expressions are evaluated in.
	Timezone string `yaml:"timezone" json:"timezone"`
}

// RateLimitConfig throttles series materialization against the database.
type RateLimitConfig struct {
	SeriesPerSecond float64 `yaml:"series_per_second" json:"series_per_second"`
	Burst           int     `yaml:"burst" json:"burst"`
}

// PreviewCacheConfig sizes the preview cache.
type PreviewCacheConfig struct {
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
	MaxEntries int           `yaml:"max_entries" json:"max_entries"`
}

// FeedConfig controls the HTTP calendar feed.
type FeedConfig struct {
	// Listen is the HTTP listen address. Empty disables the feed.
	Listen string `yaml:"listen" json:"listen"`
	// BasePath is the URL prefix the feed is mounted at.
	BasePath    string `yaml:"base_path" json:"base_path"`
	DefaultDays int    `yaml:"default_days" json:"default_days"`
	ProductID   string `yaml:"product_id,omitempty" json:"product_id,omitempty"`
}

// Config is the top-level daemon configuration.
type Config struct {
	Store        StoreConfig        `yaml:"store" json:"store"`
	Log          LogConfig          `yaml:"log" json:"log"`
	Window       WindowConfig       `yaml:"window" json:"window"`
	Calculator   CalculatorConfig   `yaml:"calculator" json:"calculator"`
	Schedule     ScheduleConfig     `yaml:"schedule" json:"schedule"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" json:"rate_limit"`
	PreviewCache PreviewCacheConfig `yaml:"preview_cache" json:"preview_cache"`
	Feed         FeedConfig         `yaml:"feed" json:"feed"`

	// Organizations get a window initialized on startup if they have none.
	Organizations []string `yaml:"organizations" json:"organizations"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	p := window.DefaultPolicy()
	return &Config{
		Store: StoreConfig{
			Driver:      "sqlite",
			DSN:         "data/horizon.db",
			BusyTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Window: WindowConfig{
			HotWindowMonthsAhead:   p.HotWindowMonthsAhead,
			HistoryRetentionMonths: p.HistoryRetentionMonths,
			MaxInstancesPerRun:     p.MaxInstancesPerRun,
			ProcessingPriority:     p.ProcessingPriority,
			LookAheadMonths:        p.LookAheadMonths,
			ProcessingCooldown:     p.ProcessingCooldown,
			NotesKept:              p.NotesKept,
		},
		Calculator: CalculatorConfig{
			MaxIterationsBounded:   recurrence.DefaultConfig.MaxIterationsBounded,
			MaxIterationsUnbounded: recurrence.DefaultConfig.MaxIterationsUnbounded,
		},
		Schedule: ScheduleConfig{
			Materialize: "*/30 * * * *",
			Sweep:       "15 3 * * *",
			Timezone:    "UTC",
		},
		RateLimit: RateLimitConfig{
			SeriesPerSecond: 50,
			Burst:           10,
		},
		PreviewCache: PreviewCacheConfig{
			TTL:        recurrence.DefaultCacheConfig.TTL,
			MaxEntries: recurrence.DefaultCacheConfig.MaxEntries,
		},
		Feed: FeedConfig{
			BasePath:    "/feeds/",
			DefaultDays: 90,
		},
		Organizations: []string{},
	}
}

// Normalize fills empty fields with defaults and cleans up lists.
// Negative retention is left alone so window validation can reject it.
func (c *Config) Normalize() {
	def := DefaultConfig()

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if strings.TrimSpace(c.Store.DSN) == "" {
		c.Store.DSN = def.Store.DSN
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Format)) {
	case "console", "text", "pretty":
		c.Log.Format = "console"
	default:
		c.Log.Format = "json"
	}

	if c.Window.HotWindowMonthsAhead <= 0 {
		c.Window.HotWindowMonthsAhead = def.Window.HotWindowMonthsAhead
	}
	if c.Window.MaxInstancesPerRun <= 0 {
		c.Window.MaxInstancesPerRun = def.Window.MaxInstancesPerRun
	}
	if c.Window.ProcessingPriority == 0 {
		c.Window.ProcessingPriority = def.Window.ProcessingPriority
	}
	if c.Window.LookAheadMonths <= 0 {
		c.Window.LookAheadMonths = def.Window.LookAheadMonths
	}
	if c.Window.NotesKept <= 0 {
		c.Window.NotesKept = def.Window.NotesKept
	}

	if c.Calculator.MaxIterationsBounded <= 0 {
		c.Calculator.MaxIterationsBounded = def.Calculator.MaxIterationsBounded
	}
	if c.Calculator.MaxIterationsUnbounded <= 0 {
		c.Calculator.MaxIterationsUnbounded = def.Calculator.MaxIterationsUnbounded
	}

	if strings.TrimSpace(c.Schedule.Materialize) == "" {
		c.Schedule.Materialize = def.Schedule.Materialize
	}
	if strings.TrimSpace(c.Schedule.Sweep) == "" {
		c.Schedule.Sweep = def.Schedule.Sweep
	}
	if strings.TrimSpace(c.Schedule.Timezone) == "" {
		c.Schedule.Timezone = def.Schedule.Timezone
	}

	if c.RateLimit.SeriesPerSecond <= 0 {
		c.RateLimit.SeriesPerSecond = def.RateLimit.SeriesPerSecond
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}

	if c.PreviewCache.TTL <= 0 {
		c.PreviewCache.TTL = def.PreviewCache.TTL
	}
	if c.PreviewCache.MaxEntries <= 0 {
		c.PreviewCache.MaxEntries = def.PreviewCache.MaxEntries
	}

	c.Feed.Listen = strings.TrimSpace(c.Feed.Listen)
	c.Feed.BasePath = strings.TrimSpace(c.Feed.BasePath)
	if c.Feed.BasePath == "" {
		c.Feed.BasePath = def.Feed.BasePath
	}
	if !strings.HasPrefix(c.Feed.BasePath, "/") {
		c.Feed.BasePath = "/" + c.Feed.BasePath
	}
	if !strings.HasSuffix(c.Feed.BasePath, "/") {
		c.Feed.BasePath += "/"
	}
	if c.Feed.DefaultDays <= 0 {
		c.Feed.DefaultDays = def.Feed.DefaultDays
	}

	// Trim, drop empties and de-duplicate organizations, keeping order.
	seen := make(map[string]bool, len(c.Organizations))
	orgs := make([]string, 0, len(c.Organizations))
	for _, org := range c.Organizations {
		org = strings.TrimSpace(org)
		if org == "" || seen[org] {
			continue
		}
		seen[org] = true
		orgs = append(orgs, org)
	}
	c.Organizations = orgs
}

// Policy converts the window section.
func (c *Config) Policy() window.Policy {
	return window.Policy{
		HotWindowMonthsAhead:   c.Window.HotWindowMonthsAhead,
		HistoryRetentionMonths: c.Window.HistoryRetentionMonths,
		MaxInstancesPerRun:     c.Window.MaxInstancesPerRun,
		ProcessingPriority:     c.Window.ProcessingPriority,
		LookAheadMonths:        c.Window.LookAheadMonths,
		ProcessingCooldown:     c.Window.ProcessingCooldown,
		NotesKept:              c.Window.NotesKept,
	}
}

// CalculatorLimits converts the calculator section.
func (c *Config) CalculatorLimits() recurrence.Config {
	return recurrence.Config{
		MaxIterationsBounded:   c.Calculator.MaxIterationsBounded,
		MaxIterationsUnbounded: c.Calculator.MaxIterationsUnbounded,
	}
}

// SQLStore converts the store section.
func (c *Config) SQLStore() sqlstore.Config {
	return sqlstore.Config{
		Driver:      c.Store.Driver,
		DSN:         c.Store.DSN,
		BusyTimeout: c.Store.BusyTimeout,
	}
}

// CacheConfig converts the preview cache section.
func (c *Config) CacheConfig() recurrence.CacheConfig {
	return recurrence.CacheConfig{
		TTL:        c.PreviewCache.TTL,
		MaxEntries: c.PreviewCache.MaxEntries,
	}
}

// Location resolves the schedule timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() logx.Logger {
	if c.Log.Format == "console" {
		return logx.NewConsole(c.Log.Level)
	}
	return logx.New(os.Stderr, c.Log.Level)
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there with 0600
// permissions and returned. Otherwise the file is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically via a temp file and rename.
// The parent directory is created with 0700 and the file ends up 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".horizond-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
