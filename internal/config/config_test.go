package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_EmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("window: [not, a, map"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_Partial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
store:
  driver: Postgres
  dsn: postgres://horizon@localhost/horizon?sslmode=disable
log:
  format: pretty
feed:
  listen: ":8080"
  base_path: calendars
window:
  hot_window_months_ahead: 6
  history_retention_months: 0
  processing_cooldown: 90m
organizations:
  - " org-1 "
  - org-2
  - ""
  - org-1
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://horizon@localhost/horizon?sslmode=disable", cfg.Store.DSN)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 6, cfg.Window.HotWindowMonthsAhead)
	assert.Equal(t, 0, cfg.Window.HistoryRetentionMonths)
	assert.Equal(t, 90*time.Minute, cfg.Window.ProcessingCooldown)
	assert.Equal(t, 1000, cfg.Window.MaxInstancesPerRun)
	assert.Equal(t, "*/30 * * * *", cfg.Schedule.Materialize)
	assert.Equal(t, []string{"org-1", "org-2"}, cfg.Organizations)
	assert.Equal(t, ":8080", cfg.Feed.Listen)
	assert.Equal(t, "/calendars/", cfg.Feed.BasePath)
	assert.Equal(t, 90, cfg.Feed.DefaultDays)

	p := cfg.Policy()
	assert.Equal(t, 6, p.HotWindowMonthsAhead)
	assert.Equal(t, 90*time.Minute, p.ProcessingCooldown)
	assert.Equal(t, 5, p.NotesKept)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Store.BusyTimeout = 3 * time.Second
	cfg.RateLimit.SeriesPerSecond = 2.5
	cfg.Schedule.Timezone = "Europe/Berlin"
	cfg.Organizations = []string{"org-9"}
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, "Europe/Berlin", loaded.Location().String())
}

func TestSave_Errors(t *testing.T) {
	assert.Error(t, Save("", DefaultConfig()))
	assert.Error(t, Save(filepath.Join(t.TempDir(), "c.yaml"), nil))
}

func TestNormalize_Defaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()

	def := DefaultConfig()
	assert.Equal(t, def.Store.Driver, cfg.Store.Driver)
	assert.Equal(t, def.Log, cfg.Log)
	assert.Equal(t, def.Calculator, cfg.Calculator)
	assert.Equal(t, def.RateLimit, cfg.RateLimit)
	assert.Equal(t, def.PreviewCache, cfg.PreviewCache)
	assert.Empty(t, cfg.Organizations)
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Calculator.MaxIterationsUnbounded = 42
	cfg.Store.DSN = ":memory:"

	assert.Equal(t, 42, cfg.CalculatorLimits().MaxIterationsUnbounded)
	assert.Equal(t, ":memory:", cfg.SQLStore().DSN)
	assert.Equal(t, "sqlite", cfg.SQLStore().Driver)
	assert.Equal(t, cfg.PreviewCache.TTL, cfg.CacheConfig().TTL)
	assert.False(t, cfg.Logger().IsZero())

	cfg.Schedule.Timezone = "Mars/Olympus"
	assert.Equal(t, time.UTC, cfg.Location())
}
