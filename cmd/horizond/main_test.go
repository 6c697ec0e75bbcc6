package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/libhorizon/internal/config"
	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/internal/runner"
	"github.com/cyp0633/libhorizon/materialize"
	"github.com/cyp0633/libhorizon/recurrence"
	"github.com/cyp0633/libhorizon/storage/memory"
	"github.com/cyp0633/libhorizon/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	store := memory.New()
	cache := recurrence.NewPreviewCache(recurrence.DefaultCacheConfig)
	calc := recurrence.NewCalculator(recurrence.WithPreviewCache(cache))
	windows, err := window.NewManager(store)
	require.NoError(t, err)
	mat, err := materialize.New(store, materialize.WithCalculator(calc))
	require.NoError(t, err)
	run, err := runner.New(store, windows, mat)
	require.NoError(t, err)

	var out bytes.Buffer
	a := &app{
		cfg:     config.DefaultConfig(),
		log:     logx.Nop(),
		store:   store,
		calc:    calc,
		cache:   cache,
		windows: windows,
		mat:     mat,
		run:     run,
		out:     &out,
	}
	t.Cleanup(a.close)
	return a, &out
}

func TestCommands_EndToEnd(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Hour).Add(2 * time.Hour)

	require.NoError(t, cmdInitOrg(ctx, a, []string{"-org", "org-1"}))
	assert.Contains(t, out.String(), "initialized for org-1")

	out.Reset()
	require.NoError(t, cmdAddSeries(ctx, a, []string{
		"-org", "org-1",
		"-id", "standup",
		"-name", "Standup",
		"-start", start.Format(time.RFC3339),
		"-duration", "15m",
		"-rrule", "RRULE:FREQ=DAILY;COUNT=5",
	}))
	assert.Contains(t, out.String(), "series standup added")

	out.Reset()
	require.NoError(t, cmdPreview(ctx, a, []string{"-series", "standup", "-n", "3"}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 4)

	require.NoError(t, cmdCancel(ctx, a, []string{"-series", "standup", "-at", start.AddDate(0, 0, 1).Format(time.RFC3339)}))
	require.NoError(t, cmdRun(ctx, a, []string{"-once"}))

	out.Reset()
	require.NoError(t, cmdExport(ctx, a, []string{"-org", "org-1", "-days", "10"}))
	ics := out.String()
	assert.Equal(t, 5, strings.Count(ics, "BEGIN:VEVENT"))
	assert.Equal(t, 1, strings.Count(ics, "STATUS:CANCELLED"))
	assert.Contains(t, ics, "SUMMARY:Standup")

	out.Reset()
	require.NoError(t, cmdStatus(ctx, a, []string{"-org", "org-1"}))
	assert.Contains(t, out.String(), "instances")
	assert.Contains(t, out.String(), "5")

	out.Reset()
	require.NoError(t, cmdStats(ctx, a, nil))
	assert.Contains(t, out.String(), "organizations")
}

func TestAddSeries_Rejects(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	assert.Error(t, cmdAddSeries(ctx, a, []string{"-org", "org-1"}))
	assert.Error(t, cmdAddSeries(ctx, a, []string{"-org", "org-1", "-start", "tomorrow", "-rrule", "FREQ=DAILY"}))
	assert.Error(t, cmdAddSeries(ctx, a, []string{"-org", "org-1", "-start", "2025-01-01T09:00:00Z", "-rrule", "FREQ=HOURLY"}))
	assert.Error(t, cmdAddSeries(ctx, a, []string{"-org", "org-1", "-start", "2025-01-01T09:00:00Z", "-tz", "Nowhere/Land", "-rrule", "FREQ=DAILY"}))
}

func TestExport_UnknownFormat(t *testing.T) {
	a, _ := newTestApp(t)
	assert.Error(t, cmdExport(context.Background(), a, []string{"-org", "org-1", "-format", "csv"}))
}

func TestFeedServer(t *testing.T) {
	a, _ := newTestApp(t)
	a.cfg.Feed.Listen = "127.0.0.1:0"
	a.cfg.Feed.ProductID = "-//acme//feed//EN"
	srv := a.feedServer()
	assert.Equal(t, "127.0.0.1:0", srv.Addr)

	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/feeds/o/org-1/instances.ics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "PRODID:-//acme//feed//EN")

	w = httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/elsewhere", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
