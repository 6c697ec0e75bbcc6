package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/storage"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "horizon.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: "sqlite"}, logx.Nop())
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{postgres: true}
	lite := &Store{}

	q := "SELECT * FROM t WHERE a = ? AND b < ?"
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b < $2", pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestStore_TemplateRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tpl := &storage.Template{
		ID:                  "t1",
		OrganizationID:      "org",
		StartAt:             base,
		EndAt:               base.Add(time.Hour),
		Timezone:            "Europe/Berlin",
		Name:                "Standup",
		IsPublic:            true,
		IsRecurringTemplate: true,
	}
	require.NoError(t, s.PutTemplate(ctx, tpl))
	require.NoError(t, s.PutTemplate(ctx, &storage.Template{ID: "t2", OrganizationID: "org"}))

	got, err := s.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.StartAt.Equal(base))
	assert.Equal(t, time.Hour, got.Duration())
	assert.Equal(t, "Europe/Berlin", got.Timezone)
	assert.True(t, got.IsPublic)
	assert.False(t, got.AllDay)

	missingTimes, err := s.GetTemplate(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, missingTimes.StartAt.IsZero())

	tpl.Name = "Daily standup"
	require.NoError(t, s.PutTemplate(ctx, tpl))
	got, err = s.GetTemplate(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Daily standup", got.Name)

	list, err := s.ListTemplates(ctx, "org")
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.GetTemplate(ctx, "nope")
	assert.True(t, storage.IsNotFound(err))
}

func TestStore_RuleRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	end := base.AddDate(0, 6, 0)
	rule := &storage.RecurrenceRule{
		ID:                   "r1",
		BaseRecurringEventID: "t1",
		Frequency:            storage.Monthly,
		Interval:             2,
		RecurrenceEndDate:    &end,
		ByDay:                []string{"1MO", "-1FR"},
		ByMonthDay:           []int{1, -1},
		ByMonth:              []int{3, 9},
	}
	require.NoError(t, s.PutRecurrenceRule(ctx, rule))

	got, err := s.GetRecurrenceRule(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, storage.Monthly, got.Frequency)
	assert.Equal(t, 2, got.Interval)
	assert.Equal(t, []string{"1MO", "-1FR"}, got.ByDay)
	assert.Equal(t, []int{1, -1}, got.ByMonthDay)
	assert.Equal(t, []int{3, 9}, got.ByMonth)
	require.NotNil(t, got.RecurrenceEndDate)
	assert.True(t, got.RecurrenceEndDate.Equal(end))
	assert.Nil(t, got.LatestInstanceDate)

	_, err = s.GetRecurrenceRule(ctx, "t2")
	assert.True(t, storage.IsNotFound(err))
}

func TestStore_ExceptionsKeepOnlyWhitelistedFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	moved := base.Add(2 * time.Hour)
	require.NoError(t, s.PutException(ctx, &storage.Exception{
		ID:                "e1",
		RecurringEventID:  "t1",
		OrganizationID:    "org",
		InstanceStartTime: base,
		Overrides:         storage.ExceptionOverrides{StartAt: mo.Some(moved), Location: mo.Some("Room 4")},
	}))
	// Same natural key replaces the payload.
	require.NoError(t, s.PutException(ctx, &storage.Exception{
		ID:                "e2",
		RecurringEventID:  "t1",
		InstanceStartTime: base,
		Overrides:         storage.ExceptionOverrides{IsCancelled: mo.Some(true)},
	}))

	list, err := s.ListExceptions(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "e1", list[0].ID)
	assert.Equal(t, mo.Some(true), list[0].Overrides.IsCancelled)
	assert.True(t, list[0].Overrides.Location.IsAbsent())
	assert.True(t, list[0].InstanceStartTime.Equal(base))

	// A payload written by another tool with extra keys is decoded without them.
	_, err = s.exec(ctx, `UPDATE event_exceptions SET overrides = ? WHERE id = ?`,
		`{"organizationId":"other-org","name":"Renamed"}`, "e1")
	require.NoError(t, err)
	list, err = s.ListExceptions(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, mo.Some("Renamed"), list[0].Overrides.Name)
}

func TestStore_InstancesUniqueConstraint(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	total := 3
	mk := func(id string, start time.Time) storage.Instance {
		return storage.Instance{
			ID:                        id,
			BaseRecurringEventID:      "t1",
			OrganizationID:            "org",
			OriginalInstanceStartTime: start,
			ActualStartTime:           start,
			ActualEndTime:             start.Add(time.Hour),
			SequenceNumber:            1,
			TotalCount:                &total,
			Version:                   "1",
		}
	}

	n, err := s.InsertInstances(ctx, []storage.Instance{mk("a", base), mk("b", base.AddDate(0, 0, 1))})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Different id, same nominal occurrence: rejected by the unique index.
	n, err = s.InsertInstances(ctx, []storage.Instance{mk("c", base), mk("d", base.AddDate(0, 0, 2))})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	starts, err := s.ListInstanceStarts(ctx, "t1", base.AddDate(0, 0, 1), base.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Len(t, starts, 2)

	list, err := s.ListInstances(ctx, storage.InstanceFilter{OrganizationID: "org"})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].ID)
	require.NotNil(t, list[0].TotalCount)
	assert.Equal(t, 3, *list[0].TotalCount)
}

func TestStore_RetentionQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cutoff := base
	_, err := s.InsertInstances(ctx, []storage.Instance{
		{ID: "old", BaseRecurringEventID: "t1", OrganizationID: "org", OriginalInstanceStartTime: base.Add(-2 * time.Hour),
			ActualStartTime: base.Add(-2 * time.Hour), ActualEndTime: base.Add(-time.Millisecond)},
		{ID: "edge", BaseRecurringEventID: "t1", OrganizationID: "org", OriginalInstanceStartTime: base.Add(-time.Hour),
			ActualStartTime: base.Add(-time.Hour), ActualEndTime: base},
		{ID: "other", BaseRecurringEventID: "t9", OrganizationID: "org2", OriginalInstanceStartTime: base.Add(-2 * time.Hour),
			ActualStartTime: base.Add(-2 * time.Hour), ActualEndTime: base.Add(-time.Hour)},
	})
	require.NoError(t, err)

	eligible, err := s.CountInstancesEndingBefore(ctx, "org", cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, eligible)

	deleted, err := s.DeleteInstancesEndingBefore(ctx, "org", cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	left, err := s.CountInstances(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	other, err := s.CountInstances(ctx, "org2")
	require.NoError(t, err)
	assert.Equal(t, 1, other)
}

func TestStore_Windows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetWindow(ctx, "org")
	assert.True(t, storage.IsNotFound(err))

	w := &storage.Window{
		ID:                     "w1",
		OrganizationID:         "org",
		HotWindowMonthsAhead:   12,
		HistoryRetentionMonths: 3,
		CurrentWindowEndDate:   base.AddDate(1, 0, 0),
		RetentionStartDate:     base.AddDate(0, -3, 0),
		ProcessingPriority:     5,
		MaxInstancesPerRun:     1000,
		IsEnabled:              true,
	}
	stored, err := s.InsertWindow(ctx, w)
	require.NoError(t, err)
	assert.Equal(t, "w1", stored.ID)
	assert.True(t, stored.CurrentWindowEndDate.Equal(base.AddDate(1, 0, 0)))
	assert.Nil(t, stored.LastProcessedAt)
	assert.True(t, stored.IsEnabled)

	_, err = s.InsertWindow(ctx, &storage.Window{ID: "w2", OrganizationID: "org"})
	assert.True(t, storage.IsAlreadyExists(err))

	processed := base.Add(time.Hour)
	stored.LastProcessedAt = &processed
	stored.LastProcessedInstanceCount = 42
	stored.HotWindowMonthsAhead = 13
	stored.PendingSeries = 2
	require.NoError(t, s.UpdateWindow(ctx, stored))

	got, err := s.GetWindow(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, 13, got.HotWindowMonthsAhead)
	assert.Equal(t, 2, got.PendingSeries)
	assert.Equal(t, 42, got.LastProcessedInstanceCount)
	require.NotNil(t, got.LastProcessedAt)
	assert.True(t, got.LastProcessedAt.Equal(processed))

	assert.True(t, storage.IsNotFound(s.UpdateWindow(ctx, &storage.Window{OrganizationID: "ghost"})))

	all, err := s.ListWindows(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
