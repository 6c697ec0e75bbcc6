package recurrence

import (
	"bytes"
	"testing"
	"time"

	"github.com/cyp0633/libhorizon/internal/logx"
	"github.com/cyp0633/libhorizon/storage"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func template(start time.Time) storage.Template {
	return storage.Template{
		ID:             "series-1",
		OrganizationID: "org-1",
		StartAt:        start,
		EndAt:          start.Add(time.Hour),
	}
}

func starts(occs []Occurrence) []time.Time {
	out := make([]time.Time, len(occs))
	for i, o := range occs {
		out[i] = o.OriginalStartTime
	}
	return out
}

func TestCalculate_DailyCompleteness(t *testing.T) {
	d0 := date(2024, 1, 1)
	rule := storage.RecurrenceRule{Frequency: storage.Daily, Interval: 1}

	occs := Calculate(rule, template(d0), d0, d0.AddDate(0, 0, 9), nil)

	require.Len(t, occs, 10)
	for i, o := range occs {
		want := d0.AddDate(0, 0, i)
		assert.Equal(t, want, o.OriginalStartTime)
		assert.Equal(t, want, o.ActualStartTime)
		assert.Equal(t, want.Add(time.Hour), o.ActualEndTime)
		assert.Equal(t, i+1, o.SequenceNumber)
		assert.False(t, o.IsCancelled)
		assert.Nil(t, o.TotalCount)
	}
}

func TestCalculate_Frequencies(t *testing.T) {
	tests := []struct {
		name  string
		rule  storage.RecurrenceRule
		start time.Time
		until time.Time
		want  []time.Time
	}{
		{
			name:  "daily every third day",
			rule:  storage.RecurrenceRule{Frequency: storage.Daily, Interval: 3},
			start: date(2024, 1, 1),
			until: date(2024, 1, 10),
			want:  []time.Time{date(2024, 1, 1), date(2024, 1, 4), date(2024, 1, 7), date(2024, 1, 10)},
		},
		{
			name:  "weekly on listed days",
			rule:  storage.RecurrenceRule{Frequency: storage.Weekly, ByDay: []string{"MO", "WE", "FR"}},
			start: date(2024, 1, 1),
			until: date(2024, 1, 14),
			want: []time.Time{
				date(2024, 1, 1), date(2024, 1, 3), date(2024, 1, 5),
				date(2024, 1, 8), date(2024, 1, 10), date(2024, 1, 12),
			},
		},
		{
			name:  "biweekly on listed days skips odd weeks",
			rule:  storage.RecurrenceRule{Frequency: storage.Weekly, Interval: 2, ByDay: []string{"TU", "TH"}},
			start: date(2024, 1, 1),
			until: date(2024, 1, 20),
			want:  []time.Time{date(2024, 1, 2), date(2024, 1, 4), date(2024, 1, 16), date(2024, 1, 18)},
		},
		{
			name:  "biweekly without filters",
			rule:  storage.RecurrenceRule{Frequency: storage.Weekly, Interval: 2},
			start: date(2024, 1, 1),
			until: date(2024, 2, 1),
			want:  []time.Time{date(2024, 1, 1), date(2024, 1, 15), date(2024, 1, 29)},
		},
		{
			name:  "monthly last friday",
			rule:  storage.RecurrenceRule{Frequency: storage.Monthly, ByDay: []string{"-1FR"}},
			start: date(2024, 1, 26),
			until: date(2024, 3, 31),
			want:  []time.Time{date(2024, 1, 26), date(2024, 2, 23), date(2024, 3, 29)},
		},
		{
			name:  "monthly on a day every other month",
			rule:  storage.RecurrenceRule{Frequency: storage.Monthly, Interval: 2, ByMonthDay: []int{15}},
			start: date(2024, 1, 15),
			until: date(2024, 6, 30),
			want:  []time.Time{date(2024, 1, 15), date(2024, 3, 15), date(2024, 5, 15)},
		},
		{
			name:  "monthly on the 31st skips short months",
			rule:  storage.RecurrenceRule{Frequency: storage.Monthly},
			start: date(2024, 1, 31),
			until: date(2024, 6, 1),
			want:  []time.Time{date(2024, 1, 31), date(2024, 3, 31), date(2024, 5, 31)},
		},
		{
			name:  "monthly last day",
			rule:  storage.RecurrenceRule{Frequency: storage.Monthly, ByMonthDay: []int{-1}},
			start: date(2024, 1, 31),
			until: date(2024, 4, 30),
			want:  []time.Time{date(2024, 1, 31), date(2024, 2, 29), date(2024, 3, 31), date(2024, 4, 30)},
		},
		{
			name:  "yearly on leap day",
			rule:  storage.RecurrenceRule{Frequency: storage.Yearly},
			start: date(2024, 2, 29),
			until: date(2029, 1, 1),
			want:  []time.Time{date(2024, 2, 29), date(2028, 2, 29)},
		},
		{
			name:  "yearly in listed months",
			rule:  storage.RecurrenceRule{Frequency: storage.Yearly, ByMonth: []int{3, 9}},
			start: date(2024, 3, 10),
			until: date(2025, 12, 31),
			want:  []time.Time{date(2024, 3, 10), date(2024, 9, 10), date(2025, 3, 10), date(2025, 9, 10)},
		},
		{
			name:  "yearly fourth thursday of november",
			rule:  storage.RecurrenceRule{Frequency: storage.Yearly, ByMonth: []int{11}, ByDay: []string{"4TH"}},
			start: date(2024, 11, 28),
			until: date(2026, 12, 31),
			want:  []time.Time{date(2024, 11, 28), date(2025, 11, 27), date(2026, 11, 26)},
		},
		{
			name:  "yearly on a month day every other year",
			rule:  storage.RecurrenceRule{Frequency: storage.Yearly, Interval: 2, ByMonth: []int{7}, ByMonthDay: []int{4}},
			start: date(2024, 7, 4),
			until: date(2029, 1, 1),
			want:  []time.Time{date(2024, 7, 4), date(2026, 7, 4), date(2028, 7, 4)},
		},
		{
			name:  "unknown frequency steps daily",
			rule:  storage.RecurrenceRule{Frequency: "HOURLY"},
			start: date(2024, 1, 1),
			until: date(2024, 1, 3),
			want:  []time.Time{date(2024, 1, 1), date(2024, 1, 2), date(2024, 1, 3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occs := Calculate(tt.rule, template(tt.start), tt.start, tt.until, nil)
			assert.Equal(t, tt.want, starts(occs))
		})
	}
}

func TestCalculate_MonthlyFirstMonday(t *testing.T) {
	start := date(2024, 1, 1)
	rule := storage.RecurrenceRule{Frequency: storage.Monthly, ByDay: []string{"1MO"}}

	occs := Calculate(rule, template(start), start, date(2025, 12, 31), nil)

	require.Len(t, occs, 24)
	for _, o := range occs {
		assert.Equal(t, time.Monday, o.OriginalStartTime.Weekday())
		assert.LessOrEqual(t, o.OriginalStartTime.Day(), 7)
	}
	assert.Equal(t, date(2024, 2, 5), occs[1].OriginalStartTime)
}

func TestCalculate_OrdinalAnchorNotMatching(t *testing.T) {
	// Series created mid month: the first Monday of January has passed.
	start := date(2024, 1, 10)
	rule := storage.RecurrenceRule{Frequency: storage.Monthly, ByDay: []string{"1MO"}}

	occs := Calculate(rule, template(start), start, date(2024, 3, 31), nil)

	assert.Equal(t, []time.Time{date(2024, 2, 5), date(2024, 3, 4)}, starts(occs))
	assert.Equal(t, 1, occs[0].SequenceNumber)
}

func TestCalculate_CountWinsOverEndDate(t *testing.T) {
	start := date(2024, 1, 1)
	farFuture := date(2030, 1, 1)
	rule := storage.RecurrenceRule{Frequency: storage.Daily, Count: 5, RecurrenceEndDate: &farFuture}

	occs := Calculate(rule, template(start), start, date(2031, 1, 1), nil)

	require.Len(t, occs, 5)
	for _, o := range occs {
		require.NotNil(t, o.TotalCount)
		assert.Equal(t, 5, *o.TotalCount)
	}
	assert.Equal(t, date(2024, 1, 5), occs[4].OriginalStartTime)
	assert.NotSame(t, occs[0].TotalCount, occs[1].TotalCount)
}

func TestCalculate_CountAppliesToWholeSeries(t *testing.T) {
	start := date(2024, 1, 1)
	rule := storage.RecurrenceRule{Frequency: storage.Daily, Count: 5}

	// Occurrences before the window still consume the count.
	occs := Calculate(rule, template(start), date(2024, 1, 4), date(2024, 2, 1), nil)

	require.Len(t, occs, 2)
	assert.Equal(t, 4, occs[0].SequenceNumber)
	assert.Equal(t, 5, occs[1].SequenceNumber)
}

func TestCalculate_EndDateBounded(t *testing.T) {
	start := date(2024, 1, 1)
	end := date(2024, 1, 5)
	rule := storage.RecurrenceRule{Frequency: storage.Daily, RecurrenceEndDate: &end}

	occs := Calculate(rule, template(start), start, date(2025, 1, 1), nil)

	require.Len(t, occs, 5)
	assert.Equal(t, end, occs[4].OriginalStartTime)
	assert.Nil(t, occs[0].TotalCount)
}

func TestCalculate_WindowSequenceIsStable(t *testing.T) {
	start := date(2024, 1, 1)
	rule := storage.RecurrenceRule{Frequency: storage.Daily}

	occs := Calculate(rule, template(start), date(2024, 1, 5), date(2024, 1, 7), nil)

	require.Len(t, occs, 3)
	assert.Equal(t, []int{5, 6, 7}, []int{occs[0].SequenceNumber, occs[1].SequenceNumber, occs[2].SequenceNumber})
}

func TestCalculate_AppliesExceptions(t *testing.T) {
	start := date(2024, 1, 1)
	tpl := template(start)
	rule := storage.RecurrenceRule{Frequency: storage.Daily}
	moved := date(2024, 1, 2).Add(3 * time.Hour)

	exceptions := []storage.Exception{
		{
			RecurringEventID:  tpl.ID,
			InstanceStartTime: date(2024, 1, 2),
			Overrides:         storage.ExceptionOverrides{StartAt: mo.Some(moved)},
		},
		{
			RecurringEventID:  tpl.ID,
			InstanceStartTime: date(2024, 1, 3),
			Overrides:         storage.ExceptionOverrides{IsCancelled: mo.Some(true)},
		},
		{
			// Belongs to a different series.
			RecurringEventID:  "series-2",
			InstanceStartTime: date(2024, 1, 4),
			Overrides:         storage.ExceptionOverrides{IsCancelled: mo.Some(true)},
		},
	}

	occs := Calculate(rule, tpl, start, date(2024, 1, 4), exceptions)
	require.Len(t, occs, 4)

	assert.Equal(t, date(2024, 1, 2), occs[1].OriginalStartTime)
	assert.Equal(t, moved, occs[1].ActualStartTime)
	assert.Equal(t, date(2024, 1, 2).Add(time.Hour), occs[1].ActualEndTime, "end is overridden independently")

	assert.True(t, occs[2].IsCancelled)
	assert.False(t, occs[0].IsCancelled)
	assert.False(t, occs[3].IsCancelled)
}

func TestCalculate_ExceptionMatchesAcrossZones(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	start := date(2024, 1, 1)
	tpl := template(start)
	exceptions := []storage.Exception{{
		RecurringEventID:  tpl.ID,
		InstanceStartTime: date(2024, 1, 2).In(tokyo),
		Overrides:         storage.ExceptionOverrides{IsCancelled: mo.Some(true)},
	}}

	occs := Calculate(storage.RecurrenceRule{Frequency: storage.Daily}, tpl, start, date(2024, 1, 2), exceptions)
	require.Len(t, occs, 2)
	assert.True(t, occs[1].IsCancelled)
}

func TestCalculate_MissingTemplateTimes(t *testing.T) {
	var buf bytes.Buffer
	calc := NewCalculator(WithLogger(logx.New(&buf, "debug")))

	tpl := storage.Template{ID: "broken", StartAt: date(2024, 1, 1)}
	occs := calc.Calculate(storage.RecurrenceRule{Frequency: storage.Daily}, tpl, date(2024, 1, 1), date(2024, 2, 1), nil)

	assert.Empty(t, occs)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"template_id":"broken"`)
}

func TestCalculate_SafetyCap(t *testing.T) {
	start := date(2024, 1, 1)
	rule := storage.RecurrenceRule{Frequency: storage.Daily}
	farAway := time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("default unbounded cap", func(t *testing.T) {
		occs := Calculate(rule, template(start), start, farAway, nil)
		assert.Len(t, occs, DefaultConfig.MaxIterationsUnbounded)
	})

	t.Run("custom caps", func(t *testing.T) {
		calc := NewCalculator(WithConfig(Config{MaxIterationsBounded: 7, MaxIterationsUnbounded: 50}))
		assert.Len(t, calc.Calculate(rule, template(start), start, farAway, nil), 50)

		end := date(2030, 1, 1)
		bounded := storage.RecurrenceRule{Frequency: storage.Daily, RecurrenceEndDate: &end}
		assert.Len(t, calc.Calculate(bounded, template(start), start, farAway, nil), 7)
	})

	t.Run("rule that never matches still terminates", func(t *testing.T) {
		impossible := storage.RecurrenceRule{Frequency: storage.Yearly, ByMonth: []int{2}, ByMonthDay: []int{31}}
		calc := NewCalculator(WithConfig(Config{MaxIterationsUnbounded: 20}))
		assert.Empty(t, calc.Calculate(impossible, template(start), start, farAway, nil))
	})
}

func TestCalculate_KeepsWallClockAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start := time.Date(2024, 3, 4, 9, 0, 0, 0, ny)
	tpl := storage.Template{ID: "s", StartAt: start, EndAt: start.Add(time.Hour), Timezone: "America/New_York"}
	rule := storage.RecurrenceRule{Frequency: storage.Weekly}

	occs := Calculate(rule, tpl, start, start.AddDate(0, 0, 7), nil)

	require.Len(t, occs, 2)
	assert.Equal(t, time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC), occs[0].OriginalStartTime)
	assert.Equal(t, time.Date(2024, 3, 11, 13, 0, 0, 0, time.UTC), occs[1].OriginalStartTime)
}

func TestCalculate_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	start := date(2024, 1, 1)
	tpl := template(start)
	tpl.Timezone = "Mars/Olympus"

	occs := Calculate(storage.RecurrenceRule{Frequency: storage.Daily}, tpl, start, date(2024, 1, 2), nil)
	assert.Len(t, occs, 2)
}

func TestPreview(t *testing.T) {
	cache := NewPreviewCache(CacheConfig{TTL: time.Minute, MaxEntries: 10, CleanupInterval: time.Minute})
	defer cache.Close()
	calc := NewCalculator(WithPreviewCache(cache))

	start := date(2024, 1, 1)
	rule := storage.RecurrenceRule{Frequency: storage.Weekly, ByDay: []string{"TU"}}

	first := calc.Preview(rule, template(start), date(2024, 3, 1), 3)
	assert.Equal(t, []time.Time{date(2024, 3, 5), date(2024, 3, 12), date(2024, 3, 19)}, starts(first))
	assert.Equal(t, 1, cache.Stats().TotalEntries)

	again := calc.Preview(rule, template(start), date(2024, 3, 1), 3)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, cache.Stats().TotalEntries)

	assert.Nil(t, calc.Preview(rule, template(start), start, 0))

	yearly := storage.RecurrenceRule{Frequency: storage.Yearly, Interval: 4}
	assert.Len(t, calc.Preview(yearly, template(date(2024, 2, 29)), start, 3), 3)
}
