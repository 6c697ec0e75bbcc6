package recurrence

import (
	"testing"
	"time"

	"github.com/cyp0633/libhorizon/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRRule(t *testing.T) {
	rule, err := ParseRRule("RRULE:FREQ=MONTHLY;INTERVAL=2;BYDAY=-1FR;COUNT=4")
	require.NoError(t, err)

	assert.Equal(t, storage.Monthly, rule.Frequency)
	assert.Equal(t, 2, rule.Interval)
	assert.Equal(t, 4, rule.Count)
	assert.Equal(t, []string{"-1FR"}, rule.ByDay)
	assert.Nil(t, rule.RecurrenceEndDate)
	assert.NotEmpty(t, rule.RRule)
}

func TestParseRRule_Until(t *testing.T) {
	rule, err := ParseRRule("FREQ=WEEKLY;BYDAY=MO,WE;UNTIL=20240301T000000Z")
	require.NoError(t, err)

	assert.Equal(t, storage.Weekly, rule.Frequency)
	assert.Equal(t, 1, rule.Interval)
	assert.Equal(t, []string{"MO", "WE"}, rule.ByDay)
	require.NotNil(t, rule.RecurrenceEndDate)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *rule.RecurrenceEndDate)
}

func TestParseRRule_Errors(t *testing.T) {
	for _, in := range []string{"FREQ=SOMETIMES", "FREQ=HOURLY;INTERVAL=2", "FREQ=DAILY;COUNT=x"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseRRule(in)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestFormatRRule_RoundTrip(t *testing.T) {
	until := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	rules := []storage.RecurrenceRule{
		{Frequency: storage.Daily, Interval: 3, Count: 10},
		{Frequency: storage.Weekly, Interval: 2, ByDay: []string{"TU", "TH"}, RecurrenceEndDate: &until},
		{Frequency: storage.Monthly, Interval: 1, ByDay: []string{"1MO"}},
		{Frequency: storage.Monthly, Interval: 1, ByMonthDay: []int{-1}},
		{Frequency: storage.Yearly, Interval: 1, ByMonth: []int{11}, ByDay: []string{"4TH"}},
	}

	for _, rule := range rules {
		t.Run(string(rule.Frequency), func(t *testing.T) {
			value, err := FormatRRule(rule)
			require.NoError(t, err)
			assert.Contains(t, value, "FREQ="+string(rule.Frequency))

			back, err := ParseRRule(value)
			require.NoError(t, err)
			assert.Equal(t, rule.Frequency, back.Frequency)
			assert.Equal(t, rule.Interval, back.Interval)
			assert.Equal(t, rule.Count, back.Count)
			assert.Equal(t, rule.ByDay, back.ByDay)
			assert.Equal(t, rule.ByMonthDay, back.ByMonthDay)
			assert.Equal(t, rule.ByMonth, back.ByMonth)
			assert.Equal(t, rule.RecurrenceEndDate, back.RecurrenceEndDate)
		})
	}
}

func TestFormatRRule_RejectsInvalid(t *testing.T) {
	_, err := FormatRRule(storage.RecurrenceRule{Frequency: storage.Monthly, ByMonthDay: []int{40}})
	assert.ErrorIs(t, err, ErrInvalidRule)
}

// The calculator and rrule-go must agree on every rule both understand.
func TestCalculate_AgreesWithReference(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)

	tests := []struct {
		name  string
		rule  storage.RecurrenceRule
		start time.Time
	}{
		{"daily every third day", storage.RecurrenceRule{Frequency: storage.Daily, Interval: 3}, date(2024, 1, 1)},
		{"daily count", storage.RecurrenceRule{Frequency: storage.Daily, Count: 12}, date(2024, 2, 27)},
		{"weekly days", storage.RecurrenceRule{Frequency: storage.Weekly, ByDay: []string{"MO", "WE", "FR"}}, date(2024, 1, 1)},
		{"biweekly days", storage.RecurrenceRule{Frequency: storage.Weekly, Interval: 2, ByDay: []string{"TU", "TH"}}, date(2024, 1, 2)},
		{"weekly across DST", storage.RecurrenceRule{Frequency: storage.Weekly}, time.Date(2024, 1, 3, 18, 0, 0, 0, ny)},
		{"first monday", storage.RecurrenceRule{Frequency: storage.Monthly, ByDay: []string{"1MO"}}, date(2024, 1, 1)},
		{"last friday", storage.RecurrenceRule{Frequency: storage.Monthly, ByDay: []string{"-1FR"}}, date(2024, 1, 26)},
		{"last day of month", storage.RecurrenceRule{Frequency: storage.Monthly, ByMonthDay: []int{-1}}, date(2024, 1, 31)},
		{"31st of month", storage.RecurrenceRule{Frequency: storage.Monthly}, date(2024, 1, 31)},
		{"every other 15th", storage.RecurrenceRule{Frequency: storage.Monthly, Interval: 2, ByMonthDay: []int{15}, Count: 6}, date(2024, 1, 15)},
		{"leap day", storage.RecurrenceRule{Frequency: storage.Yearly}, date(2024, 2, 29)},
		{"fourth thursday of november", storage.RecurrenceRule{Frequency: storage.Yearly, ByMonth: []int{11}, ByDay: []string{"4TH"}}, date(2024, 11, 28)},
		{"listed months", storage.RecurrenceRule{Frequency: storage.Yearly, ByMonth: []int{3, 9}}, date(2024, 3, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := ReferenceExpand(tt.rule, tt.start, from, to)
			require.NoError(t, err)
			for i := range want {
				want[i] = want[i].UTC()
			}

			tpl := storage.Template{ID: "s", StartAt: tt.start, EndAt: tt.start.Add(time.Hour), Timezone: tt.start.Location().String()}
			got := starts(Calculate(tt.rule, tpl, from, to, nil))

			require.NotEmpty(t, want)
			assert.Equal(t, want, got)
		})
	}
}
