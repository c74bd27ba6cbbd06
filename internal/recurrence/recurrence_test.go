package recurrence

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func at(loc *time.Location, y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, loc)
}

func TestNext_WeeklyMonWedFri(t *testing.T) {
	loc := mustLoad(t, "America/New_York")
	rule := Rule{
		Kind:      KindWeekly,
		Frequency: 1,
		Days:      []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		CheckIn:   TimeOfDay{Hour: 8},
		Window:    time.Hour,
		Anchor:    at(loc, 2026, time.October, 5, 0, 0),
	}

	t.Run("from sunday yields monday", func(t *testing.T) {
		w, err := Next(rule, at(loc, 2026, time.October, 11, 10, 0), loc)
		require.NoError(t, err)
		assert.Equal(t, "2026-10-12", w.ID)
		assert.Equal(t, time.Monday, w.CheckIn.In(loc).Weekday())
		assert.True(t, w.CheckIn.Equal(at(loc, 2026, time.October, 12, 8, 0)))
	})

	t.Run("from monday after check-in yields wednesday", func(t *testing.T) {
		w, err := Next(rule, at(loc, 2026, time.October, 12, 9, 0), loc)
		require.NoError(t, err)
		assert.Equal(t, "2026-10-14", w.ID)
		assert.Equal(t, time.Wednesday, w.CheckIn.In(loc).Weekday())
	})

	t.Run("from monday before check-in yields same monday", func(t *testing.T) {
		w, err := Next(rule, at(loc, 2026, time.October, 12, 7, 59), loc)
		require.NoError(t, err)
		assert.Equal(t, "2026-10-12", w.ID)
	})
}

func TestNext_WeeklyFrequencySkipsWeeks(t *testing.T) {
	loc := time.UTC
	rule := Rule{
		Kind:      KindCustom,
		Frequency: 2,
		Days:      []time.Weekday{time.Monday},
		CheckIn:   TimeOfDay{Hour: 8},
		Window:    time.Hour,
		Anchor:    at(loc, 2026, time.October, 5, 0, 0),
	}

	w, err := Next(rule, at(loc, 2026, time.October, 5, 9, 0), loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", w.ID)

	w, err = Next(rule, w.CheckIn, loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-11-02", w.ID)
}

func TestNext_DailyFrequency(t *testing.T) {
	loc := time.UTC
	rule := Rule{
		Kind:      KindDaily,
		Frequency: 2,
		CheckIn:   TimeOfDay{Hour: 20, Minute: 30},
		Window:    30 * time.Minute,
		Anchor:    at(loc, 2026, time.October, 1, 9, 0),
	}

	w, err := Next(rule, at(loc, 2026, time.October, 4, 12, 0), loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-05", w.ID)
	assert.True(t, w.Start.Equal(at(loc, 2026, time.October, 5, 0, 0)))
	assert.True(t, w.CheckIn.Equal(at(loc, 2026, time.October, 5, 20, 30)))
	assert.True(t, w.GraceEnd.Equal(at(loc, 2026, time.October, 5, 21, 0)))

	w, err = Next(rule, at(loc, 2026, time.September, 1, 0, 0), loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-01", w.ID, "cycles never start before the anchor date")
}

func TestNext_MonthlyLastDayPolicy(t *testing.T) {
	loc := time.UTC
	rule := Rule{
		Kind:    KindMonthly,
		CheckIn: TimeOfDay{Hour: 12},
		Window:  time.Hour,
		Anchor:  at(loc, 2026, time.January, 31, 10, 0),
	}

	tests := []struct {
		name  string
		after time.Time
		want  string
	}{
		{"30 day month", at(loc, 2026, time.April, 1, 0, 0), "2026-04-30"},
		{"february", at(loc, 2026, time.February, 1, 0, 0), "2026-02-28"},
		{"leap february", at(loc, 2028, time.February, 1, 0, 0), "2028-02-29"},
		{"31 day month", at(loc, 2026, time.May, 1, 0, 0), "2026-05-31"},
		{"after check-in rolls over", at(loc, 2026, time.April, 30, 13, 0), "2026-05-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := Next(rule, tt.after, loc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, w.ID)
		})
	}
}

func TestNext_MonthlyFrequency(t *testing.T) {
	loc := time.UTC
	rule := Rule{
		Kind:      KindMonthly,
		Frequency: 3,
		CheckIn:   TimeOfDay{Hour: 12},
		Anchor:    at(loc, 2026, time.November, 15, 0, 0),
	}

	windows, err := Upcoming(rule, at(loc, 2026, time.November, 1, 0, 0), loc, 3)
	require.NoError(t, err)
	require.Len(t, windows, 3)
	assert.Equal(t, "2026-11-15", windows[0].ID)
	assert.Equal(t, "2027-02-15", windows[1].ID)
	assert.Equal(t, "2027-05-15", windows[2].ID)
}

func TestNext_ParticipantTimezone(t *testing.T) {
	rule := Rule{
		Kind:    KindDaily,
		CheckIn: TimeOfDay{Hour: 8},
		Window:  time.Hour,
		Anchor:  time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC),
	}
	after := time.Date(2026, time.October, 17, 3, 0, 0, 0, time.UTC)

	tokyo, err := Next(rule, after, mustLoad(t, "Asia/Tokyo"))
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18", tokyo.ID)
	assert.True(t, tokyo.CheckIn.Equal(time.Date(2026, time.October, 17, 23, 0, 0, 0, time.UTC)))

	la, err := Next(rule, after, mustLoad(t, "America/Los_Angeles"))
	require.NoError(t, err)
	assert.Equal(t, "2026-10-17", la.ID)
	assert.True(t, la.CheckIn.Equal(time.Date(2026, time.October, 17, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.UTC, la.CheckIn.Location())
}

func TestNext_DaylightSavingTransition(t *testing.T) {
	loc := mustLoad(t, "America/New_York")
	rule := Rule{
		Kind:    KindDaily,
		CheckIn: TimeOfDay{Hour: 8},
		Window:  time.Hour,
		Anchor:  at(loc, 2026, time.October, 1, 0, 0),
	}

	windows, err := Upcoming(rule, at(loc, 2026, time.October, 30, 12, 0), loc, 3)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-31", windows[0].ID)
	assert.True(t, windows[0].CheckIn.Equal(time.Date(2026, time.October, 31, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-11-01", windows[1].ID)
	assert.Equal(t, "2026-11-02", windows[2].ID)
	assert.True(t, windows[2].CheckIn.Equal(time.Date(2026, time.November, 2, 13, 0, 0, 0, time.UTC)))
}

func TestNext_Deterministic(t *testing.T) {
	loc := mustLoad(t, "Europe/Berlin")
	anchor := at(loc, 2026, time.January, 31, 7, 0)
	after := at(loc, 2026, time.June, 10, 18, 45)

	rules := []Rule{
		{Kind: KindDaily, Frequency: 3, CheckIn: TimeOfDay{Hour: 6}, Window: time.Hour, Anchor: anchor},
		{Kind: KindWeekly, Days: []time.Weekday{time.Tuesday, time.Saturday}, CheckIn: TimeOfDay{Hour: 21}, Anchor: anchor},
		{Kind: KindCustom, Frequency: 3, Days: []time.Weekday{time.Sunday}, CheckIn: TimeOfDay{Hour: 9}, Anchor: anchor},
		{Kind: KindMonthly, Frequency: 2, CheckIn: TimeOfDay{Hour: 23, Minute: 59}, Window: 2 * time.Hour, Anchor: anchor},
	}

	for _, rule := range rules {
		t.Run(string(rule.Kind), func(t *testing.T) {
			first, err := Next(rule, after, loc)
			require.NoError(t, err)
			second, err := Next(rule, after, loc)
			require.NoError(t, err)
			assert.Equal(t, first, second)
			assert.True(t, first.CheckIn.After(after))
		})
	}
}

func TestCurrent_WithinGrace(t *testing.T) {
	loc := time.UTC
	rule := Rule{
		Kind:    KindDaily,
		CheckIn: TimeOfDay{Hour: 8},
		Window:  time.Hour,
		Anchor:  at(loc, 2026, time.October, 1, 0, 0),
	}

	w, err := Current(rule, at(loc, 2026, time.October, 10, 8, 30), loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-10", w.ID)

	w, err = Current(rule, at(loc, 2026, time.October, 10, 9, 0), loc)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-11", w.ID, "grace end is exclusive for the current cycle")
}

func TestClosed(t *testing.T) {
	loc := time.UTC
	rule := Rule{
		Kind:    KindDaily,
		CheckIn: TimeOfDay{Hour: 8},
		Window:  time.Hour,
		Anchor:  at(loc, 2026, time.October, 1, 0, 0),
	}

	windows, err := Closed(rule, at(loc, 2026, time.October, 1, 0, 0), at(loc, 2026, time.October, 5, 8, 30), loc, 100)
	require.NoError(t, err)
	require.Len(t, windows, 4)
	assert.Equal(t, "2026-10-01", windows[0].ID)
	assert.Equal(t, "2026-10-04", windows[3].ID)

	windows, err = Closed(rule, at(loc, 2026, time.October, 1, 0, 0), at(loc, 2026, time.December, 1, 0, 0), loc, 10)
	require.NoError(t, err)
	assert.Len(t, windows, 10)
}

func TestValidate(t *testing.T) {
	anchor := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		rule  Rule
		field string
	}{
		{"none", Rule{Kind: KindNone, Anchor: anchor}, "repetition"},
		{"absent", Rule{Anchor: anchor}, "repetition"},
		{"unknown", Rule{Kind: "yearly", Anchor: anchor}, "repetition"},
		{"weekly without days", Rule{Kind: KindWeekly, Anchor: anchor}, "repetition_days"},
		{"custom without days", Rule{Kind: KindCustom, Anchor: anchor}, "repetition_days"},
		{"daily with days", Rule{Kind: KindDaily, Days: []time.Weekday{time.Monday}, Anchor: anchor}, "repetition_days"},
		{"negative frequency", Rule{Kind: KindDaily, Frequency: -1, Anchor: anchor}, "repetition_frequency"},
		{"negative window", Rule{Kind: KindDaily, Window: -time.Second, Anchor: anchor}, "time_window"},
		{"bad check-in", Rule{Kind: KindDaily, CheckIn: TimeOfDay{Hour: 24}, Anchor: anchor}, "check_in_time"},
		{"missing anchor", Rule{Kind: KindDaily}, "anchor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Next(tt.rule, anchor, time.UTC)
			var ruleErr *RuleError
			require.ErrorAs(t, err, &ruleErr)
			assert.Equal(t, tt.field, ruleErr.Field)
		})
	}

	_, err := Next(Rule{Kind: KindDaily, Anchor: anchor}, anchor, nil)
	require.Error(t, err)
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("07:05")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay{Hour: 7, Minute: 5}, tod)

	tod, err = ParseTimeOfDay("23:59:30")
	require.NoError(t, err)
	assert.Equal(t, "23:59:30", tod.String())

	for _, bad := range []string{"", "7", "25:00", "12:60", "aa:bb", "1:2:3:4"} {
		_, err := ParseTimeOfDay(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseDays(t *testing.T) {
	days, err := ParseDays("5, 1,3,1")
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday, time.Friday}, days)
	assert.Equal(t, "1,3,5", FormatDays(days))

	days, err = ParseDays("")
	require.NoError(t, err)
	assert.Empty(t, days)

	_, err = ParseDays("7")
	assert.Error(t, err)
}
