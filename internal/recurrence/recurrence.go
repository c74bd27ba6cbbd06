// Package recurrence turns a challenge's recurrence definition into concrete
// check-in cycles for a participant's timezone.
//
// All calendar arithmetic lives here. Callers only ever see absolute instants
// (UTC) in the returned Window values.
package recurrence

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindNone    Kind = "none"
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindCustom  Kind = "custom"
)

// CycleIDFormat is the layout of Window.ID: the cycle's local calendar date.
const CycleIDFormat = "2006-01-02"

// TimeOfDay is a timezone-less local clock time.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q", s)
	}

	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return TimeOfDay{}, fmt.Errorf("invalid time of day %q: %w", s, err)
		}
		vals[i] = v
	}

	t := TimeOfDay{Hour: vals[0], Minute: vals[1], Second: vals[2]}
	if !t.valid() {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", s)
	}
	return t, nil
}

func (t TimeOfDay) valid() bool {
	return t.Hour >= 0 && t.Hour < 24 &&
		t.Minute >= 0 && t.Minute < 60 &&
		t.Second >= 0 && t.Second < 60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// Rule is a validated-on-use recurrence definition.
type Rule struct {
	Kind Kind
	// Frequency is the interval in cycle units (days, eligible weeks, months).
	// Zero means 1.
	Frequency int
	// Days holds the eligible weekdays for weekly and custom rules.
	Days    []time.Weekday
	CheckIn TimeOfDay
	// Window is the grace period after the check-in instant.
	Window time.Duration
	// Anchor is the instant cycles are counted from (challenge start).
	Anchor time.Time
}

// Window is one cycle. All instants are UTC.
type Window struct {
	ID       string
	Start    time.Time
	CheckIn  time.Time
	GraceEnd time.Time
}

// Contains reports whether t falls inside [Start, GraceEnd].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.GraceEnd)
}

type RuleError struct {
	Field  string
	Reason string
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("invalid recurrence %s: %s", e.Field, e.Reason)
}

func (r Rule) Validate() error {
	switch r.Kind {
	case KindDaily, KindMonthly:
		if len(r.Days) > 0 {
			return &RuleError{Field: "repetition_days", Reason: fmt.Sprintf("not allowed for %s recurrence", r.Kind)}
		}
	case KindWeekly, KindCustom:
		if len(r.Days) == 0 {
			return &RuleError{Field: "repetition_days", Reason: fmt.Sprintf("required for %s recurrence", r.Kind)}
		}
		for _, d := range r.Days {
			if d < time.Sunday || d > time.Saturday {
				return &RuleError{Field: "repetition_days", Reason: fmt.Sprintf("weekday %d out of range", d)}
			}
		}
	case KindNone, "":
		return &RuleError{Field: "repetition", Reason: "challenge does not recur"}
	default:
		return &RuleError{Field: "repetition", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}

	if r.Frequency < 0 {
		return &RuleError{Field: "repetition_frequency", Reason: "must be positive"}
	}
	if !r.CheckIn.valid() {
		return &RuleError{Field: "check_in_time", Reason: "out of range"}
	}
	if r.Window < 0 {
		return &RuleError{Field: "time_window", Reason: "must not be negative"}
	}
	if r.Anchor.IsZero() {
		return &RuleError{Field: "anchor", Reason: "missing start instant"}
	}
	return nil
}

func (r Rule) frequency() int {
	if r.Frequency == 0 {
		return 1
	}
	return r.Frequency
}

// Next returns the first cycle whose check-in instant is strictly after
// `after`, evaluated on the calendar of loc.
func Next(r Rule, after time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		return Window{}, &RuleError{Field: "timezone", Reason: "missing"}
	}
	if err := r.Validate(); err != nil {
		return Window{}, err
	}

	switch r.Kind {
	case KindDaily:
		return r.nextDaily(after, loc)
	case KindWeekly, KindCustom:
		return r.nextWeekly(after, loc)
	default:
		return r.nextMonthly(after, loc)
	}
}

// Current returns the cycle that is still open at now (grace end after now),
// or the next one when no cycle is open.
func Current(r Rule, now time.Time, loc *time.Location) (Window, error) {
	return Next(r, now.Add(-r.Window), loc)
}

// Upcoming returns n consecutive cycles following after.
func Upcoming(r Rule, after time.Time, loc *time.Location, n int) ([]Window, error) {
	windows := make([]Window, 0, n)
	for range n {
		w, err := Next(r, after, loc)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
		after = w.CheckIn
	}
	return windows, nil
}

// Closed returns the cycles with a check-in after from whose grace window has
// ended by to. At most limit cycles are returned.
func Closed(r Rule, from, to time.Time, loc *time.Location, limit int) ([]Window, error) {
	var windows []Window
	after := from
	for len(windows) < limit {
		w, err := Next(r, after, loc)
		if err != nil {
			return nil, err
		}
		if w.GraceEnd.After(to) {
			break
		}
		windows = append(windows, w)
		after = w.CheckIn
	}
	return windows, nil
}

func (r Rule) nextDaily(after time.Time, loc *time.Location) (Window, error) {
	freq := r.frequency()
	anchor := civil(r.Anchor.In(loc))
	cur := civil(after.In(loc))

	k := 0
	if cur.After(anchor) {
		k = daysBetween(anchor, cur) / freq
	}

	// k lands on the last cycle date not after cur, so two steps always suffice.
	for range 3 {
		w := r.window(anchor.AddDate(0, 0, k*freq), loc)
		if w.CheckIn.After(after) {
			return w, nil
		}
		k++
	}
	return Window{}, fmt.Errorf("no daily cycle found after %s", after)
}

func (r Rule) nextWeekly(after time.Time, loc *time.Location) (Window, error) {
	freq := r.frequency()
	anchor := civil(r.Anchor.In(loc))
	anchorWeek := mondayOf(anchor)

	day := civil(after.In(loc))
	if day.Before(anchor) {
		day = anchor
	}

	for i := 0; i <= 7*(freq+1); i++ {
		date := day.AddDate(0, 0, i)
		if !slices.Contains(r.Days, date.Weekday()) {
			continue
		}
		if (daysBetween(anchorWeek, mondayOf(date))/7)%freq != 0 {
			continue
		}
		w := r.window(date, loc)
		if w.CheckIn.After(after) {
			return w, nil
		}
	}
	return Window{}, fmt.Errorf("no weekly cycle found after %s", after)
}

func (r Rule) nextMonthly(after time.Time, loc *time.Location) (Window, error) {
	freq := r.frequency()
	anchor := civil(r.Anchor.In(loc))
	cur := civil(after.In(loc))

	k := 0
	months := (cur.Year()-anchor.Year())*12 + int(cur.Month()-anchor.Month())
	if months > 0 {
		k = months / freq
	}

	for range 3 {
		y, m := addMonths(anchor.Year(), anchor.Month(), k*freq)
		day := min(anchor.Day(), daysIn(y, m))
		w := r.window(time.Date(y, m, day, 0, 0, 0, 0, time.UTC), loc)
		if w.CheckIn.After(after) {
			return w, nil
		}
		k++
	}
	return Window{}, fmt.Errorf("no monthly cycle found after %s", after)
}

// window builds the cycle for a civil date (a UTC midnight carrying only the
// calendar date) in loc.
func (r Rule) window(date time.Time, loc *time.Location) Window {
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	checkIn := time.Date(y, m, d, r.CheckIn.Hour, r.CheckIn.Minute, r.CheckIn.Second, 0, loc)
	return Window{
		ID:       date.Format(CycleIDFormat),
		Start:    start.UTC(),
		CheckIn:  checkIn.UTC(),
		GraceEnd: checkIn.Add(r.Window).UTC(),
	}
}

// civil drops the clock and zone of t, keeping its calendar date as a UTC
// midnight so that day arithmetic is not affected by DST.
func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func mondayOf(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

func addMonths(y int, m time.Month, n int) (int, time.Month) {
	total := y*12 + int(m-1) + n
	return total / 12, time.Month(total%12 + 1)
}

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseDays parses a comma separated list of weekday indices (0 = Sunday).
func ParseDays(s string) ([]time.Weekday, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var days []time.Weekday
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid weekday %q: %w", p, err)
		}
		if v < 0 || v > 6 {
			return nil, fmt.Errorf("weekday %d out of range", v)
		}
		if !slices.Contains(days, time.Weekday(v)) {
			days = append(days, time.Weekday(v))
		}
	}
	slices.Sort(days)
	return days, nil
}

// FormatDays is the inverse of ParseDays.
func FormatDays(days []time.Weekday) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}
