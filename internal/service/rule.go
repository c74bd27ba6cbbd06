package service

import (
	"time"

	"github.com/wimi-app/wimi/internal/model"
	"github.com/wimi-app/wimi/internal/recurrence"
)

// ruleFor builds the recurrence rule of a timed, recurring challenge.
func ruleFor(c *model.Challenge) (recurrence.Rule, error) {
	if !c.Recurs() {
		return recurrence.Rule{}, &InputError{Field: "repetition", Reason: "challenge does not recur"}
	}
	if !c.IsTimed() {
		return recurrence.Rule{}, &InputError{Field: "check_in_time", Reason: "challenge has no check-in time"}
	}

	rule := recurrence.Rule{
		Kind:   recurrence.Kind(c.Repetition),
		Window: time.Duration(*c.TimeWindow) * time.Second,
		Anchor: c.CreatedAt,
	}

	if c.RepetitionFrequency != nil {
		if *c.RepetitionFrequency <= 0 {
			return recurrence.Rule{}, &InputError{Field: "repetition_frequency", Reason: "must be a positive integer"}
		}
		rule.Frequency = *c.RepetitionFrequency
	}

	days, err := recurrence.ParseDays(c.RepetitionDays)
	if err != nil {
		return recurrence.Rule{}, &InputError{Field: "repetition_days", Reason: err.Error()}
	}
	rule.Days = days

	checkIn, err := recurrence.ParseTimeOfDay(*c.CheckInTime)
	if err != nil {
		return recurrence.Rule{}, &InputError{Field: "check_in_time", Reason: err.Error()}
	}
	rule.CheckIn = checkIn

	if err := rule.Validate(); err != nil {
		return recurrence.Rule{}, asInputError(err)
	}
	return rule, nil
}

// ValidateChallenge checks the invariants between a challenge's recurrence
// fields.
func ValidateChallenge(c *model.Challenge) error {
	if (c.CheckInTime == nil) != (c.TimeWindow == nil) {
		return &InputError{Field: "time_window", Reason: "check_in_time and time_window must be set together"}
	}
	if c.RepetitionDays != "" && c.Repetition != model.RepetitionWeekly && c.Repetition != model.RepetitionCustom {
		return &InputError{Field: "repetition_days", Reason: "only allowed for weekly or custom repetition"}
	}
	switch c.Repetition {
	case "", model.RepetitionNone, model.RepetitionDaily, model.RepetitionWeekly,
		model.RepetitionMonthly, model.RepetitionCustom:
	default:
		return &InputError{Field: "repetition", Reason: "unknown repetition " + c.Repetition}
	}
	if c.Recurs() && c.IsTimed() {
		_, err := ruleFor(c)
		return err
	}
	if c.RepetitionFrequency != nil && *c.RepetitionFrequency <= 0 {
		return &InputError{Field: "repetition_frequency", Reason: "must be a positive integer"}
	}
	return nil
}

func loadLocation(timezone string) (*time.Location, error) {
	if timezone == "" {
		return nil, &InputError{Field: "timezone", Reason: "missing"}
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, &InputError{Field: "timezone", Reason: err.Error()}
	}
	return loc, nil
}
