package model

import (
	"time"
)

const (
	RepetitionNone    = "none"
	RepetitionDaily   = "daily"
	RepetitionWeekly  = "weekly"
	RepetitionMonthly = "monthly"
	RepetitionCustom  = "custom"
)

type Challenge struct {
	ID                  string     `db:"id"`
	CreatorID           string     `db:"creator_id"`
	Title               string     `db:"title"`
	Description         string     `db:"description"`
	DueDate             *time.Time `db:"due_date"`
	Repetition          string     `db:"repetition"`
	RepetitionFrequency *int       `db:"repetition_frequency"`
	RepetitionDays      string     `db:"repetition_days"` // comma separated weekday indices, 0 = Sunday
	CheckInTime         *string    `db:"check_in_time"`   // local HH:MM:SS
	TimeWindow          *int       `db:"time_window"`     // grace period in seconds
	IsPrivate           bool       `db:"is_private"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// IsTimed reports whether check-ins are enforced for the challenge.
func (c *Challenge) IsTimed() bool {
	return c.CheckInTime != nil && c.TimeWindow != nil
}

// Recurs reports whether the challenge has a recurrence kind other than none.
func (c *Challenge) Recurs() bool {
	return c.Repetition != "" && c.Repetition != RepetitionNone
}
