package model

import (
	"time"
)

const (
	CheckInPending = "pending"
	CheckInOnTime  = "on_time"
	CheckInLate    = "late"
	CheckInMissed  = "missed"
)

type CheckInRecord struct {
	ID             string     `db:"id"`
	ChallengeID    string     `db:"challenge_id"`
	UserID         string     `db:"user_id"`
	CycleID        string     `db:"cycle_id"`
	PostID         *string    `db:"post_id"`
	ArrivedAt      *time.Time `db:"arrived_at"`
	Classification string     `db:"classification"`
	CheckInAt      time.Time  `db:"check_in_at"`
	GraceEndAt     time.Time  `db:"grace_end_at"`
	ClassifiedAt   time.Time  `db:"classified_at"`
}

// Succeeded reports whether the cycle counts toward success rate and streaks.
func (r *CheckInRecord) Succeeded() bool {
	return r.Classification == CheckInOnTime || r.Classification == CheckInLate
}

// Final reports whether the classification can no longer change.
func (r *CheckInRecord) Final() bool {
	return r.Classification == CheckInOnTime || r.Classification == CheckInMissed
}
