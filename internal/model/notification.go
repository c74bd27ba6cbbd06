package model

import (
	"time"
)

const (
	NotificationEndorsementRequested = "endorsement_requested"
	NotificationPostEndorsed         = "post_endorsed"
	NotificationCheckInMissed        = "check_in_missed"
	NotificationCheckInReminder      = "check_in_reminder"
	NotificationAchievement          = "achievement"
)

type Notification struct {
	ID                string    `db:"id"`
	UserID            string    `db:"user_id"`
	TriggeredByUserID *string   `db:"triggered_by_user_id"`
	Type              string    `db:"type"`
	ChallengeID       *string   `db:"challenge_id"`
	PostID            *string   `db:"post_id"`
	Message           string    `db:"message"`
	IsRead            bool      `db:"is_read"`
	CreatedAt         time.Time `db:"created_at"`
}
