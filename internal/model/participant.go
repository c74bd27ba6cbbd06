package model

import (
	"time"
)

const (
	ParticipantStatusActive    = "active"
	ParticipantStatusCompleted = "completed"
	ParticipantStatusDropped   = "dropped"
)

type Participant struct {
	ChallengeID string    `db:"challenge_id"`
	UserID      string    `db:"user_id"`
	JoinedAt    time.Time `db:"joined_at"`
	Status      string    `db:"status"`
}

func (p *Participant) IsActive() bool {
	return p.Status == ParticipantStatusActive
}
