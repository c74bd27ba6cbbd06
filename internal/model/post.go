package model

import (
	"time"
)

type Post struct {
	ID                string     `db:"id"`
	UserID            string     `db:"user_id"`
	ChallengeID       *string    `db:"challenge_id"`
	Caption           string     `db:"caption"`
	IsCheckIn         bool       `db:"is_check_in"`
	IsEndorsed        bool       `db:"is_endorsed"`
	EndorsementQuorum int        `db:"endorsement_quorum"`
	EndorsedAt        *time.Time `db:"endorsed_at"`
	CreatedAt         time.Time  `db:"created_at"`
}
