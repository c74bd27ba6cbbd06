package model

import (
	"time"
)

const (
	EndorsementPending  = "pending"
	EndorsementEndorsed = "endorsed"
	EndorsementDeclined = "declined"
)

// EndorsementQuorum is the number of endorsers requested per post and the
// number of acceptances needed to mark it endorsed.
const EndorsementQuorum = 3

type Endorsement struct {
	ID         string     `db:"id"`
	PostID     string     `db:"post_id"`
	EndorserID string     `db:"endorser_id"`
	Status     string     `db:"status"`
	SelfieRef  *string    `db:"selfie_ref"`
	CreatedAt  time.Time  `db:"created_at"`
	EndorsedAt *time.Time `db:"endorsed_at"` // set on any terminal transition
}

func (e *Endorsement) IsPending() bool {
	return e.Status == EndorsementPending
}
