package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobHandles is the set of external scheduler handles stored as a JSON array.
type JobHandles []string

func (h JobHandles) Value() (driver.Value, error) {
	if h == nil {
		h = JobHandles{}
	}
	b, err := json.Marshal([]string(h))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (h *JobHandles) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*h = nil
		return nil
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return fmt.Errorf("unsupported job handles type %T", src)
	}
	return json.Unmarshal(b, (*[]string)(h))
}

// ParticipantJob is the live job set for one active participation. It is
// replaced as a whole on every reconcile. Complete is false while some job
// of the cycle failed to register.
type ParticipantJob struct {
	ChallengeID string     `db:"challenge_id"`
	UserID      string     `db:"user_id"`
	JobHandles  JobHandles `db:"job_handles"`
	CycleID     string     `db:"cycle_id"`
	CheckInAt   time.Time  `db:"check_in_at"`
	GraceEndAt  time.Time  `db:"grace_end_at"`
	Complete    bool       `db:"complete"`
	UpdatedAt   time.Time  `db:"updated_at"`
}
