package repository

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/wimi-app/wimi/internal/model"
)

var (
	ErrParticipantJobNotFound = errors.New("participant job not found")
)

type ParticipantJobRepository interface {
	ByKey(challengeID, userID string) (*model.ParticipantJob, error)
	ByChallenge(challengeID string) ([]*model.ParticipantJob, error)
	// Replace stores job as the participation's only job set, overwriting any
	// previous row for the same key.
	Replace(job *model.ParticipantJob) error
	Delete(challengeID, userID string) error
}

type participantJobRepository struct {
	db *sqlx.DB
}

func NewParticipantJobRepository(db *sqlx.DB) ParticipantJobRepository {
	return &participantJobRepository{db: db}
}

func (r *participantJobRepository) ByKey(challengeID, userID string) (*model.ParticipantJob, error) {
	job := &model.ParticipantJob{}
	query := `SELECT * FROM participant_jobs WHERE challenge_id = $1 AND user_id = $2`

	err := r.db.Get(job, query, challengeID, userID)
	if err == sql.ErrNoRows {
		return nil, ErrParticipantJobNotFound
	}

	return job, err
}

func (r *participantJobRepository) ByChallenge(challengeID string) ([]*model.ParticipantJob, error) {
	var jobs []*model.ParticipantJob
	query := `SELECT * FROM participant_jobs WHERE challenge_id = $1 ORDER BY user_id`

	err := r.db.Select(&jobs, query, challengeID)
	if err != nil {
		return nil, err
	}

	return jobs, nil
}

func (r *participantJobRepository) Replace(job *model.ParticipantJob) error {
	query := `INSERT INTO participant_jobs (challenge_id, user_id, job_handles, cycle_id, check_in_at, grace_end_at, complete, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (challenge_id, user_id) DO UPDATE
	          SET job_handles = excluded.job_handles, cycle_id = excluded.cycle_id, check_in_at = excluded.check_in_at,
	              grace_end_at = excluded.grace_end_at, complete = excluded.complete, updated_at = excluded.updated_at`

	_, err := r.db.Exec(query,
		job.ChallengeID,
		job.UserID,
		job.JobHandles,
		job.CycleID,
		job.CheckInAt,
		job.GraceEndAt,
		job.Complete,
		job.UpdatedAt,
	)

	return err
}

func (r *participantJobRepository) Delete(challengeID, userID string) error {
	query := `DELETE FROM participant_jobs WHERE challenge_id = $1 AND user_id = $2`

	result, err := r.db.Exec(query, challengeID, userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrParticipantJobNotFound
	}

	return nil
}
