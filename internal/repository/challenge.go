package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/wimi-app/wimi/internal/model"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
)

type ChallengeRepository interface {
	Create(challenge *model.Challenge) error
	ByID(id string) (*model.Challenge, error)
	Update(challenge *model.Challenge) error
	Delete(id string) error
}

type challengeRepository struct {
	db *sqlx.DB
}

func NewChallengeRepository(db *sqlx.DB) ChallengeRepository {
	return &challengeRepository{db: db}
}

func (r *challengeRepository) Create(challenge *model.Challenge) error {
	query := `INSERT INTO challenges (id, creator_id, title, description, due_date, repetition, repetition_frequency,
	          repetition_days, check_in_time, time_window, is_private, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(query,
		challenge.ID,
		challenge.CreatorID,
		challenge.Title,
		challenge.Description,
		challenge.DueDate,
		challenge.Repetition,
		challenge.RepetitionFrequency,
		challenge.RepetitionDays,
		challenge.CheckInTime,
		challenge.TimeWindow,
		challenge.IsPrivate,
		challenge.CreatedAt,
		challenge.UpdatedAt,
	)

	return err
}

func (r *challengeRepository) ByID(id string) (*model.Challenge, error) {
	challenge := &model.Challenge{}
	query := `SELECT * FROM challenges WHERE id = $1`

	err := r.db.Get(challenge, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrChallengeNotFound
	}

	return challenge, err
}

func (r *challengeRepository) Update(challenge *model.Challenge) error {
	query := `UPDATE challenges
	          SET title = $1, description = $2, due_date = $3, repetition = $4, repetition_frequency = $5,
	              repetition_days = $6, check_in_time = $7, time_window = $8, is_private = $9, updated_at = $10
	          WHERE id = $11`

	challenge.UpdatedAt = time.Now().UTC()
	result, err := r.db.Exec(query,
		challenge.Title,
		challenge.Description,
		challenge.DueDate,
		challenge.Repetition,
		challenge.RepetitionFrequency,
		challenge.RepetitionDays,
		challenge.CheckInTime,
		challenge.TimeWindow,
		challenge.IsPrivate,
		challenge.UpdatedAt,
		challenge.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrChallengeNotFound
	}

	return nil
}

func (r *challengeRepository) Delete(id string) error {
	query := `DELETE FROM challenges WHERE id = $1`

	result, err := r.db.Exec(query, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrChallengeNotFound
	}

	return nil
}
