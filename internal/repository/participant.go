package repository

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/wimi-app/wimi/internal/model"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
)

type ParticipantRepository interface {
	Create(participant *model.Participant) error
	ByKey(challengeID, userID string) (*model.Participant, error)
	ByChallenge(challengeID string) ([]*model.Participant, error)
	ActiveByUser(userID string) ([]*model.Participant, error)
	AllActive() ([]*model.Participant, error)
	UpdateStatus(challengeID, userID, status string) error
}

type participantRepository struct {
	db *sqlx.DB
}

func NewParticipantRepository(db *sqlx.DB) ParticipantRepository {
	return &participantRepository{db: db}
}

func (r *participantRepository) Create(participant *model.Participant) error {
	query := `INSERT INTO challenge_participants (challenge_id, user_id, joined_at, status) VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(query, participant.ChallengeID, participant.UserID, participant.JoinedAt, participant.Status)
	return err
}

func (r *participantRepository) ByKey(challengeID, userID string) (*model.Participant, error) {
	participant := &model.Participant{}
	query := `SELECT * FROM challenge_participants WHERE challenge_id = $1 AND user_id = $2`

	err := r.db.Get(participant, query, challengeID, userID)
	if err == sql.ErrNoRows {
		return nil, ErrParticipantNotFound
	}

	return participant, err
}

func (r *participantRepository) ByChallenge(challengeID string) ([]*model.Participant, error) {
	var participants []*model.Participant
	query := `SELECT * FROM challenge_participants WHERE challenge_id = $1 ORDER BY user_id`

	err := r.db.Select(&participants, query, challengeID)
	if err != nil {
		return nil, err
	}

	return participants, nil
}

func (r *participantRepository) ActiveByUser(userID string) ([]*model.Participant, error) {
	var participants []*model.Participant
	query := `SELECT * FROM challenge_participants WHERE user_id = $1 AND status = $2 ORDER BY challenge_id`

	err := r.db.Select(&participants, query, userID, model.ParticipantStatusActive)
	if err != nil {
		return nil, err
	}

	return participants, nil
}

func (r *participantRepository) AllActive() ([]*model.Participant, error) {
	var participants []*model.Participant
	query := `SELECT * FROM challenge_participants WHERE status = $1 ORDER BY challenge_id, user_id`

	err := r.db.Select(&participants, query, model.ParticipantStatusActive)
	if err != nil {
		return nil, err
	}

	return participants, nil
}

func (r *participantRepository) UpdateStatus(challengeID, userID, status string) error {
	query := `UPDATE challenge_participants SET status = $1 WHERE challenge_id = $2 AND user_id = $3`

	result, err := r.db.Exec(query, status, challengeID, userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrParticipantNotFound
	}

	return nil
}
