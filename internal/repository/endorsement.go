package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/wimi-app/wimi/internal/model"
)

var (
	ErrEndorsementNotFound  = errors.New("endorsement not found")
	ErrEndorsementRequested = errors.New("endorsement already requested for post")
	ErrDuplicateEndorser    = errors.New("endorser already selected for post")
)

type EndorsementRepository interface {
	// CreateRequest stores quorum on the post and inserts the endorsement rows
	// in one transaction. It fails with ErrEndorsementRequested when the post
	// already carries a request.
	CreateRequest(postID string, quorum int, endorsements []*model.Endorsement) error
	ByID(id string) (*model.Endorsement, error)
	ByPost(postID string) ([]*model.Endorsement, error)
	PendingForEndorser(endorserID string) ([]*model.Endorsement, error)
	// Transition moves a pending endorsement to status. It reports false when
	// the row was no longer pending.
	Transition(id, status string, selfieRef *string, at time.Time) (bool, error)
}

type endorsementRepository struct {
	db *sqlx.DB
}

func NewEndorsementRepository(db *sqlx.DB) EndorsementRepository {
	return &endorsementRepository{db: db}
}

func (r *endorsementRepository) CreateRequest(postID string, quorum int, endorsements []*model.Endorsement) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`UPDATE posts SET endorsement_quorum = $1 WHERE id = $2 AND endorsement_quorum = 0`, quorum, postID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists int
		err = tx.QueryRow(`SELECT COUNT(*) FROM posts WHERE id = $1`, postID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return ErrPostNotFound
		}
		return ErrEndorsementRequested
	}

	query := `INSERT INTO post_endorsements (id, post_id, endorser_id, status, selfie_ref, created_at, endorsed_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, e := range endorsements {
		_, err := tx.Exec(query, e.ID, postID, e.EndorserID, e.Status, e.SelfieRef, e.CreatedAt, e.EndorsedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateEndorser
			}
			return fmt.Errorf("failed to create endorsement for %s: %w", e.EndorserID, err)
		}
	}

	return tx.Commit()
}

func (r *endorsementRepository) ByID(id string) (*model.Endorsement, error) {
	endorsement := &model.Endorsement{}
	query := `SELECT * FROM post_endorsements WHERE id = $1`

	err := r.db.Get(endorsement, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrEndorsementNotFound
	}

	return endorsement, err
}

func (r *endorsementRepository) ByPost(postID string) ([]*model.Endorsement, error) {
	var endorsements []*model.Endorsement
	query := `SELECT * FROM post_endorsements WHERE post_id = $1 ORDER BY endorser_id`

	err := r.db.Select(&endorsements, query, postID)
	if err != nil {
		return nil, err
	}

	return endorsements, nil
}

func (r *endorsementRepository) PendingForEndorser(endorserID string) ([]*model.Endorsement, error) {
	var endorsements []*model.Endorsement
	query := `SELECT * FROM post_endorsements WHERE endorser_id = $1 AND status = $2 ORDER BY created_at DESC`

	err := r.db.Select(&endorsements, query, endorserID, model.EndorsementPending)
	if err != nil {
		return nil, err
	}

	return endorsements, nil
}

func (r *endorsementRepository) Transition(id, status string, selfieRef *string, at time.Time) (bool, error) {
	query := `UPDATE post_endorsements SET status = $1, selfie_ref = $2, endorsed_at = $3
	          WHERE id = $4 AND status = $5`

	result, err := r.db.Exec(query, status, selfieRef, at, id, model.EndorsementPending)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}
