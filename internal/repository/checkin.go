package repository

import (
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/wimi-app/wimi/internal/model"
)

var (
	ErrCheckInNotFound = errors.New("check-in record not found")
)

type CheckInRepository interface {
	// Upsert inserts the record for its cycle or upgrades an existing one.
	// Only a pending record may be replaced, and a late record only by an
	// on_time one. It reports whether a row was written.
	Upsert(record *model.CheckInRecord) (bool, error)
	// Reclassify overwrites the record only while its classification still
	// equals from.
	Reclassify(record *model.CheckInRecord, from string) (bool, error)
	ByCycle(challengeID, userID, cycleID string) (*model.CheckInRecord, error)
	ByParticipant(challengeID, userID string) ([]*model.CheckInRecord, error)
}

type checkInRepository struct {
	db *sqlx.DB
}

func NewCheckInRepository(db *sqlx.DB) CheckInRepository {
	return &checkInRepository{db: db}
}

func (r *checkInRepository) Upsert(record *model.CheckInRecord) (bool, error) {
	query := `INSERT INTO check_in_records (id, challenge_id, user_id, cycle_id, post_id, arrived_at, classification,
	          check_in_at, grace_end_at, classified_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (challenge_id, user_id, cycle_id) DO UPDATE
	          SET post_id = excluded.post_id, arrived_at = excluded.arrived_at, classification = excluded.classification,
	              check_in_at = excluded.check_in_at, grace_end_at = excluded.grace_end_at,
	              classified_at = excluded.classified_at
	          WHERE check_in_records.classification = 'pending'
	             OR (check_in_records.classification = 'late' AND excluded.classification = 'on_time')`

	result, err := r.db.Exec(query,
		record.ID,
		record.ChallengeID,
		record.UserID,
		record.CycleID,
		record.PostID,
		record.ArrivedAt,
		record.Classification,
		record.CheckInAt,
		record.GraceEndAt,
		record.ClassifiedAt,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows > 0, nil
}

func (r *checkInRepository) Reclassify(record *model.CheckInRecord, from string) (bool, error) {
	query := `UPDATE check_in_records
	          SET post_id = $1, arrived_at = $2, classification = $3, classified_at = $4
	          WHERE challenge_id = $5 AND user_id = $6 AND cycle_id = $7 AND classification = $8`

	result, err := r.db.Exec(query,
		record.PostID,
		record.ArrivedAt,
		record.Classification,
		record.ClassifiedAt,
		record.ChallengeID,
		record.UserID,
		record.CycleID,
		from,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func (r *checkInRepository) ByCycle(challengeID, userID, cycleID string) (*model.CheckInRecord, error) {
	record := &model.CheckInRecord{}
	query := `SELECT * FROM check_in_records WHERE challenge_id = $1 AND user_id = $2 AND cycle_id = $3`

	err := r.db.Get(record, query, challengeID, userID, cycleID)
	if err == sql.ErrNoRows {
		return nil, ErrCheckInNotFound
	}

	return record, err
}

func (r *checkInRepository) ByParticipant(challengeID, userID string) ([]*model.CheckInRecord, error) {
	var records []*model.CheckInRecord
	query := `SELECT * FROM check_in_records WHERE challenge_id = $1 AND user_id = $2 ORDER BY cycle_id ASC`

	err := r.db.Select(&records, query, challengeID, userID)
	if err != nil {
		return nil, err
	}

	return records, nil
}
