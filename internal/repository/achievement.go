package repository

import (
	"github.com/jmoiron/sqlx"
	"github.com/wimi-app/wimi/internal/model"
)

type AchievementRepository interface {
	// Upsert overwrites the value stored for (challenge, user, type).
	Upsert(achievement *model.Achievement) error
	ByParticipant(challengeID, userID string) ([]*model.Achievement, error)
}

type achievementRepository struct {
	db *sqlx.DB
}

func NewAchievementRepository(db *sqlx.DB) AchievementRepository {
	return &achievementRepository{db: db}
}

func (r *achievementRepository) Upsert(achievement *model.Achievement) error {
	query := `INSERT INTO challenge_achievements (id, challenge_id, user_id, achievement_type, value, description, achieved_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (challenge_id, user_id, achievement_type) DO UPDATE
	          SET value = excluded.value, description = excluded.description, achieved_at = excluded.achieved_at`

	_, err := r.db.Exec(query,
		achievement.ID,
		achievement.ChallengeID,
		achievement.UserID,
		achievement.AchievementType,
		achievement.Value,
		achievement.Description,
		achievement.AchievedAt,
	)

	return err
}

func (r *achievementRepository) ByParticipant(challengeID, userID string) ([]*model.Achievement, error) {
	var achievements []*model.Achievement
	query := `SELECT * FROM challenge_achievements WHERE challenge_id = $1 AND user_id = $2 ORDER BY achievement_type`

	err := r.db.Select(&achievements, query, challengeID, userID)
	if err != nil {
		return nil, err
	}

	return achievements, nil
}
