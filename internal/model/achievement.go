package model

import (
	"time"
)

const (
	AchievementSuccessRate   = "success_rate"
	AchievementCurrentStreak = "current_streak"
	AchievementBestStreak    = "best_streak"
	AchievementCompletion    = "completion"
)

type Achievement struct {
	ID              string    `db:"id"`
	ChallengeID     string    `db:"challenge_id"`
	UserID          string    `db:"user_id"`
	AchievementType string    `db:"achievement_type"`
	Value           float64   `db:"value"`
	Description     string    `db:"description"`
	AchievedAt      time.Time `db:"achieved_at"`
}
