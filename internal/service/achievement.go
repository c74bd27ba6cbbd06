package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wimi-app/wimi/internal/model"
	"github.com/wimi-app/wimi/internal/recurrence"
	"github.com/wimi-app/wimi/internal/repository"
)

// maxExpectedCycles caps the history walked for one participant.
const maxExpectedCycles = 5000

type AchievementSummary struct {
	ExpectedCycles int
	OnTime         int
	Late           int
	Missed         int
	CurrentStreak  int
	BestStreak     int
	SuccessRate    float64
}

// Aggregate scores the expected cycles (oldest first) against the recorded
// history. A cycle without a successful record counts as missed; records for
// cycles that are not expected are ignored.
func Aggregate(expected []recurrence.Window, records []*model.CheckInRecord) AchievementSummary {
	byCycle := make(map[string]*model.CheckInRecord, len(records))
	for _, r := range records {
		byCycle[r.CycleID] = r
	}

	sum := AchievementSummary{ExpectedCycles: len(expected)}
	for _, w := range expected {
		r := byCycle[w.ID]
		switch {
		case r != nil && r.Classification == model.CheckInOnTime:
			sum.OnTime++
		case r != nil && r.Classification == model.CheckInLate:
			sum.Late++
		default:
			sum.Missed++
			sum.CurrentStreak = 0
			continue
		}
		sum.CurrentStreak++
		sum.BestStreak = max(sum.BestStreak, sum.CurrentStreak)
	}

	if sum.ExpectedCycles > 0 {
		sum.SuccessRate = float64(sum.OnTime+sum.Late) / float64(sum.ExpectedCycles)
	}
	return sum
}

type AchievementService struct {
	challengeRepo   repository.ChallengeRepository
	participantRepo repository.ParticipantRepository
	userRepo        repository.UserRepository
	checkInRepo     repository.CheckInRepository
	achievementRepo repository.AchievementRepository
	dispatcher      Dispatcher
	now             func() time.Time
}

func NewAchievementService(
	challengeRepo repository.ChallengeRepository,
	participantRepo repository.ParticipantRepository,
	userRepo repository.UserRepository,
	checkInRepo repository.CheckInRepository,
	achievementRepo repository.AchievementRepository,
	dispatcher Dispatcher,
) *AchievementService {
	return &AchievementService{
		challengeRepo:   challengeRepo,
		participantRepo: participantRepo,
		userRepo:        userRepo,
		checkInRepo:     checkInRepo,
		achievementRepo: achievementRepo,
		dispatcher:      dispatcher,
		now:             time.Now,
	}
}

// ComputeAchievements recomputes the participant's success rate and streaks
// and overwrites the stored values.
func (s *AchievementService) ComputeAchievements(ctx context.Context, challengeID, userID string) (*AchievementSummary, error) {
	challenge, err := s.challengeRepo.ByID(challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	participant, err := s.participantRepo.ByKey(challengeID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	user, err := s.userRepo.ByID(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	rule, err := ruleFor(challenge)
	if err != nil {
		return nil, err
	}
	loc, err := loadLocation(user.Timezone)
	if err != nil {
		return nil, err
	}

	to := s.now()
	if challenge.DueDate != nil && challenge.DueDate.Before(to) {
		to = *challenge.DueDate
	}
	expected, err := recurrence.Closed(rule, participant.JoinedAt, to, loc, maxExpectedCycles)
	if err != nil {
		return nil, asInputError(err)
	}

	records, err := s.checkInRepo.ByParticipant(challengeID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load check-in history: %w", err)
	}

	sum := Aggregate(expected, records)
	now := s.now().UTC()

	values := []struct {
		kind        string
		value       float64
		description string
	}{
		{model.AchievementSuccessRate, sum.SuccessRate, fmt.Sprintf("%d of %d check-ins completed", sum.OnTime+sum.Late, sum.ExpectedCycles)},
		{model.AchievementCurrentStreak, float64(sum.CurrentStreak), fmt.Sprintf("%d check-ins in a row", sum.CurrentStreak)},
		{model.AchievementBestStreak, float64(sum.BestStreak), fmt.Sprintf("best run of %d check-ins", sum.BestStreak)},
	}
	for _, v := range values {
		err := s.achievementRepo.Upsert(&model.Achievement{
			ID:              uuid.New().String(),
			ChallengeID:     challengeID,
			UserID:          userID,
			AchievementType: v.kind,
			Value:           v.value,
			Description:     v.description,
			AchievedAt:      now,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to store %s achievement: %w", v.kind, err)
		}
	}

	slog.Debug("achievements computed",
		"challenge_id", challengeID,
		"user_id", userID,
		"expected", sum.ExpectedCycles,
		"success_rate", sum.SuccessRate,
		"current_streak", sum.CurrentStreak,
	)
	return &sum, nil
}

// AwardCompletion records that the participant finished the challenge.
func (s *AchievementService) AwardCompletion(ctx context.Context, challenge *model.Challenge, userID string) error {
	err := s.achievementRepo.Upsert(&model.Achievement{
		ID:              uuid.New().String(),
		ChallengeID:     challenge.ID,
		UserID:          userID,
		AchievementType: model.AchievementCompletion,
		Value:           1,
		Description:     fmt.Sprintf("completed %q", challenge.Title),
		AchievedAt:      s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store completion achievement: %w", err)
	}

	s.dispatcher.Dispatch(ctx, Event{
		Type:        model.NotificationAchievement,
		UserID:      userID,
		ChallengeID: challenge.ID,
		Message:     fmt.Sprintf("You completed %q.", challenge.Title),
	})
	return nil
}

func (s *AchievementService) Achievements(challengeID, userID string) ([]*model.Achievement, error) {
	return s.achievementRepo.ByParticipant(challengeID, userID)
}
