package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wimi-app/wimi/internal/model"
	"github.com/wimi-app/wimi/internal/recurrence"
	"github.com/wimi-app/wimi/internal/repository"
	"github.com/wimi-app/wimi/internal/scheduler"
)

// errEarlyDeadline marks a deadline job that fired before its grace window
// had closed.
var errEarlyDeadline = errors.New("deadline fired before grace end")

// Classify decides a cycle's state from the arrival times of the posts the
// participant tagged to the challenge. Only the earliest arrival inside the
// window counts; its index is returned, or -1.
func Classify(w recurrence.Window, arrivals []time.Time, now time.Time) (string, int) {
	earliest := -1
	for i, at := range arrivals {
		if !w.Contains(at) {
			continue
		}
		if earliest == -1 || at.Before(arrivals[earliest]) {
			earliest = i
		}
	}

	switch {
	case earliest >= 0 && !arrivals[earliest].After(w.CheckIn):
		return model.CheckInOnTime, earliest
	case earliest >= 0:
		return model.CheckInLate, earliest
	case now.After(w.GraceEnd):
		return model.CheckInMissed, -1
	default:
		return model.CheckInPending, -1
	}
}

type CheckInService struct {
	challengeRepo   repository.ChallengeRepository
	participantRepo repository.ParticipantRepository
	userRepo        repository.UserRepository
	postRepo        repository.PostRepository
	checkInRepo     repository.CheckInRepository
	registry        *JobRegistry
	dispatcher      Dispatcher
	now             func() time.Time
}

func NewCheckInService(
	challengeRepo repository.ChallengeRepository,
	participantRepo repository.ParticipantRepository,
	userRepo repository.UserRepository,
	postRepo repository.PostRepository,
	checkInRepo repository.CheckInRepository,
	registry *JobRegistry,
	dispatcher Dispatcher,
) *CheckInService {
	return &CheckInService{
		challengeRepo:   challengeRepo,
		participantRepo: participantRepo,
		userRepo:        userRepo,
		postRepo:        postRepo,
		checkInRepo:     checkInRepo,
		registry:        registry,
		dispatcher:      dispatcher,
		now:             time.Now,
	}
}

// RecordCheckIn classifies the cycle a freshly created post falls into.
// Posts not flagged as check-ins, posts on untimed challenges and posts
// outside every check-in window are ignored and yield a nil record.
func (s *CheckInService) RecordCheckIn(ctx context.Context, post *model.Post) (*model.CheckInRecord, error) {
	if post.ChallengeID == nil {
		return nil, &InputError{Field: "challenge_id", Reason: "post is not tagged to a challenge"}
	}
	if !post.IsCheckIn {
		return nil, nil
	}

	challenge, err := s.challengeRepo.ByID(*post.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	if !challenge.Recurs() || !challenge.IsTimed() {
		return nil, nil
	}

	participant, err := s.participantRepo.ByKey(challenge.ID, post.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	if !participant.IsActive() {
		return nil, &InputError{Field: "participant", Reason: "participation is " + participant.Status}
	}

	rule, loc, err := s.ruleAndLocation(challenge, post.UserID)
	if err != nil {
		return nil, err
	}

	// The earliest cycle whose grace window has not closed at the post time.
	w, err := recurrence.Next(rule, post.CreatedAt.Add(-rule.Window).Add(-time.Nanosecond), loc)
	if err != nil {
		return nil, asInputError(err)
	}
	if !w.Contains(post.CreatedAt) {
		slog.Debug("post outside check-in window", "post_id", post.ID, "challenge_id", challenge.ID, "next_cycle_id", w.ID)
		return nil, nil
	}

	var record *model.CheckInRecord
	err = s.registry.withLock(ctx, challenge.ID, post.UserID, func() error {
		var err error
		record, _, err = s.classifyLocked(challenge.ID, post.UserID, w)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// EvaluateDeadline handles a fired deadline job on its own. See
// ScheduleService.HandleJobFired for the full deadline flow.
func (s *CheckInService) EvaluateDeadline(ctx context.Context, p scheduler.Payload) (*model.CheckInRecord, error) {
	challenge, err := s.challengeRepo.ByID(p.ChallengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	var record *model.CheckInRecord
	err = s.registry.withLock(ctx, p.ChallengeID, p.UserID, func() error {
		var err error
		record, err = s.evaluateDeadlineLocked(ctx, challenge, p)
		return err
	})
	return record, err
}

// Remind handles a fired reminder job: it opens a pending record for the
// cycle and nudges the participant unless they already checked in.
func (s *CheckInService) Remind(ctx context.Context, p scheduler.Payload) error {
	return s.registry.withLock(ctx, p.ChallengeID, p.UserID, func() error {
		job, err := s.registry.Jobs(p.ChallengeID, p.UserID)
		if err != nil {
			return err
		}
		if job == nil || job.CycleID != p.CycleID || !job.CheckInAt.Equal(p.CheckInAt) {
			slog.Info("stale reminder skipped", "challenge_id", p.ChallengeID, "user_id", p.UserID, "cycle_id", p.CycleID)
			return nil
		}

		existing, err := s.checkInRepo.ByCycle(p.ChallengeID, p.UserID, p.CycleID)
		if err != nil && !errors.Is(err, repository.ErrCheckInNotFound) {
			return fmt.Errorf("failed to load check-in record: %w", err)
		}
		if existing != nil && existing.Classification != model.CheckInPending {
			return nil
		}

		if existing == nil {
			_, err = s.checkInRepo.Upsert(&model.CheckInRecord{
				ID:             uuid.New().String(),
				ChallengeID:    p.ChallengeID,
				UserID:         p.UserID,
				CycleID:        p.CycleID,
				Classification: model.CheckInPending,
				CheckInAt:      p.CheckInAt.UTC(),
				GraceEndAt:     p.GraceEndAt.UTC(),
				ClassifiedAt:   s.now().UTC(),
			})
			if err != nil {
				return fmt.Errorf("failed to record pending check-in: %w", err)
			}
		}

		s.dispatcher.Dispatch(ctx, Event{
			Type:        model.NotificationCheckInReminder,
			UserID:      p.UserID,
			ChallengeID: p.ChallengeID,
			Message:     fmt.Sprintf("Check-in for %s is due now.", p.CycleID),
		})
		return nil
	})
}

// evaluateDeadlineLocked re-validates p against the freshest window for its
// cycle and records the final classification. Stale jobs are skipped with a
// nil record; a job that fired early returns errEarlyDeadline.
func (s *CheckInService) evaluateDeadlineLocked(ctx context.Context, challenge *model.Challenge, p scheduler.Payload) (*model.CheckInRecord, error) {
	if !challenge.Recurs() || !challenge.IsTimed() {
		return nil, nil
	}

	rule, loc, err := s.ruleAndLocation(challenge, p.UserID)
	if err != nil {
		return nil, err
	}

	fresh, err := recurrence.Next(rule, p.CheckInAt.Add(-time.Nanosecond), loc)
	if err != nil {
		return nil, asInputError(err)
	}
	if fresh.ID != p.CycleID || !fresh.CheckIn.Equal(p.CheckInAt) || !fresh.GraceEnd.Equal(p.GraceEndAt) {
		slog.Info("stale deadline skipped",
			"challenge_id", p.ChallengeID,
			"user_id", p.UserID,
			"cycle_id", p.CycleID,
			"fresh_cycle_id", fresh.ID,
			"grace_end_at", p.GraceEndAt,
			"fresh_grace_end_at", fresh.GraceEnd,
		)
		return nil, nil
	}
	if !s.now().After(fresh.GraceEnd) {
		return nil, errEarlyDeadline
	}

	record, written, err := s.classifyLocked(challenge.ID, p.UserID, fresh)
	if err != nil {
		return nil, err
	}

	if written && record.Classification == model.CheckInMissed {
		s.dispatcher.Dispatch(ctx, Event{
			Type:        model.NotificationCheckInMissed,
			UserID:      p.UserID,
			ChallengeID: challenge.ID,
			Message:     fmt.Sprintf("You missed the %s check-in for %q.", fresh.ID, challenge.Title),
		})
	}
	return record, nil
}

// classifyLocked classifies cycle w from every check-in post the participant tagged
// to the challenge and stores the result. written reports whether this call
// changed the stored record.
func (s *CheckInService) classifyLocked(challengeID, userID string, w recurrence.Window) (*model.CheckInRecord, bool, error) {
	posts, err := s.postRepo.ByParticipant(challengeID, userID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load posts: %w", err)
	}
	arrivals := make([]time.Time, len(posts))
	for i, p := range posts {
		arrivals[i] = p.CreatedAt
	}

	now := s.now()
	classification, idx := Classify(w, arrivals, now)

	record := &model.CheckInRecord{
		ID:             uuid.New().String(),
		ChallengeID:    challengeID,
		UserID:         userID,
		CycleID:        w.ID,
		Classification: classification,
		CheckInAt:      w.CheckIn,
		GraceEndAt:     w.GraceEnd,
		ClassifiedAt:   now.UTC(),
	}
	if idx >= 0 {
		arrived := posts[idx].CreatedAt.UTC()
		record.PostID = &posts[idx].ID
		record.ArrivedAt = &arrived
	}

	existing, err := s.checkInRepo.ByCycle(challengeID, userID, w.ID)
	if err != nil && !errors.Is(err, repository.ErrCheckInNotFound) {
		return nil, false, fmt.Errorf("failed to load check-in record: %w", err)
	}

	var written bool
	switch {
	case existing == nil || existing.Classification == model.CheckInPending:
		if classification == model.CheckInPending {
			return existing, false, nil
		}
		written, err = s.checkInRepo.Upsert(record)
	case existing.Classification == classification && classification == model.CheckInLate &&
		record.ArrivedAt != nil && existing.ArrivedAt != nil && record.ArrivedAt.Before(*existing.ArrivedAt):
		// An earlier late post turned up; keep the earliest arrival.
		written, err = s.checkInRepo.Reclassify(record, model.CheckInLate)
	case existing.Classification == classification:
		return existing, false, nil
	case existing.Classification == model.CheckInLate && classification == model.CheckInOnTime:
		written, err = s.checkInRepo.Upsert(record)
	default:
		return existing, false, &ConflictError{
			Entity: "check_in_record",
			ID:     existing.ID,
			Reason: fmt.Sprintf("cycle %s already classified %s, refusing %s", w.ID, existing.Classification, classification),
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to store check-in record: %w", err)
	}

	stored, err := s.checkInRepo.ByCycle(challengeID, userID, w.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload check-in record: %w", err)
	}

	if written {
		slog.Info("check-in classified",
			"challenge_id", challengeID,
			"user_id", userID,
			"cycle_id", w.ID,
			"classification", stored.Classification,
		)
	}
	return stored, written, nil
}

func (s *CheckInService) ruleAndLocation(challenge *model.Challenge, userID string) (recurrence.Rule, *time.Location, error) {
	rule, err := ruleFor(challenge)
	if err != nil {
		return recurrence.Rule{}, nil, err
	}
	user, err := s.userRepo.ByID(userID)
	if err != nil {
		return recurrence.Rule{}, nil, fmt.Errorf("failed to load user: %w", err)
	}
	loc, err := loadLocation(user.Timezone)
	if err != nil {
		return recurrence.Rule{}, nil, err
	}
	return rule, loc, nil
}

// History returns the participant's recorded cycles, oldest first.
func (s *CheckInService) History(challengeID, userID string) ([]*model.CheckInRecord, error) {
	return s.checkInRepo.ByParticipant(challengeID, userID)
}
