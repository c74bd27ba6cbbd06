package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wimi-app/wimi/internal/model"
	"github.com/wimi-app/wimi/internal/recurrence"
	"github.com/wimi-app/wimi/internal/repository"
	"github.com/wimi-app/wimi/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

// ScheduleService reacts to challenge, participant and timezone changes by
// reconciling participant jobs, and handles the jobs when they fire.
type ScheduleService struct {
	challengeRepo      repository.ChallengeRepository
	participantRepo    repository.ParticipantRepository
	userRepo           repository.UserRepository
	registry           *JobRegistry
	checkInService     *CheckInService
	achievementService *AchievementService
	concurrency        int
	now                func() time.Time
}

func NewScheduleService(
	challengeRepo repository.ChallengeRepository,
	participantRepo repository.ParticipantRepository,
	userRepo repository.UserRepository,
	registry *JobRegistry,
	checkInService *CheckInService,
	achievementService *AchievementService,
	concurrency int,
) *ScheduleService {
	return &ScheduleService{
		challengeRepo:      challengeRepo,
		participantRepo:    participantRepo,
		userRepo:           userRepo,
		registry:           registry,
		checkInService:     checkInService,
		achievementService: achievementService,
		concurrency:        max(concurrency, 1),
		now:                time.Now,
	}
}

// ScheduleOrUpdateChallenge stores a created or edited challenge and
// reconciles every participant onto the new definition. Invalid definitions
// are rejected before anything is written.
func (s *ScheduleService) ScheduleOrUpdateChallenge(ctx context.Context, challenge *model.Challenge) error {
	existing, err := s.challengeRepo.ByID(challenge.ID)
	if err != nil && !errors.Is(err, repository.ErrChallengeNotFound) {
		return fmt.Errorf("failed to load challenge: %w", err)
	}

	// The creation instant anchors the recurrence and never moves.
	now := s.now().UTC()
	switch {
	case existing != nil:
		challenge.CreatedAt = existing.CreatedAt
	case challenge.CreatedAt.IsZero():
		challenge.CreatedAt = now
	}

	err = ValidateChallenge(challenge)
	if err != nil {
		return err
	}

	if existing == nil {
		challenge.UpdatedAt = now
		err = s.challengeRepo.Create(challenge)
	} else {
		err = s.challengeRepo.Update(challenge)
	}
	if err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}

	participants, err := s.participantRepo.ByChallenge(challenge.ID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}

	return s.reconcileAll(ctx, participants, func(string) (*model.Challenge, error) {
		return challenge, nil
	}, false)
}

// OnParticipantJoin adds the user to the challenge (if not yet a participant)
// and schedules their first cycle.
func (s *ScheduleService) OnParticipantJoin(ctx context.Context, challengeID, userID string) (*model.ParticipantJob, error) {
	challenge, err := s.challengeRepo.ByID(challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}

	participant, err := s.participantRepo.ByKey(challengeID, userID)
	if errors.Is(err, repository.ErrParticipantNotFound) {
		participant = &model.Participant{
			ChallengeID: challengeID,
			UserID:      userID,
			JoinedAt:    s.now().UTC(),
			Status:      model.ParticipantStatusActive,
		}
		err = s.participantRepo.Create(participant)
		if err != nil {
			return nil, fmt.Errorf("failed to create participant: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	} else if !participant.IsActive() {
		err = s.participantRepo.UpdateStatus(challengeID, userID, model.ParticipantStatusActive)
		if err != nil {
			return nil, fmt.Errorf("failed to reactivate participant: %w", err)
		}
		participant.Status = model.ParticipantStatusActive
	}

	return s.registry.Reconcile(ctx, challenge, participant)
}

// OnParticipantLeave drops the participation and cancels its jobs.
func (s *ScheduleService) OnParticipantLeave(ctx context.Context, challengeID, userID string) error {
	return s.UpdateParticipantStatus(ctx, challengeID, userID, model.ParticipantStatusDropped)
}

// UpdateParticipantStatus moves a participation between active, completed
// and dropped. Completing awards the completion achievement.
func (s *ScheduleService) UpdateParticipantStatus(ctx context.Context, challengeID, userID, status string) error {
	switch status {
	case model.ParticipantStatusActive, model.ParticipantStatusCompleted, model.ParticipantStatusDropped:
	default:
		return &InputError{Field: "status", Reason: "unknown participant status " + status}
	}

	challenge, err := s.challengeRepo.ByID(challengeID)
	if err != nil {
		return fmt.Errorf("failed to load challenge: %w", err)
	}
	participant, err := s.participantRepo.ByKey(challengeID, userID)
	if err != nil {
		return fmt.Errorf("failed to load participant: %w", err)
	}

	if participant.Status != status {
		err = s.participantRepo.UpdateStatus(challengeID, userID, status)
		if err != nil {
			return fmt.Errorf("failed to update participant: %w", err)
		}
		participant.Status = status
	}

	if status == model.ParticipantStatusActive {
		_, err = s.registry.Reconcile(ctx, challenge, participant)
		return err
	}

	err = s.registry.Remove(ctx, challengeID, userID)
	if err != nil {
		return err
	}

	if status == model.ParticipantStatusCompleted {
		return s.achievementService.AwardCompletion(ctx, challenge, userID)
	}
	return nil
}

// OnTimezoneChanged reschedules every active participation of the user in
// their new timezone.
func (s *ScheduleService) OnTimezoneChanged(ctx context.Context, userID string) error {
	participants, err := s.participantRepo.ActiveByUser(userID)
	if err != nil {
		return fmt.Errorf("failed to load participations: %w", err)
	}
	return s.reconcileAll(ctx, participants, s.challengeRepo.ByID, false)
}

// UpdateTimezone stores the user's IANA timezone and reschedules.
func (s *ScheduleService) UpdateTimezone(ctx context.Context, userID, timezone string) error {
	if _, err := loadLocation(timezone); err != nil {
		return err
	}

	err := s.userRepo.UpdateTimezone(userID, timezone)
	if err != nil {
		return fmt.Errorf("failed to update timezone: %w", err)
	}
	return s.OnTimezoneChanged(ctx, userID)
}

// DeleteChallenge cancels the jobs of every participant and deletes the
// challenge with everything it owns.
func (s *ScheduleService) DeleteChallenge(ctx context.Context, challengeID string) error {
	participants, err := s.participantRepo.ByChallenge(challengeID)
	if err != nil {
		return fmt.Errorf("failed to load participants: %w", err)
	}

	for _, p := range participants {
		err := s.registry.Remove(ctx, challengeID, p.UserID)
		if err != nil {
			return err
		}
	}

	err = s.challengeRepo.Delete(challengeID)
	if err != nil {
		return fmt.Errorf("failed to delete challenge: %w", err)
	}

	slog.Info("challenge deleted", "challenge_id", challengeID, "participants", len(participants))
	return nil
}

// Restore re-registers the jobs of every active participation. Handles of
// an in-process scheduler do not survive a restart.
func (s *ScheduleService) Restore(ctx context.Context) error {
	participants, err := s.participantRepo.AllActive()
	if err != nil {
		return fmt.Errorf("failed to load participations: %w", err)
	}

	var mu sync.Mutex
	cache := make(map[string]*model.Challenge)
	load := func(id string) (*model.Challenge, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := cache[id]; ok {
			return c, nil
		}
		c, err := s.challengeRepo.ByID(id)
		if err != nil {
			return nil, err
		}
		cache[id] = c
		return c, nil
	}

	err = s.reconcileAll(ctx, participants, load, true)
	slog.Info("participant jobs restored", "participants", len(participants), "error", err)
	return err
}

// Resync reconciles a single participation, forcing fresh handles.
func (s *ScheduleService) Resync(ctx context.Context, challengeID, userID string) (*model.ParticipantJob, error) {
	challenge, err := s.challengeRepo.ByID(challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
	}
	participant, err := s.participantRepo.ByKey(challengeID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	return s.registry.Rebuild(ctx, challenge, participant)
}

// UpcomingCycles previews the participant's next n cycles.
func (s *ScheduleService) UpcomingCycles(challengeID, userID string, n int) ([]recurrence.Window, error) {
	challenge, err := s.challengeRepo.ByID(challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load challenge: %w", err)
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

	current, err := recurrence.Current(rule, s.now(), loc)
	if err != nil {
		return nil, asInputError(err)
	}
	if n <= 1 {
		return []recurrence.Window{current}, nil
	}
	rest, err := recurrence.Upcoming(rule, current.CheckIn, loc, n-1)
	if err != nil {
		return nil, asInputError(err)
	}
	return append([]recurrence.Window{current}, rest...), nil
}

// HandleJobFired is the scheduler callback.
func (s *ScheduleService) HandleJobFired(ctx context.Context, p scheduler.Payload) error {
	switch p.Kind {
	case scheduler.KindReminder:
		err := s.checkInService.Remind(ctx, p)
		return errors.Join(err, s.repairIncomplete(ctx, p))
	case scheduler.KindDeadline:
		return s.handleDeadline(ctx, p)
	default:
		return fmt.Errorf("unknown job kind %q", p.Kind)
	}
}

// repairIncomplete reconciles a participation whose stored job set is
// partial, so a deadline that failed to register does not stall it.
func (s *ScheduleService) repairIncomplete(ctx context.Context, p scheduler.Payload) error {
	job, err := s.registry.Jobs(p.ChallengeID, p.UserID)
	if err != nil || job == nil || job.Complete {
		return err
	}

	challenge, err := s.challengeRepo.ByID(p.ChallengeID)
	if err != nil {
		return fmt.Errorf("failed to load challenge: %w", err)
	}
	participant, err := s.participantRepo.ByKey(p.ChallengeID, p.UserID)
	if err != nil {
		return fmt.Errorf("failed to load participant: %w", err)
	}

	slog.Warn("repairing partial job set", "challenge_id", p.ChallengeID, "user_id", p.UserID, "cycle_id", job.CycleID)
	_, err = s.registry.Reconcile(ctx, challenge, participant)
	return err
}

// handleDeadline classifies the cycle that just closed and moves the
// participant onto the next one, under one participant lock.
func (s *ScheduleService) handleDeadline(ctx context.Context, p scheduler.Payload) error {
	var challenge *model.Challenge
	err := s.registry.withLock(ctx, p.ChallengeID, p.UserID, func() error {
		var err error
		challenge, err = s.challengeRepo.ByID(p.ChallengeID)
		if errors.Is(err, repository.ErrChallengeNotFound) {
			slog.Info("deadline for deleted challenge skipped", "challenge_id", p.ChallengeID, "user_id", p.UserID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load challenge: %w", err)
		}

		participant, err := s.participantRepo.ByKey(p.ChallengeID, p.UserID)
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load participant: %w", err)
		}
		if !participant.IsActive() {
			return s.registry.removeLocked(ctx, p.ChallengeID, p.UserID)
		}

		_, evalErr := s.checkInService.evaluateDeadlineLocked(ctx, challenge, p)
		force := errors.Is(evalErr, errEarlyDeadline)
		if force {
			evalErr = nil
		}

		// The fired job is spent; always move on even if evaluation failed.
		_, err = s.registry.reconcileLocked(ctx, challenge, participant, force)
		return errors.Join(evalErr, err)
	})
	if err != nil {
		return err
	}

	if challenge != nil && challenge.Recurs() && challenge.IsTimed() {
		_, err = s.achievementService.ComputeAchievements(ctx, p.ChallengeID, p.UserID)
		if err != nil {
			slog.Warn("failed to refresh achievements", "error", err, "challenge_id", p.ChallengeID, "user_id", p.UserID)
		}
	}
	return nil
}

// reconcileAll fans reconcile out over participants with bounded
// concurrency. Failures are collected per participant and do not stop the
// others.
func (s *ScheduleService) reconcileAll(ctx context.Context, participants []*model.Participant, challengeFor func(string) (*model.Challenge, error), force bool) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var mu sync.Mutex
	var errs []error

	for _, p := range participants {
		g.Go(func() error {
			challenge, err := challengeFor(p.ChallengeID)
			if err == nil {
				if force {
					_, err = s.registry.Rebuild(ctx, challenge, p)
				} else {
					_, err = s.registry.Reconcile(ctx, challenge, p)
				}
			}
			if err != nil {
				slog.Error("failed to reconcile participant", "error", err, "challenge_id", p.ChallengeID, "user_id", p.UserID)
				mu.Lock()
				errs = append(errs, fmt.Errorf("challenge %s user %s: %w", p.ChallengeID, p.UserID, err))
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}
