package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/wimi-app/wimi/internal/lock"
	"github.com/wimi-app/wimi/internal/model"
	"github.com/wimi-app/wimi/internal/recurrence"
	"github.com/wimi-app/wimi/internal/repository"
	"github.com/wimi-app/wimi/internal/scheduler"
)

// RetryPolicy bounds how hard a reconcile pushes on the job scheduler.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// JobRegistry owns the ParticipantJob row of every active participation and
// keeps it in step with the external scheduler.
type JobRegistry struct {
	jobRepo   repository.ParticipantJobRepository
	userRepo  repository.UserRepository
	scheduler scheduler.Scheduler
	locker    lock.Locker
	retry     RetryPolicy
	now       func() time.Time
}

func NewJobRegistry(
	jobRepo repository.ParticipantJobRepository,
	userRepo repository.UserRepository,
	sched scheduler.Scheduler,
	locker lock.Locker,
	retry RetryPolicy,
) *JobRegistry {
	return &JobRegistry{
		jobRepo:   jobRepo,
		userRepo:  userRepo,
		scheduler: sched,
		locker:    locker,
		retry:     retry,
		now:       time.Now,
	}
}

// Reconcile makes the stored job set match the participant's current cycle.
// It is a no-op when the stored set already targets that cycle. A nil job is
// returned when the participation needs no jobs (inactive, untimed or past
// its due date).
//
// On a partial scheduler failure the old and new handles are stored together
// and returned along with a *SchedulingError.
func (r *JobRegistry) Reconcile(ctx context.Context, c *model.Challenge, p *model.Participant) (*model.ParticipantJob, error) {
	var job *model.ParticipantJob
	err := r.withLock(ctx, c.ID, p.UserID, func() error {
		var err error
		job, err = r.reconcileLocked(ctx, c, p, false)
		return err
	})
	return job, err
}

// Rebuild is Reconcile without the no-op shortcut, for handles that are
// known to be gone (process restart).
func (r *JobRegistry) Rebuild(ctx context.Context, c *model.Challenge, p *model.Participant) (*model.ParticipantJob, error) {
	var job *model.ParticipantJob
	err := r.withLock(ctx, c.ID, p.UserID, func() error {
		var err error
		job, err = r.reconcileLocked(ctx, c, p, true)
		return err
	})
	return job, err
}

// Remove cancels every stored handle of the participation and deletes its
// row.
func (r *JobRegistry) Remove(ctx context.Context, challengeID, userID string) error {
	return r.withLock(ctx, challengeID, userID, func() error {
		return r.removeLocked(ctx, challengeID, userID)
	})
}

// Jobs returns the stored job set, or nil if there is none.
func (r *JobRegistry) Jobs(challengeID, userID string) (*model.ParticipantJob, error) {
	job, err := r.jobRepo.ByKey(challengeID, userID)
	if errors.Is(err, repository.ErrParticipantJobNotFound) {
		return nil, nil
	}
	return job, err
}

func (r *JobRegistry) withLock(ctx context.Context, challengeID, userID string, fn func() error) error {
	unlock, err := r.locker.Lock(ctx, lock.Key(challengeID, userID))
	if err != nil {
		return fmt.Errorf("failed to lock participant: %w", err)
	}
	defer unlock()
	return fn()
}

// cycleFor returns the cycle the participant should currently be scheduled
// for. ok is false when nothing should be scheduled.
func (r *JobRegistry) cycleFor(c *model.Challenge, p *model.Participant, now time.Time) (recurrence.Window, bool, error) {
	if !p.IsActive() || !c.Recurs() || !c.IsTimed() {
		return recurrence.Window{}, false, nil
	}

	user, err := r.userRepo.ByID(p.UserID)
	if err != nil {
		return recurrence.Window{}, false, fmt.Errorf("failed to load user: %w", err)
	}
	loc, err := loadLocation(user.Timezone)
	if err != nil {
		return recurrence.Window{}, false, err
	}
	rule, err := ruleFor(c)
	if err != nil {
		return recurrence.Window{}, false, err
	}

	w, err := recurrence.Current(rule, now, loc)
	if err != nil {
		return recurrence.Window{}, false, asInputError(err)
	}
	if c.DueDate != nil && w.CheckIn.After(*c.DueDate) {
		return recurrence.Window{}, false, nil
	}
	return w, true, nil
}

func (r *JobRegistry) reconcileLocked(ctx context.Context, c *model.Challenge, p *model.Participant, force bool) (*model.ParticipantJob, error) {
	now := r.now()

	w, ok, err := r.cycleFor(c, p, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, r.removeLocked(ctx, c.ID, p.UserID)
	}

	old, err := r.Jobs(c.ID, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job set: %w", err)
	}
	if !force && upToDate(old, w) {
		return old, nil
	}

	handles, regErr := r.register(ctx, c.ID, p.UserID, w, now)
	if len(handles) == 0 {
		slog.Error("reconcile gave up, keeping previous jobs",
			"error", regErr,
			"challenge_id", c.ID,
			"user_id", p.UserID,
			"cycle_id", w.ID,
			"check_in_at", w.CheckIn,
			"grace_end_at", w.GraceEnd,
		)
		return old, &SchedulingError{ChallengeID: c.ID, UserID: p.UserID, Err: regErr}
	}

	job := &model.ParticipantJob{
		ChallengeID: c.ID,
		UserID:      p.UserID,
		JobHandles:  handles,
		CycleID:     w.ID,
		CheckInAt:   w.CheckIn,
		GraceEndAt:  w.GraceEnd,
		Complete:    regErr == nil,
		UpdatedAt:   now.UTC(),
	}
	if regErr != nil && old != nil {
		// Keep the old handles alive next to whatever did register; extra
		// firings are deduplicated at evaluation time.
		job.JobHandles = append(append(model.JobHandles{}, old.JobHandles...), handles...)
	}

	err = r.jobRepo.Replace(job)
	if err != nil {
		r.cancel(ctx, c.ID, p.UserID, handles)
		return nil, fmt.Errorf("failed to store job set: %w", err)
	}

	if regErr != nil {
		slog.Error("reconcile registered a partial job set",
			"error", regErr,
			"challenge_id", c.ID,
			"user_id", p.UserID,
			"cycle_id", w.ID,
			"handles", len(job.JobHandles),
		)
		return job, &SchedulingError{ChallengeID: c.ID, UserID: p.UserID, Err: regErr}
	}

	if old != nil {
		r.cancel(ctx, c.ID, p.UserID, old.JobHandles)
	}

	slog.Info("participant jobs reconciled",
		"challenge_id", c.ID,
		"user_id", p.UserID,
		"cycle_id", w.ID,
		"check_in_at", w.CheckIn,
		"grace_end_at", w.GraceEnd,
	)
	return job, nil
}

// upToDate reports whether old already covers w. A partial set never does,
// so the next reconcile retries the jobs that failed to register.
func upToDate(old *model.ParticipantJob, w recurrence.Window) bool {
	return old != nil &&
		old.Complete &&
		old.CycleID == w.ID &&
		old.CheckInAt.Equal(w.CheckIn) &&
		old.GraceEndAt.Equal(w.GraceEnd)
}

func (r *JobRegistry) removeLocked(ctx context.Context, challengeID, userID string) error {
	old, err := r.Jobs(challengeID, userID)
	if err != nil {
		return fmt.Errorf("failed to load job set: %w", err)
	}
	if old == nil {
		return nil
	}

	r.cancel(ctx, challengeID, userID, old.JobHandles)

	err = r.jobRepo.Delete(challengeID, userID)
	if err != nil && !errors.Is(err, repository.ErrParticipantJobNotFound) {
		return fmt.Errorf("failed to delete job set: %w", err)
	}

	slog.Info("participant jobs removed", "challenge_id", challengeID, "user_id", userID)
	return nil
}

// register schedules the reminder (if the check-in instant is still ahead)
// and the deadline of w. It returns every handle that registered.
func (r *JobRegistry) register(ctx context.Context, challengeID, userID string, w recurrence.Window, now time.Time) (model.JobHandles, error) {
	payload := scheduler.Payload{
		ChallengeID: challengeID,
		UserID:      userID,
		CycleID:     w.ID,
		CheckInAt:   w.CheckIn,
		GraceEndAt:  w.GraceEnd,
	}

	var handles model.JobHandles
	var errs []error

	if w.CheckIn.After(now) {
		payload.Kind = scheduler.KindReminder
		h, err := r.schedule(ctx, w.CheckIn, payload)
		if err != nil {
			errs = append(errs, err)
		} else {
			handles = append(handles, h)
		}
	}

	payload.Kind = scheduler.KindDeadline
	h, err := r.schedule(ctx, w.GraceEnd, payload)
	if err != nil {
		errs = append(errs, err)
	} else {
		handles = append(handles, h)
	}

	return handles, errors.Join(errs...)
}

func (r *JobRegistry) schedule(ctx context.Context, at time.Time, p scheduler.Payload) (string, error) {
	b := backoff.NewExponentialBackOff()
	if r.retry.InitialInterval > 0 {
		b.InitialInterval = r.retry.InitialInterval
	}
	if r.retry.MaxInterval > 0 {
		b.MaxInterval = r.retry.MaxInterval
	}

	var handle string
	op := func() error {
		h, err := r.scheduler.Schedule(ctx, at, p)
		if err != nil {
			slog.Warn("scheduler rejected job, retrying", "error", err, "job", p.String())
			return err
		}
		handle = h
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(r.retry.MaxRetries, 0))), ctx))
	if err != nil {
		return "", fmt.Errorf("failed to schedule %s job: %w", p.Kind, err)
	}
	return handle, nil
}

// cancel is best-effort: a job that escapes cancellation is discarded when
// it fires against a cycle that no longer matches.
func (r *JobRegistry) cancel(ctx context.Context, challengeID, userID string, handles []string) {
	for _, h := range handles {
		err := r.scheduler.Cancel(ctx, h)
		if err != nil {
			slog.Warn("failed to cancel job",
				"error", err,
				"handle", h,
				"challenge_id", challengeID,
				"user_id", userID,
			)
		}
	}
}
