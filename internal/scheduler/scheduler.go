// Package scheduler fires participant check-in jobs at absolute instants.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
)

type Kind string

const (
	// KindReminder fires at the cycle's check-in instant.
	KindReminder Kind = "reminder"
	// KindDeadline fires when the cycle's grace window ends.
	KindDeadline Kind = "deadline"
)

// Payload is what a fired job hands back. It describes the cycle as it was
// computed when the job was registered, which may be stale by the time it
// fires.
type Payload struct {
	Kind        Kind
	ChallengeID string
	UserID      string
	CycleID     string
	CheckInAt   time.Time
	GraceEndAt  time.Time
}

func (p Payload) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", p.Kind, p.ChallengeID, p.UserID, p.CycleID)
}

type Handler func(ctx context.Context, p Payload) error

// Scheduler registers one-shot jobs and returns an opaque handle for each.
type Scheduler interface {
	Schedule(ctx context.Context, fireAt time.Time, p Payload) (string, error)
	// Cancel removes a job. Cancelling a job that already fired or never
	// existed is not an error.
	Cancel(ctx context.Context, handle string) error
}

var ErrNotStarted = errors.New("scheduler handler not set")

// Gocron runs jobs in-process. Handles do not survive a restart.
type Gocron struct {
	s      gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	handler Handler
}

func NewGocron(opts ...gocron.SchedulerOption) (*Gocron, error) {
	opts = append([]gocron.SchedulerOption{gocron.WithLocation(time.UTC)}, opts...)
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gocron{s: s, ctx: ctx, cancel: cancel}, nil
}

// Handle sets the function invoked for every fired job.
func (g *Gocron) Handle(h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handler = h
}

func (g *Gocron) Start() {
	g.s.Start()
	slog.Info("scheduler started")
}

func (g *Gocron) Shutdown() error {
	g.cancel()
	err := g.s.Shutdown()
	if err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	slog.Info("scheduler stopped")
	return nil
}

func (g *Gocron) Schedule(ctx context.Context, fireAt time.Time, p Payload) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := gocron.OneTimeJobStartDateTime(fireAt)
	if !fireAt.After(time.Now()) {
		start = gocron.OneTimeJobStartImmediately()
	}

	j, err := g.newJob(start, p)
	if errors.Is(err, gocron.ErrOneTimeJobStartDateTimePast) {
		// fireAt passed between the check above and registration.
		j, err = g.newJob(gocron.OneTimeJobStartImmediately(), p)
	}
	if err != nil {
		return "", fmt.Errorf("failed to schedule %s job: %w", p.Kind, err)
	}

	slog.Debug("job scheduled", "job_id", j.ID().String(), "job", p.String(), "fire_at", fireAt)
	return j.ID().String(), nil
}

func (g *Gocron) newJob(start gocron.OneTimeJobStartAtOption, p Payload) (gocron.Job, error) {
	return g.s.NewJob(
		gocron.OneTimeJob(start),
		gocron.NewTask(g.run, p),
		gocron.WithName(p.String()),
		gocron.WithTags(p.ChallengeID, p.UserID),
	)
}

func (g *Gocron) Cancel(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	id, err := uuid.Parse(handle)
	if err != nil {
		return fmt.Errorf("invalid job handle %q: %w", handle, err)
	}

	err = g.s.RemoveJob(id)
	if err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
		return fmt.Errorf("failed to cancel job %s: %w", handle, err)
	}
	return nil
}

func (g *Gocron) run(p Payload) {
	g.mu.RLock()
	h := g.handler
	g.mu.RUnlock()

	if h == nil {
		slog.Error("job fired without handler", "job", p.String(), "error", ErrNotStarted)
		return
	}

	err := h(g.ctx, p)
	if err != nil {
		slog.Error("job failed",
			"error", err,
			"kind", p.Kind,
			"challenge_id", p.ChallengeID,
			"user_id", p.UserID,
			"cycle_id", p.CycleID,
			"check_in_at", p.CheckInAt,
			"grace_end_at", p.GraceEndAt,
		)
	}
}
