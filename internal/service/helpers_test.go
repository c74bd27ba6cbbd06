package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"github.com/wimi-app/wimi/internal/db/dbtest"
	"github.com/wimi-app/wimi/internal/lock"
	"github.com/wimi-app/wimi/internal/model"
	"github.com/wimi-app/wimi/internal/repository"
	"github.com/wimi-app/wimi/internal/scheduler"
	"github.com/wimi-app/wimi/internal/storage"
)

var errSchedulerDown = errors.New("scheduler unavailable")

// jobSeq numbers fake handles across every fakeScheduler, the way real
// handles never repeat between worker restarts.
var jobSeq atomic.Int64

type scheduledJob struct {
	At      time.Time
	Payload scheduler.Payload
}

type fakeScheduler struct {
	mu        sync.Mutex
	calls     int
	live      map[string]scheduledJob
	cancelled []string
	down      bool
	downKind  scheduler.Kind
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{live: make(map[string]scheduledJob)}
}

func (f *fakeScheduler) Schedule(ctx context.Context, at time.Time, p scheduler.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down || (f.downKind != "" && f.downKind == p.Kind) {
		return "", errSchedulerDown
	}
	h := fmt.Sprintf("job-%d", jobSeq.Add(1))
	f.live[h] = scheduledJob{At: at, Payload: p}
	return h, nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, handle)
	f.cancelled = append(f.cancelled, handle)
	return nil
}

func (f *fakeScheduler) setDown(down bool, kind scheduler.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
	f.downKind = kind
}

func (f *fakeScheduler) liveHandles() map[string]scheduledJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]scheduledJob, len(f.live))
	for h, j := range f.live {
		out[h] = j
	}
	return out
}

// job returns the live job of kind for the participation.
func (f *fakeScheduler) job(t *testing.T, kind scheduler.Kind, challengeID, userID string) scheduledJob {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.live {
		if j.Payload.Kind == kind && j.Payload.ChallengeID == challengeID && j.Payload.UserID == userID {
			return j
		}
	}
	t.Fatalf("no live %s job for %s/%s", kind, challengeID, userID)
	return scheduledJob{}
}

func (f *fakeScheduler) wasCancelled(handle string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.cancelled {
		if h == handle {
			return true
		}
	}
	return false
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []Event
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, e)
}

func (d *fakeDispatcher) ofType(typ string) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Event
	for _, e := range d.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type testEnv struct {
	db     *sqlx.DB
	clock  *testClock
	sched  *fakeScheduler
	events *fakeDispatcher
	store  *storage.Memory

	users        repository.UserRepository
	challenges   repository.ChallengeRepository
	participants repository.ParticipantRepository
	posts        repository.PostRepository
	endorsements repository.EndorsementRepository
	checkIns     repository.CheckInRepository
	achievements repository.AchievementRepository
	jobs         repository.ParticipantJobRepository

	registry    *JobRegistry
	checkIn     *CheckInService
	endorsement *EndorsementService
	achievement *AchievementService
	schedule    *ScheduleService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database := dbtest.New(t)
	env := &testEnv{
		db:     database,
		clock:  &testClock{t: time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)},
		sched:  newFakeScheduler(),
		events: &fakeDispatcher{},
		store:  storage.NewMemory(),

		users:        repository.NewUserRepository(database),
		challenges:   repository.NewChallengeRepository(database),
		participants: repository.NewParticipantRepository(database),
		posts:        repository.NewPostRepository(database),
		endorsements: repository.NewEndorsementRepository(database),
		checkIns:     repository.NewCheckInRepository(database),
		achievements: repository.NewAchievementRepository(database),
		jobs:         repository.NewParticipantJobRepository(database),
	}

	env.registry = NewJobRegistry(env.jobs, env.users, env.sched, lock.NewLocal(), RetryPolicy{
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	})
	env.checkIn = NewCheckInService(env.challenges, env.participants, env.users, env.posts, env.checkIns, env.registry, env.events)
	env.endorsement = NewEndorsementService(env.posts, env.endorsements, env.users, env.store, env.events, rand.New(rand.NewPCG(1, 2)))
	env.achievement = NewAchievementService(env.challenges, env.participants, env.users, env.checkIns, env.achievements, env.events)
	env.schedule = NewScheduleService(env.challenges, env.participants, env.users, env.registry, env.checkIn, env.achievement, 4)

	env.registry.now = env.clock.now
	env.checkIn.now = env.clock.now
	env.endorsement.now = env.clock.now
	env.achievement.now = env.clock.now
	env.schedule.now = env.clock.now

	return env
}

func (env *testEnv) user(t *testing.T, name, timezone string) *model.User {
	t.Helper()
	u := &model.User{
		ID:        uuid.New().String(),
		Email:     name + "@example.com",
		Username:  name,
		Timezone:  timezone,
		CreatedAt: env.clock.now(),
	}
	require.NoError(t, env.users.Create(u))
	return u
}

func ptr[T any](v T) *T {
	return &v
}

// dailyChallenge checks in every day at 09:00 local with a one hour grace
// window, counted from 2026-10-01.
func (env *testEnv) dailyChallenge(t *testing.T, creatorID string) *model.Challenge {
	t.Helper()
	c := &model.Challenge{
		ID:          uuid.New().String(),
		CreatorID:   creatorID,
		Title:       "Morning run",
		Repetition:  model.RepetitionDaily,
		CheckInTime: ptr("09:00"),
		TimeWindow:  ptr(3600),
		CreatedAt:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, env.challenges.Create(c))
	return c
}

func (env *testEnv) post(t *testing.T, userID string, challengeID *string, at time.Time) *model.Post {
	t.Helper()
	p := &model.Post{
		ID:          uuid.New().String(),
		UserID:      userID,
		ChallengeID: challengeID,
		Caption:     "checked in",
		IsCheckIn:   challengeID != nil,
		CreatedAt:   at.UTC(),
	}
	require.NoError(t, env.posts.Create(p))
	return p
}

// mutuals makes owner and every other user follow each other.
func (env *testEnv) mutuals(t *testing.T, owner *model.User, others ...*model.User) {
	t.Helper()
	for _, o := range others {
		require.NoError(t, env.users.Follow(owner.ID, o.ID))
		require.NoError(t, env.users.Follow(o.ID, owner.ID))
	}
}
