package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wimi-app/wimi/internal/model"
	"github.com/wimi-app/wimi/internal/recurrence"
	"github.com/wimi-app/wimi/internal/repository"
	"github.com/wimi-app/wimi/internal/scheduler"
)

func TestClassify(t *testing.T) {
	w := recurrence.Window{
		ID:       "2026-10-18",
		Start:    time.Date(2026, 10, 17, 22, 0, 0, 0, time.UTC),
		CheckIn:  checkIn1018,
		GraceEnd: graceEnd1018,
	}

	tests := []struct {
		name     string
		arrivals []time.Time
		now      time.Time
		want     string
		wantIdx  int
	}{
		{
			name:     "before check-in",
			arrivals: []time.Time{checkIn1018.Add(-2 * time.Hour)},
			now:      checkIn1018,
			want:     model.CheckInOnTime,
			wantIdx:  0,
		},
		{
			name:     "exactly at check-in",
			arrivals: []time.Time{checkIn1018},
			now:      checkIn1018,
			want:     model.CheckInOnTime,
			wantIdx:  0,
		},
		{
			name:     "one second before grace end",
			arrivals: []time.Time{graceEnd1018.Add(-time.Second)},
			now:      graceEnd1018,
			want:     model.CheckInLate,
			wantIdx:  0,
		},
		{
			name:     "exactly at grace end",
			arrivals: []time.Time{graceEnd1018},
			now:      graceEnd1018.Add(time.Second),
			want:     model.CheckInLate,
			wantIdx:  0,
		},
		{
			name:     "after grace end",
			arrivals: []time.Time{graceEnd1018.Add(time.Second)},
			now:      graceEnd1018.Add(2 * time.Second),
			want:     model.CheckInMissed,
			wantIdx:  -1,
		},
		{
			name:     "before the cycle starts",
			arrivals: []time.Time{w.Start.Add(-time.Minute)},
			now:      graceEnd1018.Add(time.Minute),
			want:     model.CheckInMissed,
			wantIdx:  -1,
		},
		{
			name:     "nothing yet inside grace",
			arrivals: nil,
			now:      checkIn1018.Add(time.Minute),
			want:     model.CheckInPending,
			wantIdx:  -1,
		},
		{
			name:     "earliest arrival wins",
			arrivals: []time.Time{checkIn1018.Add(30 * time.Minute), checkIn1018.Add(-time.Minute)},
			now:      graceEnd1018.Add(time.Minute),
			want:     model.CheckInOnTime,
			wantIdx:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, idx := Classify(w, tt.arrivals, tt.now)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantIdx, idx)
		})
	}
}

// joined returns an env with alice (Europe/Berlin) active in a daily 09:00
// challenge, scheduled for the 2026-10-18 cycle.
func joined(t *testing.T) (*testEnv, *model.User, *model.Challenge) {
	t.Helper()
	env := newTestEnv(t)
	alice := env.user(t, "alice", "Europe/Berlin")
	c := env.dailyChallenge(t, alice.ID)
	_, err := env.schedule.OnParticipantJoin(context.Background(), c.ID, alice.ID)
	require.NoError(t, err)
	return env, alice, c
}

func TestRecordCheckIn_OnTime(t *testing.T) {
	env, alice, c := joined(t)

	env.clock.set(checkIn1018.Add(-20 * time.Minute))
	post := env.post(t, alice.ID, &c.ID, env.clock.now())

	record, err := env.checkIn.RecordCheckIn(context.Background(), post)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "2026-10-18", record.CycleID)
	assert.Equal(t, model.CheckInOnTime, record.Classification)
	require.NotNil(t, record.PostID)
	assert.Equal(t, post.ID, *record.PostID)
}

func TestRecordCheckIn_LateThenUpgrades(t *testing.T) {
	env, alice, c := joined(t)
	ctx := context.Background()

	env.clock.set(graceEnd1018.Add(-time.Second))
	late := env.post(t, alice.ID, &c.ID, env.clock.now())
	record, err := env.checkIn.RecordCheckIn(ctx, late)
	require.NoError(t, err)
	assert.Equal(t, model.CheckInLate, record.Classification)

	// A post that was created on time but reported afterwards upgrades it.
	onTime := env.post(t, alice.ID, &c.ID, checkIn1018.Add(-time.Minute))
	record, err = env.checkIn.RecordCheckIn(ctx, onTime)
	require.NoError(t, err)
	assert.Equal(t, model.CheckInOnTime, record.Classification)
	assert.Equal(t, onTime.ID, *record.PostID)
}

func TestRecordCheckIn_EarlierLateArrivalKept(t *testing.T) {
	env, alice, c := joined(t)
	ctx := context.Background()

	env.clock.set(checkIn1018.Add(40 * time.Minute))
	second := env.post(t, alice.ID, &c.ID, env.clock.now())
	_, err := env.checkIn.RecordCheckIn(ctx, second)
	require.NoError(t, err)

	first := env.post(t, alice.ID, &c.ID, checkIn1018.Add(20*time.Minute))
	record, err := env.checkIn.RecordCheckIn(ctx, first)
	require.NoError(t, err)

	assert.Equal(t, model.CheckInLate, record.Classification)
	assert.Equal(t, first.ID, *record.PostID)
	require.NotNil(t, record.ArrivedAt)
	assert.True(t, record.ArrivedAt.Equal(checkIn1018.Add(20*time.Minute)))
}

func TestRecordCheckIn_OutsideWindowIgnored(t *testing.T) {
	env, alice, c := joined(t)

	env.clock.set(graceEnd1018.Add(30 * time.Second))
	post := env.post(t, alice.ID, &c.ID, env.clock.now())

	record, err := env.checkIn.RecordCheckIn(context.Background(), post)
	require.NoError(t, err)
	// The post belongs to the 2026-10-19 cycle, whose window opens at
	// local midnight.
	assert.Nil(t, record)
}

func TestRecordCheckIn_UntimedChallenge(t *testing.T) {
	env := newTestEnv(t)
	alice := env.user(t, "alice", "Europe/Berlin")
	c := &model.Challenge{
		ID:         "untimed",
		CreatorID:  alice.ID,
		Title:      "Read more",
		Repetition: model.RepetitionDaily,
		CreatedAt:  env.clock.now(),
	}
	require.NoError(t, env.schedule.ScheduleOrUpdateChallenge(context.Background(), c))
	job, err := env.schedule.OnParticipantJoin(context.Background(), c.ID, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, job)

	post := env.post(t, alice.ID, &c.ID, env.clock.now())
	record, err := env.checkIn.RecordCheckIn(context.Background(), post)
	require.NoError(t, err)
	assert.Nil(t, record)
	assert.Empty(t, env.sched.liveHandles())
}

func TestRecordCheckIn_RejectsUntaggedPost(t *testing.T) {
	env, alice, _ := joined(t)

	post := env.post(t, alice.ID, nil, env.clock.now())
	_, err := env.checkIn.RecordCheckIn(context.Background(), post)
	assert.ErrorIs(t, err, ErrInput)
}

func TestRecordCheckIn_IgnoresPlainPost(t *testing.T) {
	env, alice, c := joined(t)
	ctx := context.Background()

	// Tagged to the challenge inside the window, but not a check-in.
	env.clock.set(checkIn1018.Add(-30 * time.Minute))
	plain := &model.Post{
		ID:          uuid.New().String(),
		UserID:      alice.ID,
		ChallengeID: &c.ID,
		Caption:     "warming up",
		CreatedAt:   env.clock.now(),
	}
	require.NoError(t, env.posts.Create(plain))

	record, err := env.checkIn.RecordCheckIn(ctx, plain)
	require.NoError(t, err)
	assert.Nil(t, record)
	_, err = env.checkIns.ByCycle(c.ID, alice.ID, "2026-10-18")
	assert.ErrorIs(t, err, repository.ErrCheckInNotFound)

	// Nor does the deadline count it.
	deadline := env.sched.job(t, scheduler.KindDeadline, c.ID, alice.ID)
	env.clock.set(graceEnd1018.Add(time.Second))
	require.NoError(t, env.schedule.HandleJobFired(ctx, deadline.Payload))

	record, err = env.checkIns.ByCycle(c.ID, alice.ID, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, model.CheckInMissed, record.Classification)
	assert.Nil(t, record.PostID)
}

func TestDeadline_MissedOnce(t *testing.T) {
	env, alice, c := joined(t)
	ctx := context.Background()

	deadline := env.sched.job(t, scheduler.KindDeadline, c.ID, alice.ID)
	env.clock.set(graceEnd1018.Add(time.Second))

	require.NoError(t, env.schedule.HandleJobFired(ctx, deadline.Payload))

	record, err := env.checkIns.ByCycle(c.ID, alice.ID, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, model.CheckInMissed, record.Classification)
	assert.Nil(t, record.PostID)
	require.Len(t, env.events.ofType(model.NotificationCheckInMissed), 1)

	job, err := env.jobs.ByKey(c.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", job.CycleID)

	// A duplicate firing of the same job changes nothing.
	require.NoError(t, env.schedule.HandleJobFired(ctx, deadline.Payload))
	assert.Len(t, env.events.ofType(model.NotificationCheckInMissed), 1)

	history, err := env.checkIn.History(c.ID, alice.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	// A post surfacing for a cycle already closed as missed is refused.
	backdated := env.post(t, alice.ID, &c.ID, checkIn1018.Add(10*time.Minute))
	_, err = env.checkIn.RecordCheckIn(ctx, backdated)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestDeadline_LatePostKept(t *testing.T) {
	env, alice, c := joined(t)
	ctx := context.Background()

	deadline := env.sched.job(t, scheduler.KindDeadline, c.ID, alice.ID)

	env.clock.set(graceEnd1018.Add(-time.Second))
	post := env.post(t, alice.ID, &c.ID, env.clock.now())
	_, err := env.checkIn.RecordCheckIn(ctx, post)
	require.NoError(t, err)

	env.clock.set(graceEnd1018.Add(time.Second))
	require.NoError(t, env.schedule.HandleJobFired(ctx, deadline.Payload))

	record, err := env.checkIns.ByCycle(c.ID, alice.ID, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, model.CheckInLate, record.Classification)
	assert.Empty(t, env.events.ofType(model.NotificationCheckInMissed))
}

func TestDeadline_PostAfterGraceIsMissed(t *testing.T) {
	env, alice, c := joined(t)
	ctx := context.Background()

	deadline := env.sched.job(t, scheduler.KindDeadline, c.ID, alice.ID)

	// The worker was late; the post arrived before the job ran but after
	// the window closed.
	env.clock.set(graceEnd1018.Add(time.Minute))
	env.post(t, alice.ID, &c.ID, graceEnd1018.Add(time.Second))

	require.NoError(t, env.schedule.HandleJobFired(ctx, deadline.Payload))

	record, err := env.checkIns.ByCycle(c.ID, alice.ID, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, model.CheckInMissed, record.Classification)
}

func TestDeadline_StaleJobSkipped(t *testing.T) {
	env, alice, c := joined(t)

	stale := env.sched.job(t, scheduler.KindDeadline, c.ID, alice.ID).Payload
	stale.CheckInAt = stale.CheckInAt.Add(-2 * time.Hour)
	stale.GraceEndAt = stale.GraceEndAt.Add(-2 * time.Hour)

	env.clock.set(graceEnd1018.Add(time.Second))
	record, err := env.checkIn.EvaluateDeadline(context.Background(), stale)
	require.NoError(t, err)
	assert.Nil(t, record)

	_, err = env.checkIns.ByCycle(c.ID, alice.ID, "2026-10-18")
	assert.ErrorIs(t, err, repository.ErrCheckInNotFound)
	assert.Empty(t, env.events.ofType(model.NotificationCheckInMissed))
}

func TestDeadline_EarlyFiringReschedules(t *testing.T) {
	env, alice, c := joined(t)
	ctx := context.Background()

	deadline := env.sched.job(t, scheduler.KindDeadline, c.ID, alice.ID)
	env.clock.set(checkIn1018.Add(30 * time.Minute))

	_, err := env.checkIn.EvaluateDeadline(ctx, deadline.Payload)
	assert.ErrorIs(t, err, errEarlyDeadline)

	require.NoError(t, env.schedule.HandleJobFired(ctx, deadline.Payload))

	_, err = env.checkIns.ByCycle(c.ID, alice.ID, "2026-10-18")
	assert.ErrorIs(t, err, repository.ErrCheckInNotFound)

	// Same cycle, fresh deadline handle.
	job, err := env.jobs.ByKey(c.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18", job.CycleID)
	require.Len(t, job.JobHandles, 1)
	live := env.sched.liveHandles()
	require.Len(t, live, 1)
	assert.True(t, live[job.JobHandles[0]].At.Equal(graceEnd1018))
}

func TestDeadline_DroppedParticipantSkipped(t *testing.T) {
	env, alice, c := joined(t)
	ctx := context.Background()

	deadline := env.sched.job(t, scheduler.KindDeadline, c.ID, alice.ID)
	require.NoError(t, env.participants.UpdateStatus(c.ID, alice.ID, model.ParticipantStatusDropped))

	env.clock.set(graceEnd1018.Add(time.Second))
	require.NoError(t, env.schedule.HandleJobFired(ctx, deadline.Payload))

	_, err := env.checkIns.ByCycle(c.ID, alice.ID, "2026-10-18")
	assert.ErrorIs(t, err, repository.ErrCheckInNotFound)
	_, err = env.jobs.ByKey(c.ID, alice.ID)
	assert.ErrorIs(t, err, repository.ErrParticipantJobNotFound)
}

func TestRemind(t *testing.T) {
	env, alice, c := joined(t)
	ctx := context.Background()

	reminder := env.sched.job(t, scheduler.KindReminder, c.ID, alice.ID)
	env.clock.set(checkIn1018)

	require.NoError(t, env.schedule.HandleJobFired(ctx, reminder.Payload))

	record, err := env.checkIns.ByCycle(c.ID, alice.ID, "2026-10-18")
	require.NoError(t, err)
	assert.Equal(t, model.CheckInPending, record.Classification)
	assert.Len(t, env.events.ofType(model.NotificationCheckInReminder), 1)

	// Pending is replaced by the real classification.
	post := env.post(t, alice.ID, &c.ID, checkIn1018.Add(5*time.Minute))
	record, err = env.checkIn.RecordCheckIn(ctx, post)
	require.NoError(t, err)
	assert.Equal(t, model.CheckInLate, record.Classification)

	// Once checked in, a repeated reminder stays quiet.
	require.NoError(t, env.schedule.HandleJobFired(ctx, reminder.Payload))
	assert.Len(t, env.events.ofType(model.NotificationCheckInReminder), 1)
}

func TestRemind_StaleSkipped(t *testing.T) {
	env, alice, c := joined(t)

	reminder := env.sched.job(t, scheduler.KindReminder, c.ID, alice.ID).Payload
	reminder.CycleID = "2026-10-17"

	require.NoError(t, env.schedule.HandleJobFired(context.Background(), reminder))
	assert.Empty(t, env.events.ofType(model.NotificationCheckInReminder))
}
