package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediatasks/internal/storage"
	"mediatasks/internal/task"
	"mediatasks/internal/task/engine"
	"mediatasks/internal/task/timers"
	"mediatasks/internal/task/validator"
	logx "mediatasks/pkg/logx"
)

var okAction = engine.ActionFunc(func(context.Context, engine.Request) engine.Outcome {
	return engine.Outcome{Success: true}
})

func newTestService(t *testing.T, action engine.Action) (*Service, *storage.Memory, *timers.Registry) {
	t.Helper()
	locks := &task.KeyLocks{}
	st := storage.NewMemory()
	coord := engine.New(engine.Config{}, st, action, logx.Nop(), engine.WithKeyLocks(locks))
	val := validator.New(st, st, nil, validator.OrphanDelete, logx.Nop(), validator.WithKeyLocks(locks))
	reg := timers.New()
	s := New(Config{Enabled: true, Timezone: "UTC"}, st, reg, coord, val, locks, logx.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, st, reg
}

func seed(t *testing.T, st *storage.Memory, id string, sched task.Schedule, enabled bool, next time.Time) {
	t.Helper()
	now := time.Now()
	require.NoError(t, st.Add(context.Background(), task.ScheduledTask{
		ID: id, ItemID: "item-" + id, ItemTitle: "Show " + id, Name: "update " + id,
		Type: task.TypeEpisodeUpdate, Schedule: sched, Enabled: enabled, NextRun: next,
		LastRunStatus: task.StatusNever, CreatedAt: now, UpdatedAt: now,
	}))
}

func TestInitializeArmsOneTimerPerEnabledTask(t *testing.T) {
	t.Parallel()
	s, st, reg := newTestService(t, okAction)
	seed(t, st, "a", task.Interval(time.Hour), true, time.Time{})
	seed(t, st, "b", task.Weekly(time.Monday, 9, 0), true, time.Time{})
	seed(t, st, "c", task.Interval(time.Hour), false, time.Time{})

	require.Equal(t, StateUninitialized, s.State())
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 2, reg.Len())
	assert.True(t, reg.Has("a"))
	assert.True(t, reg.Has("b"))
	assert.False(t, reg.Has("c"))

	// idempotent
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, 2, reg.Len())
}

func TestInitializeKeepsFutureNextRunAndRollsPastForward(t *testing.T) {
	t.Parallel()
	s, st, reg := newTestService(t, okAction)
	future := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	seed(t, st, "future", task.Interval(time.Hour), true, future)
	seed(t, st, "missed", task.Interval(time.Hour), true, time.Now().Add(-3*time.Hour))

	before := time.Now()
	require.NoError(t, s.Initialize(context.Background()))

	at, ok := reg.FireAt("future")
	require.True(t, ok)
	assert.True(t, at.Equal(future), "persisted future next run is kept")

	at, ok = reg.FireAt("missed")
	require.True(t, ok)
	assert.True(t, at.After(before), "missed slot rolls forward instead of firing")
	stored, _, err := st.Get(context.Background(), "missed")
	require.NoError(t, err)
	assert.True(t, stored.NextRun.Equal(at))
}

func TestReinitializeDropsTimersOfRemovedTasks(t *testing.T) {
	t.Parallel()
	s, st, reg := newTestService(t, okAction)
	seed(t, st, "a", task.Interval(time.Hour), true, time.Time{})
	seed(t, st, "b", task.Interval(time.Hour), true, time.Time{})
	require.NoError(t, s.Initialize(context.Background()))

	_, err := st.Delete(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, s.Reinitialize(context.Background()))

	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, []timers.Entry{{TaskID: "b", FireAt: mustFireAt(t, reg, "b")}}, reg.List())
}

func mustFireAt(t *testing.T, reg *timers.Registry, id string) time.Time {
	t.Helper()
	at, ok := reg.FireAt(id)
	require.True(t, ok, "timer for %s", id)
	return at
}

func TestReconcileTimers(t *testing.T) {
	t.Parallel()
	s, st, reg := newTestService(t, okAction)

	_, err := s.ReconcileTimers(context.Background())
	require.ErrorIs(t, err, ErrNotReady)

	seed(t, st, "a", task.Interval(time.Hour), true, time.Time{})
	seed(t, st, "b", task.Interval(time.Hour), true, time.Time{})
	require.NoError(t, s.Initialize(context.Background()))

	reg.Unregister("a")
	reg.Register("ghost", time.Now().Add(time.Hour), nil)

	rep, err := s.ReconcileTimers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, rep.Missing)
	assert.Equal(t, []string{"ghost"}, rep.Orphaned)
	assert.Equal(t, 1, rep.Registered)
	assert.True(t, reg.Has("a"))
	assert.False(t, reg.Has("ghost"))
}

func TestRunTaskNow(t *testing.T) {
	t.Parallel()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	action := engine.ActionFunc(func(ctx context.Context, req engine.Request) engine.Outcome {
		if req.TaskID == "slow" {
			started <- struct{}{}
			<-release
		}
		if req.TaskID == "broken" {
			return engine.Outcome{Error: "provider unavailable"}
		}
		return engine.Outcome{Success: true}
	})
	s, st, _ := newTestService(t, action)
	seed(t, st, "ok", task.Interval(time.Hour), true, time.Time{})
	seed(t, st, "broken", task.Interval(time.Hour), true, time.Time{})
	seed(t, st, "slow", task.Interval(time.Hour), true, time.Time{})
	require.NoError(t, s.Initialize(context.Background()))
	ctx := context.Background()

	res, err := s.RunTaskNow(ctx, "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, task.StatusSuccess, res.LastRunStatus)
	assert.Equal(t, "task completed", res.Message)

	res, err = s.RunTaskNow(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "provider unavailable")

	res, err = s.RunTaskNow(ctx, "nope")
	require.ErrorIs(t, err, task.ErrNotFound)
	assert.False(t, res.Success)

	done := make(chan RunResult, 1)
	go func() {
		r, _ := s.RunTaskNow(ctx, "slow")
		done <- r
	}()
	<-started
	assert.True(t, s.IsTaskRunning("slow"))
	res, err = s.RunTaskNow(ctx, "slow")
	require.ErrorIs(t, err, task.ErrAlreadyRunning)
	assert.False(t, res.Success)
	assert.Equal(t, "task is already running", res.Message)

	close(release)
	first := <-done
	assert.True(t, first.Success)
	assert.False(t, s.IsTaskRunning("slow"))
}

func TestTimerFiresAndRearms(t *testing.T) {
	t.Parallel()
	var runs atomic.Int32
	action := engine.ActionFunc(func(context.Context, engine.Request) engine.Outcome {
		runs.Add(1)
		return engine.Outcome{Success: true}
	})
	s, st, reg := newTestService(t, action)
	seed(t, st, "fast", task.Interval(20*time.Millisecond), true, time.Time{})
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return reg.Has("fast") }, time.Second, 5*time.Millisecond)

	stored, _, err := st.Get(context.Background(), "fast")
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, stored.LastRunStatus)
	assert.False(t, stored.LastRun.IsZero())

	s.Stop(context.Background())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, StateUninitialized, s.State())
	n := runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, n, runs.Load(), "no runs after stop")
}

func TestCreateUpdateDeleteTask(t *testing.T) {
	t.Parallel()
	s, st, reg := newTestService(t, okAction)
	require.NoError(t, s.Initialize(context.Background()))
	ctx := context.Background()

	created, err := s.CreateTask(ctx, task.ScheduledTask{
		ItemID: "item-1", ItemTitle: "Show", Name: "weekly refresh",
		Type: task.TypeMetadataRefresh, Schedule: task.Weekly(time.Friday, 20, 30), Enabled: true,
		LastRunStatus: task.StatusSuccess, ConsecutiveFailures: 4,
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, task.StatusNever, created.LastRunStatus)
	assert.Zero(t, created.ConsecutiveFailures)
	assert.True(t, created.NextRun.After(time.Now()))
	assert.Equal(t, time.Friday, created.NextRun.Weekday())
	assert.True(t, reg.Has(created.ID))

	_, err = s.CreateTask(ctx, created)
	require.ErrorIs(t, err, task.ErrValidation, "duplicate id")

	upd := created
	upd.Enabled = false
	upd.Name = "renamed"
	got, err := s.UpdateTask(ctx, upd)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, created.CreatedAt, got.CreatedAt)
	assert.False(t, reg.Has(created.ID))

	upd.Enabled = true
	upd.Schedule = task.Interval(2 * time.Hour)
	got, err = s.UpdateTask(ctx, upd)
	require.NoError(t, err)
	assert.True(t, reg.Has(created.ID))
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), got.NextRun, time.Minute)

	require.NoError(t, s.DeleteTask(ctx, created.ID))
	assert.False(t, reg.Has(created.ID))
	_, ok, err := st.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, s.DeleteTask(ctx, created.ID), task.ErrNotFound)
	_, err = s.UpdateTask(ctx, upd)
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestCreateTaskRejectsInvalid(t *testing.T) {
	t.Parallel()
	s, st, reg := newTestService(t, okAction)
	require.NoError(t, s.Initialize(context.Background()))

	cases := []struct {
		name string
		in   task.ScheduledTask
	}{
		{"no item", task.ScheduledTask{Name: "x", Type: task.TypeEpisodeUpdate, Schedule: task.Interval(time.Hour)}},
		{"no name", task.ScheduledTask{ItemID: "i", Type: task.TypeEpisodeUpdate, Schedule: task.Interval(time.Hour)}},
		{"bad interval", task.ScheduledTask{ItemID: "i", Name: "x", Type: task.TypeEpisodeUpdate, Schedule: task.Interval(0)}},
		{"no schedule", task.ScheduledTask{ItemID: "i", Name: "x", Type: task.TypeEpisodeUpdate}},
	}
	for _, tc := range cases {
		_, err := s.CreateTask(context.Background(), tc.in)
		if !errors.Is(err, task.ErrValidation) {
			t.Fatalf("%s: err=%v, want ErrValidation", tc.name, err)
		}
	}
	all, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, reg.Len())
}

func TestSyncTaskAfterDirectStoreWrite(t *testing.T) {
	t.Parallel()
	s, st, reg := newTestService(t, okAction)
	ctx := context.Background()
	require.ErrorIs(t, s.SyncTask(ctx, "a"), ErrNotReady)

	seed(t, st, "a", task.Interval(time.Hour), true, time.Time{})
	require.NoError(t, s.Initialize(ctx))

	tk, _, err := st.Get(ctx, "a")
	require.NoError(t, err)
	tk.Enabled = false
	_, err = st.Update(ctx, tk)
	require.NoError(t, err)

	require.NoError(t, s.SyncTask(ctx, "a"))
	assert.False(t, reg.Has("a"))
}

func TestScheduleEditedInStoreIsRecomputed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		before task.Schedule
		after  task.Schedule
		check  func(t *testing.T, fireAt time.Time)
	}{
		{
			name:   "interval shortened",
			before: task.Interval(720 * time.Hour),
			after:  task.Interval(time.Hour),
			check: func(t *testing.T, fireAt time.Time) {
				assert.WithinDuration(t, time.Now().Add(time.Hour), fireAt, time.Minute)
			},
		},
		{
			name:   "weekday moved",
			before: task.Weekly(time.Monday, 9, 0),
			after:  task.Weekly(time.Friday, 9, 0),
			check: func(t *testing.T, fireAt time.Time) {
				assert.Equal(t, time.Friday, fireAt.In(time.UTC).Weekday())
				assert.Equal(t, 9, fireAt.In(time.UTC).Hour())
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		for _, via := range []string{"sync", "reinitialize"} {
			via := via
			t.Run(tc.name+"/"+via, func(t *testing.T) {
				t.Parallel()
				s, st, reg := newTestService(t, okAction)
				ctx := context.Background()
				seed(t, st, "a", tc.before, true, time.Time{})
				require.NoError(t, s.Initialize(ctx))

				tk, _, err := st.Get(ctx, "a")
				require.NoError(t, err)
				tk.Schedule = tc.after
				_, err = st.Update(ctx, tk)
				require.NoError(t, err)

				if via == "sync" {
					require.NoError(t, s.SyncTask(ctx, "a"))
				} else {
					require.NoError(t, s.Reinitialize(ctx))
				}

				fireAt, ok := reg.FireAt("a")
				require.True(t, ok)
				tc.check(t, fireAt)
				stored, _, err := st.Get(ctx, "a")
				require.NoError(t, err)
				assert.True(t, stored.NextRun.Equal(fireAt), "recomputed next run is persisted")
			})
		}
	}
}

func TestStatusBeforeInitializeWritesNothing(t *testing.T) {
	t.Parallel()
	s, st, reg := newTestService(t, okAction)
	ctx := context.Background()
	missed := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	seed(t, st, "missed", task.Interval(time.Hour), true, missed)
	seed(t, st, "off", task.Interval(time.Hour), false, time.Time{})

	stat, err := s.Status(ctx)
	require.NoError(t, err)
	assert.False(t, stat.Initialized)
	assert.Empty(t, stat.Timers)
	require.Len(t, stat.Planned, 1)
	assert.Equal(t, "missed", stat.Planned[0].TaskID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), stat.Planned[0].FireAt, time.Minute)
	assert.Equal(t, 0, reg.Len())

	stored, _, err := st.Get(ctx, "missed")
	require.NoError(t, err)
	assert.True(t, stored.NextRun.Equal(missed), "status must not roll the stored next run")

	require.NoError(t, s.Initialize(ctx))
	stat, err = s.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, stat.Planned)
	assert.Len(t, stat.Timers, 1)
}

func TestValidatorDeletionRemovesTimer(t *testing.T) {
	t.Parallel()
	s, st, reg := newTestService(t, okAction)
	ctx := context.Background()
	require.NoError(t, st.PutItem(ctx, task.Item{ID: "item-keep", Title: "Show keep"}))
	seed(t, st, "keep", task.Interval(time.Hour), true, time.Time{})
	// item-gone is not in the item store and no title matches "Show gone"
	seed(t, st, "gone", task.Interval(time.Hour), true, time.Time{})
	require.NoError(t, s.Initialize(ctx))
	require.Equal(t, 2, reg.Len())

	rep, err := s.ValidateAndFixAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DeletedTasks)
	assert.True(t, reg.Has("keep"))
	assert.False(t, reg.Has("gone"))
}

func TestStatus(t *testing.T) {
	t.Parallel()
	s, st, _ := newTestService(t, okAction)
	seed(t, st, "a", task.Interval(time.Hour), true, time.Time{})
	seed(t, st, "b", task.Interval(time.Hour), false, time.Time{})
	require.NoError(t, s.Initialize(context.Background()))
	_, err := s.RunTaskNow(context.Background(), "a")
	require.NoError(t, err)

	stat, err := s.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, stat.Initialized)
	assert.Equal(t, "ready", stat.State)
	assert.Equal(t, "UTC", stat.Timezone)
	assert.Equal(t, 2, stat.TotalTasks)
	assert.Equal(t, 1, stat.EnabledTasks)
	assert.Len(t, stat.Timers, 1)
	assert.Empty(t, stat.RunningTaskIDs)
	require.Len(t, stat.History, 1)
	assert.Equal(t, "a", stat.History[0].TaskID)
	assert.Nil(t, stat.Validator)
}
