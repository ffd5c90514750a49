package scheduler

import (
	"context"
	"errors"
	"time"

	"mediatasks/internal/eventbus"
	"mediatasks/internal/task"
	"mediatasks/internal/task/engine"
	logx "mediatasks/pkg/logx"
)

// Initialize loads every task, clears all timers and arms one timer per
// enabled task. It is a no-op when already Ready.
func (s *Service) Initialize(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.State() == StateReady {
		return nil
	}
	return s.rebuildLocked(ctx, false)
}

// Reinitialize forces Ready -> Initializing -> Ready, e.g. after the store was
// replaced underneath the scheduler.
func (s *Service) Reinitialize(ctx context.Context) error {
	return s.reinitialize(ctx, false)
}

func (s *Service) reinitialize(ctx context.Context, recompute bool) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.rebuildLocked(ctx, recompute)
}

// rebuildLocked runs with initMu held. recompute ignores persisted next runs.
func (s *Service) rebuildLocked(ctx context.Context, recompute bool) error {
	start := s.now()
	s.setState(StateInitializing)

	tasks, err := s.store.List(ctx)
	if err != nil {
		s.setState(StateUninitialized)
		s.log.Error("initialize: task list failed", logx.Err(err))
		return task.Persistence("list", err)
	}

	s.reg.UnregisterAll()
	armed, enabled := 0, 0
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		enabled++
		ok, err := s.syncLocked(ctx, t.ID, recompute)
		if err != nil {
			s.log.Warn("initialize: task not armed", logx.String("task", t.ID), logx.Err(err))
			continue
		}
		if ok {
			armed++
		}
	}

	s.setState(StateReady)
	s.log.Info("scheduler initialized",
		logx.Int("tasks", len(tasks)), logx.Int("enabled", enabled), logx.Int("armed", armed),
		logx.Duration("took", s.now().Sub(start)))
	return nil
}

// syncLocked brings the timer of id in line with the stored task, under the
// task's key lock. It reports whether a timer is armed afterwards.
func (s *Service) syncLocked(ctx context.Context, id string, recompute bool) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.syncHeld(ctx, id, recompute)
}

// syncHeld is syncLocked for callers already holding the key lock.
func (s *Service) syncHeld(ctx context.Context, id string, recompute bool) (bool, error) {
	t, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return false, task.Persistence("get", err)
	}
	if !ok || !t.Enabled {
		s.Disarm(id)
		return false, nil
	}
	next, changed, err := s.nextFor(t, recompute)
	if err != nil {
		s.Disarm(id)
		return false, err
	}
	if changed {
		t.NextRun = next
		if _, err := s.store.Update(ctx, t); err != nil {
			// keep the timer; the stored next run is refreshed on the next write
			s.log.Error("next run write failed", logx.String("task", id), logx.Err(err))
		}
	}
	s.register(t.ID, next)
	return true, nil
}

// nextFor returns the fire time for t. A persisted next run is kept while it
// is in the future and still fits the schedule; missed slots roll forward and
// an edited schedule gets a fresh slot.
func (s *Service) nextFor(t task.ScheduledTask, recompute bool) (time.Time, bool, error) {
	now := s.now()
	calc := s.calc()
	if !recompute && calc.Consistent(t.Schedule, t.NextRun, now, t.ConsecutiveFailures, s.backoff()) {
		return t.NextRun, false, nil
	}
	next, err := calc.NextRun(t.Schedule, now)
	if err != nil {
		return time.Time{}, false, err
	}
	return next, !next.Equal(t.NextRun), nil
}

// Arm implements engine.Armer. It is a no-op before initialization; the
// initial timer set is built by Initialize.
func (s *Service) Arm(t task.ScheduledTask) {
	if s.State() == StateUninitialized {
		return
	}
	s.register(t.ID, t.NextRun)
}

// Disarm implements engine.Armer.
func (s *Service) Disarm(id string) {
	if s.reg.Unregister(id) {
		eventbus.Publish(s.bus, eventbus.TimerDisarmed, eventbus.TimerEvent{TaskID: id})
	}
}

func (s *Service) register(id string, at time.Time) {
	s.reg.Register(id, at, s.onFire)
	eventbus.Publish(s.bus, eventbus.TimerArmed, eventbus.TimerEvent{TaskID: id, FireAt: at})
	s.log.Debug("timer armed", logx.String("task", id), logx.Time("fire_at", at))
}

// onFire runs on the timer goroutine.
func (s *Service) onFire(id string) {
	_, err := s.coord.Execute(s.lifecycleCtx(), id, task.TriggerTimer)
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, task.ErrAlreadyRunning), errors.Is(err, engine.ErrStopped):
		// the in-flight run re-arms; a stopped scheduler arms nothing
	case errors.Is(err, task.ErrNotFound):
		s.Disarm(id)
	default:
		// the fired handle would otherwise stay parked in the past
		if _, serr := s.syncLocked(s.lifecycleCtx(), id, false); serr != nil {
			s.log.Error("timer re-sync after failed run failed", logx.String("task", id), logx.Err(serr))
		}
	}
	s.reportRunError(id, err)
}

// ReconcileTimers diffs the timers against the enabled tasks, removing
// orphans and arming the missing ones.
func (s *Service) ReconcileTimers(ctx context.Context) (ReconcileReport, error) {
	if s.State() != StateReady {
		return ReconcileReport{}, ErrNotReady
	}
	tasks, err := s.store.List(ctx)
	if err != nil {
		return ReconcileReport{}, task.Persistence("list", err)
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if t.Enabled {
			ids = append(ids, t.ID)
		}
	}
	res := s.reg.Reconcile(ids)
	rep := ReconcileReport{Missing: res.Missing, Orphaned: res.Orphaned}
	for _, id := range res.Orphaned {
		eventbus.Publish(s.bus, eventbus.TimerDisarmed, eventbus.TimerEvent{TaskID: id})
	}
	for _, id := range res.Missing {
		ok, err := s.syncLocked(ctx, id, false)
		if err != nil {
			s.log.Warn("reconcile: task not armed", logx.String("task", id), logx.Err(err))
			continue
		}
		if ok {
			rep.Registered++
		}
	}
	if len(rep.Missing)+len(rep.Orphaned) > 0 {
		s.log.Info("timers reconciled", logx.Strings("missing", rep.Missing), logx.Strings("orphaned", rep.Orphaned),
			logx.Int("registered", rep.Registered))
	}
	return rep, nil
}
