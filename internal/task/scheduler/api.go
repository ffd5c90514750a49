package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"mediatasks/internal/storage"
	"mediatasks/internal/task"
	"mediatasks/internal/task/validator"
	logx "mediatasks/pkg/logx"
)

// RunTaskNow executes id immediately (trigger=manual) and waits for the result.
//
// Unknown ids fail with task.ErrNotFound and concurrent runs with
// task.ErrAlreadyRunning; both come with a populated RunResult message.
// A failing action is a successful call with RunResult.Success=false.
func (s *Service) RunTaskNow(ctx context.Context, id string) (RunResult, error) {
	res, err := s.coord.Execute(ctx, id, task.TriggerManual)
	switch {
	case errors.Is(err, task.ErrNotFound):
		return RunResult{Message: "task not found: " + id}, err
	case errors.Is(err, task.ErrAlreadyRunning):
		return RunResult{Message: "task is already running"}, err
	case err != nil && res.TaskID == "":
		return RunResult{Message: err.Error()}, err
	}

	out := RunResult{
		Success:       res.Status == task.StatusSuccess,
		LastRunStatus: res.Status,
		NextRun:       res.NextRun,
		Duration:      res.Duration,
	}
	switch {
	case res.Discarded:
		out.Message = "task was deleted while running; result discarded"
	case out.Success:
		out.Message = "task completed"
	default:
		out.Message = "task failed: " + res.Error
	}
	if err != nil {
		out.Message += " (run history not saved: " + err.Error() + ")"
	}
	return out, err
}

// IsTaskRunning reports whether id has an in-flight execution.
func (s *Service) IsTaskRunning(id string) bool {
	return s.coord.IsRunning(id)
}

// ValidateAndFixAll runs one association validation pass. Timers of deleted
// and disabled tasks are cancelled as part of the pass.
func (s *Service) ValidateAndFixAll(ctx context.Context) (validator.Report, error) {
	if s.val == nil {
		return validator.Report{}, errors.New("validator not configured")
	}
	return s.val.ValidateAndFixAll(ctx)
}

// onValidatorChange runs with the task's key lock held.
func (s *Service) onValidatorChange(t task.ScheduledTask, action validator.Action) {
	switch action {
	case validator.ActionDeleted, validator.ActionDisabled:
		s.Disarm(t.ID)
	case validator.ActionRelinked:
		if t.Enabled && s.State() != StateUninitialized && !s.reg.Has(t.ID) {
			if _, err := s.syncHeld(context.Background(), t.ID, false); err != nil {
				s.log.Warn("relinked task not armed", logx.String("task", t.ID), logx.Err(err))
			}
		}
	}
}

// CreateTask validates and stores a new task and arms its timer when enabled.
// An empty ID gets a generated UUID.
func (s *Service) CreateTask(ctx context.Context, t task.ScheduledTask) (task.ScheduledTask, error) {
	now := s.now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	// run history belongs to the engine
	t.LastRun, t.NextRun = time.Time{}, time.Time{}
	t.LastRunStatus, t.LastRunError, t.ConsecutiveFailures = "", "", 0
	t.CreatedAt, t.UpdatedAt = time.Time{}, time.Time{}
	t.Normalize(now)
	if err := t.Validate(); err != nil {
		return task.ScheduledTask{}, err
	}

	unlock := s.locks.Lock(t.ID)
	defer unlock()
	if t.Enabled {
		next, err := s.calc().NextRun(t.Schedule, now)
		if err != nil {
			return task.ScheduledTask{}, task.Validation("schedule", err.Error())
		}
		t.NextRun = next
	}
	if err := s.store.Add(ctx, t); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return task.ScheduledTask{}, task.Validation("id", "already exists")
		}
		return task.ScheduledTask{}, task.Persistence("add", err)
	}
	if t.Enabled && s.State() != StateUninitialized {
		s.register(t.ID, t.NextRun)
	}
	s.log.Info("task created", logx.String("task", t.ID), logx.String("name", t.Name), logx.String("schedule", t.Schedule.String()))
	return t, nil
}

// UpdateTask replaces the editable fields of an existing task (item, name,
// type, schedule, enabled) and re-registers its timer. Identity and run
// history are preserved.
func (s *Service) UpdateTask(ctx context.Context, in task.ScheduledTask) (task.ScheduledTask, error) {
	now := s.now()
	in.Normalize(now)

	unlock := s.locks.Lock(in.ID)
	defer unlock()

	cur, ok, err := s.store.Get(ctx, in.ID)
	if err != nil {
		return task.ScheduledTask{}, task.Persistence("get", err)
	}
	if !ok {
		return task.ScheduledTask{}, task.NotFound(in.ID)
	}

	scheduleChanged := cur.Schedule != in.Schedule
	reenabled := !cur.Enabled && in.Enabled
	cur.ItemID = in.ItemID
	cur.ItemTitle = in.ItemTitle
	cur.Name = in.Name
	cur.Type = in.Type
	cur.Schedule = in.Schedule
	cur.Enabled = in.Enabled
	cur.UpdatedAt = now
	if err := cur.Validate(); err != nil {
		return task.ScheduledTask{}, err
	}
	if cur.Enabled {
		next, _, err := s.nextFor(cur, scheduleChanged || reenabled)
		if err != nil {
			return task.ScheduledTask{}, task.Validation("schedule", err.Error())
		}
		cur.NextRun = next
	}
	if _, err := s.store.Update(ctx, cur); err != nil {
		return task.ScheduledTask{}, task.Persistence("update", err)
	}

	switch {
	case !cur.Enabled:
		s.Disarm(cur.ID)
	case s.State() != StateUninitialized:
		s.register(cur.ID, cur.NextRun)
	}
	cur.IsRunning = s.coord.IsRunning(cur.ID)
	s.log.Info("task updated", logx.String("task", cur.ID), logx.Bool("enabled", cur.Enabled), logx.String("schedule", cur.Schedule.String()))
	return cur, nil
}

// DeleteTask removes a task and cancels its timer. A running execution is
// left to finish; its result is discarded.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return task.Persistence("delete", err)
	}
	if !ok {
		return task.NotFound(id)
	}
	s.Disarm(id)

	s.warnMu.Lock()
	delete(s.lastWarn, id)
	s.warnMu.Unlock()
	s.log.Info("task deleted", logx.String("task", id))
	return nil
}

// SyncTask re-reads id from the store and fixes its timer. Use it after
// writing the store directly.
func (s *Service) SyncTask(ctx context.Context, id string) error {
	if s.State() == StateUninitialized {
		return ErrNotReady
	}
	_, err := s.syncLocked(ctx, id, false)
	return err
}

// GetTask returns a task with IsRunning filled in.
func (s *Service) GetTask(ctx context.Context, id string) (task.ScheduledTask, error) {
	t, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return task.ScheduledTask{}, task.Persistence("get", err)
	}
	if !ok {
		return task.ScheduledTask{}, task.NotFound(id)
	}
	t.IsRunning = s.coord.IsRunning(id)
	return t, nil
}

// ListTasks returns every task with IsRunning filled in.
func (s *Service) ListTasks(ctx context.Context) ([]task.ScheduledTask, error) {
	ts, err := s.store.List(ctx)
	if err != nil {
		return nil, task.Persistence("list", err)
	}
	for i := range ts {
		ts[i].IsRunning = s.coord.IsRunning(ts[i].ID)
	}
	return ts, nil
}
