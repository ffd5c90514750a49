package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"mediatasks/internal/eventbus"
	"mediatasks/internal/task"
	logx "mediatasks/pkg/logx"
)

// Execute runs the action of task id once.
//
// It fails fast with task.ErrNotFound for unknown ids and task.ErrAlreadyRunning
// when another execution of the same id holds the run-lock. Action failures,
// panics and deadline overruns never surface as errors: they are recorded in
// the task's run history and reported through Result. A non-nil error after
// the action ran means the history write failed (task.ErrPersistence).
func (c *Coordinator) Execute(ctx context.Context, id string, trigger task.Trigger) (Result, error) {
	c.mu.Lock()
	closed := c.closed
	cfg := c.cfg
	c.mu.Unlock()
	if closed {
		return Result{}, ErrStopped
	}

	t, ok, err := c.store.Get(ctx, id)
	if err != nil {
		c.log.Error("task load failed", logx.String("task", id), logx.Err(err))
		return Result{}, task.Persistence("get", err)
	}
	if !ok {
		return Result{}, task.NotFound(id)
	}

	st, ok := c.acquire(id, c.now())
	if !ok {
		c.log.Debug("task already running; skipped", logx.String("task", id), logx.String("trigger", string(trigger)))
		eventbus.Publish(c.bus, eventbus.TaskSkipped, eventbus.TaskEvent{TaskID: id, Name: t.Name, Trigger: string(trigger), Started: c.now()})
		return Result{}, alreadyRunning(id)
	}
	c.wg.Add(1)
	defer c.wg.Done()
	defer c.release(id, st)

	start := c.now()
	log := c.log.With(logx.String("task", id), logx.String("trigger", string(trigger)))
	log.Debug("task started", logx.String("name", t.Name), logx.String("type", string(t.Type)))
	eventbus.Publish(c.bus, eventbus.TaskStarted, eventbus.TaskEvent{
		TaskID: id, Name: t.Name, Type: string(t.Type), Trigger: string(trigger), Started: start,
	})

	c.inFlight.Add(1)
	out := c.runAction(ctx, cfg.Timeout, Request{
		TaskID:    t.ID,
		ItemID:    t.ItemID,
		ItemTitle: t.ItemTitle,
		Type:      t.Type,
		Trigger:   trigger,
	}, log)
	c.inFlight.Add(-1)

	res := Result{TaskID: id, Trigger: trigger, Started: start, Status: task.StatusSuccess}
	if !out.Success {
		res.Status = task.StatusFailure
		res.Error = out.Error
		if res.Error == "" {
			res.Error = "action reported failure"
		}
	}

	// History survives caller cancellation (shutdown, client disconnect).
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	perr := c.finish(pctx, &res, cfg, t.Name, log)

	c.record(HistoryItem{
		TaskID:   id,
		Name:     t.Name,
		Trigger:  trigger,
		Started:  start,
		Duration: res.Duration,
		Status:   res.Status,
		Error:    res.Error,
	}, cfg.HistorySize)

	ev := eventbus.TaskEvent{
		TaskID: id, Name: t.Name, Type: string(t.Type), Trigger: string(trigger),
		Started: start, Duration: res.Duration, Error: res.Error, NextRun: res.NextRun,
	}
	switch {
	case res.Discarded:
		eventbus.Publish(c.bus, eventbus.TaskDiscarded, ev)
	case res.Status == task.StatusFailure:
		eventbus.Publish(c.bus, eventbus.TaskFailed, ev)
	default:
		eventbus.Publish(c.bus, eventbus.TaskFinished, ev)
	}
	return res, perr
}

// finish reloads the task under its key lock and writes run history and the
// next run in one update, then re-arms (or disarms) the timer.
func (c *Coordinator) finish(ctx context.Context, res *Result, cfg Config, name string, log logx.Logger) error {
	unlock := c.locks.Lock(res.TaskID)
	defer unlock()

	end := c.now()
	res.Duration = end.Sub(res.Started)

	c.mu.Lock()
	armer := c.armer
	c.mu.Unlock()

	cur, ok, err := c.store.Get(ctx, res.TaskID)
	if err != nil {
		log.Error("task reload failed; run history lost", logx.Err(err))
		return task.Persistence("get", err)
	}
	if !ok {
		res.Discarded = true
		log.Info("task deleted during execution; result discarded", logx.String("status", string(res.Status)))
		if armer != nil {
			armer.Disarm(res.TaskID)
		}
		return nil
	}

	cur.LastRun = end
	cur.LastRunStatus = res.Status
	cur.LastRunError = res.Error
	if res.Status == task.StatusSuccess {
		cur.ConsecutiveFailures = 0
	} else {
		cur.ConsecutiveFailures++
	}
	cur.UpdatedAt = end

	rearm := false
	if cur.Enabled {
		calc := c.Calculator()
		next, err := calc.NextRunAfterFailures(cur.Schedule, end, cur.ConsecutiveFailures, cfg.Backoff)
		if err != nil {
			log.Error("next run computation failed; timer not re-armed", logx.String("schedule", cur.Schedule.String()), logx.Err(err))
		} else {
			cur.NextRun = next
			res.NextRun = next
			rearm = true
			if d := cfg.Backoff.Delay(cur.ConsecutiveFailures); d > 0 {
				log.Warn("task backing off after repeated failures",
					logx.Int("failures", cur.ConsecutiveFailures), logx.Duration("delay", d), logx.Time("next_run", next))
			}
		}
	}

	if _, err := c.store.Update(ctx, cur); err != nil {
		log.Error("run history write failed", logx.Err(err))
		return task.Persistence("update", err)
	}

	if res.Status == task.StatusFailure {
		log.Warn("task failed", logx.String("name", name), logx.String("err", res.Error), logx.Duration("dur", res.Duration),
			logx.Int("failures", cur.ConsecutiveFailures))
	} else if res.Duration >= 750*time.Millisecond {
		log.Info("task completed", logx.String("name", name), logx.Duration("dur", res.Duration))
	} else {
		log.Debug("task completed", logx.String("name", name), logx.Duration("dur", res.Duration))
	}

	if armer == nil {
		return nil
	}
	if rearm {
		armer.Arm(cur)
		res.Rearmed = true
	} else {
		// disabled mid-run (or unschedulable): leave NextRun stale, no timer
		armer.Disarm(res.TaskID)
	}
	return nil
}

// runAction invokes the action with the execution deadline and panic recovery.
// At the deadline it stops waiting; the action goroutine is left to observe ctx.
func (c *Coordinator) runAction(ctx context.Context, timeout time.Duration, req Request, log logx.Logger) Outcome {
	if c.action == nil {
		return Outcome{Error: "no action configured"}
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("action panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				done <- Outcome{Error: fmt.Sprintf("%v: %v", ErrPanicked, r)}
			}
		}()
		done <- c.action.Run(runCtx, req)
	}()

	select {
	case out := <-done:
		return out
	case <-runCtx.Done():
		// prefer a result that raced the deadline
		select {
		case out := <-done:
			return out
		default:
		}
		err := runCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = timeoutError(timeout)
			log.Warn("action exceeded execution deadline", logx.Duration("timeout", timeout))
		}
		return Outcome{Error: err.Error()}
	}
}
