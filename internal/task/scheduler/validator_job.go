package scheduler

import (
	"context"
	"strings"

	"github.com/robfig/cron/v3"

	"mediatasks/internal/task/schedule"
	logx "mediatasks/pkg/logx"
)

const validatorJobTag = "association-validator"

// startCronLocked registers the periodic validator job. Caller holds s.mu.
func (s *Service) startCronLocked() {
	if s.c != nil || s.val == nil || !s.cfg.Validator.Enabled {
		return
	}
	raw := strings.TrimSpace(s.cfg.Validator.Schedule)
	if raw == "" {
		return
	}
	spec, err := schedule.ParseJob(raw)
	if err != nil {
		s.log.Warn("validator job disabled: bad schedule", logx.String("spec", raw), logx.Err(err))
		return
	}
	sched, jitter, err := spec.Schedule(s.now().In(s.loc), validatorJobTag)
	if err != nil {
		s.log.Warn("validator job disabled: bad schedule", logx.String("spec", raw), logx.Err(err))
		return
	}

	c := cron.New(cron.WithParser(schedule.JobParser), cron.WithLocation(s.loc))
	s.jobID = c.Schedule(sched, cron.FuncJob(s.runValidatorJob))
	s.jobSpec = raw
	s.c = c
	c.Start()
	s.log.Info("validator job scheduled", logx.String("spec", spec.String()), logx.Duration("startup_spread", jitter),
		logx.Time("next", c.Entry(s.jobID).Next))
}

// restartCronLocked drops the current cron and starts one from s.cfg.
// Caller holds s.mu. A running pass is not interrupted.
func (s *Service) restartCronLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
		s.jobID = 0
		s.jobSpec = ""
	}
	if s.state == StateReady {
		s.startCronLocked()
	}
}

func (s *Service) runValidatorJob() {
	if !s.jobState.TryAcquire(s.now()) {
		s.log.Debug("validator job still running; tick skipped")
		return
	}
	defer s.jobState.Release()

	ctx := s.lifecycleCtx()
	if ctx.Err() != nil {
		return
	}
	rep, err := s.ValidateAndFixAll(ctx)
	if err != nil {
		s.log.Warn("validator job failed", logx.Err(err))
		return
	}
	if rep.InvalidTasks > 0 {
		if _, err := s.ReconcileTimers(context.WithoutCancel(ctx)); err != nil {
			s.log.Debug("post-validation reconcile skipped", logx.Err(err))
		}
	}
}
