package scheduler

import (
	"errors"
	"time"

	"mediatasks/internal/task"
	"mediatasks/internal/task/engine"
	logx "mediatasks/pkg/logx"
)

const runWarnThrottle = 5 * time.Second

// reportRunError logs errors from timer-triggered runs. Routine skips go to
// debug; the rest are warned at most once per task per runWarnThrottle.
func (s *Service) reportRunError(id string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, task.ErrAlreadyRunning) || errors.Is(err, engine.ErrStopped) || errors.Is(err, task.ErrNotFound) {
		s.log.Debug("timer run skipped", logx.String("task", id), logx.Err(err))
		return
	}

	now := s.now()
	s.warnMu.Lock()
	last := s.lastWarn[id]
	if !last.IsZero() && now.Sub(last) < runWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[id] = now
	s.warnMu.Unlock()

	s.log.Warn("timer run failed", logx.String("task", id), logx.Err(err))
}
