package scheduler

import (
	"context"
	"sort"

	"mediatasks/internal/task"
	"mediatasks/internal/task/timers"
	logx "mediatasks/pkg/logx"
)

// Status reports lifecycle state, armed timers, in-flight executions and
// recent history. Before Initialize it reports planned fire times instead of
// timers and leaves the store untouched.
func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	st := s.state
	loc := s.loc
	c := s.c
	jobID := s.jobID
	jobSpec := s.jobSpec
	s.mu.Unlock()

	out := Status{
		Initialized:    st == StateReady,
		State:          st.String(),
		Timezone:       loc.String(),
		RunningTaskIDs: s.coord.Running(),
		Timers:         s.reg.List(),
		History:        s.coord.History(),
	}
	if c != nil && jobID != 0 {
		e := c.Entry(jobID)
		out.Validator = &JobInfo{Spec: jobSpec, Next: e.Next, Prev: e.Prev}
	}

	tasks, err := s.store.List(ctx)
	if err != nil {
		return out, task.Persistence("list", err)
	}
	out.TotalTasks = len(tasks)
	for _, t := range tasks {
		if !t.Enabled {
			continue
		}
		out.EnabledTasks++
		if st == StateReady {
			continue
		}
		next, _, err := s.nextFor(t, false)
		if err != nil {
			s.log.Debug("status: no fire time", logx.String("task", t.ID), logx.Err(err))
			continue
		}
		out.Planned = append(out.Planned, timers.Entry{TaskID: t.ID, FireAt: next})
	}
	sort.Slice(out.Planned, func(i, j int) bool {
		if out.Planned[i].FireAt.Equal(out.Planned[j].FireAt) {
			return out.Planned[i].TaskID < out.Planned[j].TaskID
		}
		return out.Planned[i].FireAt.Before(out.Planned[j].FireAt)
	})
	return out, nil
}
