package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mediatasks/internal/eventbus"
	"mediatasks/internal/storage"
	"mediatasks/internal/task"
	"mediatasks/internal/task/engine"
	"mediatasks/internal/task/schedule"
	"mediatasks/internal/task/timers"
	"mediatasks/internal/task/validator"
	logx "mediatasks/pkg/logx"
)

type Service struct {
	mu    sync.Mutex
	cfg   Config
	loc   *time.Location
	state State

	// initMu serializes Initialize/Reinitialize/Stop.
	initMu sync.Mutex

	store storage.TaskStore
	reg   *timers.Registry
	coord *engine.Coordinator
	val   *validator.Validator
	locks *task.KeyLocks
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	// lifecycle context of timer-triggered runs
	runCtx    context.Context
	runCancel context.CancelFunc

	c        *cron.Cron
	jobID    cron.EntryID
	jobSpec  string
	jobState engine.RunState

	// Timer-run error throttling: key is task id.
	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

// Option customizes a Service.
type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

// New wires the facade to its collaborators. locks must be the KeyLocks shared
// with coord and val.
func New(cfg Config, store storage.TaskStore, reg *timers.Registry, coord *engine.Coordinator, val *validator.Validator,
	locks *task.KeyLocks, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if reg == nil {
		reg = timers.New()
	}
	if locks == nil {
		locks = &task.KeyLocks{}
	}
	s := &Service{
		cfg:      cfg,
		store:    store,
		reg:      reg,
		coord:    coord,
		val:      val,
		locks:    locks,
		log:      log.With(logx.String("comp", "scheduler")),
		now:      time.Now,
		lastWarn: map[string]time.Time{},
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = s.loadLocation(cfg.Timezone)
	ecfg := cfg.Engine
	ecfg.Location = s.loc
	coord.Apply(ecfg)
	coord.SetArmer(s)
	if val != nil {
		val.SetOnChange(s.onValidatorChange)
	}
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Service) calc() schedule.Calculator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return schedule.Calculator{Location: s.loc}
}

func (s *Service) backoff() schedule.Backoff {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Engine.Backoff
}

func (s *Service) lifecycleCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return context.Background()
	}
	return s.runCtx
}

// Start initializes the scheduler and starts the periodic validator job.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	cur := s.cfg
	loc := s.loc
	if s.runCtx == nil {
		s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	s.mu.Unlock()

	if !cur.Enabled {
		s.log.Info("scheduler disabled; timers not armed")
		return nil
	}
	s.coord.Reopen()
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.startCronLocked()
	s.mu.Unlock()
	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("timers", s.reg.Len()))
	return nil
}

// Stop cancels all timers and the validator job, then drains in-flight
// executions until ctx is done. Actions still running after that see their
// context canceled. Task state in the store is left untouched.
func (s *Service) Stop(ctx context.Context) {
	start := s.now()
	s.log.Info("stop requested")

	s.initMu.Lock()
	defer s.initMu.Unlock()

	s.coord.Close()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.jobID = 0
	s.state = StateUninitialized
	cancel := s.runCancel
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	n := s.reg.UnregisterAll()

	if err := s.coord.Wait(ctx); err != nil {
		s.log.Warn("stop: in-flight executions still running", logx.Strings("tasks", s.coord.Running()), logx.Err(err))
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Int("timers_cancelled", n), logx.Duration("took", s.now().Sub(start)))
}

// Apply hot-applies config. A timezone change recomputes every next run.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	wasEnabled := s.cfg.Enabled
	s.cfg = cfg
	if oldTZ != newTZ {
		s.loc = s.loadLocation(newTZ)
	}
	loc := s.loc
	ready := s.state == StateReady
	jobChanged := s.jobSpec != strings.TrimSpace(cfg.Validator.Schedule) || (s.c == nil) == cfg.Validator.Enabled
	if ready && (oldTZ != newTZ || jobChanged) {
		s.restartCronLocked()
	}
	s.mu.Unlock()

	ecfg := cfg.Engine
	ecfg.Location = loc
	s.coord.Apply(ecfg)
	if s.val != nil {
		policy, err := validator.ParseOrphanPolicy(cfg.Validator.OrphanPolicy)
		if err != nil {
			s.log.Warn("invalid orphan policy; keeping previous", logx.Err(err))
		}
		s.val.Apply(validator.NewMatcher(cfg.Validator.Matcher, cfg.Validator.FuzzyMinScore), policy)
	}

	switch {
	case wasEnabled && !cfg.Enabled:
		s.log.Info("scheduler disabled by config")
		s.Stop(context.Background())
	case !wasEnabled && cfg.Enabled:
		s.log.Info("scheduler enabled by config")
		if err := s.Start(context.Background()); err != nil {
			s.log.Error("start after enable failed", logx.Err(err))
		}
	case ready && oldTZ != newTZ:
		s.log.Info("timezone changed; reinitializing", logx.String("from", oldTZ), logx.String("to", newTZ))
		if err := s.reinitialize(context.Background(), true); err != nil {
			s.log.Error("reinitialize after timezone change failed", logx.Err(err))
		}
	}
}

func (s *Service) loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
