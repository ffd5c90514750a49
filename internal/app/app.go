// Package app wires config, storage, the scheduler and its satellites into
// one process and keeps them in sync with config hot reloads.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"mediatasks/internal/action"
	"mediatasks/internal/config"
	"mediatasks/internal/eventbus"
	"mediatasks/internal/metrics"
	"mediatasks/internal/runtime/supervisor"
	"mediatasks/internal/storage"
	"mediatasks/internal/task"
	"mediatasks/internal/task/engine"
	"mediatasks/internal/task/scheduler"
	"mediatasks/internal/task/timers"
	"mediatasks/internal/task/validator"
	logx "mediatasks/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.MemBus
	store storage.Store

	actions *action.Dispatcher
	coord   *engine.Coordinator
	timers  *timers.Registry
	sched   *scheduler.Service

	prom      *prometheus.Registry
	collector *metrics.Collector

	metricsMu     sync.Mutex
	metricsCancel context.CancelFunc
	metricsCfg    config.MetricsConfig
}

// New loads cfgPath and builds every component. Nothing runs until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return newWithConfig(cfgm, cfg)
}

func newWithConfig(cfgm *config.Manager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLogConfig(cfg))

	scfg, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(scfg, log)
	if err != nil {
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	policy, err := validator.ParseOrphanPolicy(schedCfg.Validator.OrphanPolicy)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	bus := eventbus.New()
	locks := &task.KeyLocks{}

	actions := action.NewDispatcher(log)
	actions.Apply(mapActionConfigs(cfg))

	coord := engine.New(schedCfg.Engine, store, actions, log,
		engine.WithBus(bus), engine.WithKeyLocks(locks))
	val := validator.New(store, store,
		validator.NewMatcher(schedCfg.Validator.Matcher, schedCfg.Validator.FuzzyMinScore), policy, log,
		validator.WithBus(bus), validator.WithKeyLocks(locks))
	reg := timers.New()
	sched := scheduler.New(schedCfg, store, reg, coord, val, locks, log, scheduler.WithBus(bus))

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(prom,
		metrics.WithTimers(reg.Len),
		metrics.WithInFlight(coord.InFlight),
		metrics.WithDropped(bus.Dropped),
	)

	a := &App{
		cfgm:      cfgm,
		log:       log.With(logx.String("comp", "app")),
		logs:      logSvc,
		bus:       bus,
		store:     store,
		actions:   actions,
		coord:     coord,
		timers:    reg,
		sched:     sched,
		prom:      prom,
		collector: collector,
	}
	cfgm.SetValidator(a.validateConfig)
	return a, nil
}

func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Store() storage.Store          { return a.store }
func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) Logger() logx.Logger           { return a.log }

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validateConfig rejects hot reloads the components could not apply.
func (a *App) validateConfig(_ context.Context, cfg *config.Config) error {
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

// Start runs the scheduler, metrics and the config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go0("metrics.collect", func(c context.Context) { a.collector.Run(c, a.bus) })
	a.applyMetrics(cfg.Metrics)

	a.sup.Go0("eventbus.log", func(c context.Context) {
		events, unsub := a.bus.Subscribe(128)
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := cfg
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 5*time.Second)

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "actions":
			a.actions.Apply(mapActionConfigs(next))
		case "scheduler", "validator":
			scfg, err := mapSchedulerConfig(next)
			if err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
				continue
			}
			a.sched.Apply(scfg)
		case "metrics":
			a.applyMetrics(next.Metrics)
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyMetrics (re)starts or stops the /metrics listener.
func (a *App) applyMetrics(mc config.MetricsConfig) {
	a.metricsMu.Lock()
	defer a.metricsMu.Unlock()
	if a.metricsCancel != nil && mc == a.metricsCfg {
		return
	}
	if a.metricsCancel != nil {
		a.metricsCancel()
		a.metricsCancel = nil
	}
	a.metricsCfg = mc
	if !mc.Enabled || a.sup == nil {
		return
	}
	ctx, cancel := context.WithCancel(a.sup.Context())
	a.metricsCancel = cancel
	scfg := metrics.ServerConfig{Addr: mc.Addr, Pprof: mc.Pprof, Token: mc.Token}
	a.sup.GoRestart("metrics.http", func(context.Context) error {
		return metrics.Serve(ctx, scfg, a.prom, a.log)
	}, time.Second, 30*time.Second)
}

// Stop shuts components down in dependency order; every step is bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()
		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// the scheduler drains in-flight runs, so it goes first and gets the longest budget
	step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	if a.sup != nil {
		a.sup.Cancel()
		step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
