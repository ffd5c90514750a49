package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"

	"mediatasks/internal/task"
	"mediatasks/internal/task/engine"
	logx "mediatasks/pkg/logx"
)

type route struct {
	h   Handler
	lim *rate.Limiter // nil = unlimited
}

// Dispatcher implements engine.Action by routing on the task type.
// It is safe for concurrent use and can be reconfigured at runtime.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[task.Type]route
	log    logx.Logger
}

var _ engine.Action = (*Dispatcher)(nil)

func NewDispatcher(log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{routes: map[task.Type]route{}, log: log.With(logx.String("comp", "action"))}
}

// Register installs h for typ, replacing any previous handler.
// ratePerSec <= 0 disables limiting; burst defaults to 1.
func (d *Dispatcher) Register(typ task.Type, h Handler, ratePerSec float64, burst int) {
	d.mu.Lock()
	d.routes[typ] = route{h: h, lim: newLimiter(ratePerSec, burst)}
	d.mu.Unlock()
}

func (d *Dispatcher) Unregister(typ task.Type) {
	d.mu.Lock()
	delete(d.routes, typ)
	d.mu.Unlock()
}

// Apply replaces every command-backed route with the configured set. Routes
// registered directly with Register survive only if their type is not in cfgs.
func (d *Dispatcher) Apply(cfgs map[string]Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for typ, r := range d.routes {
		if _, ok := r.h.(*CommandHandler); ok {
			delete(d.routes, typ)
		}
	}
	for name, c := range cfgs {
		if c.Command == "" {
			d.log.Warn("action without command ignored", logx.String("type", name))
			continue
		}
		d.routes[task.Type(name)] = route{h: NewCommandHandler(c), lim: newLimiter(c.RatePerSec, c.Burst)}
	}
	d.log.Debug("actions applied", logx.Strings("types", d.typesLocked()))
}

// Types lists the task types with a handler, sorted.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.typesLocked()
}

func (d *Dispatcher) typesLocked() []string {
	out := make([]string, 0, len(d.routes))
	for t := range d.routes {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// Run implements engine.Action.
func (d *Dispatcher) Run(ctx context.Context, req engine.Request) engine.Outcome {
	d.mu.RLock()
	r, ok := d.routes[req.Type]
	d.mu.RUnlock()
	if !ok {
		return engine.Outcome{Error: fmt.Sprintf("%v %q", ErrNoHandler, req.Type)}
	}
	if r.lim != nil {
		if err := r.lim.Wait(ctx); err != nil {
			return engine.Outcome{Error: "rate limit wait: " + err.Error()}
		}
	}
	if err := r.h.Handle(ctx, req); err != nil {
		d.log.Debug("action failed", logx.String("task", req.TaskID), logx.String("type", string(req.Type)), logx.Err(err))
		return engine.Outcome{Error: err.Error()}
	}
	return engine.Outcome{Success: true}
}

func newLimiter(ratePerSec float64, burst int) *rate.Limiter {
	if ratePerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(ratePerSec), burst)
}
