// Package validator repairs scheduled tasks whose item reference no longer resolves.
package validator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mediatasks/internal/eventbus"
	"mediatasks/internal/storage"
	"mediatasks/internal/task"
	logx "mediatasks/pkg/logx"
)

// OrphanPolicy decides what happens to a task with no safe repair target.
type OrphanPolicy string

const (
	OrphanDelete  OrphanPolicy = "delete"
	OrphanDisable OrphanPolicy = "disable"
)

// ParseOrphanPolicy maps config text to a policy; empty means delete.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", OrphanDelete:
		return OrphanDelete, nil
	case OrphanDisable:
		return OrphanDisable, nil
	default:
		return "", fmt.Errorf("unknown orphan policy %q (want delete|disable)", s)
	}
}

// Action is what the validator did to one task.
type Action string

const (
	ActionRelinked Action = "relinked"
	ActionDeleted  Action = "deleted"
	ActionDisabled Action = "disabled"
	ActionSkipped  Action = "skipped" // orphan already disabled
	ActionFailed   Action = "failed"  // store error while repairing
)

// Detail describes one task with a broken item reference.
type Detail struct {
	TaskID     string `json:"task_id"`
	TaskName   string `json:"task_name"`
	ItemID     string `json:"item_id"`
	ItemTitle  string `json:"item_title"`
	Action     Action `json:"action"`
	NewItemID  string `json:"new_item_id,omitempty"`
	Candidates int    `json:"candidates"`
	Error      string `json:"error,omitempty"`
}

// Report summarizes one validation pass.
type Report struct {
	TotalTasks    int           `json:"total_tasks"`
	InvalidTasks  int           `json:"invalid_tasks"`
	FixedTasks    int           `json:"fixed_tasks"`
	DeletedTasks  int           `json:"deleted_tasks"`
	DisabledTasks int           `json:"disabled_tasks"`
	Details       []Detail      `json:"details"`
	Started       time.Time     `json:"started"`
	Took          time.Duration `json:"took"`
}

// ChangeFunc observes a repaired task while its key lock is still held.
// For ActionDeleted the task is the last stored version.
type ChangeFunc func(t task.ScheduledTask, action Action)

type Validator struct {
	store storage.TaskStore
	items storage.ItemStore
	locks *task.KeyLocks
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	mu       sync.Mutex
	matcher  Matcher
	policy   OrphanPolicy
	onChange ChangeFunc

	running sync.Mutex
}

type Option func(*Validator)

func WithKeyLocks(l *task.KeyLocks) Option {
	return func(v *Validator) {
		if l != nil {
			v.locks = l
		}
	}
}

func WithBus(b eventbus.Bus) Option { return func(v *Validator) { v.bus = b } }

func WithOnChange(fn ChangeFunc) Option { return func(v *Validator) { v.onChange = fn } }

func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

func New(store storage.TaskStore, items storage.ItemStore, matcher Matcher, policy OrphanPolicy, log logx.Logger, opts ...Option) *Validator {
	if log.IsZero() {
		log = logx.Nop()
	}
	if matcher == nil {
		matcher = SubstringMatcher{}
	}
	if policy == "" {
		policy = OrphanDelete
	}
	v := &Validator{
		store:   store,
		items:   items,
		locks:   &task.KeyLocks{},
		log:     log.With(logx.String("comp", "validator")),
		now:     time.Now,
		matcher: matcher,
		policy:  policy,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Apply swaps matcher and orphan policy (hot reload).
func (v *Validator) Apply(matcher Matcher, policy OrphanPolicy) {
	v.mu.Lock()
	if matcher != nil {
		v.matcher = matcher
	}
	if policy != "" {
		v.policy = policy
	}
	v.mu.Unlock()
}

// SetOnChange replaces the change observer.
func (v *Validator) SetOnChange(fn ChangeFunc) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// ValidateAndFixAll checks every task's item reference and repairs or removes
// broken ones. Orphans are reported, never returned as errors; the error is
// reserved for store failures that prevented the pass.
//
// Passes are serialized. Running it twice without intervening changes makes
// no further repairs on the second pass.
func (v *Validator) ValidateAndFixAll(ctx context.Context) (Report, error) {
	v.running.Lock()
	defer v.running.Unlock()

	v.mu.Lock()
	matcher, policy, onChange := v.matcher, v.policy, v.onChange
	v.mu.Unlock()

	rep := Report{Started: v.now(), Details: []Detail{}}
	tasks, err := v.store.List(ctx)
	if err != nil {
		return rep, task.Persistence("list tasks", err)
	}
	items, err := v.items.ListItems(ctx)
	if err != nil {
		return rep, task.Persistence("list items", err)
	}
	byID := make(map[string]task.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	rep.TotalTasks = len(tasks)

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			rep.Took = v.now().Sub(rep.Started)
			return rep, err
		}
		if _, ok := byID[t.ItemID]; ok {
			continue
		}
		d, ok := v.repair(ctx, t.ID, byID, items, matcher, policy, onChange)
		if !ok {
			continue
		}
		rep.InvalidTasks++
		switch d.Action {
		case ActionRelinked:
			rep.FixedTasks++
		case ActionDeleted:
			rep.DeletedTasks++
		case ActionDisabled:
			rep.DisabledTasks++
		}
		rep.Details = append(rep.Details, d)
	}
	rep.Took = v.now().Sub(rep.Started)

	lvl := v.log.Debug
	if rep.FixedTasks+rep.DeletedTasks+rep.DisabledTasks > 0 {
		lvl = v.log.Info
	}
	lvl("validation pass done",
		logx.Int("total", rep.TotalTasks), logx.Int("invalid", rep.InvalidTasks), logx.Int("fixed", rep.FixedTasks),
		logx.Int("deleted", rep.DeletedTasks), logx.Int("disabled", rep.DisabledTasks), logx.Duration("took", rep.Took))
	eventbus.Publish(v.bus, eventbus.ValidatorRun, eventbus.ValidatorEvent{
		Total: rep.TotalTasks, Invalid: rep.InvalidTasks, Fixed: rep.FixedTasks,
		Deleted: rep.DeletedTasks, Disabled: rep.DisabledTasks, Took: rep.Took,
	})
	return rep, nil
}

// repair re-reads task id under its key lock and fixes it. ok is false when
// the task vanished or its reference resolves after all.
func (v *Validator) repair(ctx context.Context, id string, byID map[string]task.Item, items []task.Item,
	matcher Matcher, policy OrphanPolicy, onChange ChangeFunc) (Detail, bool) {
	unlock := v.locks.Lock(id)
	defer unlock()

	t, ok, err := v.store.Get(ctx, id)
	if err != nil {
		v.log.Error("task reload failed", logx.String("task", id), logx.Err(err))
		return Detail{TaskID: id, Action: ActionFailed, Error: err.Error()}, true
	}
	if !ok {
		return Detail{}, false
	}
	if _, ok := byID[t.ItemID]; ok {
		return Detail{}, false
	}

	cands := matcher.Candidates(t.ItemTitle, items)
	d := Detail{
		TaskID:     t.ID,
		TaskName:   t.Name,
		ItemID:     t.ItemID,
		ItemTitle:  t.ItemTitle,
		Candidates: len(cands),
	}
	log := v.log.With(logx.String("task", t.ID), logx.String("item", t.ItemID), logx.String("title", t.ItemTitle))

	if len(cands) == 1 {
		t.ItemID = cands[0].ID
		t.ItemTitle = cands[0].Title
		t.UpdatedAt = v.now()
		if _, err := v.store.Update(ctx, t); err != nil {
			log.Error("relink failed", logx.Err(err))
			d.Action, d.Error = ActionFailed, task.Persistence("update", err).Error()
			return d, true
		}
		d.Action, d.NewItemID = ActionRelinked, t.ItemID
		log.Info("task relinked", logx.String("new_item", t.ItemID))
		if onChange != nil {
			onChange(t, ActionRelinked)
		}
		return d, true
	}

	d.Error = fmt.Sprintf("%v: %d candidates for %q", task.ErrOrphanedAssociation, len(cands), t.ItemTitle)
	switch policy {
	case OrphanDisable:
		if !t.Enabled {
			d.Action = ActionSkipped
			return d, true
		}
		t.Enabled = false
		t.UpdatedAt = v.now()
		if _, err := v.store.Update(ctx, t); err != nil {
			log.Error("disable orphan failed", logx.Err(err))
			d.Action, d.Error = ActionFailed, task.Persistence("update", err).Error()
			return d, true
		}
		d.Action = ActionDisabled
		log.Warn("orphaned task disabled", logx.Int("candidates", len(cands)))
		if onChange != nil {
			onChange(t, ActionDisabled)
		}
	default:
		if _, err := v.store.Delete(ctx, t.ID); err != nil {
			log.Error("delete orphan failed", logx.Err(err))
			d.Action, d.Error = ActionFailed, task.Persistence("delete", err).Error()
			return d, true
		}
		d.Action = ActionDeleted
		log.Warn("orphaned task deleted", logx.Int("candidates", len(cands)))
		if onChange != nil {
			onChange(t, ActionDeleted)
		}
	}
	return d, true
}
