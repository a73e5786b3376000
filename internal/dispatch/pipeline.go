// Package dispatch runs the affixes of carriers in response to trigger
// events, and undoes them when a carrier is detached.
package dispatch

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/affix/internal/actor"
	"github.com/gyaneshwarpardhi/affix/internal/affix"
	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/event"
	"github.com/gyaneshwarpardhi/affix/internal/expr"
	"github.com/gyaneshwarpardhi/affix/internal/metrics"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/rules"
	"github.com/gyaneshwarpardhi/affix/internal/schedule"
)

// Stage names the pipeline path a hook is consulted on.
type Stage string

const (
	StageApply  Stage = "apply"
	StageRemove Stage = "remove"
)

// Outcome is a hook's verdict on a pending operation.
type Outcome int

const (
	Proceed Outcome = iota
	Cancel
)

// Invocation describes the operation a hook is asked about. Hooks may read
// and adjust Context.Vars; other changes are ignored.
type Invocation struct {
	Carrier carrier.Carrier
	Index   int
	Affix   *affix.Affix
	Context *operation.Context
}

// Hook is consulted right before an operation runs. Returning Cancel skips
// the operation; a cooldown already set stays set.
type Hook func(stage Stage, inv *Invocation) Outcome

// Site is a carrier as seen by one event: the carrier and the slot it
// occupies.
type Site struct {
	Carrier carrier.Carrier
	Slot    string
}

// Execution statuses.
const (
	StatusExecuted  = "executed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Execution is the outcome of one affix that passed every gate.
type Execution struct {
	Carrier   string `json:"carrier"`
	Index     int    `json:"index"`
	AffixID   string `json:"affix_id"`
	Operation string `json:"operation"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// Result is the outcome of a Dispatch or Detach call.
type Result struct {
	EventID    string         `json:"event_id,omitempty"`
	Tick       int64          `json:"tick"`
	DurationMs int64          `json:"duration_ms"`
	Executions []Execution    `json:"executions"`
	Skipped    map[string]int `json:"skipped,omitempty"`
}

func (r *Result) skip(reason string) {
	if r.Skipped == nil {
		r.Skipped = make(map[string]int)
	}
	r.Skipped[reason]++
	metrics.AffixesSkipped.WithLabelValues(reason).Inc()
}

// Skip reasons.
const (
	SkipUndecodable = "undecodable"
	SkipTrigger     = "trigger"
	SkipSlot        = "slot"
	SkipCooldown    = "cooldown"
	SkipCondition   = "condition"
)

// DispatchError reports an operation that failed or panicked.
type DispatchError struct {
	Stage   Stage
	Carrier string
	AffixID string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s affix %s on %s: %v", e.Stage, e.AffixID, e.Carrier, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Options wires a Pipeline to the engine's shared state.
type Options struct {
	Rules     *rules.Manager
	Exprs     *expr.Engine
	Actors    actor.Lookup
	Scheduler *schedule.Scheduler
	Tracker   *operation.Tracker
	Logger    *slog.Logger
	// Clock returns the current tick. Nil means tick 0.
	Clock func() int64
}

// Pipeline evaluates and runs affixes. Calls for different carriers may run
// concurrently; calls for the same carrier are expected to come from one
// goroutine per tick.
type Pipeline struct {
	rules     *rules.Manager
	exprs     *expr.Engine
	actors    actor.Lookup
	scheduler *schedule.Scheduler
	tracker   *operation.Tracker
	logger    *slog.Logger
	clock     func() int64
}

// New creates a Pipeline. Rules is required.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		rules:     opts.Rules,
		exprs:     opts.Exprs,
		actors:    opts.Actors,
		scheduler: opts.Scheduler,
		tracker:   opts.Tracker,
		logger:    opts.Logger,
		clock:     opts.Clock,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.exprs == nil {
		p.exprs = expr.NewEngine(p.logger)
	}
	if p.tracker == nil {
		p.tracker = operation.NewTracker()
	}
	if p.clock == nil {
		p.clock = func() int64 { return 0 }
	}
	return p
}

// Dispatch runs every affix on sites that the event triggers. Affixes run in
// list order. A failing affix is logged and recorded; the rest still run.
func (p *Pipeline) Dispatch(ev *event.Event, sites []Site, hook Hook) *Result {
	start := time.Now()
	now := p.clock()
	res := &Result{EventID: ev.ID, Tick: now, Executions: []Execution{}}
	fired := ev.TriggerSet()

	for _, site := range sites {
		if site.Carrier == nil {
			continue
		}
		c := site.Carrier
		id := p.rules.Identity(c)
		acting := p.actingActor(ev.ActorID, c)
		target := p.lookup(ev.TargetID)

		for i, a := range p.rules.Rules(c) {
			switch {
			case a == nil:
				res.skip(SkipUndecodable)
				continue
			case !a.Matches(fired):
				res.skip(SkipTrigger)
				continue
			case !a.AllowsSlot(site.Slot):
				res.skip(SkipSlot)
				continue
			case a.Cooldown > 0 && !p.rules.IsCooldownOver(c, i, now):
				res.skip(SkipCooldown)
				continue
			}

			ctx := &operation.Context{
				Carrier:   c,
				CarrierID: id,
				Slot:      site.Slot,
				Actor:     acting,
				Target:    target,
				Event:     ev,
				AffixID:   a.ID,
				Tick:      now,
				Exprs:     p.exprs,
				Actors:    p.actors,
				Scheduler: p.scheduler,
				Tracker:   p.tracker,
				Logger:    p.logger,
			}
			if exec, ran := p.apply(site, i, a, ctx, hook, res); ran {
				res.Executions = append(res.Executions, exec)
			}
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	metrics.EventProcessingDuration.Observe(float64(time.Since(start).Microseconds()) / 1000)
	return res
}

// apply runs steps condition → cooldown → hook → operation for one affix.
// It reports false when the condition rejected the affix.
func (p *Pipeline) apply(site Site, index int, a *affix.Affix, ctx *operation.Context, hook Hook, res *Result) (exec Execution, ran bool) {
	c := site.Carrier
	exec = Execution{Carrier: c.Name(), Index: index, AffixID: a.ID, Operation: a.OperationType()}

	defer func() {
		if r := recover(); r != nil {
			err := &DispatchError{Stage: StageApply, Carrier: c.Name(), AffixID: a.ID, Err: fmt.Errorf("panic: %v", r)}
			p.logger.Warn("affix panicked", "err", err)
			exec.Status, exec.Error, ran = StatusFailed, err.Error(), true
			metrics.AffixesExecuted.WithLabelValues(exec.Operation, string(StageApply), StatusFailed).Inc()
		}
	}()

	ctx.Vars = BuildEnv(EnvInput{
		Actor:     ctx.Actor,
		Target:    ctx.Target,
		Event:     ctx.Event,
		Carrier:   c,
		CarrierID: ctx.CarrierID,
		Slot:      site.Slot,
		Affix:     a,
		Tick:      ctx.Tick,
	})
	if !p.exprs.EvaluateCondition(a.Condition, ctx.Vars) {
		res.skip(SkipCondition)
		return exec, false
	}
	if a.Cooldown > 0 {
		p.rules.SetCooldown(c, index, a.Cooldown, ctx.Tick)
	}

	if hook != nil && hook(StageApply, &Invocation{Carrier: c, Index: index, Affix: a, Context: ctx}) == Cancel {
		exec.Status = StatusCancelled
		metrics.AffixesExecuted.WithLabelValues(exec.Operation, string(StageApply), StatusCancelled).Inc()
		return exec, true
	}

	if err := a.Operation.Apply(ctx); err != nil {
		derr := &DispatchError{Stage: StageApply, Carrier: c.Name(), AffixID: a.ID, Err: err}
		p.logger.Warn("affix failed", "err", derr)
		exec.Status, exec.Error = StatusFailed, derr.Error()
		metrics.AffixesExecuted.WithLabelValues(exec.Operation, string(StageApply), StatusFailed).Inc()
		return exec, true
	}

	if _, err := p.rules.RecordTrigger(c, index); err != nil {
		p.logger.Warn("trigger count not recorded", "carrier", c.Name(), "affix", a.ID, "err", err)
	}
	exec.Status = StatusExecuted
	metrics.AffixesExecuted.WithLabelValues(exec.Operation, string(StageApply), StatusExecuted).Inc()
	return exec, true
}

// Detach undoes every affix on the site's carrier, regardless of triggers,
// cooldowns and conditions. A nil acting actor falls back to the carrier
// owner.
func (p *Pipeline) Detach(site Site, acting actor.Actor, hook Hook) *Result {
	start := time.Now()
	now := p.clock()
	res := &Result{Tick: now, Executions: []Execution{}}
	c := site.Carrier
	if c == nil {
		return res
	}
	if acting == nil {
		acting = p.lookup(c.Owner())
	}
	id := p.rules.Identity(c)

	for i, a := range p.rules.Rules(c) {
		if a == nil {
			res.skip(SkipUndecodable)
			continue
		}
		ctx := &operation.Context{
			Carrier:   c,
			CarrierID: id,
			Slot:      site.Slot,
			Actor:     acting,
			AffixID:   a.ID,
			Tick:      now,
			Exprs:     p.exprs,
			Actors:    p.actors,
			Scheduler: p.scheduler,
			Tracker:   p.tracker,
			Logger:    p.logger,
		}
		res.Executions = append(res.Executions, p.remove(site, i, a, ctx, hook))
	}
	res.DurationMs = time.Since(start).Milliseconds()
	return res
}

func (p *Pipeline) remove(site Site, index int, a *affix.Affix, ctx *operation.Context, hook Hook) (exec Execution) {
	c := site.Carrier
	exec = Execution{Carrier: c.Name(), Index: index, AffixID: a.ID, Operation: a.OperationType()}

	defer func() {
		if r := recover(); r != nil {
			err := &DispatchError{Stage: StageRemove, Carrier: c.Name(), AffixID: a.ID, Err: fmt.Errorf("panic: %v", r)}
			p.logger.Warn("affix remove panicked", "err", err)
			exec.Status, exec.Error = StatusFailed, err.Error()
			metrics.AffixesExecuted.WithLabelValues(exec.Operation, string(StageRemove), StatusFailed).Inc()
		}
	}()

	ctx.Vars = BuildEnv(EnvInput{
		Actor:     ctx.Actor,
		Carrier:   c,
		CarrierID: ctx.CarrierID,
		Slot:      site.Slot,
		Affix:     a,
		Tick:      ctx.Tick,
	})
	if hook != nil && hook(StageRemove, &Invocation{Carrier: c, Index: index, Affix: a, Context: ctx}) == Cancel {
		exec.Status = StatusCancelled
		metrics.AffixesExecuted.WithLabelValues(exec.Operation, string(StageRemove), StatusCancelled).Inc()
		return exec
	}
	if err := a.Operation.Remove(ctx); err != nil {
		derr := &DispatchError{Stage: StageRemove, Carrier: c.Name(), AffixID: a.ID, Err: err}
		p.logger.Warn("affix remove failed", "err", derr)
		exec.Status, exec.Error = StatusFailed, derr.Error()
		metrics.AffixesExecuted.WithLabelValues(exec.Operation, string(StageRemove), StatusFailed).Inc()
		return exec
	}
	exec.Status = StatusExecuted
	metrics.AffixesExecuted.WithLabelValues(exec.Operation, string(StageRemove), StatusExecuted).Inc()
	return exec
}

// actingActor is the event's actor, else the carrier owner.
func (p *Pipeline) actingActor(id string, c carrier.Carrier) actor.Actor {
	if a := p.lookup(id); a != nil {
		return a
	}
	return p.lookup(c.Owner())
}

func (p *Pipeline) lookup(id string) actor.Actor {
	if id == "" || p.actors == nil {
		return nil
	}
	a, ok := p.actors.Actor(id)
	if !ok {
		return nil
	}
	return a
}
