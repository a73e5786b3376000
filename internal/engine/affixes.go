package engine

import (
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/affix/internal/actor"
	"github.com/gyaneshwarpardhi/affix/internal/affix"
	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/config"
	"github.com/gyaneshwarpardhi/affix/internal/dispatch"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/rules"
	"github.com/gyaneshwarpardhi/affix/internal/vars"
)

// AffixView is one stored rule as reported by the API. Valid is false for
// records that no longer decode; they stay in place and never run.
type AffixView struct {
	Index   int              `json:"index"`
	Record  operation.Record `json:"record"`
	Valid   bool             `json:"valid"`
	ReadyAt *int64           `json:"ready_at,omitempty"`
}

// CarrierView is a carrier with its identity and decoded rules.
type CarrierView struct {
	carrier.Record
	Identity string      `json:"identity"`
	Affixes  []AffixView `json:"affixes"`
}

func (e *Engine) find(name string) (*carrier.Item, error) {
	it, ok := e.carriers.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", carrier.ErrNotFound, name)
	}
	return it, nil
}

func (e *Engine) parseAffix(rec operation.Record) (*affix.Affix, error) {
	if err := affix.Validate(rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAffix, err)
	}
	a, err := affix.Parse(rec, e.ops)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAffix, err)
	}
	return a, nil
}

// CreateCarrier registers a carrier and attaches the given affixes. All
// records are checked before anything is created.
func (e *Engine) CreateCarrier(name, typ, owner string, attachments map[string]any, affixes []operation.Record) (*CarrierView, error) {
	parsed := make([]*affix.Affix, 0, len(affixes))
	for i, rec := range affixes {
		a, err := e.parseAffix(rec)
		if err != nil {
			return nil, fmt.Errorf("affixes[%d]: %w", i, err)
		}
		parsed = append(parsed, a)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := e.carriers.Create(name, typ, owner, attachments)
	if err != nil {
		return nil, err
	}
	for _, a := range parsed {
		if _, err := e.rules.AddRule(it, a); err != nil {
			return nil, err
		}
	}
	e.logger.Info("carrier created", "carrier", name, "type", typ, "owner", owner, "affixes", len(parsed))
	return e.view(it), nil
}

// Carrier returns the named carrier with its rules.
func (e *Engine) Carrier(name string) (*CarrierView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := e.find(name)
	if err != nil {
		return nil, err
	}
	return e.view(it), nil
}

// Affixes lists the rules stored on the named carrier.
func (e *Engine) Affixes(name string) ([]AffixView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := e.find(name)
	if err != nil {
		return nil, err
	}
	return e.affixViews(it), nil
}

func (e *Engine) view(it *carrier.Item) *CarrierView {
	id := e.rules.Identity(it)
	return &CarrierView{Record: it.Snapshot(), Identity: id, Affixes: e.affixViews(it)}
}

func (e *Engine) affixViews(it *carrier.Item) []AffixView {
	recs := rules.Records(it)
	decoded := e.rules.Rules(it)
	out := make([]AffixView, 0, len(recs))
	for i, rec := range recs {
		v := AffixView{Index: i, Record: rec, Valid: i < len(decoded) && decoded[i] != nil}
		if at, ok := e.rules.ReadyAt(it, i); ok {
			v.ReadyAt = &at
		}
		out = append(out, v)
	}
	return out
}

// AddAffix validates rec and appends it to the named carrier.
func (e *Engine) AddAffix(name string, rec operation.Record) (int, error) {
	a, err := e.parseAffix(rec)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := e.find(name)
	if err != nil {
		return 0, err
	}
	return e.rules.AddRule(it, a)
}

// RemoveAffix undoes the rule at index for actorID (the carrier owner when
// empty) and deletes it.
func (e *Engine) RemoveAffix(name string, index int, actorID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := e.find(name)
	if err != nil {
		return err
	}
	return e.rules.RemoveRule(it, index, e.removalContext(it, actorID))
}

// ClearAffixes deletes every rule on the named carrier without undoing them.
func (e *Engine) ClearAffixes(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := e.find(name)
	if err != nil {
		return err
	}
	e.rules.ClearRules(it)
	return nil
}

// Detach undoes every rule of the named carrier, as when it is unequipped
// from slot.
func (e *Engine) Detach(name, slot, actorID string) (*dispatch.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	it, err := e.find(name)
	if err != nil {
		return nil, err
	}
	return e.pipeline.Detach(dispatch.Site{Carrier: it, Slot: slot}, e.lookup(actorID), e.hook), nil
}

func (e *Engine) removalContext(it *carrier.Item, actorID string) *operation.Context {
	acting := e.lookup(actorID)
	if acting == nil {
		acting = e.lookup(it.Owner())
	}
	id := e.rules.Identity(it)
	now := e.tick.Load()
	return &operation.Context{
		Carrier:   it,
		CarrierID: id,
		Actor:     acting,
		Vars:      dispatch.BuildEnv(dispatch.EnvInput{Actor: acting, Carrier: it, CarrierID: id, Tick: now}),
		Tick:      now,
		Exprs:     e.exprs,
		Actors:    e.world,
		Scheduler: e.scheduler,
		Tracker:   e.tracker,
		Logger:    e.logger,
	}
}

// ── Expressions ─────────────────────────────────────────────────────────────

// Evaluate runs an expression against values, with self bound to actorID
// when it names a known actor.
func (e *Engine) Evaluate(expression, actorID string, values map[string]any) (vars.Value, error) {
	env := vars.NewEnv()
	if a := e.lookup(actorID); a != nil {
		env.Set("self", vars.ObjectOf(a))
		env.Set("owner", vars.ObjectOf(a))
	}
	env.Merge(values)
	return e.exprs.EvaluateValue(expression, env)
}

// ClearExpressionCache drops every compiled expression and returns how many
// there were.
func (e *Engine) ClearExpressionCache() int { return e.exprs.ClearCache() }

// ── Actors and config ───────────────────────────────────────────────────────

// Actor returns a snapshot of the actor with id.
func (e *Engine) Actor(id string) (actor.Snapshot, bool) {
	ent, ok := e.world.Entity(id)
	if !ok {
		return actor.Snapshot{}, false
	}
	return ent.Snapshot(), true
}

func newEntity(def config.ActorDef) *actor.Entity {
	ent := actor.NewEntity(def.ID, def.Type, def.MaxHealth)
	for k, v := range def.Attributes {
		ent.SetBase(k, v)
	}
	return ent
}

// ApplyConfig seeds the actors and carriers of cfg that do not exist yet and
// clears the expression cache. Existing actors and carriers are left alone.
func (e *Engine) ApplyConfig(cfg *config.Config) error {
	var errs []error
	actors, carriers := 0, 0
	e.mu.Lock()
	for _, def := range cfg.Actors {
		if _, ok := e.world.Entity(def.ID); ok {
			continue
		}
		e.world.Add(newEntity(def))
		actors++
	}
	e.mu.Unlock()
	for _, def := range cfg.Carriers {
		e.mu.Lock()
		_, exists := e.carriers.Get(def.Name)
		e.mu.Unlock()
		if exists {
			continue
		}
		recs := make([]operation.Record, len(def.Affixes))
		for i, m := range def.Affixes {
			recs[i] = operation.Record(m)
		}
		_, err := e.CreateCarrier(def.Name, def.Type, def.Owner, def.Attachments, recs)
		if errors.Is(err, carrier.ErrExists) {
			// created since the check
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("carrier %s: %w", def.Name, err))
			continue
		}
		carriers++
	}
	cleared := e.exprs.ClearCache()
	e.logger.Info("config applied", "version", cfg.Version, "actors_seeded", actors,
		"carriers_seeded", carriers, "expressions_cleared", cleared)
	return errors.Join(errs...)
}
