// Package actor models the entities affix operations act upon.
//
// The rule engine only needs a narrow view of game objects: identity,
// liveness, attributes with stacked modifiers, timed status effects and a
// health pool. Entity is an in-memory implementation used by the server and
// tests; anything satisfying Actor can be plugged in instead.
package actor

import (
	"math"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/affix/internal/vars"
)

// Mode is how a modifier combines with an attribute's base value.
type Mode string

const (
	ModeAdd      Mode = "add"
	ModeMultiply Mode = "multiply"
)

// Modifier is a single stacked change to an attribute.
type Modifier struct {
	Attribute string  `json:"attribute"`
	Amount    float64 `json:"amount"`
	Mode      Mode    `json:"mode"`
}

// Effect is an active status effect. Remaining < 0 means permanent.
type Effect struct {
	Name      string `json:"name"`
	Amplifier int    `json:"amplifier"`
	Remaining int64  `json:"remaining"`
}

// Actor is what operations read and mutate.
type Actor interface {
	vars.Object
	ID() string
	Type() string
	Alive() bool
	Attribute(name string) float64
	Base(name string) float64
	SetBase(name string, v float64)
	AddModifier(key string, m Modifier)
	RemoveModifier(key string) bool
	AdjustHealth(delta float64) float64
	AddEffect(e Effect)
	RemoveEffect(name string) bool
	Effect(name string) (Effect, bool)
}

// Lookup resolves literal actor identifiers.
type Lookup interface {
	Actor(id string) (Actor, bool)
}

// Entity is a thread-safe in-memory Actor.
type Entity struct {
	mu        sync.RWMutex
	id        string
	typ       string
	health    float64
	maxHealth float64
	base      map[string]float64
	modifiers map[string]Modifier
	effects   map[string]Effect
}

// NewEntity creates a live entity with full health.
func NewEntity(id, typ string, maxHealth float64) *Entity {
	return &Entity{
		id:        id,
		typ:       typ,
		health:    maxHealth,
		maxHealth: maxHealth,
		base:      make(map[string]float64),
		modifiers: make(map[string]Modifier),
		effects:   make(map[string]Effect),
	}
}

func (e *Entity) ID() string   { return e.id }
func (e *Entity) Type() string { return e.typ }

func (e *Entity) Alive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.health > 0
}

func (e *Entity) Health() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.health
}

// Attribute returns base plus additive modifiers, scaled by the sum of
// multiplicative modifiers.
func (e *Entity) Attribute(name string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attributeLocked(name)
}

func (e *Entity) attributeLocked(name string) float64 {
	add, mul := 0.0, 0.0
	for _, m := range e.modifiers {
		if m.Attribute != name {
			continue
		}
		if m.Mode == ModeMultiply {
			mul += m.Amount
		} else {
			add += m.Amount
		}
	}
	return (e.base[name] + add) * (1 + mul)
}

func (e *Entity) Base(name string) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.base[name]
}

func (e *Entity) SetBase(name string, v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.base[name] = v
}

// AddModifier installs m under key, replacing any modifier with that key.
func (e *Entity) AddModifier(key string, m Modifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modifiers[key] = m
}

func (e *Entity) RemoveModifier(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.modifiers[key]; !ok {
		return false
	}
	delete(e.modifiers, key)
	return true
}

// Modifiers returns a copy of the installed modifiers.
func (e *Entity) Modifiers() map[string]Modifier {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Modifier, len(e.modifiers))
	for k, m := range e.modifiers {
		out[k] = m
	}
	return out
}

// AdjustHealth adds delta clamped to [0, max] and returns the new health.
// Dead entities stay dead.
func (e *Entity) AdjustHealth(delta float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.health <= 0 {
		return 0
	}
	e.health = math.Max(0, math.Min(e.maxHealth, e.health+delta))
	return e.health
}

// AddEffect installs or refreshes an effect. A stronger or longer effect
// of the same name replaces the current one.
func (e *Entity) AddEffect(eff Effect) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.effects[eff.Name]; ok {
		if cur.Amplifier > eff.Amplifier {
			return
		}
		if cur.Amplifier == eff.Amplifier && (cur.Remaining < 0 || (eff.Remaining >= 0 && cur.Remaining > eff.Remaining)) {
			return
		}
	}
	e.effects[eff.Name] = eff
}

func (e *Entity) RemoveEffect(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.effects[name]; !ok {
		return false
	}
	delete(e.effects, name)
	return true
}

func (e *Entity) Effect(name string) (Effect, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	eff, ok := e.effects[name]
	return eff, ok
}

// Tick counts down timed effects and drops the expired ones.
func (e *Entity) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, eff := range e.effects {
		if eff.Remaining < 0 {
			continue
		}
		eff.Remaining--
		if eff.Remaining <= 0 {
			delete(e.effects, name)
			continue
		}
		e.effects[name] = eff
	}
}

// Property implements vars.Object. The attribute, base and effect maps are
// built only when an expression descends into them.
func (e *Entity) Property(key string) (vars.Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch key {
	case "id":
		return vars.String(e.id), true
	case "type":
		return vars.String(e.typ), true
	case "health":
		return vars.Number(e.health), true
	case "max_health":
		return vars.Number(e.maxHealth), true
	case "alive":
		return vars.Bool(e.health > 0), true
	case "points":
		return vars.Number(e.attributeLocked("points")), true
	case "attribute":
		return vars.MapOf(e.attributeMapLocked()), true
	case "base":
		m := make(vars.Map, len(e.base))
		for k, v := range e.base {
			m[k] = vars.Number(v)
		}
		return vars.MapOf(m), true
	case "effect":
		m := make(vars.Map, len(e.effects))
		for name, eff := range e.effects {
			m[name] = vars.MapOf(vars.Map{
				"amplifier": vars.Number(float64(eff.Amplifier)),
				"remaining": vars.Number(float64(eff.Remaining)),
			})
		}
		return vars.MapOf(m), true
	}
	return vars.Value{}, false
}

func (e *Entity) attributeMapLocked() vars.Map {
	names := make(map[string]struct{}, len(e.base))
	for k := range e.base {
		names[k] = struct{}{}
	}
	for _, m := range e.modifiers {
		names[m.Attribute] = struct{}{}
	}
	out := make(vars.Map, len(names))
	for k := range names {
		out[k] = vars.Number(e.attributeLocked(k))
	}
	return out
}

// Snapshot is a plain-data view of an entity for the API.
type Snapshot struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Health     float64            `json:"health"`
	MaxHealth  float64            `json:"max_health"`
	Attributes map[string]float64 `json:"attributes"`
	Effects    []Effect           `json:"effects"`
}

func (e *Entity) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := Snapshot{
		ID:         e.id,
		Type:       e.typ,
		Health:     e.health,
		MaxHealth:  e.maxHealth,
		Attributes: make(map[string]float64),
		Effects:    make([]Effect, 0, len(e.effects)),
	}
	for k, v := range e.attributeMapLocked() {
		s.Attributes[k] = v.Num()
	}
	for _, eff := range e.effects {
		s.Effects = append(s.Effects, eff)
	}
	sort.Slice(s.Effects, func(i, j int) bool { return s.Effects[i].Name < s.Effects[j].Name })
	return s
}

// Restore rebuilds an entity from a snapshot. Attribute values become base
// values; modifiers are not part of a snapshot.
func Restore(s Snapshot) *Entity {
	e := NewEntity(s.ID, s.Type, s.MaxHealth)
	e.health = s.Health
	for k, v := range s.Attributes {
		e.base[k] = v
	}
	for _, eff := range s.Effects {
		e.effects[eff.Name] = eff
	}
	return e
}
