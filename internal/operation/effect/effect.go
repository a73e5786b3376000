package effect

import (
	"fmt"

	"github.com/gyaneshwarpardhi/affix/internal/actor"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
)

const Type = "effect"

// Effect grants a named status effect. Timed effects decay with the world
// tick and are permanent without a positive duration. Either kind is taken
// away again by Remove.
type Effect struct {
	Name      string
	Duration  string // expression in ticks
	Amplifier string // expression
	Target    string
}

func Factory(rec operation.Record) (operation.Operation, error) {
	e := &Effect{
		Name:      rec.String("effect", ""),
		Duration:  rec.Expr("duration", ""),
		Amplifier: rec.Expr("amplifier", ""),
		Target:    rec.String("target", ""),
	}
	if e.Name == "" {
		return nil, fmt.Errorf("effect: effect name is required")
	}
	return e, nil
}

func (e *Effect) Type() string { return Type }

func (e *Effect) Apply(ctx *operation.Context) error {
	tgt := ctx.ResolveTarget(e.Target)
	if tgt == nil {
		return fmt.Errorf("effect: no target actor")
	}
	remaining := int64(-1)
	if e.Duration != "" {
		if d := int64(ctx.Eval(e.Duration)); d > 0 {
			remaining = d
		}
	}
	amp := 0
	if e.Amplifier != "" {
		amp = int(ctx.Eval(e.Amplifier))
	}
	tgt.AddEffect(actor.Effect{Name: e.Name, Amplifier: amp, Remaining: remaining})
	ctx.Track().Put(ctx.Key(Type, e.Name), operation.Applied{ActorID: tgt.ID()})
	return nil
}

func (e *Effect) Remove(ctx *operation.Context) error {
	prev, ok := ctx.Track().Take(ctx.Key(Type, e.Name))
	if !ok {
		return nil
	}
	if a, ok := ctx.Find(prev.ActorID); ok {
		a.RemoveEffect(e.Name)
	}
	return nil
}

func (e *Effect) Serialize() operation.Record {
	rec := operation.Record{"type": Type, "effect": e.Name}
	if e.Duration != "" {
		rec["duration"] = e.Duration
	}
	if e.Amplifier != "" {
		rec["amplifier"] = e.Amplifier
	}
	if e.Target != "" {
		rec["target"] = e.Target
	}
	return rec
}
