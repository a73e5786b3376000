// Package attribute implements the attribute_modifier operation: a stacked
// add or multiply modifier on an actor attribute, optionally timed.
package attribute

import (
	"fmt"

	"github.com/gyaneshwarpardhi/affix/internal/actor"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/schedule"
)

const Type = "attribute_modifier"

type Modifier struct {
	Attribute string
	Amount    string // expression
	Mode      actor.Mode
	Duration  string // expression in ticks; "" = until removed
	Target    string
}

func Factory(rec operation.Record) (operation.Operation, error) {
	m := &Modifier{
		Attribute: rec.String("attribute", ""),
		Amount:    rec.Expr("amount", ""),
		Mode:      actor.Mode(rec.String("mode", string(actor.ModeAdd))),
		Duration:  rec.Expr("duration", ""),
		Target:    rec.String("target", ""),
	}
	if m.Attribute == "" {
		return nil, fmt.Errorf("attribute_modifier: attribute is required")
	}
	if m.Amount == "" {
		return nil, fmt.Errorf("attribute_modifier: amount is required")
	}
	if m.Mode != actor.ModeAdd && m.Mode != actor.ModeMultiply {
		return nil, fmt.Errorf("attribute_modifier: mode must be 'add' or 'multiply', got %q", m.Mode)
	}
	return m, nil
}

func (m *Modifier) Type() string { return Type }

func (m *Modifier) key(ctx *operation.Context) string {
	return ctx.Key(Type, m.Attribute, string(m.Mode))
}

// Apply installs the modifier. Re-applying refreshes the amount and the
// expiry instead of stacking a second copy.
func (m *Modifier) Apply(ctx *operation.Context) error {
	tgt := ctx.ResolveTarget(m.Target)
	if tgt == nil {
		return fmt.Errorf("attribute_modifier: no target actor")
	}
	key := m.key(ctx)
	tr := ctx.Track()
	m.undo(ctx, key)

	tgt.AddModifier(key, actor.Modifier{Attribute: m.Attribute, Amount: ctx.Eval(m.Amount), Mode: m.Mode})

	var task schedule.TaskID
	if m.Duration != "" {
		if ticks := int64(ctx.Eval(m.Duration)); ticks > 0 {
			task = ctx.Schedule(ticks, func() {
				if _, ok := tr.TakeIf(key, task); ok {
					tgt.RemoveModifier(key)
				}
			})
		}
	}
	tr.Put(key, operation.Applied{ActorID: tgt.ID(), Task: task})
	return nil
}

func (m *Modifier) Remove(ctx *operation.Context) error {
	m.undo(ctx, m.key(ctx))
	return nil
}

func (m *Modifier) undo(ctx *operation.Context, key string) {
	prev, ok := ctx.Track().Take(key)
	if !ok {
		return
	}
	ctx.Cancel(prev.Task)
	if a, ok := ctx.Find(prev.ActorID); ok {
		a.RemoveModifier(key)
	}
}

func (m *Modifier) Serialize() operation.Record {
	rec := operation.Record{
		"type":      Type,
		"attribute": m.Attribute,
		"amount":    m.Amount,
		"mode":      string(m.Mode),
	}
	if m.Duration != "" {
		rec["duration"] = m.Duration
	}
	if m.Target != "" {
		rec["target"] = m.Target
	}
	return rec
}
