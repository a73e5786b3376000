package health

import (
	"fmt"

	"github.com/gyaneshwarpardhi/affix/internal/operation"
)

const Type = "health"

// Change heals (positive amount) or damages (negative amount) an actor.
type Change struct {
	operation.NoRemove
	Amount string // expression
	Target string
}

func Factory(rec operation.Record) (operation.Operation, error) {
	c := &Change{Amount: rec.Expr("amount", ""), Target: rec.String("target", "")}
	if c.Amount == "" {
		return nil, fmt.Errorf("health: amount is required")
	}
	return c, nil
}

func (c *Change) Type() string { return Type }

func (c *Change) Apply(ctx *operation.Context) error {
	tgt := ctx.ResolveTarget(c.Target)
	if tgt == nil {
		return fmt.Errorf("health: no target actor")
	}
	tgt.AdjustHealth(ctx.Eval(c.Amount))
	return nil
}

func (c *Change) Serialize() operation.Record {
	rec := operation.Record{"type": Type, "amount": c.Amount}
	if c.Target != "" {
		rec["target"] = c.Target
	}
	return rec
}
