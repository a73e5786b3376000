package points

import (
	"fmt"
	"math"

	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/vars"
)

// Type is the registry key of RewardPoints.
const Type = "reward_points"

// Attribute is the actor attribute the points ledger lives in.
const Attribute = "points"

// RewardPoints handles "reward_points" operations.
// It supports two param modes:
//   - points: <fixed number>
//   - points_formula: <expression evaluated against the dispatch variables>
type RewardPoints struct {
	operation.NoRemove
	Mode    string   // "award" | "deduct"
	Points  *float64 // fixed amount, nil when a formula is used
	Formula string
	Reason  string
	Target  string
}

// Factory decodes a reward_points record.
func Factory(rec operation.Record) (operation.Operation, error) {
	r := &RewardPoints{
		Mode:    rec.String("mode", "award"),
		Formula: rec.String("points_formula", ""),
		Reason:  rec.String("reason", ""),
		Target:  rec.String("target", ""),
	}
	if r.Mode != "award" && r.Mode != "deduct" {
		return nil, fmt.Errorf("reward_points: mode must be 'award' or 'deduct', got %q", r.Mode)
	}
	if v, ok := rec["points"]; ok {
		f, ok := vars.ToFloat64(v)
		if !ok {
			return nil, fmt.Errorf("reward_points: points must be a number, got %T", v)
		}
		r.Points = &f
	}
	if r.Points == nil && r.Formula == "" {
		return nil, fmt.Errorf("reward_points: one of 'points' or 'points_formula' is required")
	}
	return r, nil
}

func (r *RewardPoints) Type() string { return Type }

func (r *RewardPoints) Apply(ctx *operation.Context) error {
	tgt := ctx.ResolveTarget(r.Target)
	if tgt == nil {
		return fmt.Errorf("reward_points: no actor to reward")
	}

	pts := r.resolvePoints(ctx)
	pts = math.Round(pts*100) / 100 // round to 2 dp
	if r.Mode == "deduct" {
		pts = -pts
	}
	tgt.SetBase(Attribute, tgt.Base(Attribute)+pts)

	log := ctx.Log().With("actor", tgt.ID(), "points", pts)
	if r.Reason != "" {
		log = log.With("reason", r.Reason)
	}
	log.Debug("points rewarded")
	return nil
}

// resolvePoints returns the point value from either the fixed param or the
// formula. A failing formula evaluates to 0.
func (r *RewardPoints) resolvePoints(ctx *operation.Context) float64 {
	if r.Formula != "" {
		return ctx.Eval(r.Formula)
	}
	return *r.Points
}

func (r *RewardPoints) Serialize() operation.Record {
	rec := operation.Record{"type": Type, "mode": r.Mode}
	if r.Points != nil {
		rec["points"] = *r.Points
	}
	if r.Formula != "" {
		rec["points_formula"] = r.Formula
	}
	if r.Reason != "" {
		rec["reason"] = r.Reason
	}
	if r.Target != "" {
		rec["target"] = r.Target
	}
	return rec
}
