package dispatch

import (
	"sort"
	"strings"

	"github.com/gyaneshwarpardhi/affix/internal/actor"
	"github.com/gyaneshwarpardhi/affix/internal/affix"
	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/event"
	"github.com/gyaneshwarpardhi/affix/internal/vars"
)

// EnvInput is everything BuildEnv draws variables from. Only Carrier is
// required.
type EnvInput struct {
	Actor     actor.Actor
	Target    actor.Actor
	Event     *event.Event
	Carrier   carrier.Carrier
	CarrierID string
	Slot      string
	Affix     *affix.Affix
	Tick      int64
}

// BuildEnv assembles the variables a condition or operation expression sees:
//
//	self, owner   the acting actor
//	target        the event's other party
//	event         the event payload, plus event.id
//	trigger       fired triggers this affix listens to, comma-joined
//	slot, tick
//	carrier       name, type, owner, identity
//	affix         id, priority, cooldown, slot, trigger_count
//
// The event's own vars are merged last and may shadow any of these.
func BuildEnv(in EnvInput) *vars.Env {
	env := vars.NewEnv()
	if in.Actor != nil {
		env.Set("self", vars.ObjectOf(in.Actor))
		env.Set("owner", vars.ObjectOf(in.Actor))
	}
	if in.Target != nil {
		env.Set("target", vars.ObjectOf(in.Target))
	}
	env.Set("slot", vars.String(in.Slot))
	env.Set("tick", vars.Number(float64(in.Tick)))

	if in.Carrier != nil {
		env.Set("carrier", vars.MapOf(vars.Map{
			"name":     vars.String(in.Carrier.Name()),
			"type":     vars.String(in.Carrier.Type()),
			"owner":    vars.String(in.Carrier.Owner()),
			"identity": vars.String(in.CarrierID),
		}))
	}
	if a := in.Affix; a != nil {
		env.Set("affix", vars.MapOf(vars.Map{
			"id":            vars.String(a.ID),
			"priority":      vars.Number(float64(a.Priority)),
			"cooldown":      vars.Number(float64(a.Cooldown)),
			"slot":          vars.String(a.Slot),
			"trigger_count": vars.Number(float64(a.TriggerCount())),
		}))
	}

	if ev := in.Event; ev != nil {
		payload := vars.Map{"id": vars.String(ev.ID)}
		for k, v := range ev.Payload {
			payload[k] = vars.FromAny(v)
		}
		env.Set("event", vars.MapOf(payload))
		env.Set("trigger", vars.String(firedFor(ev, in.Affix)))
		env.Merge(ev.Vars)
	}
	return env
}

func firedFor(ev *event.Event, a *affix.Affix) string {
	fired := ev.TriggerSet()
	names := make([]string, 0, len(fired))
	if a == nil {
		for t := range fired {
			names = append(names, t)
		}
	} else {
		for t := range a.Triggers() {
			if _, ok := fired[t]; ok {
				names = append(names, t)
			}
		}
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
