package operation

import (
	"log/slog"
	"strings"

	"github.com/gyaneshwarpardhi/affix/internal/actor"
	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/event"
	"github.com/gyaneshwarpardhi/affix/internal/expr"
	"github.com/gyaneshwarpardhi/affix/internal/schedule"
	"github.com/gyaneshwarpardhi/affix/internal/vars"
)

// Operation is the interface all affix effects must satisfy.
type Operation interface {
	// Type returns the string key this operation is registered under.
	Type() string
	// Apply runs the effect.
	Apply(ctx *Context) error
	// Remove undoes whatever Apply left behind. Stateless effects embed NoRemove.
	Remove(ctx *Context) error
	// Serialize returns the record Create would rebuild this operation from.
	// It always carries "type".
	Serialize() Record
}

// NoRemove gives an operation the default no-op Remove.
type NoRemove struct{}

func (NoRemove) Remove(*Context) error { return nil }

// Target selectors understood by ResolveTarget.
const (
	TargetSelf   = "self"
	TargetOwner  = "owner"
	TargetTarget = "target"
)

// Context is what an operation sees when it runs.
type Context struct {
	Carrier   carrier.Carrier
	CarrierID string // carrier identity
	Slot      string
	Actor     actor.Actor // acting actor
	Target    actor.Actor // other party, may be nil
	Vars      *vars.Env
	Event     *event.Event // originating event, nil on the removal path
	AffixID   string
	Tick      int64
	Exprs     *expr.Engine
	Actors    actor.Lookup
	Scheduler *schedule.Scheduler
	Tracker   *Tracker
	Logger    *slog.Logger
}

// ResolveTarget maps a selector to an actor. "self"/"owner" and "" are the
// acting actor, "target" is the event's other party, anything else is an
// actor id. When resolution fails or the resolved actor is dead, the acting
// actor is returned.
func (c *Context) ResolveTarget(selector string) actor.Actor {
	var resolved actor.Actor
	switch strings.TrimSpace(selector) {
	case "", TargetSelf, TargetOwner:
		return c.Actor
	case TargetTarget:
		resolved = c.Target
	default:
		if c.Actors != nil {
			if a, ok := c.Actors.Actor(selector); ok {
				resolved = a
			}
		}
	}
	if resolved == nil || !resolved.Alive() {
		return c.Actor
	}
	return resolved
}

// Eval evaluates an expression parameter against the context's variables.
func (c *Context) Eval(expression string) float64 {
	if c.Exprs == nil {
		c.Exprs = expr.NewEngine(c.logger())
	}
	if c.Vars == nil {
		c.Vars = vars.NewEnv()
	}
	return c.Exprs.Evaluate(expression, c.Vars)
}

// OwnerID identifies whose bookkeeping an affix writes to: the carrier
// owner, then the carrier identity for unowned carriers, then the acting
// actor when there is no carrier. Apply and Remove derive the same value
// whichever actor triggered the event.
func (c *Context) OwnerID() string {
	if c.Carrier != nil {
		if owner := c.Carrier.Owner(); owner != "" {
			return owner
		}
		if c.CarrierID != "" {
			return c.CarrierID
		}
	}
	if c.Actor != nil {
		return c.Actor.ID()
	}
	return ""
}

// Key derives the deterministic bookkeeping key for this owner and affix,
// qualified by operation-specific parts.
func (c *Context) Key(parts ...string) string {
	all := make([]string, 0, len(parts)+2)
	all = append(all, c.OwnerID(), c.AffixID)
	all = append(all, parts...)
	return strings.Join(all, "|")
}

// Find returns the actor with id, checking the context's own actors before
// the lookup.
func (c *Context) Find(id string) (actor.Actor, bool) {
	switch {
	case id == "":
		return nil, false
	case c.Actor != nil && c.Actor.ID() == id:
		return c.Actor, true
	case c.Target != nil && c.Target.ID() == id:
		return c.Target, true
	case c.Actors != nil:
		return c.Actors.Actor(id)
	}
	return nil, false
}

// Schedule runs fn after delay ticks. Without a scheduler the work is
// dropped and 0 is returned.
func (c *Context) Schedule(delay int64, fn func()) schedule.TaskID {
	if c.Scheduler == nil {
		c.Log().Warn("no scheduler, delayed work dropped", "delay", delay)
		return 0
	}
	return c.Scheduler.Schedule(delay, fn)
}

// Cancel stops a task returned by Schedule.
func (c *Context) Cancel(id schedule.TaskID) {
	if c.Scheduler != nil && id != 0 {
		c.Scheduler.Cancel(id)
	}
}

// Track returns the context's tracker, creating one if absent.
func (c *Context) Track() *Tracker {
	if c.Tracker == nil {
		c.Tracker = NewTracker()
	}
	return c.Tracker
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// Log returns the context logger annotated with the affix.
func (c *Context) Log() *slog.Logger {
	return c.logger().With("affix", c.AffixID, "owner", c.OwnerID())
}
