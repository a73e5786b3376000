// Package affix defines the rule unit attached to carriers and its record
// codec.
//
// An affix binds a set of trigger names, an optional condition expression,
// an optional cooldown and slot restriction to a single operation. Affixes
// are immutable once decoded except for their trigger count, which the rule
// manager bumps and writes back to the owning carrier.
package affix

import (
	"math"
	"strings"
	"sync/atomic"

	"github.com/gyaneshwarpardhi/affix/internal/operation"
)

// Affix is one decoded rule.
type Affix struct {
	ID        string
	Trigger   string // comma-separated trigger names
	Condition string // expression; "" = always true
	Operation operation.Operation
	Cooldown  int64 // ticks; 0 = none
	Slot      string
	Priority  int64

	triggerCount atomic.Int32
}

// TriggerCount returns how many times the affix executed successfully.
func (a *Affix) TriggerCount() int32 { return a.triggerCount.Load() }

func (a *Affix) SetTriggerCount(n int32) { a.triggerCount.Store(n) }

// IncTriggerCount bumps the counter and returns the new value. The count
// saturates at math.MaxInt32.
func (a *Affix) IncTriggerCount() int32 {
	for {
		n := a.triggerCount.Load()
		if n == math.MaxInt32 {
			return n
		}
		if a.triggerCount.CompareAndSwap(n, n+1) {
			return n + 1
		}
	}
}

// Triggers returns the affix's trigger names as a set. Names are split on
// commas and trimmed; empty names are dropped.
func (a *Affix) Triggers() map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(a.Trigger, ",") {
		if part = strings.TrimSpace(part); part != "" {
			set[part] = struct{}{}
		}
	}
	return set
}

// Matches reports whether any of the affix's triggers is in fired.
func (a *Affix) Matches(fired map[string]struct{}) bool {
	for t := range a.Triggers() {
		if _, ok := fired[t]; ok {
			return true
		}
	}
	return false
}

// AllowsSlot reports whether the affix may run for an event in slot.
func (a *Affix) AllowsSlot(slot string) bool {
	return a.Slot == "" || a.Slot == slot
}

// OperationType is the type of the affix's operation, "" if it has none.
func (a *Affix) OperationType() string {
	if a.Operation == nil {
		return ""
	}
	return a.Operation.Type()
}
