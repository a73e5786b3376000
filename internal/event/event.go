package event

import (
	"strings"
	"time"
)

// CarrierRef names a carrier implicated by an event and the slot it occupies.
type CarrierRef struct {
	Name string `json:"name"`
	Slot string `json:"slot,omitempty"` // "" = no slot context
}

// Event is the canonical trigger occurrence reported by an event source.
type Event struct {
	ID         string                 `json:"id"`
	Triggers   []string               `json:"triggers"` // "on_hit", "on_tick", etc.
	OccurredAt time.Time              `json:"occurred_at"`
	ReceivedAt time.Time              `json:"-"`
	ActorID    string                 `json:"actor_id"`            // acting actor; defaults to the carrier owner
	TargetID   string                 `json:"target_id,omitempty"` // other party, if any
	Carriers   []CarrierRef           `json:"carriers"`
	Payload    map[string]interface{} `json:"payload"` // arbitrary event data
	Vars       map[string]interface{} `json:"vars"`    // extra expression variables
	Meta       map[string]string      `json:"meta"`
}

// TriggerSet returns the trimmed, non-empty trigger names as a set.
func (e *Event) TriggerSet() map[string]struct{} {
	set := make(map[string]struct{}, len(e.Triggers))
	for _, t := range e.Triggers {
		for _, part := range strings.Split(t, ",") {
			if part = strings.TrimSpace(part); part != "" {
				set[part] = struct{}{}
			}
		}
	}
	return set
}
