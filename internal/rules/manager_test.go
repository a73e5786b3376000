package rules_test

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/gyaneshwarpardhi/affix/internal/actor"
	"github.com/gyaneshwarpardhi/affix/internal/affix"
	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/operation/builtin"
	"github.com/gyaneshwarpardhi/affix/internal/rules"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newManager(t *testing.T) (*rules.Manager, *operation.Registry) {
	t.Helper()
	reg := operation.NewRegistry(quiet)
	builtin.Register(reg)
	m, err := rules.NewManager(reg, 16, quiet)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, reg
}

func mustAffix(t *testing.T, reg *operation.Registry, rec operation.Record) *affix.Affix {
	t.Helper()
	a, err := affix.Parse(rec, reg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return a
}

func healAffix(trigger string) operation.Record {
	return operation.Record{
		"trigger":   trigger,
		"operation": map[string]any{"type": "health", "amount": "1"},
	}
}

func TestIdentity_Stability(t *testing.T) {
	m, reg := newManager(t)
	a := carrier.NewItem("a", "sword", "p1", map[string]any{"quality": "rare", "level": 3})
	b := carrier.NewItem("b", "sword", "p2", map[string]any{"level": 3, "quality": "rare"})
	c := carrier.NewItem("c", "sword", "p1", map[string]any{"quality": "common", "level": 3})
	d := carrier.NewItem("d", "shield", "p1", map[string]any{"quality": "rare", "level": 3})

	if m.Identity(a) != m.Identity(b) {
		t.Errorf("identical rule-less carriers differ: %q vs %q", m.Identity(a), m.Identity(b))
	}
	if m.Identity(a) == m.Identity(c) {
		t.Error("different ancillary state shares an identity")
	}
	if m.Identity(a) == m.Identity(d) {
		t.Error("different types share an identity")
	}
	if !strings.HasPrefix(m.Identity(a), "sword:") {
		t.Errorf("derived identity %q lacks type prefix", m.Identity(a))
	}

	if _, err := m.AddRule(a, mustAffix(t, reg, healAffix("on_hit"))); err != nil {
		t.Fatal(err)
	}
	fixed := m.Identity(a)
	if fixed == m.Identity(b) {
		t.Fatal("identity did not change after the first rule")
	}
	if _, err := m.AddRule(a, mustAffix(t, reg, healAffix("on_kill"))); err != nil {
		t.Fatal(err)
	}
	a.SetAttachment("quality", "legendary")
	if err := m.RemoveRule(a, 0, nil); err != nil {
		t.Fatal(err)
	}
	m.ClearRules(a)
	if got := m.Identity(a); got != fixed {
		t.Errorf("identity changed across mutations: %q -> %q", fixed, got)
	}

	// A second carrier gets its own uid.
	if _, err := m.AddRule(b, mustAffix(t, reg, healAffix("on_hit"))); err != nil {
		t.Fatal(err)
	}
	if m.Identity(b) == fixed {
		t.Error("two carriers share a generated identity")
	}
}

func TestIdentity_SeededCarrierGetsUID(t *testing.T) {
	m, _ := newManager(t)
	c := carrier.NewItem("seeded", "ring", "p1", map[string]any{
		rules.AttachmentAffixes: []any{map[string]any(healAffix("on_hit"))},
	})
	id := m.Identity(c)
	if strings.HasPrefix(id, "ring:") {
		t.Fatalf("carrier with rules got derived identity %q", id)
	}
	if m.Identity(c) != id {
		t.Error("identity not memoized")
	}
}

func TestRules_CacheInvalidation(t *testing.T) {
	m, reg := newManager(t)
	c := carrier.NewItem("c", "amulet", "p1", nil)

	if got := m.Rules(c); len(got) != 0 {
		t.Fatalf("empty carrier has %d rules", len(got))
	}

	m.AddRule(c, mustAffix(t, reg, healAffix("on_hit")))
	if got := m.Rules(c); len(got) != 1 || got[0].Trigger != "on_hit" {
		t.Fatalf("after add: %v", got)
	}
	first := m.Rules(c)
	if again := m.Rules(c); again[0] != first[0] {
		t.Error("unchanged carrier was not served from cache")
	}

	m.AddRule(c, mustAffix(t, reg, healAffix("on_kill")))
	if got := m.Rules(c); len(got) != 2 || got[1].Trigger != "on_kill" {
		t.Fatalf("after second add: %v", got)
	}

	if err := m.RemoveRule(c, 0, nil); err != nil {
		t.Fatal(err)
	}
	if got := m.Rules(c); len(got) != 1 || got[0].Trigger != "on_kill" {
		t.Fatalf("after remove: %v", got)
	}

	m.ClearRules(c)
	if got := m.Rules(c); len(got) != 0 {
		t.Fatalf("after clear: %d rules", len(got))
	}
	if _, ok := c.Attachment(rules.AttachmentAffixes); ok {
		t.Error("clear left the affix attachment behind")
	}
}

func TestRules_OutOfBandEdits(t *testing.T) {
	m, reg := newManager(t)
	c := carrier.NewItem("c", "amulet", "p1", nil)
	m.AddRule(c, mustAffix(t, reg, healAffix("on_hit")))
	m.Rules(c)

	// Changing the trigger is detected.
	c.SetAttachment(rules.AttachmentAffixes, []any{map[string]any(healAffix("on_block"))})
	if got := m.Rules(c); got[0].Trigger != "on_block" {
		t.Errorf("trigger edit not picked up: %q", got[0].Trigger)
	}

	// Changing only the condition is not: the cache check compares trigger
	// and operation type.
	rec := healAffix("on_block")
	rec["condition"] = "false"
	c.SetAttachment(rules.AttachmentAffixes, []any{map[string]any(rec)})
	if got := m.Rules(c); got[0].Condition != "" {
		t.Errorf("condition-only edit unexpectedly invalidated the cache: %q", got[0].Condition)
	}
}

func TestRules_AlignedWithStorage(t *testing.T) {
	m, _ := newManager(t)
	c := carrier.NewItem("c", "amulet", "p1", map[string]any{
		rules.AttachmentAffixes: []any{
			map[string]any(healAffix("on_hit")),
			map[string]any{"trigger": "on_hit", "operation": map[string]any{"type": "teleport"}},
			"garbage",
			map[string]any(healAffix("on_kill")),
		},
	})
	got := m.Rules(c)
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	if got[0] == nil || got[1] != nil || got[2] != nil || got[3] == nil {
		t.Errorf("alignment wrong: %v", got)
	}
}

func TestRemoveRule_RunsRemoveAndShiftsCooldowns(t *testing.T) {
	m, reg := newManager(t)
	hero := actor.NewEntity("hero", "player", 100)
	hero.SetBase("strength", 10)
	c := carrier.NewItem("c", "gloves", "hero", nil)

	m.AddRule(c, mustAffix(t, reg, healAffix("on_hit")))
	m.AddRule(c, mustAffix(t, reg, operation.Record{
		"trigger":   "on_equip",
		"operation": map[string]any{"type": "attribute_modifier", "attribute": "strength", "amount": "5"},
	}))
	m.AddRule(c, mustAffix(t, reg, healAffix("on_kill")))

	// Apply the modifier the way dispatch would.
	tracker := operation.NewTracker()
	mod := m.Rules(c)[1]
	if err := mod.Operation.Apply(&operation.Context{Carrier: c, Actor: hero, AffixID: mod.ID, Tracker: tracker, Logger: quiet}); err != nil {
		t.Fatal(err)
	}
	if hero.Attribute("strength") != 15 {
		t.Fatalf("strength = %v", hero.Attribute("strength"))
	}

	m.SetCooldown(c, 0, 10, 0)
	m.SetCooldown(c, 2, 50, 0)

	if err := m.RemoveRule(c, 1, &operation.Context{Actor: hero, Tracker: tracker, Logger: quiet}); err != nil {
		t.Fatal(err)
	}
	if hero.Attribute("strength") != 10 {
		t.Errorf("modifier survived removal: strength = %v", hero.Attribute("strength"))
	}
	if at, ok := m.ReadyAt(c, 1); !ok || at != 50 {
		t.Errorf("cooldown of the last rule did not follow it: %d, %v", at, ok)
	}
	if at, ok := m.ReadyAt(c, 0); !ok || at != 10 {
		t.Errorf("cooldown of the first rule moved: %d, %v", at, ok)
	}

	if err := m.RemoveRule(c, 5, nil); !errors.Is(err, rules.ErrIndexOutOfRange) {
		t.Errorf("err = %v, want ErrIndexOutOfRange", err)
	}
}

func TestCooldown(t *testing.T) {
	m, reg := newManager(t)
	c := carrier.NewItem("c", "boots", "p1", nil)
	m.AddRule(c, mustAffix(t, reg, healAffix("on_step")))

	if !m.IsCooldownOver(c, 0, 0) {
		t.Fatal("fresh rule is on cooldown")
	}
	m.SetCooldown(c, 0, 0, 0)
	m.SetCooldown(c, 0, -3, 0)
	if _, ok := m.ReadyAt(c, 0); ok {
		t.Fatal("non-positive cooldown was recorded")
	}

	m.SetCooldown(c, 0, 100, 0)
	cases := []struct {
		now  int64
		over bool
	}{
		{1, false},
		{50, false},
		{99, false},
		{100, true},
		{101, true},
	}
	for _, tc := range cases {
		if got := m.IsCooldownOver(c, 0, tc.now); got != tc.over {
			t.Errorf("IsCooldownOver(now=%d) = %v, want %v", tc.now, got, tc.over)
		}
	}
}

func TestRecordTrigger(t *testing.T) {
	m, reg := newManager(t)
	c := carrier.NewItem("c", "ring", "p1", nil)
	m.AddRule(c, mustAffix(t, reg, healAffix("on_hit")))

	for i := 0; i < 3; i++ {
		if _, err := m.RecordTrigger(c, 0); err != nil {
			t.Fatal(err)
		}
	}
	if got := m.Rules(c)[0].TriggerCount(); got != 3 {
		t.Errorf("cached count = %d, want 3", got)
	}
	recs := rules.Records(c)
	if n := recs[0].Int64(affix.KeyTriggerCount, -1); n != 3 {
		t.Errorf("persisted count = %d, want 3", n)
	}

	// A fresh manager decoding the stored state sees the same count.
	fresh, _ := newManager(t)
	if got := fresh.Rules(c)[0].TriggerCount(); got != 3 {
		t.Errorf("decoded count = %d, want 3", got)
	}
	if _, err := m.RecordTrigger(c, 9); !errors.Is(err, rules.ErrIndexOutOfRange) {
		t.Errorf("err = %v, want ErrIndexOutOfRange", err)
	}
}
