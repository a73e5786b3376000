package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/config"
	"github.com/gyaneshwarpardhi/affix/internal/dispatch"
	"github.com/gyaneshwarpardhi/affix/internal/engine"
	"github.com/gyaneshwarpardhi/affix/internal/event"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/rules"
	"github.com/gyaneshwarpardhi/affix/internal/storage/memstore"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func seed() *config.Config {
	cfg := &config.Config{
		Version: "v1",
		Actors: []config.ActorDef{
			{ID: "hero", Type: "player", Attributes: map[string]float64{"strength": 10}},
			{ID: "foe", Type: "monster"},
		},
		Carriers: []config.CarrierDef{{
			Name:  "sword",
			Type:  "weapon",
			Owner: "hero",
			Affixes: []map[string]interface{}{{
				"trigger":   "on_hit",
				"condition": "target.health > 0",
				"operation": map[string]interface{}{"type": "health", "amount": "-5", "target": "target"},
			}},
		}},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func newEngine(t *testing.T, conf config.EngineConf, opts ...func(*engine.Options)) *engine.Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o := engine.Options{Conf: conf, Logger: quiet}
	for _, fn := range opts {
		fn(&o)
	}
	e, err := engine.New(ctx, o)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.ApplyConfig(seed()); err != nil {
		t.Fatal(err)
	}
	return e
}

func health(t *testing.T, e *engine.Engine, id string) float64 {
	t.Helper()
	s, ok := e.Actor(id)
	if !ok {
		t.Fatalf("actor %s missing", id)
	}
	return s.Health
}

func hit() *event.Event {
	return &event.Event{Triggers: []string{"on_hit"}, ActorID: "hero", TargetID: "foe"}
}

func TestProcessSync_OwnedCarriers(t *testing.T) {
	e := newEngine(t, config.EngineConf{})
	ev := hit()
	res, err := e.ProcessSync(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID == "" || ev.ReceivedAt.IsZero() {
		t.Error("event id and receive time not assigned")
	}
	if len(res.Executions) != 1 || res.Executions[0].Status != dispatch.StatusExecuted {
		t.Fatalf("executions = %+v", res.Executions)
	}
	if got := health(t, e, "foe"); got != 95 {
		t.Errorf("foe health = %v, want 95", got)
	}

	// Named carriers take precedence over ownership; unknown names are skipped.
	ev = hit()
	ev.Carriers = []event.CarrierRef{{Name: "ghost"}}
	res, err = e.ProcessSync(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Executions) != 0 {
		t.Errorf("unknown carrier dispatched: %+v", res.Executions)
	}
}

func TestProcessSync_RejectsEventWithoutTriggers(t *testing.T) {
	e := newEngine(t, config.EngineConf{})
	_, err := e.ProcessSync(context.Background(), &event.Event{Triggers: []string{" , "}})
	if !errors.Is(err, engine.ErrNoTriggers) {
		t.Errorf("err = %v, want ErrNoTriggers", err)
	}
	if e.ProcessAsync(&event.Event{}) {
		t.Error("ProcessAsync accepted an event without triggers")
	}
}

func TestProcessAsync_QueueFull(t *testing.T) {
	e := newEngine(t, config.EngineConf{QueueDepth: 1})
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	e.SetHook(func(dispatch.Stage, *dispatch.Invocation) dispatch.Outcome {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return dispatch.Proceed
	})

	if !e.ProcessAsync(hit()) {
		t.Fatal("first event rejected")
	}
	<-started
	if !e.ProcessAsync(hit()) {
		t.Fatal("second event should fill the queue")
	}
	if e.ProcessAsync(hit()) {
		t.Error("third event accepted by a full queue")
	}
	if _, err := e.ProcessSync(context.Background(), hit()); !errors.Is(err, engine.ErrQueueFull) {
		t.Errorf("ProcessSync err = %v, want ErrQueueFull", err)
	}
	if u := e.QueueUtilization(); u != 1 {
		t.Errorf("utilization = %v, want 1", u)
	}
	close(release)
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := health(t, e, "foe"); got != 90 {
		t.Errorf("foe health = %v, want 90 after both queued events", got)
	}
}

func TestStep_DelayedAndCooldown(t *testing.T) {
	e := newEngine(t, config.EngineConf{})
	_, err := e.AddAffix("sword", operation.Record{
		"trigger":  "on_crit",
		"cooldown": 2,
		"operation": map[string]any{
			"type":      "delayed",
			"delay":     2,
			"operation": map[string]any{"type": "health", "amount": -10, "target": "target"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	crit := func() *dispatch.Result {
		res, err := e.ProcessSync(context.Background(), &event.Event{Triggers: []string{"on_crit"}, ActorID: "hero", TargetID: "foe"})
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	crit()
	if res := crit(); res.Skipped[dispatch.SkipCooldown] != 1 {
		t.Errorf("second crit at tick 0 skipped = %v, want cooldown", res.Skipped)
	}
	if e.Scheduled() != 1 {
		t.Fatalf("scheduled = %d, want 1", e.Scheduled())
	}
	e.Step(context.Background())
	if got := health(t, e, "foe"); got != 100 {
		t.Errorf("delayed damage landed early: %v", got)
	}
	if tick := e.Step(context.Background()); tick != 2 {
		t.Errorf("tick = %d, want 2", tick)
	}
	if got := health(t, e, "foe"); got != 90 {
		t.Errorf("foe health = %v, want 90", got)
	}
	if res := crit(); len(res.Executions) != 1 {
		t.Errorf("crit after cooldown: %+v", res)
	}
}

func TestAffixFacade(t *testing.T) {
	e := newEngine(t, config.EngineConf{})
	buff := operation.Record{
		"trigger":   "on_equip",
		"operation": map[string]any{"type": "attribute_modifier", "attribute": "strength", "amount": 5},
	}

	if _, err := e.AddAffix("sword", operation.Record{"trigger": "on_hit"}); !errors.Is(err, engine.ErrInvalidAffix) {
		t.Errorf("missing operation: err = %v", err)
	}
	if _, err := e.AddAffix("ghost", buff); !errors.Is(err, carrier.ErrNotFound) {
		t.Errorf("unknown carrier: err = %v", err)
	}
	idx, err := e.AddAffix("sword", buff)
	if err != nil || idx != 1 {
		t.Fatalf("AddAffix = %d, %v", idx, err)
	}

	res, err := e.ProcessSync(context.Background(), &event.Event{Triggers: []string{"on_equip"}, ActorID: "hero"})
	if err != nil || len(res.Executions) != 1 {
		t.Fatalf("equip: %+v, %v", res, err)
	}
	if s, _ := e.Actor("hero"); s.Attributes["strength"] != 15 {
		t.Fatalf("strength = %v, want 15", s.Attributes["strength"])
	}

	if err := e.RemoveAffix("sword", 5, ""); !errors.Is(err, rules.ErrIndexOutOfRange) {
		t.Errorf("out of range: err = %v", err)
	}
	if err := e.RemoveAffix("sword", 1, ""); err != nil {
		t.Fatal(err)
	}
	if s, _ := e.Actor("hero"); s.Attributes["strength"] != 10 {
		t.Errorf("strength after removal = %v, want 10", s.Attributes["strength"])
	}
	list, err := e.Affixes("sword")
	if err != nil || len(list) != 1 || !list[0].Valid {
		t.Fatalf("Affixes = %+v, %v", list, err)
	}

	if err := e.ClearAffixes("sword"); err != nil {
		t.Fatal(err)
	}
	view, err := e.Carrier("sword")
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Affixes) != 0 || view.Identity == "" {
		t.Errorf("after clear: %+v", view)
	}
}

func TestDetach(t *testing.T) {
	e := newEngine(t, config.EngineConf{})
	if _, err := e.CreateCarrier("ring", "trinket", "hero", nil, []operation.Record{{
		"trigger":   "on_equip",
		"operation": map[string]any{"type": "attribute_modifier", "attribute": "strength", "amount": 0.5, "mode": "multiply"},
	}}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateCarrier("ring", "trinket", "", nil, nil); !errors.Is(err, carrier.ErrExists) {
		t.Errorf("duplicate create: err = %v", err)
	}
	ev := &event.Event{Triggers: []string{"on_equip"}, ActorID: "hero", Carriers: []event.CarrierRef{{Name: "ring", Slot: "finger"}}}
	if _, err := e.ProcessSync(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if s, _ := e.Actor("hero"); s.Attributes["strength"] != 15 {
		t.Fatalf("strength = %v, want 15", s.Attributes["strength"])
	}
	res, err := e.Detach("ring", "finger", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Executions) != 1 || res.Executions[0].Status != dispatch.StatusExecuted {
		t.Errorf("detach = %+v", res.Executions)
	}
	if s, _ := e.Actor("hero"); s.Attributes["strength"] != 10 {
		t.Errorf("strength after detach = %v, want 10", s.Attributes["strength"])
	}
	if _, err := e.Detach("ghost", "", ""); !errors.Is(err, carrier.ErrNotFound) {
		t.Errorf("detach unknown: err = %v", err)
	}
}

func TestEvaluate(t *testing.T) {
	e := newEngine(t, config.EngineConf{})
	v, err := e.Evaluate("self.attribute.strength * bonus", "hero", map[string]any{"bonus": 2})
	if err != nil {
		t.Fatal(err)
	}
	if v.Num() != 20 {
		t.Errorf("value = %v, want 20", v.Num())
	}
	if _, err := e.Evaluate("1 +", "", nil); err == nil {
		t.Error("syntax error not reported")
	}
	if n := e.ClearExpressionCache(); n == 0 {
		t.Error("cache held nothing to clear")
	}
}

func TestShutdown_FlushesAndSnapshots(t *testing.T) {
	store := memstore.New()
	path := filepath.Join(t.TempDir(), "world.zst")
	e := newEngine(t, config.EngineConf{}, func(o *engine.Options) {
		o.Carriers = carrier.NewRegistry(store, quiet)
		o.SnapshotPath = path
	})
	if _, err := e.ProcessSync(context.Background(), hit()); err != nil {
		t.Fatal(err)
	}
	e.Step(context.Background())
	if err := e.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ProcessSync(context.Background(), hit()); !errors.Is(err, engine.ErrStopped) {
		t.Errorf("process after shutdown err = %v", err)
	}
	recs, err := store.Load(context.Background())
	if err != nil || len(recs) != 1 || recs[0].Name != "sword" {
		t.Fatalf("store = %+v, %v", recs, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fresh, err := engine.New(ctx, engine.Options{Logger: quiet})
	if err != nil {
		t.Fatal(err)
	}
	if err := fresh.Restore(path); err != nil {
		t.Fatal(err)
	}
	if fresh.Tick() != 1 {
		t.Errorf("tick = %d, want 1", fresh.Tick())
	}
	if got := health(t, fresh, "foe"); got != 95 {
		t.Errorf("restored foe health = %v", got)
	}
	view, err := fresh.Carrier("sword")
	if err != nil || len(view.Affixes) != 1 || !view.Affixes[0].Valid {
		t.Fatalf("restored carrier = %+v, %v", view, err)
	}
	if err := fresh.Restore(filepath.Join(t.TempDir(), "missing.zst")); err != nil {
		t.Errorf("missing snapshot: %v", err)
	}
}

func TestApplyConfig_ConcurrentReloads(t *testing.T) {
	e := newEngine(t, config.EngineConf{})
	if _, err := e.ProcessSync(context.Background(), hit()); err != nil {
		t.Fatal(err)
	}

	cfg := seed()
	cfg.Actors = append(cfg.Actors, config.ActorDef{ID: "npc", Type: "villager", MaxHealth: 20})
	cfg.Carriers = append(cfg.Carriers, config.CarrierDef{Name: "shield", Type: "armor", Owner: "hero"})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Step(context.Background())
			errs <- e.ApplyConfig(cfg)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("ApplyConfig: %v", err)
		}
	}

	if got := health(t, e, "foe"); got != 95 {
		t.Errorf("reload reset foe health to %v", got)
	}
	if _, ok := e.Actor("npc"); !ok {
		t.Error("new actor not seeded")
	}
	if _, err := e.Carrier("shield"); err != nil {
		t.Errorf("new carrier not seeded: %v", err)
	}
}
