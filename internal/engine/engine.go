package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/affix/internal/actor"
	"github.com/gyaneshwarpardhi/affix/internal/carrier"
	"github.com/gyaneshwarpardhi/affix/internal/config"
	"github.com/gyaneshwarpardhi/affix/internal/dispatch"
	"github.com/gyaneshwarpardhi/affix/internal/event"
	"github.com/gyaneshwarpardhi/affix/internal/expr"
	"github.com/gyaneshwarpardhi/affix/internal/metrics"
	"github.com/gyaneshwarpardhi/affix/internal/operation"
	"github.com/gyaneshwarpardhi/affix/internal/operation/builtin"
	"github.com/gyaneshwarpardhi/affix/internal/rules"
	"github.com/gyaneshwarpardhi/affix/internal/schedule"
)

var (
	ErrQueueFull    = errors.New("event queue full")
	ErrTimeout      = errors.New("event processing timeout")
	ErrNoTriggers   = errors.New("event has no triggers")
	ErrInvalidAffix = errors.New("invalid affix")
	ErrStopped      = errors.New("engine stopped")
)

// Options wires an Engine. Every field but Conf is optional.
type Options struct {
	Conf config.EngineConf
	// Operations defaults to a registry holding the builtin operations.
	Operations *operation.Registry
	// Carriers defaults to an in-memory registry with no store.
	Carriers *carrier.Registry
	World    *actor.World
	// SnapshotPath, when set, receives a world snapshot on Shutdown.
	SnapshotPath string
	Logger       *slog.Logger
}

// Engine owns the logical tick and everything that mutates on it: event
// dispatch, scheduled tasks, effect decay and rule edits all run under one
// lock, so operations never race each other.
type Engine struct {
	mu   sync.Mutex
	tick atomic.Int64
	hook dispatch.Hook

	conf         config.EngineConf
	ops          *operation.Registry
	rules        *rules.Manager
	exprs        *expr.Engine
	world        *actor.World
	carriers     *carrier.Registry
	scheduler    *schedule.Scheduler
	tracker      *operation.Tracker
	pipeline     *dispatch.Pipeline
	pool         *workerPool[*eventWork]
	snapshotPath string
	logger       *slog.Logger
}

type eventWork struct {
	ev      *event.Event
	resultC chan *dispatch.Result
}

// New creates an Engine and starts its event worker. The worker stops when
// ctx is cancelled or on Shutdown.
func New(ctx context.Context, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conf := withDefaults(opts.Conf)

	ops := opts.Operations
	if ops == nil {
		ops = operation.NewRegistry(logger)
		builtin.Register(ops)
	}
	carriers := opts.Carriers
	if carriers == nil {
		carriers = carrier.NewRegistry(nil, logger)
	}
	world := opts.World
	if world == nil {
		world = actor.NewWorld()
	}
	mgr, err := rules.NewManager(ops, conf.RuleCacheSize, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		conf:         conf,
		ops:          ops,
		rules:        mgr,
		exprs:        expr.NewEngine(logger),
		world:        world,
		carriers:     carriers,
		scheduler:    schedule.New(logger),
		tracker:      operation.NewTracker(),
		snapshotPath: opts.SnapshotPath,
		logger:       logger,
	}
	e.pipeline = dispatch.New(dispatch.Options{
		Rules:     e.rules,
		Exprs:     e.exprs,
		Actors:    e.world,
		Scheduler: e.scheduler,
		Tracker:   e.tracker,
		Logger:    logger,
		Clock:     e.tick.Load,
	})

	// One worker: events are applied in arrival order.
	e.pool = newWorkerPool[*eventWork](ctx, 1, conf.QueueDepth, func(_ context.Context, w *eventWork) {
		res := e.processEvent(w.ev)
		if w.resultC != nil {
			w.resultC <- res
		}
	})
	return e, nil
}

func withDefaults(conf config.EngineConf) config.EngineConf {
	cfg := config.Config{Engine: conf}
	config.ApplyDefaults(&cfg)
	return cfg.Engine
}

// ── Events ──────────────────────────────────────────────────────────────────

// ProcessSync queues ev and waits for its dispatch result.
func (e *Engine) ProcessSync(ctx context.Context, ev *event.Event) (*dispatch.Result, error) {
	if err := prepare(ev); err != nil {
		return nil, err
	}
	resultC := make(chan *dispatch.Result, 1)
	if !e.pool.Submit(&eventWork{ev: ev, resultC: resultC}) {
		metrics.EventsDropped.Inc()
		if e.pool.Closed() {
			return nil, ErrStopped
		}
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.pool.QueueCap())
	}
	metrics.EventsEnqueued.Inc()

	timeout := time.Duration(e.conf.EventTimeoutMs) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-resultC:
		return res, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessAsync queues ev for background dispatch. It returns false if the
// event is invalid or the queue is full.
func (e *Engine) ProcessAsync(ev *event.Event) bool {
	if err := prepare(ev); err != nil {
		return false
	}
	if !e.pool.Submit(&eventWork{ev: ev}) {
		metrics.EventsDropped.Inc()
		return false
	}
	metrics.EventsEnqueued.Inc()
	return true
}

func prepare(ev *event.Event) error {
	if ev == nil || len(ev.TriggerSet()) == 0 {
		return ErrNoTriggers
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = ev.ReceivedAt
	}
	return nil
}

func (e *Engine) processEvent(ev *event.Event) *dispatch.Result {
	e.mu.Lock()
	res := e.pipeline.Dispatch(ev, e.sites(ev), e.hook)
	e.mu.Unlock()

	metrics.EventsProcessed.Inc()
	e.logger.Debug("event dispatched", "event", ev.ID, "triggers", ev.Triggers,
		"executions", len(res.Executions), "duration_ms", res.DurationMs)
	return res
}

// sites resolves the carriers an event names. An event naming none reaches
// every carrier its actor owns, with no slot.
func (e *Engine) sites(ev *event.Event) []dispatch.Site {
	if len(ev.Carriers) == 0 {
		if ev.ActorID == "" {
			return nil
		}
		owned := e.carriers.OwnedBy(ev.ActorID)
		sites := make([]dispatch.Site, 0, len(owned))
		for _, it := range owned {
			sites = append(sites, dispatch.Site{Carrier: it})
		}
		return sites
	}
	sites := make([]dispatch.Site, 0, len(ev.Carriers))
	for _, ref := range ev.Carriers {
		it, ok := e.carriers.Get(ref.Name)
		if !ok {
			e.logger.Debug("event names unknown carrier", "event", ev.ID, "carrier", ref.Name)
			continue
		}
		sites = append(sites, dispatch.Site{Carrier: it, Slot: ref.Slot})
	}
	return sites
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

// ── Tick loop ───────────────────────────────────────────────────────────────

// Run advances the tick every TickMs until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(time.Duration(e.conf.TickMs) * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.Step(ctx)
		}
	}
}

// Step advances one tick: scheduled tasks run, effects decay and changed
// carriers are flushed to the store. It returns the new tick.
func (e *Engine) Step(ctx context.Context) int64 {
	e.mu.Lock()
	now := e.tick.Add(1)
	ran := e.scheduler.Tick()
	e.world.Tick()
	pending := e.scheduler.Pending()
	e.mu.Unlock()

	e.carriers.Flush(ctx)

	metrics.Tick.Set(float64(now))
	metrics.ScheduledTasks.Set(float64(pending))
	metrics.QueueUtilization.Set(e.QueueUtilization())
	if ran > 0 {
		e.logger.Debug("scheduled tasks ran", "tick", now, "count", ran)
	}
	return now
}

// Tick returns the current logical tick.
func (e *Engine) Tick() int64 { return e.tick.Load() }

// Scheduled returns the number of pending delayed tasks.
func (e *Engine) Scheduled() int { return e.scheduler.Pending() }

// SetHook installs the hook consulted before each operation. Nil removes it.
func (e *Engine) SetHook(h dispatch.Hook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hook = h
}

// Shutdown stops accepting events, finishes the queued ones, flushes
// carriers and writes the snapshot if one is configured.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.pool.Drain()
	e.carriers.Flush(ctx)
	if e.snapshotPath == "" {
		return nil
	}
	if err := e.WriteSnapshot(e.snapshotPath); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	e.logger.Info("snapshot written", "path", e.snapshotPath, "tick", e.Tick())
	return nil
}

func (e *Engine) lookup(id string) actor.Actor {
	if id == "" {
		return nil
	}
	a, ok := e.world.Actor(id)
	if !ok {
		return nil
	}
	return a
}
