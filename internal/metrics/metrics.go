package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affix_events_enqueued_total",
		Help: "Total number of trigger events placed on the tick queue.",
	})

	EventsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affix_events_processed_total",
		Help: "Total number of trigger events fully dispatched.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affix_events_dropped_total",
		Help: "Total number of trigger events rejected due to a full queue.",
	})

	AffixesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affix_executions_total",
		Help: "Total number of affix operations run, labelled by operation type, path and status.",
	}, []string{"operation", "path", "status"})

	AffixesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affix_skipped_total",
		Help: "Total number of candidate affixes skipped, labelled by the gate that rejected them.",
	}, []string{"reason"})

	RuleCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affix_rule_cache_lookups_total",
		Help: "Rule cache lookups, labelled hit, stale or miss.",
	}, []string{"result"})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "affix_decode_failures_total",
		Help: "Serialized affix records that could not be decoded.",
	})

	ExpressionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "affix_expression_errors_total",
		Help: "Expression failures swallowed by the engine, labelled by kind.",
	}, []string{"kind"})

	ExpressionCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "affix_expression_cache_entries",
		Help: "Number of compiled expressions held in the cache.",
	})

	EventProcessingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "affix_event_processing_duration_ms",
		Help:    "End-to-end trigger dispatch latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "affix_queue_utilization_ratio",
		Help: "Current event queue utilization (0–1).",
	})

	ScheduledTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "affix_scheduled_tasks",
		Help: "Delayed actions waiting on the tick scheduler.",
	})

	Tick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "affix_tick",
		Help: "Current logical tick.",
	})
)
