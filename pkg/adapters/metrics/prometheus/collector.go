// Package prometheus implements the metrics collector port.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus.
type Collector struct {
	workersSpawned    *prometheus.CounterVec
	workersTerminated prometheus.Counter
	poolStatus        *prometheus.GaugeVec
	transitions       *prometheus.CounterVec
	assignments       *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	tracesIngested    *prometheus.CounterVec
	tokensUsed        prometheus.Counter
	costUSD           prometheus.Counter
	assignmentWait    prometheus.Histogram
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		workersSpawned: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_workers_spawned_total",
				Help: "Total number of workers spawned",
			},
			[]string{"template_id"},
		),
		workersTerminated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crewd_workers_terminated_total",
				Help: "Total number of workers terminated",
			},
		),
		poolStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crewd_pool_workers",
				Help: "Current number of workers by status",
			},
			[]string{"status"},
		),
		transitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_transitions_total",
				Help: "Total number of work item transition requests",
			},
			[]string{"transition", "outcome"},
		),
		assignments: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_assignments_total",
				Help: "Total number of work assignment requests",
			},
			[]string{"outcome"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crewd_assignment_queue_depth",
				Help: "Current depth of the assignment queue",
			},
		),
		tracesIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crewd_trace_events_total",
				Help: "Total number of trace events ingested",
			},
			[]string{"type"},
		),
		tokensUsed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crewd_tokens_used_total",
				Help: "Total LLM tokens used across all workers",
			},
		),
		costUSD: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crewd_cost_usd_total",
				Help: "Total LLM cost in USD across all workers",
			},
		),
		assignmentWait: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crewd_assignment_queue_wait_seconds",
				Help:    "Time queued assignments waited for a worker",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
			},
		),
	}
}

// RecordPoolStatus sets the per-status worker gauges.
func (c *Collector) RecordPoolStatus(idle, working, paused, errored, terminated int) {
	c.poolStatus.WithLabelValues("idle").Set(float64(idle))
	c.poolStatus.WithLabelValues("working").Set(float64(working))
	c.poolStatus.WithLabelValues("paused").Set(float64(paused))
	c.poolStatus.WithLabelValues("error").Set(float64(errored))
	c.poolStatus.WithLabelValues("terminated").Set(float64(terminated))
}

// RecordWorkerSpawned increments the spawn counter for a template.
func (c *Collector) RecordWorkerSpawned(templateID string) {
	c.workersSpawned.WithLabelValues(templateID).Inc()
}

// RecordWorkerTerminated increments the termination counter.
func (c *Collector) RecordWorkerTerminated() {
	c.workersTerminated.Inc()
}

// RecordTransition counts a transition request by name and outcome.
func (c *Collector) RecordTransition(name string, outcome string) {
	c.transitions.WithLabelValues(name, outcome).Inc()
}

// RecordAssignment counts an assignment request outcome.
func (c *Collector) RecordAssignment(outcome string) {
	c.assignments.WithLabelValues(outcome).Inc()
}

// SetQueueDepth sets the current assignment queue depth.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordTraceIngested counts an ingested trace event by type.
func (c *Collector) RecordTraceIngested(eventType string) {
	c.tracesIngested.WithLabelValues(eventType).Inc()
}

// AddTokens adds to the token usage counter.
func (c *Collector) AddTokens(count int64) {
	if count > 0 {
		c.tokensUsed.Add(float64(count))
	}
}

// AddCost adds to the cost counter.
func (c *Collector) AddCost(usd float64) {
	if usd > 0 {
		c.costUSD.Add(usd)
	}
}

// ObserveAssignmentWait records how long a queued assignment waited.
func (c *Collector) ObserveAssignmentWait(d time.Duration) {
	c.assignmentWait.Observe(d.Seconds())
}
