// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric exported by this process.
const Namespace = "driveline"

// Collector owns the process metrics. Pass a nil Registerer to keep the
// metrics unregistered, which is what tests and embedded uses want.
type Collector struct {
	toolExecutionsTotal  *prometheus.CounterVec
	toolExecutionSeconds *prometheus.HistogramVec
	tokensConsumedTotal  prometheus.Counter
	costMicrosTotal      prometheus.Counter
	rateLimitDenials     *prometheus.CounterVec
	workflowsTotal       *prometheus.CounterVec
	workflowSeconds      *prometheus.HistogramVec
	circuitState         *prometheus.GaugeVec
	adsQueueDepth        prometheus.Gauge
	eventsPublished      *prometheus.CounterVec
}

// NewCollector builds the collector and registers everything with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		toolExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tool_executions_total",
				Help:      "Total tool executions by tool and outcome",
			},
			[]string{"tool", "status"},
		),
		toolExecutionSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "tool_execution_seconds",
				Help:      "Tool execution duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"tool"},
		),
		tokensConsumedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "tokens_consumed_total",
				Help:      "Total tokens recorded against sandbox budgets",
			},
		),
		costMicrosTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "cost_micros_total",
				Help:      "Total cost recorded against sandbox budgets, in micro dollars",
			},
		),
		rateLimitDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "rate_limit_denials_total",
				Help:      "Authorization denials by exceeded window",
			},
			[]string{"window"},
		),
		workflowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "workflows_total",
				Help:      "Completed workflows by pattern and terminal status",
			},
			[]string{"pattern", "status"},
		),
		workflowSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "workflow_seconds",
				Help:      "Workflow wall time in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"pattern"},
		),
		circuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "circuit_state",
				Help:      "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
			},
			[]string{"service"},
		),
		adsQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "ads_queue_depth",
				Help:      "Tasks currently waiting in the ads queue",
			},
		),
		eventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_published_total",
				Help:      "Events published to the bus by type",
			},
			[]string{"type"},
		),
	}
}

// RecordToolExecution counts one tool run and observes its duration.
func (c *Collector) RecordToolExecution(tool, status string, duration time.Duration) {
	c.toolExecutionsTotal.WithLabelValues(tool, status).Inc()
	c.toolExecutionSeconds.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordUsage adds consumed tokens and cost to the running totals.
func (c *Collector) RecordUsage(tokens, costMicros int64) {
	c.tokensConsumedTotal.Add(float64(tokens))
	c.costMicrosTotal.Add(float64(costMicros))
}

// RecordRateLimitDenial counts a denial for the window that tripped.
func (c *Collector) RecordRateLimitDenial(window string) {
	c.rateLimitDenials.WithLabelValues(window).Inc()
}

// RecordWorkflow counts one finished workflow and observes its wall time.
func (c *Collector) RecordWorkflow(pattern, status string, duration time.Duration) {
	c.workflowsTotal.WithLabelValues(pattern, status).Inc()
	c.workflowSeconds.WithLabelValues(pattern).Observe(duration.Seconds())
}

// SetCircuitState records the breaker state for a service.
func (c *Collector) SetCircuitState(service, state string) {
	var v float64
	switch state {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	c.circuitState.WithLabelValues(service).Set(v)
}

// SetAdsQueueDepth records the current ads queue backlog.
func (c *Collector) SetAdsQueueDepth(depth int) {
	c.adsQueueDepth.Set(float64(depth))
}

// RecordEventPublished counts one event published to the bus.
func (c *Collector) RecordEventPublished(eventType string) {
	c.eventsPublished.WithLabelValues(eventType).Inc()
}
