// Package telemetry provides the Prometheus metrics surface shared by the
// dispatcher and draft engine, in the registry-per-process shape the
// teacher's telemetry package uses.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter, histogram, and gauge changeops exports. A
// nil *Metrics is a valid no-op collector — every Record/Set method is a
// no-op when m is nil, so components can take an optional *Metrics
// without an enabled/disabled branch at every call site.
type Metrics struct {
	intentsEnqueued  *prometheus.CounterVec
	intentsDispatched *prometheus.CounterVec
	intentsPending    *prometheus.GaugeVec
	dispatchDuration  *prometheus.HistogramVec

	draftAttempts *prometheus.CounterVec
	draftDuration *prometheus.HistogramVec

	promotionOutcomes *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics constructs a Metrics collector registered under namespace
// (typically "changeops"), ready to be passed to dispatch.WithMetrics and
// draft.WithMetrics.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		intentsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_enqueued_total",
			Help:      "Total number of workflow-execution intents enqueued, by outcome.",
		}, []string{"outcome"}),
		intentsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_dispatched_total",
			Help:      "Total number of workflow-execution intents handed to the workflow engine, by resulting status.",
		}, []string{"status"}),
		intentsPending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "intents_pending",
			Help:      "Number of intents pending dispatch at the start of the current DispatchPending sweep, by tenant.",
		}, []string{"tenant"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "intent_dispatch_duration_seconds",
			Help:      "Time from dispatchOne start to the workflow engine returning, by resulting status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		draftAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_repair_attempts_total",
			Help:      "Total number of generate/repair-loop attempts, by whether the round ultimately validated.",
		}, []string{"success"}),
		draftDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "draft_generate_duration_seconds",
			Help:      "Time spent in the generate/repair loop for one candidate.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"success"}),
		promotionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promotion_outcomes_total",
			Help:      "Total number of promotion intent terminations, by outcome (executed, rejected, rejected_conflict).",
		}, []string{"outcome"}),
	}

	registry.MustRegister(
		m.intentsEnqueued, m.intentsDispatched, m.intentsPending, m.dispatchDuration,
		m.draftAttempts, m.draftDuration, m.promotionOutcomes,
	)
	return m
}

// Handler returns an HTTP handler exposing the registry in the
// OpenMetrics exposition format, mountable by the CLI's serve command.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordIntentEnqueued increments the enqueue counter for outcome
// ("admitted" or "duplicate").
func (m *Metrics) RecordIntentEnqueued(outcome string) {
	if m == nil {
		return
	}
	m.intentsEnqueued.WithLabelValues(outcome).Inc()
}

// RecordIntentDispatched increments the dispatch counter and observes the
// dispatch-to-completion duration, both labeled by the intent's resulting
// status.
func (m *Metrics) RecordIntentDispatched(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.intentsDispatched.WithLabelValues(status).Inc()
	m.dispatchDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetPendingIntents reports the size of tenant's pending queue as of the
// start of the current dispatch sweep.
func (m *Metrics) SetPendingIntents(tenant string, count int) {
	if m == nil {
		return
	}
	m.intentsPending.WithLabelValues(tenant).Set(float64(count))
}

// RecordDraftAttempt reports one generate/repair loop's attempt count and
// wall time, labeled by whether it ended in a validated candidate.
func (m *Metrics) RecordDraftAttempt(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.draftAttempts.WithLabelValues(label).Inc()
	m.draftDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordPromotionOutcome increments the promotion-outcome counter for
// outcome ("executed", "rejected", or "rejected_conflict").
func (m *Metrics) RecordPromotionOutcome(outcome string) {
	if m == nil {
		return
	}
	m.promotionOutcomes.WithLabelValues(outcome).Inc()
}
