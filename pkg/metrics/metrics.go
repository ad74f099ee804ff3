// Package metrics provides Prometheus metrics for the slip lifecycle.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// SlipMetrics collects and exposes slip-lifecycle metrics.
type SlipMetrics struct {
	registry *prometheus.Registry

	// Draft metrics
	Picks             prometheus.Gauge
	TotalOdds         prometheus.Gauge
	SelectionErrors   *prometheus.CounterVec
	ValidationFailure *prometheus.CounterVec

	// Submission metrics
	Transitions        *prometheus.CounterVec
	SubmissionFailures *prometheus.CounterVec
	SubmissionDuration *prometheus.HistogramVec

	// Data source metrics
	Fetches       *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec
	StaleResults  *prometheus.CounterVec

	// Cycle metrics
	Cycle     prometheus.Gauge
	Countdown prometheus.Gauge
	Slips     *prometheus.GaugeVec

	// Outbound metrics
	EventsPublished *prometheus.CounterVec
	Notifications   *prometheus.CounterVec
	StreamClients   prometheus.Gauge
}

// NewSlipMetrics creates a collector on a private registry.
func NewSlipMetrics() *SlipMetrics {
	m := &SlipMetrics{
		registry: prometheus.NewRegistry(),

		Picks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oddyssey_picks",
			Help: "Number of picks in the draft slip",
		}),
		TotalOdds: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oddyssey_total_odds",
			Help: "Combined odds of the draft slip",
		}),
		SelectionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddyssey_selection_errors_total",
				Help: "Rejected pick selections",
			},
			[]string{"reason"},
		),
		ValidationFailure: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddyssey_validation_failures_total",
				Help: "Submission attempts refused before signing",
			},
			[]string{"reason"},
		),

		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddyssey_transaction_transitions_total",
				Help: "Transaction phase transitions",
			},
			[]string{"kind", "phase"},
		),
		SubmissionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddyssey_transaction_failures_total",
				Help: "Failed transactions by cause",
			},
			[]string{"kind", "cause"},
		),
		SubmissionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oddyssey_transaction_duration_seconds",
				Help:    "Time from signing request to a terminal phase",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
			},
			[]string{"kind", "phase"},
		),

		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddyssey_fetches_total",
				Help: "Reads against chain and backend",
			},
			[]string{"resource", "status"},
		),
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oddyssey_fetch_duration_seconds",
				Help:    "Read latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"resource"},
		),
		StaleResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddyssey_stale_results_total",
				Help: "Read results discarded because the cycle or wallet changed",
			},
			[]string{"resource"},
		),

		Cycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oddyssey_cycle",
			Help: "Current cycle id",
		}),
		Countdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oddyssey_countdown_seconds",
			Help: "Seconds until the first match of the cycle kicks off",
		}),
		Slips: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oddyssey_slips",
				Help: "Slips of the connected wallet by state",
			},
			[]string{"state"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddyssey_events_published_total",
				Help: "Lifecycle events published",
			},
			[]string{"type", "status"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oddyssey_notifications_total",
				Help: "Notifications sent",
			},
			[]string{"kind", "status"},
		),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "oddyssey_stream_clients",
			Help: "Connected websocket clients",
		}),
	}

	m.registry.MustRegister(
		m.Picks,
		m.TotalOdds,
		m.SelectionErrors,
		m.ValidationFailure,
		m.Transitions,
		m.SubmissionFailures,
		m.SubmissionDuration,
		m.Fetches,
		m.FetchDuration,
		m.StaleResults,
		m.Cycle,
		m.Countdown,
		m.Slips,
		m.EventsPublished,
		m.Notifications,
		m.StreamClients,
	)
	return m
}

// Registry returns the prometheus registry.
func (m *SlipMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *SlipMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// UpdateDraft records the draft size and combined odds.
func (m *SlipMetrics) UpdateDraft(picks int, totalOdds decimal.Decimal) {
	m.Picks.Set(float64(picks))
	m.TotalOdds.Set(DecimalToFloat64(totalOdds))
}

// RecordSelectionError counts a rejected selection.
func (m *SlipMetrics) RecordSelectionError(reason string) {
	m.SelectionErrors.WithLabelValues(reason).Inc()
}

// RecordValidationFailure counts a refused submission.
func (m *SlipMetrics) RecordValidationFailure(reason string) {
	m.ValidationFailure.WithLabelValues(reason).Inc()
}

// RecordTransition counts a phase change.
func (m *SlipMetrics) RecordTransition(kind, phase string) {
	m.Transitions.WithLabelValues(kind, phase).Inc()
}

// RecordTerminal records the end of a transaction.
func (m *SlipMetrics) RecordTerminal(kind, phase, cause string, elapsed time.Duration) {
	m.SubmissionDuration.WithLabelValues(kind, phase).Observe(elapsed.Seconds())
	if cause != "" {
		m.SubmissionFailures.WithLabelValues(kind, cause).Inc()
	}
}

// RecordFetch records one read.
func (m *SlipMetrics) RecordFetch(resource string, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.Fetches.WithLabelValues(resource, status).Inc()
	m.FetchDuration.WithLabelValues(resource).Observe(elapsed.Seconds())
}

// RecordStale counts a discarded read result.
func (m *SlipMetrics) RecordStale(resource string) {
	m.StaleResults.WithLabelValues(resource).Inc()
}

// UpdateCycle sets the current cycle and countdown.
func (m *SlipMetrics) UpdateCycle(cycle uint64, remaining time.Duration) {
	m.Cycle.Set(float64(cycle))
	m.Countdown.Set(remaining.Seconds())
}

// UpdateSlips sets the per-state slip gauges.
func (m *SlipMetrics) UpdateSlips(evaluated, pending, claimable int) {
	m.Slips.WithLabelValues("evaluated").Set(float64(evaluated))
	m.Slips.WithLabelValues("pending").Set(float64(pending))
	m.Slips.WithLabelValues("claimable").Set(float64(claimable))
}

// RecordEvent counts a published lifecycle event.
func (m *SlipMetrics) RecordEvent(eventType string, err error) {
	m.EventsPublished.WithLabelValues(eventType, statusOf(err)).Inc()
}

// RecordNotification counts a sent notification.
func (m *SlipMetrics) RecordNotification(kind string, err error) {
	m.Notifications.WithLabelValues(kind, statusOf(err)).Inc()
}

// SetStreamClients sets the connected websocket client count.
func (m *SlipMetrics) SetStreamClients(n int) {
	m.StreamClients.Set(float64(n))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// DecimalToFloat64 converts decimal.Decimal to float64 for metrics.
func DecimalToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

var (
	defaultMetrics *SlipMetrics
	once           sync.Once
)

// Default returns the process-wide metrics instance.
func Default() *SlipMetrics {
	once.Do(func() {
		defaultMetrics = NewSlipMetrics()
	})
	return defaultMetrics
}
