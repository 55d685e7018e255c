package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/iho/xledger/internal/domain"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Saga metrics
	LegsSubmitted      *prometheus.CounterVec
	LegsResolved       *prometheus.CounterVec
	TransfersFinished  *prometheus.CounterVec
	TransferDuration   *prometheus.HistogramVec
	FatalRecoveries    prometheus.Counter
	CorrelationMisses  *prometheus.CounterVec
	EarlyEventsReplays *prometheus.CounterVec

	// Ledger adapter metrics
	LedgerCalls    *prometheus.CounterVec
	LedgerDuration *prometheus.HistogramVec
	LedgerEvents   *prometheus.CounterVec

	// Outbox metrics
	OutboxPublished *prometheus.CounterVec
	OutboxErrors    prometheus.Counter
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		LegsSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xledger_legs_submitted_total",
				Help: "Total number of legs submitted to a ledger",
			},
			[]string{"leg"},
		),
		LegsResolved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xledger_legs_resolved_total",
				Help: "Total number of legs confirmed or failed",
			},
			[]string{"leg", "state"},
		),
		TransfersFinished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xledger_transfers_finished_total",
				Help: "Total number of transfers reaching a terminal outcome",
			},
			[]string{"outcome"},
		),
		TransferDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xledger_transfer_duration_seconds",
				Help:    "Time from creation to terminal outcome",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900, 3600},
			},
			[]string{"outcome"},
		),
		FatalRecoveries: f.NewCounter(prometheus.CounterOpts{
			Name: "xledger_fatal_recovery_failures_total",
			Help: "Transfers whose compensation failed and need an operator",
		}),
		CorrelationMisses: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xledger_correlation_misses_total",
				Help: "Ledger events matching no pending transfer",
			},
			[]string{"chain"},
		),
		EarlyEventsReplays: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xledger_early_events_replayed_total",
				Help: "Events replayed after arriving before their ref was recorded",
			},
			[]string{"chain"},
		),
		LedgerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xledger_ledger_calls_total",
				Help: "Ledger adapter calls by result",
			},
			[]string{"chain", "method", "result"},
		),
		LedgerDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xledger_ledger_call_duration_seconds",
				Help:    "Ledger adapter call duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"chain", "method"},
		),
		LedgerEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xledger_ledger_events_total",
				Help: "Ledger events received by source",
			},
			[]string{"chain", "source"},
		),
		OutboxPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xledger_outbox_published_total",
				Help: "Outbox events published",
			},
			[]string{"event_type"},
		),
		OutboxErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "xledger_outbox_errors_total",
			Help: "Outbox publish failures",
		}),
	}
}

// LegSubmitted implements usecase.SagaMetrics.
func (m *Metrics) LegSubmitted(leg domain.Leg) {
	m.LegsSubmitted.WithLabelValues(string(leg)).Inc()
}

// LegResolved implements usecase.SagaMetrics.
func (m *Metrics) LegResolved(leg domain.Leg, state domain.LegState) {
	m.LegsResolved.WithLabelValues(string(leg), string(state)).Inc()
}

// TransferFinished implements usecase.SagaMetrics.
func (m *Metrics) TransferFinished(outcome domain.Outcome, elapsed time.Duration) {
	m.TransfersFinished.WithLabelValues(string(outcome)).Inc()
	m.TransferDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
	if outcome == domain.OutcomeRecoveryFailed {
		m.FatalRecoveries.Inc()
	}
}

// CorrelationMiss implements usecase.SagaMetrics.
func (m *Metrics) CorrelationMiss(chainID string) {
	m.CorrelationMisses.WithLabelValues(chainID).Inc()
}

// EarlyEventReplayed implements usecase.SagaMetrics.
func (m *Metrics) EarlyEventReplayed(chainID string) {
	m.EarlyEventsReplays.WithLabelValues(chainID).Inc()
}

// ObserveLedgerCall records one adapter call.
func (m *Metrics) ObserveLedgerCall(chainID, method string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LedgerCalls.WithLabelValues(chainID, method, result).Inc()
	m.LedgerDuration.WithLabelValues(chainID, method).Observe(elapsed.Seconds())
}

// LedgerEvent counts an event received from source (amqp, webhook).
func (m *Metrics) LedgerEvent(chainID, source string) {
	m.LedgerEvents.WithLabelValues(chainID, source).Inc()
}

// OutboxEventPublished implements eventpublisher.Observer.
func (m *Metrics) OutboxEventPublished(eventType string) {
	m.OutboxPublished.WithLabelValues(eventType).Inc()
}

// OutboxPublishFailed implements eventpublisher.Observer.
func (m *Metrics) OutboxPublishFailed() {
	m.OutboxErrors.Inc()
}
