// Package metrics provides Prometheus metrics for the dispensing core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsCreated prometheus.Counter
	Transitions          *prometheus.CounterVec
	TransitionsFailed    *prometheus.CounterVec
	ComplianceBlocks     prometheus.Counter
	ClaimRejects         *prometheus.CounterVec
	OverridesApplied     prometheus.Counter
	LedgerAppends        *prometheus.CounterVec
	TransitionDuration   prometheus.Histogram
	WillCallBinDepth     prometheus.Gauge
	AuditDegraded        prometheus.Counter
	OutboxPending        prometheus.Gauge
	ConflictRetries      prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescriptions created at intake",
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Total workflow transitions by target state",
		}, []string{"to"}),
		TransitionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_failed_total",
			Help: "Total failed workflow transitions by reason",
		}, []string{"reason"}),
		ComplianceBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compliance_blocks_total",
			Help: "Transitions blocked by the controlled-substance engine",
		}),
		ClaimRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "claim_rejects_total",
			Help: "Claim rejections by reject code",
		}, []string{"code"}),
		OverridesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overrides_applied_total",
			Help: "Staff overrides applied to rejected claims",
		}),
		LedgerAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cs_ledger_appends_total",
			Help: "Controlled-substance ledger entries by transaction type",
		}, []string{"type"}),
		TransitionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workflow_transition_duration_seconds",
			Help:    "Workflow transition duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		WillCallBinDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "will_call_bins_open",
			Help: "Will-call bins currently awaiting pickup",
		}),
		AuditDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_degraded_total",
			Help: "Audit log writes that failed and were surfaced as degraded-mode alerts",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transition_conflicts_total",
			Help: "Transitions that lost the per-key exclusion race",
		}),
	}

	prometheus.MustRegister(
		m.PrescriptionsCreated,
		m.Transitions,
		m.TransitionsFailed,
		m.ComplianceBlocks,
		m.ClaimRejects,
		m.OverridesApplied,
		m.LedgerAppends,
		m.TransitionDuration,
		m.WillCallBinDepth,
		m.AuditDegraded,
		m.OutboxPending,
		m.ConflictRetries,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
