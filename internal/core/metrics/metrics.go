// Package metrics provides Prometheus instrumentation for evaluation cycles.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/solatis/autogift/internal/types"
)

// Callers label which entry point ran a cycle.
const (
	CallerCheckout   = "checkout"
	CallerStorefront = "storefront"
	CallerCLI        = "cli"
)

// Outcomes label how a cycle ended.
const (
	OutcomeConverged = "converged" // no intents needed
	OutcomeApplied   = "applied"   // intents emitted (and applied, for sessions)
	OutcomeSkipped   = "skipped"   // cart unchanged since last convergence
	OutcomeBusy      = "busy"      // another cycle in flight
	OutcomeFailed    = "failed"
)

// Metrics provides observability for the evaluation engine and its callers.
// All methods are safe on a nil receiver.
type Metrics struct {
	// Cycle outcomes by caller
	Cycles *prometheus.CounterVec

	// Emitted intents by kind
	Intents *prometheus.CounterVec

	// Cycle latency including provider I/O
	CycleDuration *prometheus.HistogramVec

	// Rules dropped while loading rule documents
	RulesDropped prometheus.Counter
}

// New registers all metrics against reg. Pass prometheus.DefaultRegisterer
// in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autogift_cycles_total",
			Help: "Total evaluation cycles by caller and outcome",
		}, []string{"caller", "outcome"}),

		Intents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autogift_intents_total",
			Help: "Total mutation intents emitted by kind",
		}, []string{"kind"}),

		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autogift_cycle_duration_seconds",
			Help:    "Duration of evaluation cycles including rule, index and cart loading",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"caller"}),

		RulesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "autogift_rules_dropped_total",
			Help: "Total malformed rules dropped while loading rule documents",
		}),
	}
}

// ObserveCycle records one finished cycle.
func (m *Metrics) ObserveCycle(caller, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(caller, outcome).Inc()
	m.CycleDuration.WithLabelValues(caller).Observe(d.Seconds())
}

// CountIntents records emitted intents by kind.
func (m *Metrics) CountIntents(intents []types.MutationIntent) {
	if m == nil {
		return
	}
	for _, in := range intents {
		m.Intents.WithLabelValues(string(in.Kind)).Inc()
	}
}

// AddDroppedRules records rules dropped from a loaded document.
func (m *Metrics) AddDroppedRules(n int) {
	if m != nil && n > 0 {
		m.RulesDropped.Add(float64(n))
	}
}

// OutcomeFor maps an intent list to converged or applied.
func OutcomeFor(intents []types.MutationIntent) string {
	if len(intents) == 0 {
		return OutcomeConverged
	}
	return OutcomeApplied
}
