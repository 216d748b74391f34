// Package loanmetrics exposes the loan lifecycle's prometheus and
// OpenTelemetry instrumentation, wired the same dual-emit way
// p2p/metrics.go instruments handshakes and gossip: one prometheus
// collector per signal for local scraping, and an otel counter mirror of
// the payment and repossession signals for whatever backend
// observability/otel.Init points at. The collateral-ratio, active-loan and
// refinance series are prometheus-only.
package loanmetrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var (
	initOnce sync.Once
	shared   *Metrics
)

// Metrics bundles every loan-domain instrument. Get returns the process-wide
// singleton; construct it once per process, not per loan.
type Metrics struct {
	paymentsMade      *prometheus.CounterVec
	repossessions     *prometheus.CounterVec
	collateralRatio   *prometheus.GaugeVec
	activeLoans       prometheus.Gauge
	refinanceAccepted prometheus.Counter

	meter                metric.Meter
	paymentsMadeCounter  metric.Int64Counter
	repossessionsCounter metric.Int64Counter
}

// Get returns the shared Metrics instance, registering its collectors with
// the default prometheus registry on first use.
func Get() *Metrics {
	initOnce.Do(func() {
		m := &Metrics{
			paymentsMade: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loanforge_payments_made_total",
				Help: "Count of successful MakePayment calls by loan asset.",
			}, []string{"funds_asset"}),
			repossessions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "loanforge_repossessions_total",
				Help: "Count of loans repossessed after the grace period lapsed.",
			}, []string{"collateral_asset"}),
			collateralRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "loanforge_collateral_ratio",
				Help: "Posted collateral divided by required collateral per loan, as a float.",
			}, []string{"loan_id"}),
			activeLoans: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "loanforge_active_loans",
				Help: "Count of loans currently in the Active state.",
			}),
			refinanceAccepted: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "loanforge_refinances_accepted_total",
				Help: "Count of accepted refinance proposals.",
			}),
		}
		prometheus.MustRegister(m.paymentsMade, m.repossessions, m.collateralRatio, m.activeLoans, m.refinanceAccepted)
		m.initMeter()
		shared = m
	})
	return shared
}

func (m *Metrics) initMeter() {
	meter := otel.GetMeterProvider().Meter("loanforge/loan")
	paymentsCounter, err := meter.Int64Counter("loanforge.payments_made")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("loanforge/loan")
		paymentsCounter, _ = fallback.Int64Counter("loanforge.payments_made")
		meter = fallback
	}
	repossessionsCounter, err := meter.Int64Counter("loanforge.repossessions")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("loanforge/loan")
		repossessionsCounter, _ = fallback.Int64Counter("loanforge.repossessions")
		meter = fallback
	}
	m.meter = meter
	m.paymentsMadeCounter = paymentsCounter
	m.repossessionsCounter = repossessionsCounter
}

// RecordPayment records a settled payment against fundsAsset.
func (m *Metrics) RecordPayment(ctx context.Context, fundsAsset string) {
	if m == nil {
		return
	}
	m.paymentsMade.WithLabelValues(fundsAsset).Inc()
	if m.paymentsMadeCounter != nil {
		m.paymentsMadeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("funds_asset", fundsAsset)))
	}
}

// RecordRepossession records a repossession against collateralAsset.
func (m *Metrics) RecordRepossession(ctx context.Context, collateralAsset string) {
	if m == nil {
		return
	}
	m.repossessions.WithLabelValues(collateralAsset).Inc()
	if m.repossessionsCounter != nil {
		m.repossessionsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("collateral_asset", collateralAsset)))
	}
}

// RecordRefinanceAccepted increments the refinance-accepted counter.
func (m *Metrics) RecordRefinanceAccepted() {
	if m == nil {
		return
	}
	m.refinanceAccepted.Inc()
}

// SetCollateralRatio publishes the current collateral-to-required ratio for
// loanID. Callers pass 0 when required collateral is 0 (no exposure yet).
func (m *Metrics) SetCollateralRatio(loanID string, ratio float64) {
	if m == nil {
		return
	}
	m.collateralRatio.WithLabelValues(loanID).Set(ratio)
}

// SetActiveLoans publishes the current count of Active-status loans.
func (m *Metrics) SetActiveLoans(count int) {
	if m == nil {
		return
	}
	m.activeLoans.Set(float64(count))
}
