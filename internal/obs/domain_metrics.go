package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CarrierTrackTotal counts outbound carrier tracking calls by outcome.
	CarrierTrackTotal *prometheus.CounterVec
	// CarrierTrackDuration records carrier call latency in milliseconds.
	CarrierTrackDuration *prometheus.HistogramVec
	// CarrierTokenRefreshTotal counts OAuth token refresh outcomes per carrier.
	CarrierTokenRefreshTotal *prometheus.CounterVec
	// CircuitState exposes the current breaker state per outbound target.
	CircuitState *prometheus.GaugeVec
	// BatchRunsTotal counts batch reconciliation runs by result.
	BatchRunsTotal *prometheus.CounterVec
	// BatchRunDuration records total batch run duration in milliseconds.
	BatchRunDuration prometheus.Histogram
	// BatchShipmentsTotal counts per-shipment batch outcomes.
	BatchShipmentsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers tracking-domain
// Prometheus collectors. Safe to call more than once.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CarrierTrackTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carrier_track_total",
			Help:      "Count of carrier tracking calls by carrier and outcome.",
		}, []string{"carrier", "result"}))
		CarrierTrackDuration = registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "carrier_track_duration_ms",
			Help:      "Latency of carrier tracking calls in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"carrier"}))
		CarrierTokenRefreshTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carrier_token_refresh_total",
			Help:      "Count of OAuth token refresh attempts by carrier and result.",
		}, []string{"carrier", "result"}))
		CircuitState = registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per target (0 closed, 1 open, 2 half-open).",
		}, []string{"target"}))
		BatchRunsTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Count of batch reconciliation runs by result.",
		}, []string{"result"}))
		BatchRunDuration = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_run_duration_ms",
			Help:      "Total duration of batch reconciliation runs in milliseconds.",
			Buckets:   []float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000},
		}))
		BatchShipmentsTotal = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_shipments_total",
			Help:      "Count of shipments handled by batch runs, by outcome.",
		}, []string{"outcome"}))
	})
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram) prometheus.Histogram {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing
			}
		}
		panic(err)
	}
	return h
}
