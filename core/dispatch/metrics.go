package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	visitsTotal    prometheus.Counter
	skippedTotal   prometheus.Counter
	redundantTotal prometheus.Counter
	pausedSeconds  prometheus.Counter
	accountSwaps   *prometheus.CounterVec
	inFlightGauge  prometheus.Gauge
	visitLatency   *prometheus.HistogramVec
)

// newCollectors creates new metric collectors.
func newCollectors() (prometheus.Counter, prometheus.Counter, prometheus.Counter, prometheus.Counter, *prometheus.CounterVec, prometheus.Gauge, *prometheus.HistogramVec) {
	visits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_visits_total",
		Help: "Number of successful visits",
	})
	skipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_skipped_total",
		Help: "Number of events skipped as too stale or unreachable",
	})
	redundant := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_redundant_total",
		Help: "Number of overdue events already present in the sighting store",
	})
	paused := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_paused_seconds_total",
		Help: "Time spent paused on verification-queue backpressure",
	})
	swaps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_account_swaps_total",
			Help: "Number of credential swaps",
		},
		[]string{"reason"},
	)
	inflight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_in_flight_tasks",
		Help: "Number of admission permits currently held",
	})
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_visit_latency_seconds",
			Help:    "Duration of visit operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	return visits, skipped, redundant, paused, swaps, inflight, latency
}

func init() {
	visitsTotal, skippedTotal, redundantTotal, pausedSeconds, accountSwaps, inFlightGauge, visitLatency = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(visitsTotal, skippedTotal, redundantTotal, pausedSeconds, accountSwaps, inFlightGauge, visitLatency)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	visitsTotal, skippedTotal, redundantTotal, pausedSeconds, accountSwaps, inFlightGauge, visitLatency = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
