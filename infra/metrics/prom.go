// Package metrics provides the exporter sinks behind the core metrics
// interfaces.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/fieldops/rove/core/metrics"
)

// PromSink records visit events in Prometheus metrics.
type PromSink struct {
	visits *prometheus.CounterVec
	seen   prometheus.Counter
	queues *prometheus.GaugeVec
}

// NewPromSink registers visit metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(cfg coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	visits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "visit_events_total",
		Help: "Total number of completed visit operations",
	}, []string{"known", "bootstrap", "found"})
	seen := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sightings_total",
		Help: "Total distinct sightings reported by visits",
	})
	queues := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "account_queue_depth",
		Help: "Number of accounts in each credential queue",
	}, []string{"queue"})

	if err := reg.Register(visits); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			visits = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(seen); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			seen = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(queues); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			queues = are.ExistingCollector.(*prometheus.GaugeVec)
		} else {
			return nil, err
		}
	}
	return &PromSink{visits: visits, seen: seen, queues: queues}, nil
}

// RecordVisitResult increments the counters for each visit result.
func (s *PromSink) RecordVisitResult(res []coremetrics.VisitResult) error {
	for _, r := range res {
		s.visits.WithLabelValues(
			strconv.FormatBool(r.Known),
			strconv.FormatBool(r.Bootstrap),
			strconv.FormatBool(r.Found),
		).Inc()
		s.seen.Add(float64(r.Seen))
	}
	return nil
}

// RecordQueueDepths sets the queue depth gauges.
func (s *PromSink) RecordQueueDepths(available, verification int) error {
	s.queues.WithLabelValues("available").Set(float64(available))
	s.queues.WithLabelValues("verification").Set(float64(verification))
	return nil
}
