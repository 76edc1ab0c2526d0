package metrics

import (
	"time"

	"github.com/fieldops/rove/core/model"
)

// VisitResult represents one completed visit to be recorded.
type VisitResult struct {
	WorkerID  int
	Point     model.Point
	SpawnID   string
	Known     bool // the spawn time was known when dispatched
	Bootstrap bool
	Found     bool
	Seen      int // distinct sightings reported by the visit
	Latency   time.Duration
	Time      time.Time
}

// Sink records visit results for observability purposes.
type Sink interface {
	RecordVisitResult(results []VisitResult) error
}

// QueueDepthRecorder records credential queue depths. Sinks may optionally
// implement it.
type QueueDepthRecorder interface {
	RecordQueueDepths(available, verification int) error
}

// NopSink discards all records.
type NopSink struct{}

// RecordVisitResult implements Sink.
func (NopSink) RecordVisitResult([]VisitResult) error { return nil }

// Config defines metrics exporter settings.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    string `json:"prometheus_port"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = ":9090"
	}
}
