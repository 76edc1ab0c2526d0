package metrics

import coremetrics "github.com/fieldops/rove/core/metrics"

// MultiSink fans visit records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordVisitResult forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordVisitResult(results []coremetrics.VisitResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordVisitResult(results); err != nil {
			return err
		}
	}
	return nil
}

// RecordQueueDepths forwards queue depths when supported by the sink.
func (m *MultiSink) RecordQueueDepths(available, verification int) error {
	for _, s := range m.Sinks {
		if qr, ok := s.(coremetrics.QueueDepthRecorder); ok {
			if err := qr.RecordQueueDepths(available, verification); err != nil {
				return err
			}
		}
	}
	return nil
}
