// Package metrics defines the instrumentation surface of the paywall. The
// default recorder drops everything; wire a PrometheusRecorder to export.
package metrics

import "time"

// Recorder counts paywall events and observes operation latency.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
