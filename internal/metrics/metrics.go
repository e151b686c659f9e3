// Package metrics exposes the ingest pipeline's per-stage Prometheus
// counters (frames decoded, frames dropped per gate, store/publish
// failures) on the listener orchestrator's /metrics endpoint.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter the pipeline increments. A nil *Metrics is a
// safe no-op receiver, so call sites never need to guard on whether
// metrics were wired.
type Metrics struct {
	framesDecoded   prometheus.Counter
	decodeErrors    prometheus.Counter
	systemFrames    prometheus.Counter
	unknownDevice   prometheus.Counter
	droppedFrames   prometheus.Counter
	storeFailures   prometheus.Counter
	publishFailures prometheus.Counter
}

// New builds a Metrics instance and registers its counters with reg. Pass
// prometheus.DefaultRegisterer in production, or a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_frames_decoded_total",
			Help: "Data frames successfully decoded.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_decode_errors_total",
			Help: "Lines that failed codec decoding.",
		}),
		systemFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_system_frames_total",
			Help: "System frames acknowledged and discarded.",
		}),
		unknownDevice: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_unknown_device_frames_total",
			Help: "Data frames received before the connection's peer learned an IMEI.",
		}),
		droppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_dropped_frames_total",
			Help: "Frames rejected by the validator or an admission gate.",
		}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_store_failures_total",
			Help: "Store writes that returned an error.",
		}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingestd_publish_failures_total",
			Help: "Bus publications that returned an error.",
		}),
	}
	reg.MustRegister(m.framesDecoded, m.decodeErrors, m.systemFrames, m.unknownDevice,
		m.droppedFrames, m.storeFailures, m.publishFailures)
	return m
}

func (m *Metrics) IncFrameDecoded() {
	if m == nil {
		return
	}
	m.framesDecoded.Inc()
}

func (m *Metrics) IncDecodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) IncSystemFrame() {
	if m == nil {
		return
	}
	m.systemFrames.Inc()
}

func (m *Metrics) IncUnknownDevice() {
	if m == nil {
		return
	}
	m.unknownDevice.Inc()
}

func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	m.droppedFrames.Inc()
}

func (m *Metrics) IncStoreFailure() {
	if m == nil {
		return
	}
	m.storeFailures.Inc()
}

func (m *Metrics) IncPublishFailure() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}
