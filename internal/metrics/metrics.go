// SPDX-License-Identifier: MIT
// Package metrics provides prometheus counters for the capture pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink labels for SinkBytes.
const (
	SinkRaw = "raw"
	SinkFFT = "fft"
)

// PipelineMetrics counts buffers and FFT slots moving through a pipeline.
// A nil *PipelineMetrics is valid and records nothing.
type PipelineMetrics struct {
	buffersEnqueued prometheus.Counter
	buffersDropped  prometheus.Counter
	slotsDispatched prometheus.Counter
	slotsCollected  prometheus.Counter
	sinkBytes       *prometheus.CounterVec
}

// NewPipelineMetrics creates the counters and registers them on registry.
// Each pipeline that should report needs its own registry, or the second
// registration fails with prometheus.AlreadyRegisteredError.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		buffersEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iqpipe_buffers_enqueued_total",
			Help: "Sample buffers accepted by the sample queue",
		}),
		buffersDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iqpipe_buffers_dropped_total",
			Help: "Sample buffers dropped because the sample queue was full",
		}),
		slotsDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iqpipe_fft_slots_dispatched_total",
			Help: "FFT slots transformed by the dispatch worker",
		}),
		slotsCollected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iqpipe_fft_slots_collected_total",
			Help: "FFT slots converted to power and written by the collect worker",
		}),
		sinkBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iqpipe_sink_bytes_total",
				Help: "Uncompressed bytes written per sink",
			},
			[]string{"sink"}, // raw, fft
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.buffersEnqueued.Describe(ch)
	m.buffersDropped.Describe(ch)
	m.slotsDispatched.Describe(ch)
	m.slotsCollected.Describe(ch)
	m.sinkBytes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.buffersEnqueued.Collect(ch)
	m.buffersDropped.Collect(ch)
	m.slotsDispatched.Collect(ch)
	m.slotsCollected.Collect(ch)
	m.sinkBytes.Collect(ch)
}

// RecordEnqueue counts one sample buffer handed to the queue, accepted or
// dropped.
func (m *PipelineMetrics) RecordEnqueue(dropped bool) {
	if m == nil {
		return
	}
	if dropped {
		m.buffersDropped.Inc()
		return
	}
	m.buffersEnqueued.Inc()
}

// RecordDispatch counts one transformed FFT slot.
func (m *PipelineMetrics) RecordDispatch() {
	if m == nil {
		return
	}
	m.slotsDispatched.Inc()
}

// RecordCollect counts one collected FFT slot.
func (m *PipelineMetrics) RecordCollect() {
	if m == nil {
		return
	}
	m.slotsCollected.Inc()
}

// RecordSinkBytes adds n written bytes to the given sink label.
func (m *PipelineMetrics) RecordSinkBytes(sink string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sinkBytes.WithLabelValues(sink).Add(float64(n))
}
