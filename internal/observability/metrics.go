// Package observability exposes the engine's prometheus metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the playback engine metric set. The producer and
// consumer goroutines update it; the outer shell may serve Registry.
type Metrics struct {
	registry *prometheus.Registry

	BufferFill    prometheus.Gauge
	BufferChunks  prometheus.Gauge
	Underruns     prometheus.Counter
	DecodedBytes  prometheus.Counter
	WrittenBytes  prometheus.Counter
	SinkErrors    prometheus.Counter
	DecodeErrors  prometheus.Counter
	TrackChanges  prometheus.Counter
}

// NewMetrics creates a metric set on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		BufferFill: factory.NewGauge(prometheus.GaugeOpts{
			Name: "canto_buffer_fill_chunks",
			Help: "Filled ring buffer chunks",
		}),
		BufferChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "canto_buffer_size_chunks",
			Help: "Total ring buffer chunks",
		}),
		Underruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "canto_consumer_underruns_total",
			Help: "Times the consumer found the ring buffer empty while playing",
		}),
		DecodedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "canto_decoded_bytes_total",
			Help: "PCM bytes produced by decoders",
		}),
		WrittenBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "canto_sink_written_bytes_total",
			Help: "PCM bytes written to the sink",
		}),
		SinkErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "canto_sink_errors_total",
			Help: "Sink write failures",
		}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "canto_decode_errors_total",
			Help: "Fatal decoder errors",
		}),
		TrackChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "canto_track_changes_total",
			Help: "Track transitions including EOF advances",
		}),
	}
}

// Registry returns the prometheus registry backing the metric set.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
