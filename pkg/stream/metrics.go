package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks frame-stream counters. A nil *Metrics discards
// everything so the collector stays optional.
type Metrics struct {
	framesReceived prometheus.Counter
	frameBytes     prometheus.Counter
	reconnects     prometheus.Counter
	connected      prometheus.Gauge
}

// NewMetrics creates a metrics collector registered against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		framesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "periscope",
			Name:      "stream_frames_received_total",
			Help:      "Visual frames received over the websocket stream.",
		}),
		frameBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "periscope",
			Name:      "stream_frame_bytes_total",
			Help:      "Total decoded frame payload bytes received.",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "periscope",
			Name:      "stream_reconnects_total",
			Help:      "Reconnection attempts scheduled after a close or dial failure.",
		}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "periscope",
			Name:      "stream_connected",
			Help:      "Whether the frame stream is currently open (1) or not (0).",
		}),
	}
}

// RecordFrame counts one received frame of n payload bytes.
func (m *Metrics) RecordFrame(n int) {
	if m == nil {
		return
	}
	m.framesReceived.Inc()
	m.frameBytes.Add(float64(n))
}

// RecordReconnect counts one scheduled reconnection attempt.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetConnected flips the connectivity gauge.
func (m *Metrics) SetConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
