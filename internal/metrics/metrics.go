// Package metrics exports encode session counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nvpipe"

// Metrics owns a registry and the collectors every session reports into.
type Metrics struct {
	reg *prometheus.Registry

	frames        *prometheus.CounterVec
	packets       *prometheus.CounterVec
	bytes         *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	queued        *prometheus.GaugeVec
	submitLatency *prometheus.HistogramVec
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_submitted_total",
			Help:      "Frames accepted by the encoder.",
		}, []string{"session", "encoder"}),
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Compressed packets retrieved.",
		}, []string{"session", "encoder"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_bytes_total",
			Help:      "Compressed bytes retrieved.",
		}, []string{"session", "encoder"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames rejected during submission.",
		}, []string{"session", "encoder"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Times the hardware path failed and a fallback encoder was used.",
		}, []string{"encoder"}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffers_queued",
			Help:      "Bitstream buffers submitted but not yet retrieved.",
		}, []string{"session", "encoder"}),
		submitLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "submit_seconds",
			Help:      "Time spent in Encode, including any retrieval it performs.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}, []string{"session", "encoder"}),
	}
	m.reg.MustRegister(m.frames, m.packets, m.bytes, m.dropped, m.fallbacks, m.queued, m.submitLatency)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Fallback records that encoder replaced the hardware path.
func (m *Metrics) Fallback(encoder string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(encoder).Inc()
}

// Session returns the collectors for one session. A nil Metrics yields a
// nil *Session, whose methods do nothing.
func (m *Metrics) Session(id, encoder string) *Session {
	if m == nil {
		return nil
	}
	return &Session{
		frames:  m.frames.WithLabelValues(id, encoder),
		packets: m.packets.WithLabelValues(id, encoder),
		bytes:   m.bytes.WithLabelValues(id, encoder),
		dropped: m.dropped.WithLabelValues(id, encoder),
		queued:  m.queued.WithLabelValues(id, encoder),
		latency: m.submitLatency.WithLabelValues(id, encoder),
	}
}

// Session reports for a single encode session.
type Session struct {
	frames  prometheus.Counter
	packets prometheus.Counter
	bytes   prometheus.Counter
	dropped prometheus.Counter
	queued  prometheus.Gauge
	latency prometheus.Observer
}

// Submitted records an accepted frame and how long Encode took.
func (s *Session) Submitted(d time.Duration) {
	if s == nil {
		return
	}
	s.frames.Inc()
	s.latency.Observe(d.Seconds())
}

// Produced records a retrieved packet.
func (s *Session) Produced(size int) {
	if s == nil {
		return
	}
	s.packets.Inc()
	s.bytes.Add(float64(size))
}

// Dropped records a rejected frame.
func (s *Session) Dropped() {
	if s == nil {
		return
	}
	s.dropped.Inc()
}

// Queued sets the number of in-flight buffers.
func (s *Session) Queued(n int) {
	if s == nil {
		return
	}
	s.queued.Set(float64(n))
}
