package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tokmz/sitesync/pkg/hub"
)

var _ hub.Metrics = (*Hub)(nil)

// Hub hub.Metrics 的 prometheus 实现
type Hub struct {
	connections  *prometheus.GaugeVec
	accepted     *prometheus.CounterVec
	authFailures prometheus.Counter
	framesIn     *prometheus.CounterVec
	framesOut    *prometheus.CounterVec
	dropped      prometheus.Counter
	invalid      prometheus.Counter
	rooms        prometheus.Gauge
	broadcast    prometheus.Histogram
}

// NewHub 在 reg 上注册 hub 指标
func NewHub(reg prometheus.Registerer, ns string) *Hub {
	f := promauto.With(reg)
	ns = namespace(ns)
	return &Hub{
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "hub", Name: "connections",
			Help: "Number of open client connections by transport",
		}, []string{"transport"}),
		accepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "hub", Name: "connections_total",
			Help: "Total number of accepted client connections by transport",
		}, []string{"transport"}),
		authFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "hub", Name: "auth_failures_total",
			Help: "Total number of rejected handshake tokens",
		}),
		framesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "hub", Name: "frames_in_total",
			Help: "Total number of frames received from clients by event",
		}, []string{"event"}),
		framesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "hub", Name: "frames_out_total",
			Help: "Total number of frames queued to clients by event",
		}, []string{"event"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "hub", Name: "frames_dropped_total",
			Help: "Total number of frames dropped because a send queue was full",
		}),
		invalid: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "hub", Name: "frames_invalid_total",
			Help: "Total number of undecodable frames received",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "hub", Name: "rooms",
			Help: "Number of project rooms with at least one member",
		}),
		broadcast: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "hub", Name: "broadcast_duration_seconds",
			Help:    "Time spent fanning a frame out to local room members",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
	}
}

func (m *Hub) IncConnections(transport string) {
	m.connections.WithLabelValues(transport).Inc()
	m.accepted.WithLabelValues(transport).Inc()
}

func (m *Hub) DecConnections(transport string) {
	m.connections.WithLabelValues(transport).Dec()
}

func (m *Hub) IncAuthFailures()                 { m.authFailures.Inc() }
func (m *Hub) IncFramesIn(event string)         { m.framesIn.WithLabelValues(label(event)).Inc() }
func (m *Hub) IncFramesOut(event string)        { m.framesOut.WithLabelValues(label(event)).Inc() }
func (m *Hub) IncDroppedFrames()                { m.dropped.Inc() }
func (m *Hub) IncInvalidFrames()                { m.invalid.Inc() }
func (m *Hub) SetRoomCount(count int)           { m.rooms.Set(float64(count)) }
func (m *Hub) ObserveBroadcast(d time.Duration) { m.broadcast.Observe(d.Seconds()) }

// label 空事件名（应答帧）归为 ack
func label(event string) string {
	if event == "" {
		return "ack"
	}
	return event
}
