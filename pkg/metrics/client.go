package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tokmz/sitesync/pkg/realtime"
)

var _ realtime.Metrics = (*Client)(nil)

// Client realtime.Metrics 的 prometheus 实现
type Client struct {
	connected       prometheus.Gauge
	attempts        *prometheus.CounterVec
	reconnectFailed prometheus.Counter
	disconnects     *prometheus.CounterVec
	framesIn        *prometheus.CounterVec
	framesOut       *prometheus.CounterVec
	ackLatency      *prometheus.HistogramVec
	panics          *prometheus.CounterVec
}

// NewClient 在 reg 上注册客户端指标
func NewClient(reg prometheus.Registerer, ns string) *Client {
	f := promauto.With(reg)
	ns = namespace(ns)
	return &Client{
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "client", Name: "connected",
			Help: "1 when the realtime client holds an open transport",
		}),
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "client", Name: "connect_attempts_total",
			Help: "Connection attempts by transport and result",
		}, []string{"transport", "result"}),
		reconnectFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "client", Name: "reconnect_failed_total",
			Help: "Times the reconnect attempt limit was reached",
		}),
		disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "client", Name: "disconnects_total",
			Help: "Disconnects by reason",
		}, []string{"reason"}),
		framesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "client", Name: "frames_received_total",
			Help: "Frames received by event kind",
		}, []string{"kind"}),
		framesOut: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "client", Name: "frames_sent_total",
			Help: "Frames sent by event",
		}, []string{"event"}),
		ackLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "client", Name: "ack_duration_seconds",
			Help:    "Room request round trip by event and result",
			Buckets: prometheus.DefBuckets,
		}, []string{"event", "result"}),
		panics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "client", Name: "handler_panics_total",
			Help: "Subscriber panics recovered by event",
		}, []string{"event"}),
	}
}

func (m *Client) SetConnected(connected bool) {
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Client) IncConnectAttempts(transport, result string) {
	m.attempts.WithLabelValues(transport, result).Inc()
}

func (m *Client) IncReconnectFailed()           { m.reconnectFailed.Inc() }
func (m *Client) IncDisconnects(reason string)  { m.disconnects.WithLabelValues(reason).Inc() }
func (m *Client) IncFramesReceived(kind string) { m.framesIn.WithLabelValues(kind).Inc() }
func (m *Client) IncFramesSent(event string)    { m.framesOut.WithLabelValues(event).Inc() }
func (m *Client) IncHandlerPanics(event string) { m.panics.WithLabelValues(event).Inc() }

func (m *Client) ObserveAck(event, result string, latency time.Duration) {
	m.ackLatency.WithLabelValues(event, result).Observe(latency.Seconds())
}
