package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tokmz/sitesync/pkg/ingest"
)

var _ ingest.Metrics = (*Ingest)(nil)

// Ingest ingest.Metrics 的 prometheus 实现
type Ingest struct {
	envelopes *prometheus.CounterVec
}

// NewIngest 在 reg 上注册接入指标
func NewIngest(reg prometheus.Registerer, ns string) *Ingest {
	return &Ingest{
		envelopes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace(ns), Subsystem: "ingest", Name: "envelopes_total",
			Help: "Envelopes consumed by source and result",
		}, []string{"source", "result"}),
	}
}

func (m *Ingest) IncEnvelopes(source, result string) {
	m.envelopes.WithLabelValues(source, result).Inc()
}
