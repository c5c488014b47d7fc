package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap/zapcore"

	"github.com/tokmz/sitesync/pkg/logger"
)

// NewLogHook 按级别统计写出的日志条数
func NewLogHook(reg prometheus.Registerer, ns string) logger.Hook {
	entries := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace(ns), Name: "log_entries_total",
		Help: "Log entries written by level",
	}, []string{"level"})

	return logger.HookFunc(func(e zapcore.Entry, _ []zapcore.Field) error {
		entries.WithLabelValues(e.Level.String()).Inc()
		return nil
	})
}
