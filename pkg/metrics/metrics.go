// Package metrics 提供 hub、realtime 客户端与事件接入的 prometheus 实现
package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace 指标命名空间
const DefaultNamespace = "sitesync"

// NewRegistry 创建带进程与 Go 运行时指标的注册表
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 暴露指标的 HTTP 处理器
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// GinHandler gin 版本的指标处理器
func GinHandler(g prometheus.Gatherer) gin.HandlerFunc {
	return gin.WrapH(Handler(g))
}

func namespace(ns string) string {
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}
