package realtime

import "time"

// Metrics 客户端监控接口
type Metrics interface {
	// 连接
	SetConnected(connected bool)
	IncConnectAttempts(transport, result string)
	IncReconnectFailed()
	IncDisconnects(reason string)

	// 帧
	IncFramesReceived(kind string)
	IncFramesSent(event string)

	// 房间请求
	ObserveAck(event, result string, latency time.Duration)

	// 订阅者
	IncHandlerPanics(event string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) SetConnected(bool)                        {}
func (NoopMetrics) IncConnectAttempts(string, string)        {}
func (NoopMetrics) IncReconnectFailed()                      {}
func (NoopMetrics) IncDisconnects(string)                    {}
func (NoopMetrics) IncFramesReceived(string)                 {}
func (NoopMetrics) IncFramesSent(string)                     {}
func (NoopMetrics) ObserveAck(string, string, time.Duration) {}
func (NoopMetrics) IncHandlerPanics(string)                  {}
