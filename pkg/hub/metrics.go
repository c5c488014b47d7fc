package hub

import "time"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncConnections(transport string)
	DecConnections(transport string)
	IncAuthFailures()

	// 帧指标
	IncFramesIn(event string)
	IncFramesOut(event string)
	IncDroppedFrames()
	IncInvalidFrames()

	// 房间指标
	SetRoomCount(count int)
	ObserveBroadcast(d time.Duration)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncConnections(string)            {}
func (NoopMetrics) DecConnections(string)            {}
func (NoopMetrics) IncAuthFailures()                 {}
func (NoopMetrics) IncFramesIn(string)               {}
func (NoopMetrics) IncFramesOut(string)              {}
func (NoopMetrics) IncDroppedFrames()                {}
func (NoopMetrics) IncInvalidFrames()                {}
func (NoopMetrics) SetRoomCount(int)                 {}
func (NoopMetrics) ObserveBroadcast(d time.Duration) {}
