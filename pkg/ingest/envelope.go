// Package ingest 从消息队列消费业务事件并推送给 hub
package ingest

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/protocol"
	"github.com/tokmz/sitesync/pkg/tracing"
)

// Envelope 队列消息体，ProjectID 与 UserID 至少一个非空
type Envelope struct {
	Event     string          `json:"event"`
	ProjectID string          `json:"projectId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope 解析并校验消息体
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, ErrMalformedEnvelope.WithError(err)
	}
	if env.Event == "" {
		return env, ErrMalformedEnvelope.WithMessage("ingest: envelope without event")
	}
	if env.ProjectID == "" && env.UserID == "" {
		return env, ErrMalformedEnvelope.WithMessagef("ingest: %s envelope has no projectId or userId", env.Event)
	}
	return env, nil
}

// Sink 事件投递目标，*hub.Hub 满足该接口
type Sink interface {
	Publish(ctx context.Context, projectID, event string, payload any) error
	SendToUser(ctx context.Context, userID, event string, payload any) error
}

// Metrics 接入监控
type Metrics interface {
	IncEnvelopes(source, result string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncEnvelopes(string, string) {}

// 处理结果
const (
	ResultDelivered = "delivered"
	ResultMalformed = "malformed"
	ResultFailed    = "failed"
)

// Processor 解码消息并投递到 Sink
type Processor struct {
	sink    Sink
	log     logger.Logger
	metrics Metrics
}

// NewProcessor 创建处理器，log 与 m 可为 nil
func NewProcessor(sink Sink, log logger.Logger, m Metrics) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	if m == nil {
		m = NoopMetrics{}
	}
	return &Processor{sink: sink, log: log.Named("ingest"), metrics: m}
}

// Process 处理一条消息
// 返回 ErrMalformedEnvelope 时消息应被确认丢弃；返回 ErrDelivery 时由调用方决定是否重试
func (p *Processor) Process(ctx context.Context, source string, body []byte) (err error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.process", attribute.String("ingest.source", source))
	defer func() { tracing.End(span, err) }()

	env, err := DecodeEnvelope(body)
	if err != nil {
		p.metrics.IncEnvelopes(source, ResultMalformed)
		p.log.WarnContext(ctx, "drop malformed envelope",
			zap.String("source", source),
			zap.Int("size", len(body)),
			zap.Error(err))
		return err
	}
	span.SetAttributes(attribute.String("ingest.event", env.Event))

	if !protocol.IsDomainEvent(env.Event) {
		p.log.DebugContext(ctx, "forward unregistered event", zap.String("event", env.Event))
	}

	if env.ProjectID != "" {
		err = p.sink.Publish(ctx, env.ProjectID, env.Event, env.Data)
	} else {
		err = p.sink.SendToUser(ctx, env.UserID, env.Event, env.Data)
	}
	if err != nil {
		p.metrics.IncEnvelopes(source, ResultFailed)
		return ErrDelivery.WithMessagef("ingest: deliver %s", env.Event).WithError(err)
	}

	p.metrics.IncEnvelopes(source, ResultDelivered)
	return nil
}
