package ingest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/logger"
)

// SourceAMQP amqp 来源标签
const SourceAMQP = "amqp"

// AMQPConfig amqp 消费配置
type AMQPConfig struct {
	URL         string `mapstructure:"url"`
	Queue       string `mapstructure:"queue"`
	Exchange    string `mapstructure:"exchange"`    // 为空时直接消费队列
	RoutingKey  string `mapstructure:"routing_key"` // 绑定 exchange 时使用
	ConsumerTag string `mapstructure:"consumer_tag"`
	Prefetch    int    `mapstructure:"prefetch"`
	Durable     bool   `mapstructure:"durable"`
}

// Validate 验证配置
func (c *AMQPConfig) Validate() error {
	if c.URL == "" {
		return ErrInvalidConfig.WithMessage("ingest: amqp url is required")
	}
	if c.Queue == "" {
		return ErrInvalidConfig.WithMessage("ingest: amqp queue is required")
	}
	if c.Prefetch < 0 {
		return ErrInvalidConfig.WithMessagef("ingest: amqp prefetch must not be negative, got %d", c.Prefetch)
	}
	return nil
}

// AMQPConsumer amqp 队列消费者，连接断开后按指数退避重连
type AMQPConsumer struct {
	cfg       AMQPConfig
	processor *Processor
	log       logger.Logger
}

// NewAMQPConsumer 创建消费者
func NewAMQPConsumer(cfg AMQPConfig, p *Processor, log logger.Logger) (*AMQPConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Prefetch == 0 {
		cfg.Prefetch = 64
	}
	return &AMQPConsumer{cfg: cfg, processor: p, log: log.Named("ingest.amqp")}, nil
}

// Run 消费直到 ctx 取消
func (a *AMQPConsumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		err := a.consume(ctx, b)
		if ctx.Err() != nil {
			return nil
		}
		wait := b.NextBackOff()
		a.log.Warn("amqp consumer stopped, reconnecting", zap.Duration("in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// consume 单次连接的消费循环
func (a *AMQPConsumer) consume(ctx context.Context, b backoff.BackOff) error {
	conn, err := amqp.Dial(a.cfg.URL)
	if err != nil {
		return ErrConsumer.WithMessage("ingest: amqp dial").WithError(err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return ErrConsumer.WithMessage("ingest: amqp channel").WithError(err)
	}
	defer ch.Close()

	if err := a.declare(ch); err != nil {
		return err
	}

	deliveries, err := ch.ConsumeWithContext(ctx, a.cfg.Queue, a.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return ErrConsumer.WithMessage("ingest: amqp consume").WithError(err)
	}

	a.log.Info("consuming", zap.String("queue", a.cfg.Queue))
	b.Reset()

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return ErrConsumer.WithMessage("ingest: amqp connection closed")
			}
			return ErrConsumer.WithError(amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				return ErrConsumer.WithMessage("ingest: amqp delivery channel closed")
			}
			a.handle(ctx, d)
		}
	}
}

func (a *AMQPConsumer) declare(ch *amqp.Channel) error {
	if err := ch.Qos(a.cfg.Prefetch, 0, false); err != nil {
		return ErrConsumer.WithMessage("ingest: amqp qos").WithError(err)
	}
	if _, err := ch.QueueDeclare(a.cfg.Queue, a.cfg.Durable, !a.cfg.Durable, false, false, nil); err != nil {
		return ErrConsumer.WithMessage("ingest: amqp queue declare").WithError(err)
	}
	if a.cfg.Exchange == "" {
		return nil
	}
	if err := ch.QueueBind(a.cfg.Queue, a.cfg.RoutingKey, a.cfg.Exchange, false, nil); err != nil {
		return ErrConsumer.WithMessage("ingest: amqp queue bind").WithError(err)
	}
	return nil
}

// handle 格式错误直接确认；投递失败首次重新入队，重投仍失败则丢弃
func (a *AMQPConsumer) handle(ctx context.Context, d amqp.Delivery) {
	err := a.processor.Process(ctx, SourceAMQP, d.Body)
	switch {
	case err == nil, errors.Is(err, ErrMalformedEnvelope):
		if ackErr := d.Ack(false); ackErr != nil {
			a.log.Warn("ack failed", zap.Uint64("tag", d.DeliveryTag), zap.Error(ackErr))
		}
	case !d.Redelivered:
		if nackErr := d.Nack(false, true); nackErr != nil {
			a.log.Warn("nack failed", zap.Uint64("tag", d.DeliveryTag), zap.Error(nackErr))
		}
	default:
		a.log.Warn("drop envelope after redelivery", zap.Uint64("tag", d.DeliveryTag), zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			a.log.Warn("nack failed", zap.Uint64("tag", d.DeliveryTag), zap.Error(nackErr))
		}
	}
}
