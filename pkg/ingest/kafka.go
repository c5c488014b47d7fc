package ingest

import (
	"context"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/logger"
)

// SourceKafka kafka 来源标签
const SourceKafka = "kafka"

// KafkaConfig kafka 消费配置
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topics        []string `mapstructure:"topics"`
	GroupID       string   `mapstructure:"group_id"`
	ClientID      string   `mapstructure:"client_id"`
	Version       string   `mapstructure:"version"`        // 如 2.8.0，空时使用 sarama 默认
	InitialOffset string   `mapstructure:"initial_offset"` // newest | oldest
}

// Validate 验证配置
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrInvalidConfig.WithMessage("ingest: kafka brokers are required")
	}
	if len(c.Topics) == 0 {
		return ErrInvalidConfig.WithMessage("ingest: kafka topics are required")
	}
	if c.GroupID == "" {
		return ErrInvalidConfig.WithMessage("ingest: kafka group_id is required")
	}
	switch c.InitialOffset {
	case "", "newest", "oldest":
	default:
		return ErrInvalidConfig.WithMessagef("ingest: unknown kafka initial_offset %q", c.InitialOffset)
	}
	return nil
}

func (c *KafkaConfig) saramaConfig() (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = c.ClientID
	if sc.ClientID == "" {
		sc.ClientID = "sitesync-ingest"
	}
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, ErrInvalidConfig.WithError(err)
		}
		sc.Version = v
	}
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if c.InitialOffset == "oldest" {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	return sc, nil
}

// KafkaConsumer kafka 消费组
type KafkaConsumer struct {
	cfg       KafkaConfig
	group     sarama.ConsumerGroup
	processor *Processor
	log       logger.Logger
}

// NewKafkaConsumer 创建消费组
func NewKafkaConsumer(cfg KafkaConfig, p *Processor, log logger.Logger) (*KafkaConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc, err := cfg.saramaConfig()
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, ErrConsumer.WithMessage("ingest: create kafka consumer group").WithError(err)
	}
	return newKafkaConsumer(cfg, group, p, log), nil
}

func newKafkaConsumer(cfg KafkaConfig, group sarama.ConsumerGroup, p *Processor, log logger.Logger) *KafkaConsumer {
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaConsumer{cfg: cfg, group: group, processor: p, log: log.Named("ingest.kafka")}
}

// Run 消费直到 ctx 取消；每次再均衡后重新加入消费组
func (k *KafkaConsumer) Run(ctx context.Context) error {
	go func() {
		for err := range k.group.Errors() {
			k.log.Warn("consumer group error", zap.Error(err))
		}
	}()

	handler := &claimHandler{processor: k.processor, log: k.log}
	for {
		if err := k.group.Consume(ctx, k.cfg.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			k.log.Error("consume failed, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close 关闭消费组
func (k *KafkaConsumer) Close() error {
	return k.group.Close()
}

// claimHandler 实现 sarama.ConsumerGroupHandler
type claimHandler struct {
	processor *Processor
	log       logger.Logger
}

func (h *claimHandler) Setup(s sarama.ConsumerGroupSession) error {
	h.log.Info("partitions assigned", zap.Any("claims", s.Claims()), zap.Int32("generation", s.GenerationID()))
	return nil
}

func (h *claimHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 实时事件不重放：投递失败只记录日志，偏移照常提交
func (h *claimHandler) ConsumeClaim(s sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.processor.Process(s.Context(), SourceKafka, msg.Value); err != nil && !errors.Is(err, ErrMalformedEnvelope) {
				h.log.Warn("envelope not delivered",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
			}
			s.MarkMessage(msg, "")
		case <-s.Context().Done():
			return nil
		}
	}
}
