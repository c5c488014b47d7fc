package hub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/logger"
)

// DefaultBusChannel 默认跨节点广播频道
const DefaultBusChannel = "sitesync:hub"

// Envelope 跨节点广播消息，Room 与 UserID 二选一
type Envelope struct {
	Origin string          `json:"origin"`
	Room   string          `json:"room,omitempty"`
	UserID string          `json:"userId,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Bus 跨节点广播
type Bus interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe 阻塞接收，ctx 取消后返回 nil
	Subscribe(ctx context.Context, fn func(Envelope)) error
}

// RedisBus 基于 redis pub/sub 的跨节点广播
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	log     logger.Logger
}

// NewRedisBus 创建 redis 广播，channel 为空时使用 DefaultBusChannel
func NewRedisBus(client redis.UniversalClient, channel string, log logger.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultBusChannel
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisBus{client: client, channel: channel, log: log.Named("hub.bus")}
}

// Publish 实现 Bus
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return ErrInvalidFrame.WithError(err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe 实现 Bus
func (b *RedisBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	ps := b.client.Subscribe(ctx, b.channel)
	defer ps.Close()

	// 等待订阅确认
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.log.Warn("malformed envelope", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			fn(env)
		}
	}
}

// MemoryBus 进程内广播，用于单进程多 Hub
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[chan Envelope]struct{}
}

// NewMemoryBus 创建进程内广播
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[chan Envelope]struct{})}
}

// Publish 实现 Bus，订阅方积压时丢弃
func (b *MemoryBus) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var dropped bool
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			dropped = true
		}
	}
	if dropped {
		return ErrChannelFull.WithMessage("hub: memory bus subscriber is lagging")
	}
	return nil
}

// Subscribers 当前订阅数
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Subscribe 实现 Bus
func (b *MemoryBus) Subscribe(ctx context.Context, fn func(Envelope)) error {
	ch := make(chan Envelope, 256)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-ch:
			fn(env)
		}
	}
}
