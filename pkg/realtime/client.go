package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/logger"
)

// Client 实时同步客户端
// 一个 Client 对应一条逻辑连接，订阅表与连接状态都归它所有
type Client struct {
	cfg      *Config
	log      logger.Logger
	tokens   TokenSource
	dialer   Dialer
	registry *Registry
	metrics  Metrics

	mu             sync.Mutex
	session        *session
	conn           Conn
	connected      bool
	authenticated  bool
	socketID       string
	transport      TransportKind
	currentUser    *User
	currentProject string
	attempts       int
	pending        map[string]chan ackResult
}

// New 创建客户端
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig 使用配置创建客户端
func NewWithConfig(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	log = log.Named("realtime")

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = newNegotiator(cfg, log)
	}

	registry := NewRegistry(log)
	registry.OnPanic = func(event string, _ any) {
		metrics.IncHandlerPanics(event)
	}

	return &Client{
		cfg:      cfg,
		log:      log,
		tokens:   cfg.Tokens,
		dialer:   dialer,
		registry: registry,
		metrics:  metrics,
		pending:  make(map[string]chan ackResult),
	}, nil
}

// On 订阅事件
func (c *Client) On(event string, h Handler) *Subscription {
	return c.registry.On(event, h)
}

// Off 取消订阅
func (c *Client) Off(sub *Subscription) {
	c.registry.Off(sub)
}

// Emit 向本地订阅者发布事件，返回收到事件的订阅者数量
func (c *Client) Emit(event string, payload any) int {
	var raw json.RawMessage
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			c.log.Warn("emit: encode payload failed", zap.String("event", event), zap.Error(err))
			return 0
		}
		raw = b
	}
	return c.registry.Emit(Event{Name: event, Payload: raw, Time: time.Now()})
}

// Registry 客户端的订阅表
func (c *Client) Registry() *Registry {
	return c.registry
}

// Subscribe 订阅事件并将载荷解析为 T，解析失败的事件被跳过并记录日志
func Subscribe[T any](c *Client, event string, fn func(T)) *Subscription {
	return c.On(event, func(e Event) {
		v, err := Decode[T](e)
		if err != nil {
			c.log.Warn("drop undecodable payload", zap.String("event", e.Name), zap.Error(err))
			return
		}
		fn(v)
	})
}
