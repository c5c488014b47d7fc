package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/protocol"
)

// Config hub 配置
type Config struct {
	// 连接配置
	MaxConnections int           `mapstructure:"max_connections"` // 最大连接数
	MaxFrameSize   int64         `mapstructure:"max_frame_size"`  // 入站帧大小上限
	SendQueueSize  int           `mapstructure:"send_queue_size"` // 单连接发送队列
	WriteWait      time.Duration `mapstructure:"write_wait"`      // 单帧写超时

	// 心跳配置（websocket）
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`

	// 长轮询配置
	PollHold       time.Duration `mapstructure:"poll_hold"`        // GET 无数据时挂起时长
	PollSessionTTL time.Duration `mapstructure:"poll_session_ttl"` // 会话空闲超时
	PollBatchSize  int           `mapstructure:"poll_batch_size"`  // 单次 GET 最多返回的帧数

	// 房间配置
	MaxRoomSize int `mapstructure:"max_room_size"`

	// Origin 配置
	AllowedOrigins    []string                 `mapstructure:"allowed_origins"`
	EnableCompression bool                     `mapstructure:"enable_compression"`
	CheckOrigin       func(*http.Request) bool `mapstructure:"-"`

	// 节点 ID，跨节点广播时用于忽略自身消息
	NodeID string `mapstructure:"node_id"`

	// 依赖
	Authenticator Authenticator `mapstructure:"-"`
	RoomPolicy    RoomPolicy    `mapstructure:"-"`
	Bus           Bus           `mapstructure:"-"`
	Metrics       Metrics       `mapstructure:"-"`
	Logger        logger.Logger `mapstructure:"-"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		MaxFrameSize:      1e6,
		SendQueueSize:     256,
		WriteWait:         10 * time.Second,
		HeartbeatInterval: 25 * time.Second,
		HeartbeatTimeout:  60 * time.Second,
		PollHold:          25 * time.Second,
		PollSessionTTL:    60 * time.Second,
		PollBatchSize:     protocol.MaxPollBatch,
		MaxRoomSize:       1000,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Authenticator == nil {
		return ErrInvalidConfig.WithMessage("hub: authenticator is required")
	}
	if c.MaxConnections <= 0 {
		return ErrInvalidConfig.WithMessagef("hub: MaxConnections must be positive, got %d", c.MaxConnections)
	}
	if c.MaxFrameSize <= 0 {
		return ErrInvalidConfig.WithMessagef("hub: MaxFrameSize must be positive, got %d", c.MaxFrameSize)
	}
	if c.SendQueueSize <= 0 || c.PollBatchSize <= 0 {
		return ErrInvalidConfig.WithMessage("hub: SendQueueSize and PollBatchSize must be positive")
	}
	if c.PollBatchSize > protocol.MaxPollBatch {
		return ErrInvalidConfig.WithMessagef("hub: PollBatchSize must not exceed %d, got %d", protocol.MaxPollBatch, c.PollBatchSize)
	}
	if c.WriteWait <= 0 {
		return ErrInvalidConfig.WithMessagef("hub: WriteWait must be positive, got %v", c.WriteWait)
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidConfig.WithMessagef("hub: HeartbeatInterval must be positive, got %v", c.HeartbeatInterval)
	}
	if c.HeartbeatTimeout <= c.HeartbeatInterval {
		return ErrInvalidConfig.WithMessagef("hub: HeartbeatTimeout (%v) must be greater than HeartbeatInterval (%v)",
			c.HeartbeatTimeout, c.HeartbeatInterval)
	}
	if c.PollHold <= 0 || c.PollSessionTTL <= c.PollHold {
		return ErrInvalidConfig.WithMessagef("hub: PollSessionTTL (%v) must be greater than PollHold (%v)",
			c.PollSessionTTL, c.PollHold)
	}
	if c.MaxRoomSize <= 0 {
		return ErrInvalidConfig.WithMessagef("hub: MaxRoomSize must be positive, got %d", c.MaxRoomSize)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithConfig 使用外部加载的配置作为基础，依赖项保持不变
func WithConfig(base Config) Option {
	return func(c *Config) {
		deps := *c
		*c = base
		c.Authenticator, c.RoomPolicy, c.Bus, c.Metrics, c.Logger, c.CheckOrigin =
			deps.Authenticator, deps.RoomPolicy, deps.Bus, deps.Metrics, deps.Logger, deps.CheckOrigin
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(n int) Option {
	return func(c *Config) { c.MaxConnections = n }
}

// WithMaxFrameSize 设置入站帧大小上限
func WithMaxFrameSize(n int64) Option {
	return func(c *Config) { c.MaxFrameSize = n }
}

// WithMaxRoomSize 设置单个房间最大人数
func WithMaxRoomSize(n int) Option {
	return func(c *Config) { c.MaxRoomSize = n }
}

// WithHeartbeat 设置心跳间隔与超时
func WithHeartbeat(interval, timeout time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.HeartbeatTimeout = timeout
	}
}

// WithPolling 设置长轮询挂起时长与会话空闲超时
func WithPolling(hold, sessionTTL time.Duration) Option {
	return func(c *Config) {
		c.PollHold = hold
		c.PollSessionTTL = sessionTTL
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
func WithCheckOriginWhitelist(origins []string) Option {
	return func(c *Config) { c.AllowedOrigins = origins }
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// WithNodeID 设置节点 ID
func WithNodeID(id string) Option {
	return func(c *Config) { c.NodeID = id }
}

// WithAuthenticator 设置鉴权
func WithAuthenticator(a Authenticator) Option {
	return func(c *Config) { c.Authenticator = a }
}

// WithRoomPolicy 设置加入房间的权限检查
func WithRoomPolicy(p RoomPolicy) Option {
	return func(c *Config) { c.RoomPolicy = p }
}

// WithBus 设置跨节点广播
func WithBus(b Bus) Option {
	return func(c *Config) { c.Bus = b }
}

// WithMetrics 设置监控
func WithMetrics(m Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// checkOrigin 非浏览器客户端没有 Origin，直接放行；浏览器请求按白名单或同源检查
func checkOrigin(allowed []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		whitelist[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if len(whitelist) > 0 {
			return whitelist[origin]
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

func newUpgrader(cfg *Config) *websocket.Upgrader {
	check := cfg.CheckOrigin
	if check == nil {
		check = checkOrigin(cfg.AllowedOrigins)
	}
	return &websocket.Upgrader{
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       check,
		EnableCompression: cfg.EnableCompression,
	}
}
