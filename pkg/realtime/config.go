package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/tokmz/sitesync/pkg/logger"
)

// TokenSource 凭证来源
// 返回空串表示当前没有令牌，这不是错误
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc 函数适配 TokenSource
type TokenFunc func(ctx context.Context) (string, error)

// Token 实现 TokenSource
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken 固定令牌
func StaticToken(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

// Config 客户端配置，构造后不可修改
type Config struct {
	// 连接配置
	URL             string          // 服务端地址，如 http://localhost:8080/realtime
	Header          http.Header     // 握手附加请求头
	Transports      []TransportKind // 传输优先级（默认 websocket, polling）
	RememberUpgrade bool            // 重连时优先使用上次成功的传输
	ConnectTimeout  time.Duration   // Initialize 等待时间（默认 10s）
	MaxFrameSize    int64           // 入站帧大小上限（默认 1MB）
	WriteTimeout    time.Duration   // 单帧写超时（默认 10s）
	PingTimeout     time.Duration   // 超过该时间未收到任何数据视为断开（默认 60s）
	PollTimeout     time.Duration   // 长轮询单次请求超时（默认 45s，需大于服务端挂起时间）

	// 重连配置
	Reconnection         bool          // 是否自动重连（默认 true）
	MaxReconnectAttempts int           // 连续连接失败上限（默认 5）
	ReconnectDelay       time.Duration // 初始退避（默认 1s）
	ReconnectDelayMax    time.Duration // 最大退避（默认 5s）
	RandomizationFactor  float64       // 退避抖动（默认 0.5）

	// 房间请求等待应答的时间，0 表示一直等待（默认 10s）
	AckTimeout time.Duration

	// 依赖
	Tokens  TokenSource
	Dialer  Dialer // 为空时按 Transports 构造内置传输
	Logger  logger.Logger
	Metrics Metrics
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Transports:           []TransportKind{TransportWebSocket, TransportPolling},
		RememberUpgrade:      true,
		ConnectTimeout:       10 * time.Second,
		MaxFrameSize:         1e6,
		WriteTimeout:         10 * time.Second,
		PingTimeout:          60 * time.Second,
		PollTimeout:          45 * time.Second,
		Reconnection:         true,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		ReconnectDelayMax:    5 * time.Second,
		RandomizationFactor:  0.5,
		AckTimeout:           10 * time.Second,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Tokens == nil {
		return ErrInvalidConfig.WithMessage("realtime: token source is required")
	}
	if c.Dialer == nil && c.URL == "" {
		return ErrInvalidConfig.WithMessage("realtime: URL is required when no dialer is given")
	}
	if c.Dialer == nil && len(c.Transports) == 0 {
		return ErrInvalidConfig.WithMessage("realtime: at least one transport is required")
	}
	for _, t := range c.Transports {
		if t != TransportWebSocket && t != TransportPolling {
			return ErrInvalidConfig.WithMessagef("realtime: unknown transport %q", t)
		}
	}
	if c.ConnectTimeout <= 0 {
		return ErrInvalidConfig.WithMessagef("realtime: ConnectTimeout must be positive, got %v", c.ConnectTimeout)
	}
	if c.WriteTimeout <= 0 || c.PollTimeout <= 0 {
		return ErrInvalidConfig.WithMessage("realtime: WriteTimeout and PollTimeout must be positive")
	}
	if c.PingTimeout < 0 {
		return ErrInvalidConfig.WithMessagef("realtime: PingTimeout must not be negative, got %v", c.PingTimeout)
	}
	if c.MaxFrameSize <= 0 {
		return ErrInvalidConfig.WithMessagef("realtime: MaxFrameSize must be positive, got %d", c.MaxFrameSize)
	}
	if c.MaxReconnectAttempts <= 0 {
		return ErrInvalidConfig.WithMessagef("realtime: MaxReconnectAttempts must be positive, got %d", c.MaxReconnectAttempts)
	}
	if c.ReconnectDelay <= 0 || c.ReconnectDelayMax < c.ReconnectDelay {
		return ErrInvalidConfig.WithMessagef("realtime: invalid reconnect delay range [%v, %v]", c.ReconnectDelay, c.ReconnectDelayMax)
	}
	if c.RandomizationFactor < 0 || c.RandomizationFactor > 1 {
		return ErrInvalidConfig.WithMessagef("realtime: RandomizationFactor must be within [0, 1], got %v", c.RandomizationFactor)
	}
	if c.AckTimeout < 0 {
		return ErrInvalidConfig.WithMessagef("realtime: AckTimeout must not be negative, got %v", c.AckTimeout)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithURL 设置服务端地址
func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

// WithHeader 设置握手附加请求头
func WithHeader(h http.Header) Option {
	return func(c *Config) { c.Header = h }
}

// WithTransports 设置传输优先级
func WithTransports(kinds ...TransportKind) Option {
	return func(c *Config) { c.Transports = kinds }
}

// WithRememberUpgrade 设置是否记住上次成功的传输
func WithRememberUpgrade(remember bool) Option {
	return func(c *Config) { c.RememberUpgrade = remember }
}

// WithConnectTimeout 设置 Initialize 超时
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

// WithMaxFrameSize 设置入站帧大小上限
func WithMaxFrameSize(n int64) Option {
	return func(c *Config) { c.MaxFrameSize = n }
}

// WithPingTimeout 设置读空闲超时
func WithPingTimeout(d time.Duration) Option {
	return func(c *Config) { c.PingTimeout = d }
}

// WithWriteTimeout 设置单帧写超时
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Config) { c.WriteTimeout = d }
}

// WithPollTimeout 设置长轮询单次请求超时
func WithPollTimeout(d time.Duration) Option {
	return func(c *Config) { c.PollTimeout = d }
}

// WithReconnection 设置是否自动重连
func WithReconnection(enable bool) Option {
	return func(c *Config) { c.Reconnection = enable }
}

// WithMaxReconnectAttempts 设置连续连接失败上限
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Config) { c.MaxReconnectAttempts = n }
}

// WithReconnectDelay 设置重连退避区间
func WithReconnectDelay(initial, max time.Duration) Option {
	return func(c *Config) {
		c.ReconnectDelay = initial
		c.ReconnectDelayMax = max
	}
}

// WithAckTimeout 设置房间请求应答超时，0 表示一直等待
func WithAckTimeout(d time.Duration) Option {
	return func(c *Config) { c.AckTimeout = d }
}

// WithTokenSource 设置凭证来源
func WithTokenSource(ts TokenSource) Option {
	return func(c *Config) { c.Tokens = ts }
}

// WithDialer 设置自定义传输
func WithDialer(d Dialer) Option {
	return func(c *Config) { c.Dialer = d }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics 设置指标
func WithMetrics(m Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}
