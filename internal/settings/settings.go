// Package settings holds the typed configuration tree shared by sync-server and sync-client.
//
// Values come from (lowest to highest priority) Defaults, an optional config file and
// SITESYNC_* environment variables, e.g. SITESYNC_HUB_POLL_HOLD=20s overrides hub.poll_hold.
package settings

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/sitesync/pkg/cache"
	"github.com/tokmz/sitesync/pkg/config"
	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/hub"
	"github.com/tokmz/sitesync/pkg/ingest"
	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/metrics"
	"github.com/tokmz/sitesync/pkg/tracing"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "SITESYNC"

// ErrInvalidSettings 配置校验失败
var ErrInvalidSettings = errors.New(3201, 500, "invalid settings", nil)

// Settings 配置根节点
type Settings struct {
	Server  Server         `mapstructure:"server"`
	Auth    Auth           `mapstructure:"auth"`
	Hub     hub.Config     `mapstructure:"hub"`
	Client  Client         `mapstructure:"client"`
	Log     logger.Config  `mapstructure:"log"`
	Tracing tracing.Config `mapstructure:"tracing"`
	Metrics Metrics        `mapstructure:"metrics"`
	Redis   Redis          `mapstructure:"redis"`
	Ingest  Ingest         `mapstructure:"ingest"`
}

// Server HTTP 服务配置
type Server struct {
	Addr           string        `mapstructure:"addr"`
	Mode           string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"` // 0 或大于 hub.poll_hold，否则长轮询会被截断
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
	BasePath       string        `mapstructure:"base_path"` // hub 挂载路径

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// 握手限流（按客户端 IP），0 表示不限流
	HandshakeRate  float64 `mapstructure:"handshake_rate"`
	HandshakeBurst int     `mapstructure:"handshake_burst"`

	// POST /api/publish，需要 auth.publish_role 角色的令牌
	EnablePublish bool `mapstructure:"enable_publish"`
}

// Auth 令牌校验配置
type Auth struct {
	Secret      string        `mapstructure:"secret"`
	Issuer      string        `mapstructure:"issuer"`
	Leeway      time.Duration `mapstructure:"leeway"`
	PublishRole string        `mapstructure:"publish_role"`
}

// Client sync-client 配置
type Client struct {
	URL                  string        `mapstructure:"url"`
	ProjectID            string        `mapstructure:"project_id"`
	Token                string        `mapstructure:"token"`
	TokenEnv             string        `mapstructure:"token_env"` // 优先于 Token
	Transports           []string      `mapstructure:"transports"`
	PresenceInterval     time.Duration `mapstructure:"presence_interval"`
	AckTimeout           time.Duration `mapstructure:"ack_timeout"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// Metrics prometheus 配置
type Metrics struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// Redis 跨节点广播
type Redis struct {
	Enabled           bool   `mapstructure:"enabled"`
	Channel           string `mapstructure:"channel"`
	cache.RedisConfig `mapstructure:",squash"`
}

// Ingest 外部事件接入
type Ingest struct {
	Kafka Kafka `mapstructure:"kafka"`
	AMQP  AMQP  `mapstructure:"amqp"`
}

// Kafka kafka 消费组
type Kafka struct {
	Enabled            bool `mapstructure:"enabled"`
	ingest.KafkaConfig `mapstructure:",squash"`
}

// AMQP amqp 队列
type AMQP struct {
	Enabled           bool `mapstructure:"enabled"`
	ingest.AMQPConfig `mapstructure:",squash"`
}

// Defaults 所有配置项的默认值
// 以点分隔的键名列出，环境变量只能覆盖 viper 已知的键
func Defaults() map[string]any {
	h := hub.DefaultConfig()
	tc := tracing.DefaultConfig()
	rc := cache.DefaultRedisConfig()

	return map[string]any{
		"server.addr":             ":8080",
		"server.mode":             gin.ReleaseMode,
		"server.read_timeout":     10 * time.Second,
		"server.write_timeout":    time.Duration(0),
		"server.idle_timeout":     60 * time.Second,
		"server.max_header_bytes": 1 << 20,
		"server.trusted_proxies":  []string{},
		"server.base_path":        "/realtime",
		"server.shutdown_timeout": 10 * time.Second,
		"server.handshake_rate":   20.0,
		"server.handshake_burst":  40,
		"server.enable_publish":   false,

		"auth.secret":       "",
		"auth.issuer":       "sitesync",
		"auth.leeway":       30 * time.Second,
		"auth.publish_role": "service",

		"hub.max_connections":    h.MaxConnections,
		"hub.max_frame_size":     h.MaxFrameSize,
		"hub.send_queue_size":    h.SendQueueSize,
		"hub.write_wait":         h.WriteWait,
		"hub.heartbeat_interval": h.HeartbeatInterval,
		"hub.heartbeat_timeout":  h.HeartbeatTimeout,
		"hub.poll_hold":          h.PollHold,
		"hub.poll_session_ttl":   h.PollSessionTTL,
		"hub.poll_batch_size":    h.PollBatchSize,
		"hub.max_room_size":      h.MaxRoomSize,
		"hub.allowed_origins":    []string{},
		"hub.enable_compression": false,
		"hub.node_id":            "",

		"client.url":                    "http://localhost:8080/realtime",
		"client.project_id":             "",
		"client.token":                  "",
		"client.token_env":              "SITESYNC_TOKEN",
		"client.transports":             []string{"websocket", "polling"},
		"client.presence_interval":      30 * time.Second,
		"client.ack_timeout":            10 * time.Second,
		"client.connect_timeout":        10 * time.Second,
		"client.max_reconnect_attempts": 5,

		"log.level":      "info",
		"log.format":     string(logger.JSONFormat),
		"log.name":       "",
		"log.console":    true,
		"log.file":       "",
		"log.caller":     false,
		"log.stacktrace": false,

		"tracing.enabled":         tc.Enabled,
		"tracing.service_name":    tc.ServiceName,
		"tracing.service_version": tc.ServiceVersion,
		"tracing.environment":     tc.Environment,
		"tracing.exporter":        tc.ExporterType,
		"tracing.endpoint":        "",
		"tracing.insecure":        false,
		"tracing.sampling_rate":   tc.SamplingRate,
		"tracing.sampling_type":   tc.SamplingType,
		"tracing.batch_timeout":   tc.BatchTimeout,

		"metrics.enabled":   true,
		"metrics.path":      "/metrics",
		"metrics.namespace": metrics.DefaultNamespace,

		"redis.enabled":        false,
		"redis.channel":        hub.DefaultBusChannel,
		"redis.addr":           rc.Addr,
		"redis.addrs":          []string{},
		"redis.mode":           string(rc.Mode),
		"redis.username":       "",
		"redis.password":       "",
		"redis.db":             0,
		"redis.pool_size":      rc.PoolSize,
		"redis.min_idle_conns": rc.MinIdleConns,
		"redis.max_retries":    rc.MaxRetries,
		"redis.dial_timeout":   rc.DialTimeout,
		"redis.read_timeout":   rc.ReadTimeout,
		"redis.write_timeout":  rc.WriteTimeout,
		"redis.master_name":    "",

		"ingest.kafka.enabled":        false,
		"ingest.kafka.brokers":        []string{},
		"ingest.kafka.topics":         []string{},
		"ingest.kafka.group_id":       "sitesync-ingest",
		"ingest.kafka.client_id":      "",
		"ingest.kafka.version":        "",
		"ingest.kafka.initial_offset": "newest",

		"ingest.amqp.enabled":      false,
		"ingest.amqp.url":          "",
		"ingest.amqp.queue":        "sitesync.events",
		"ingest.amqp.exchange":     "",
		"ingest.amqp.routing_key":  "",
		"ingest.amqp.consumer_tag": "",
		"ingest.amqp.prefetch":     64,
		"ingest.amqp.durable":      true,
	}
}

// Load 读取配置，path 为空时只使用默认值与环境变量
// 返回的 *config.Config 用于监听文件变更，调用方负责 Close
func Load(path string, opts ...config.Option) (*Settings, *config.Config, error) {
	base := []config.Option{
		config.WithDefaults(Defaults()),
		config.WithEnvPrefix(EnvPrefix),
		config.WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	}
	if path != "" {
		base = append(base, config.WithConfigFile(path))
	}
	c := config.New(append(base, opts...)...)
	if err := c.Load(); err != nil {
		return nil, nil, err
	}

	s, err := Decode(c)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return s, c, nil
}

// Decode 从已加载的配置解码，用于变更回调中重新读取
func Decode(c *config.Config) (*Settings, error) {
	s := &Settings{}
	if err := c.Unmarshal(s); err != nil {
		return nil, err
	}
	s.Server.BasePath = normalizePath(s.Server.BasePath)
	s.Metrics.Path = normalizePath(s.Metrics.Path)
	return s, nil
}

func normalizePath(p string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// ValidateServer 校验服务端所需配置
func (s *Settings) ValidateServer() error {
	if s.Auth.Secret == "" {
		return ErrInvalidSettings.WithMessage("settings: auth.secret is required")
	}
	if s.Server.Addr == "" {
		return ErrInvalidSettings.WithMessage("settings: server.addr is required")
	}
	switch s.Server.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return ErrInvalidSettings.WithMessagef("settings: unknown server.mode %q", s.Server.Mode)
	}
	if s.Server.WriteTimeout != 0 && s.Server.WriteTimeout <= s.Hub.PollHold {
		return ErrInvalidSettings.WithMessagef("settings: server.write_timeout %v must be 0 or greater than hub.poll_hold %v",
			s.Server.WriteTimeout, s.Hub.PollHold)
	}
	if s.Server.ShutdownTimeout <= 0 {
		return ErrInvalidSettings.WithMessage("settings: server.shutdown_timeout must be positive")
	}
	if s.Server.HandshakeRate < 0 || (s.Server.HandshakeRate > 0 && s.Server.HandshakeBurst <= 0) {
		return ErrInvalidSettings.WithMessage("settings: handshake_burst must be positive when handshake_rate is set")
	}
	if s.Metrics.Enabled && s.Metrics.Path == "" {
		return ErrInvalidSettings.WithMessage("settings: metrics.path is required")
	}
	if s.Metrics.Enabled && s.Metrics.Path == s.Server.BasePath {
		return ErrInvalidSettings.WithMessage("settings: metrics.path collides with server.base_path")
	}
	if s.Tracing.Enabled {
		if err := s.Tracing.Validate(); err != nil {
			return err
		}
	}
	if s.Redis.Enabled {
		if err := s.Redis.RedisConfig.Validate(); err != nil {
			return err
		}
	}
	if s.Ingest.Kafka.Enabled {
		if err := s.Ingest.Kafka.Validate(); err != nil {
			return err
		}
	}
	if s.Ingest.AMQP.Enabled {
		if err := s.Ingest.AMQP.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateClient 校验客户端所需配置
func (s *Settings) ValidateClient() error {
	c := s.Client
	if c.URL == "" {
		return ErrInvalidSettings.WithMessage("settings: client.url is required")
	}
	if c.Token == "" && c.TokenEnv == "" {
		return ErrInvalidSettings.WithMessage("settings: client.token or client.token_env is required")
	}
	if c.PresenceInterval < 0 || c.AckTimeout < 0 {
		return ErrInvalidSettings.WithMessage("settings: client durations must not be negative")
	}
	if c.ConnectTimeout <= 0 {
		return ErrInvalidSettings.WithMessage("settings: client.connect_timeout must be positive")
	}
	if c.MaxReconnectAttempts <= 0 {
		return ErrInvalidSettings.WithMessage("settings: client.max_reconnect_attempts must be positive")
	}
	return nil
}
