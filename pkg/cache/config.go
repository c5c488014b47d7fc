package cache

import (
	"time"
)

// DriverType 驱动类型
type DriverType string

const (
	DriverRedis  DriverType = "redis"
	DriverMemory DriverType = "memory"
)

// RedisMode Redis 模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 缓存配置
type Config struct {
	Driver     DriverType    `mapstructure:"driver"`
	Redis      *RedisConfig  `mapstructure:"redis"`
	Memory     *MemoryConfig `mapstructure:"memory"`
	KeyPrefix  string        `mapstructure:"key_prefix"`  // 键前缀（避免冲突）
	DefaultTTL time.Duration `mapstructure:"default_ttl"` // Set 传入 0 时使用

	Serializer Serializer `mapstructure:"-"`
}

// RedisConfig Redis 配置，hub 的跨节点广播复用同一份
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`  // 地址（单机）
	Addrs        []string      `mapstructure:"addrs"` // 地址列表（集群/哨兵）
	Mode         RedisMode     `mapstructure:"mode"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MasterName   string        `mapstructure:"master_name"` // 哨兵模式主节点名称
}

// MemoryConfig 内存缓存配置
type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Driver:     DriverMemory,
		Serializer: JSONSerializer{},
		DefaultTTL: 10 * time.Minute,
		Memory:     DefaultMemoryConfig(),
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		Mode:         RedisStandalone,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// DefaultMemoryConfig 返回默认 Memory 配置
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		DefaultExpiration: 10 * time.Minute,
		CleanupInterval:   5 * time.Minute,
	}
}

// Option 配置选项
type Option func(*Config)

// WithRedis 使用 Redis
func WithRedis(cfg *RedisConfig) Option {
	return func(c *Config) {
		c.Driver = DriverRedis
		c.Redis = cfg
	}
}

// WithMemory 使用进程内存
func WithMemory(cfg *MemoryConfig) Option {
	return func(c *Config) {
		c.Driver = DriverMemory
		c.Memory = cfg
	}
}

// WithSerializer 设置序列化器
func WithSerializer(s Serializer) Option {
	return func(c *Config) { c.Serializer = s }
}

// WithKeyPrefix 设置键前缀
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) { c.KeyPrefix = prefix }
}

// WithDefaultTTL 设置默认 TTL
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Config) { c.DefaultTTL = ttl }
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		if c.Memory == nil {
			return ErrInvalidConfig.WithMessage("cache: memory config is required")
		}
	case DriverRedis:
		if c.Redis == nil {
			return ErrInvalidConfig.WithMessage("cache: redis config is required")
		}
		return c.Redis.Validate()
	default:
		return ErrInvalidConfig.WithMessagef("cache: invalid driver %q", c.Driver)
	}
	return nil
}

// Validate 验证 Redis 配置
func (c *RedisConfig) Validate() error {
	switch c.Mode {
	case RedisStandalone, "":
		if c.Addr == "" {
			return ErrInvalidConfig.WithMessage("cache: redis addr is required for standalone mode")
		}
	case RedisCluster:
		if len(c.Addrs) == 0 {
			return ErrInvalidConfig.WithMessage("cache: redis cluster requires addrs")
		}
	case RedisSentinel:
		if len(c.Addrs) == 0 || c.MasterName == "" {
			return ErrInvalidConfig.WithMessage("cache: redis sentinel requires addrs and master name")
		}
	default:
		return ErrInvalidConfig.WithMessagef("cache: invalid redis mode %q", c.Mode)
	}
	return nil
}
