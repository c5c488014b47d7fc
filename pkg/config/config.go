package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/logger"
)

// Config 配置管理器
type Config struct {
	viper *viper.Viper // viper 实例
	mu    sync.RWMutex // 并发保护锁

	// 配置文件相关
	configFile   string   // 配置文件完整路径
	configName   string   // 配置文件名（不含扩展名）
	configType   string   // 配置文件类型
	configPaths  []string // 配置文件搜索路径
	optionalFile bool     // 配置文件缺失时只使用默认值与环境变量

	// 监控相关
	protected bool          // 是否启用保护模式
	autoWatch bool          // 是否自动开启文件监控
	watching  bool          // 是否正在监控
	restoring atomic.Bool   // 是否正在恢复配置文件
	onChange  func(*Config) // 配置变更回调
	onError   func(error)   // 错误回调
	snap      []byte        // 配置文件快照
	settle    *time.Timer   // 合并变更事件

	// 其他选项
	defaults       map[string]any    // 默认配置值
	envPrefix      string            // 环境变量前缀
	envKeyReplacer *strings.Replacer // 环境变量键名替换器
	log            logger.Logger
}

// New 创建新的配置管理器
func New(opts ...Option) *Config {
	c := &Config{
		viper: viper.New(),
		log:   logger.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Load 加载配置文件
func (c *Config) Load() error {
	c.mu.Lock()

	for k, v := range c.defaults {
		c.viper.SetDefault(k, v)
	}

	// 环境变量：SITESYNC_HUB_ACK_TIMEOUT 对应 hub.ack_timeout
	if c.envPrefix != "" {
		c.viper.SetEnvPrefix(c.envPrefix)
		if c.envKeyReplacer == nil {
			c.envKeyReplacer = strings.NewReplacer(".", "_")
		}
		c.viper.AutomaticEnv()
	}
	if c.envKeyReplacer != nil {
		c.viper.SetEnvKeyReplacer(c.envKeyReplacer)
	}

	if c.configFile != "" {
		c.viper.SetConfigFile(c.configFile)
	} else {
		if c.configName != "" {
			c.viper.SetConfigName(c.configName)
		}
		if c.configType != "" {
			c.viper.SetConfigType(c.configType)
		}
		for _, path := range c.configPaths {
			c.viper.AddConfigPath(path)
		}
	}

	if c.configFile == "" && c.configName == "" {
		// 未指定配置文件，仅使用默认值与环境变量
		c.mu.Unlock()
		return nil
	}

	if err := c.viper.ReadInConfig(); err != nil {
		c.mu.Unlock()
		if isNotFound(err) {
			if c.optionalFile {
				c.log.Debug("config file not found, using defaults", zap.Error(err))
				return nil
			}
			return ErrConfigNotFound.WithError(err)
		}
		return ErrConfigReadFailed.WithError(err)
	}

	var snapErr error
	if c.protected {
		snapErr = c.saveSnapshot()
	}

	if c.autoWatch {
		c.startWatch()
	}

	c.mu.Unlock()

	// 释放锁后报告快照错误，避免在锁内调用用户回调
	if snapErr != nil {
		c.reportError(snapErr)
	}

	c.log.Info("config loaded", zap.String("file", c.viper.ConfigFileUsed()))
	return nil
}

// isNotFound 判断是否为配置文件不存在
// 指定完整路径时 viper 返回的是 fs 错误而不是 ConfigFileNotFoundError
func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	if errors.As(err, &nf) {
		return true
	}
	return strings.Contains(err.Error(), "no such file")
}

// Get 泛型获取配置值
func Get[T any](c *Config, key string) T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if v, ok := c.viper.Get(key).(T); ok {
		return v
	}
	var zero T
	return zero
}

// GetString 获取字符串配置值
func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetString(key)
}

// GetInt 获取整数配置值
func (c *Config) GetInt(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetInt(key)
}

// GetBool 获取布尔配置值
func (c *Config) GetBool(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetBool(key)
}

// GetDuration 获取时间间隔配置值
func (c *Config) GetDuration(key string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetDuration(key)
}

// GetStringSlice 获取字符串切片配置值
func (c *Config) GetStringSlice(key string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.GetStringSlice(key)
}

// Set 设置配置值（优先级最高，覆盖文件与环境变量）
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viper.Set(key, value)
}

// IsSet 检查配置键是否存在
func (c *Config) IsSet(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viper.IsSet(key)
}

// Sub 获取子配置
// 返回的实例为只读轻量实例，不继承监控、保护模式等属性
func (c *Config) Sub(key string) *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	sub := c.viper.Sub(key)
	if sub == nil {
		return nil
	}
	return &Config{viper: sub, log: c.log}
}

// Unmarshal 将配置反序列化到结构体
// 支持 "10s" 形式的时间间隔、逗号分隔的切片以及实现了 encoding.TextUnmarshaler 的字段
func (c *Config) Unmarshal(rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.viper.Unmarshal(rawVal, decodeHook()); err != nil {
		return ErrConfigDecodeFailed.WithError(err)
	}
	return nil
}

// UnmarshalKey 将指定 key 的配置反序列化到结构体
func (c *Config) UnmarshalKey(key string, rawVal any) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := c.viper.UnmarshalKey(key, rawVal, decodeHook()); err != nil {
		return ErrConfigDecodeFailed.WithError(fmt.Errorf("%s: %w", key, err))
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))
}

// Close 关闭配置管理器，停止监控
func (c *Config) Close() {
	c.StopWatch()
}

// Viper 获取底层 viper 实例
// 直接操作 viper 实例不受 Config 的并发锁保护
func (c *Config) Viper() *viper.Viper {
	return c.viper
}
