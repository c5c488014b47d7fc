package config

import (
	"strings"

	"github.com/tokmz/sitesync/pkg/logger"
)

// Option 修改 Config，在 Load 之前生效
type Option func(*Config)

// 配置文件定位：WithConfigFile 优先，否则按名称在搜索路径中查找
func WithConfigFile(path string) Option      { return func(c *Config) { c.configFile = path } }
func WithConfigName(name string) Option      { return func(c *Config) { c.configName = name } }
func WithConfigType(typ string) Option       { return func(c *Config) { c.configType = typ } }
func WithConfigPaths(paths ...string) Option { return func(c *Config) { c.configPaths = paths } }

// WithOptionalFile 文件缺失时只用默认值与环境变量，CLI 客户端常用
func WithOptionalFile(optional bool) Option { return func(c *Config) { c.optionalFile = optional } }

// WithDefaults 扁平的点分键，如 "hub.ack_timeout"
// 只有出现在默认值中的键才能被 AutomaticEnv 覆盖后 Unmarshal 出来
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) { c.defaults = defaults }
}

// WithEnvPrefix 前缀 SITESYNC 时 hub.ack_timeout 对应 SITESYNC_HUB_ACK_TIMEOUT
func WithEnvPrefix(prefix string) Option { return func(c *Config) { c.envPrefix = prefix } }

func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(c *Config) { c.envKeyReplacer = r }
}

// WithProtected 文件被外部改写后自动还原为加载时的内容
func WithProtected(protected bool) Option { return func(c *Config) { c.protected = protected } }

// WithAutoWatch Load 成功后立即开始监控
func WithAutoWatch(watch bool) Option { return func(c *Config) { c.autoWatch = watch } }

// WithOnChange 非保护模式下文件变更并重新读取后回调
func WithOnChange(fn func(*Config)) Option { return func(c *Config) { c.onChange = fn } }

// WithOnError 还原失败等监控错误的回调，未设置时写日志
func WithOnError(fn func(error)) Option { return func(c *Config) { c.onError = fn } }

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.log = l
		}
	}
}
