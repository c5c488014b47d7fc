package logger

import "io"

// Option 修改 Config
type Option func(*Config)

func WithLevel(level Level) Option    { return func(c *Config) { c.Level = level } }
func WithFormat(format Format) Option { return func(c *Config) { c.Format = format } }
func WithName(name string) Option     { return func(c *Config) { c.Name = name } }
func WithConsoleOutput() Option       { return func(c *Config) { c.Console = true } }
func WithCaller(enable bool) Option   { return func(c *Config) { c.EnableCaller = enable } }
func WithStacktrace(enable bool) Option {
	return func(c *Config) { c.EnableStacktrace = enable }
}

// WithWriter 追加输出目标，测试中用来收集日志
func WithWriter(w io.Writer) Option { return func(c *Config) { c.Writer = w } }

// WithRotate 输出到按大小轮转的文件
func WithRotate(r *RotateConfig) Option { return func(c *Config) { c.Rotate = r } }

// WithSampling 开启采样
func WithSampling(s *SamplingConfig) Option { return func(c *Config) { c.Sampling = s } }

// WithHook 追加 Hook，可多次调用
func WithHook(hook Hook) Option {
	return func(c *Config) { c.Hooks = append(c.Hooks, hook) }
}
