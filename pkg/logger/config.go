package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置，零值输出 info 级别 JSON 到 stdout
type Config struct {
	Level  Level  `mapstructure:"level"`
	Format Format `mapstructure:"format"` // json/console
	Name   string `mapstructure:"name"`   // 根 logger 名称，如 sync-server

	Console bool          `mapstructure:"console"`
	File    string        `mapstructure:"file"`
	Rotate  *RotateConfig `mapstructure:"rotate"` // nil 不轮转
	Writer  io.Writer     `mapstructure:"-"`

	Sampling *SamplingConfig `mapstructure:"sampling"` // nil 不采样

	EnableCaller     bool `mapstructure:"caller"`
	EnableStacktrace bool `mapstructure:"stacktrace"` // Error 及以上

	EncoderConfig *zapcore.EncoderConfig `mapstructure:"-"`
	Hooks         []Hook                 `mapstructure:"-"`
}

// RotateConfig lumberjack 文件轮转，大小单位 MB
type RotateConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"` // 天
	MaxBackups int    `mapstructure:"max_backups"`
	LocalTime  bool   `mapstructure:"local_time"`
	Compress   bool   `mapstructure:"compress"`
}

// SamplingConfig 每秒前 Initial 条全部记录，之后每 Thereafter 条记录 1 条
// hub 广播失败这类日志在连接风暴时会刷屏
type SamplingConfig struct {
	Initial    int `mapstructure:"initial"`
	Thereafter int `mapstructure:"thereafter"`
}

const samplingTick = time.Second

func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.File == "" && c.Rotate == nil && c.Writer == nil {
		c.Console = true
	}
	if r := c.Rotate; r != nil {
		r.MaxSize = orDefault(r.MaxSize, 100)
		r.MaxAge = orDefault(r.MaxAge, 30)
		r.MaxBackups = orDefault(r.MaxBackups, 10)
	}
	if s := c.Sampling; s != nil {
		s.Initial = orDefault(s.Initial, 100)
		s.Thereafter = orDefault(s.Thereafter, 100)
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func (c *Config) encoder() zapcore.Encoder {
	if c.EncoderConfig != nil {
		return c.Format.encoder(*c.EncoderConfig)
	}
	return c.Format.encoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

// sink 合并所有输出目标
func (c *Config) sink() (zapcore.WriteSyncer, error) {
	var ws []zapcore.WriteSyncer
	if c.Console {
		ws = append(ws, zapcore.Lock(os.Stdout))
	}
	if c.File != "" {
		w, _, err := zap.Open(c.File)
		if err != nil {
			return nil, fmt.Errorf("logger: open log file %s: %w", c.File, err)
		}
		ws = append(ws, w)
	}
	if r := c.Rotate; r != nil {
		ws = append(ws, zapcore.AddSync(&lumberjack.Logger{
			Filename:   r.Filename,
			MaxSize:    r.MaxSize,
			MaxAge:     r.MaxAge,
			MaxBackups: r.MaxBackups,
			LocalTime:  r.LocalTime,
			Compress:   r.Compress,
		}))
	}
	if c.Writer != nil {
		ws = append(ws, zapcore.AddSync(c.Writer))
	}
	if len(ws) == 0 {
		return nil, fmt.Errorf("logger: no output configured")
	}
	return zapcore.NewMultiWriteSyncer(ws...), nil
}
