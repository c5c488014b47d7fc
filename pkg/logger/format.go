package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Format 日志输出格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

func (f Format) String() string { return string(f) }

// IsValid 空值按 json 处理
func (f Format) IsValid() bool {
	switch f {
	case "", JSONFormat, ConsoleFormat:
		return true
	}
	return false
}

// UnmarshalText 支持配置中的 "JSON"、"Console" 等写法
func (f *Format) UnmarshalText(text []byte) error {
	v := Format(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.IsValid() {
		return fmt.Errorf("logger: unknown format %q", text)
	}
	*f = v
	return nil
}

func (f Format) encoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	if f == ConsoleFormat {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}
