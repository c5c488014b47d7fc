package config

import "github.com/tokmz/sitesync/pkg/errors"

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3101, 500, "配置文件未找到", nil)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3102, 500, "配置读取失败", nil)
	// ErrConfigDecodeFailed 配置解码失败
	ErrConfigDecodeFailed = errors.New(3103, 500, "配置解码失败", nil)
)
