package request

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig 重试配置，退避由 cenkalti/backoff 计算
type RetryConfig struct {
	MaxAttempts         int                                       // 最大重试次数（默认 3）
	InitialDelay        time.Duration                             // 初始退避（默认 100ms）
	MaxDelay            time.Duration                             // 最大退避（默认 5s）
	Multiplier          float64                                   // 退避倍数（默认 2.0）
	RandomizationFactor float64                                   // 抖动比例（默认 0.25）
	RetryIf             func(resp *http.Response, err error) bool // 自定义重试条件
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:         3,
		InitialDelay:        100 * time.Millisecond,
		MaxDelay:            5 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.25,
		RetryIf:             defaultRetryIf,
	}
}

// defaultRetryIf 网络错误以及 500、502、504 重试
// 503 表示服务端正在关闭或会话已失效，交给调用方处理
func defaultRetryIf(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	if resp == nil {
		return false
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// newBackOff 单次请求的退避序列，MaxElapsedTime 不限，次数由 MaxAttempts 控制
func (rc *RetryConfig) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rc.InitialDelay
	b.MaxInterval = rc.MaxDelay
	b.Multiplier = rc.Multiplier
	b.RandomizationFactor = rc.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// normalize 填充零值字段为默认值
func (rc *RetryConfig) normalize() {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = 3
	}
	if rc.InitialDelay <= 0 {
		rc.InitialDelay = 100 * time.Millisecond
	}
	if rc.MaxDelay <= 0 {
		rc.MaxDelay = 5 * time.Second
	}
	if rc.Multiplier <= 0 {
		rc.Multiplier = 2.0
	}
	if rc.RandomizationFactor < 0 || rc.RandomizationFactor >= 1 {
		rc.RandomizationFactor = 0.25
	}
	if rc.RetryIf == nil {
		rc.RetryIf = defaultRetryIf
	}
}
