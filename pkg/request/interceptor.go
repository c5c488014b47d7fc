package request

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/logger"
)

// Interceptor 拦截器接口
type Interceptor interface {
	// BeforeRequest 请求发送前调用
	BeforeRequest(ctx context.Context, req *http.Request) error
	// AfterResponse 响应返回后调用
	AfterResponse(ctx context.Context, resp *Response) error
}

// loggingInterceptor 日志拦截器
type loggingInterceptor struct {
	log logger.Logger
}

// NewLoggingInterceptor 创建日志拦截器
func NewLoggingInterceptor(log logger.Logger) Interceptor {
	return &loggingInterceptor{log: log}
}

func (l *loggingInterceptor) BeforeRequest(ctx context.Context, req *http.Request) error {
	l.log.DebugContext(ctx, "http request",
		zap.String("method", req.Method),
		zap.String("url", req.URL.String()),
	)
	return nil
}

func (l *loggingInterceptor) AfterResponse(ctx context.Context, resp *Response) error {
	l.log.DebugContext(ctx, "http response",
		zap.String("method", resp.Request.Method),
		zap.String("url", resp.Request.URL.String()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", resp.Duration),
	)
	return nil
}

// authInterceptor 认证拦截器
type authInterceptor struct {
	tokenFunc func(ctx context.Context) string
}

// NewAuthInterceptor 创建认证拦截器，请求未显式设置 Authorization 时注入 Bearer Token
func NewAuthInterceptor(tokenFunc func(ctx context.Context) string) Interceptor {
	return &authInterceptor{tokenFunc: tokenFunc}
}

func (a *authInterceptor) BeforeRequest(ctx context.Context, req *http.Request) error {
	if req.Header.Get("Authorization") != "" {
		return nil
	}
	if token := a.tokenFunc(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func (a *authInterceptor) AfterResponse(_ context.Context, _ *Response) error {
	return nil
}
