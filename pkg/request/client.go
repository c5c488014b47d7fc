package request

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/errors"
)

// Client HTTP 客户端
// 实时同步的长轮询传输基于它收发帧，也可作为普通 JSON 客户端使用
type Client struct {
	cfg     *Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// New 创建 HTTP 客户端
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig 使用配置创建 HTTP 客户端
func NewWithConfig(cfg *Config) *Client {
	transport := cfg.buildTransport()

	if cfg.EnableTracing {
		transport = newTracingTransport(transport)
	}

	c := &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
	if cfg.Breaker != nil {
		c.breaker = gobreaker.NewCircuitBreaker(*cfg.Breaker)
	}
	return c
}

// Get 创建 GET 请求
func (c *Client) Get(url string) *Request {
	return newRequest(c, http.MethodGet, url)
}

// Post 创建 POST 请求
func (c *Client) Post(url string) *Request {
	return newRequest(c, http.MethodPost, url)
}

// Delete 创建 DELETE 请求
func (c *Client) Delete(url string) *Request {
	return newRequest(c, http.MethodDelete, url)
}

// execute 执行请求（含熔断、重试、拦截器、追踪）
func (c *Client) execute(r *Request) (*Response, error) {
	retryCfg := r.retry
	if retryCfg == nil {
		retryCfg = c.cfg.Retry
	}

	if retryCfg == nil {
		return c.guarded(r)
	}

	// clone + normalize 避免修改用户传入的配置
	rc := *retryCfg
	rc.normalize()

	b := rc.newBackOff()
	var lastResp *Response
	var lastErr error

	for attempt := 0; attempt <= rc.MaxAttempts; attempt++ {
		lastResp, lastErr = c.guarded(r)

		if attempt == rc.MaxAttempts {
			break
		}
		// 熔断打开时重试没有意义
		if errors.Is(lastErr, ErrCircuitOpen) {
			return nil, lastErr
		}

		var httpResp *http.Response
		if lastResp != nil {
			httpResp = &http.Response{StatusCode: lastResp.StatusCode}
		}
		if !rc.RetryIf(httpResp, lastErr) {
			return lastResp, lastErr
		}

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return nil, ErrTimeout.WithError(r.ctx.Err())
		case <-timer.C:
		}
	}

	if lastErr != nil {
		return nil, ErrMaxRetry.WithError(lastErr)
	}
	return lastResp, nil
}

// guarded 经过熔断器执行单次请求
// 5xx 响应计为失败，4xx 是调用方问题不影响熔断状态
func (c *Client) guarded(r *Request) (*Response, error) {
	if c.breaker == nil {
		return c.doOnce(r)
	}

	var resp *Response
	_, err := c.breaker.Execute(func() (any, error) {
		var err error
		resp, err = c.doOnce(r)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, errServerStatus
		}
		return nil, nil
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, ErrCircuitOpen.WithError(err)
	case errors.Is(err, errServerStatus):
		return resp, nil
	}
	return resp, err
}

// doOnce 执行单次请求
func (c *Client) doOnce(r *Request) (*Response, error) {
	httpReq, err := r.build(c.cfg.BaseURL, c.cfg.Headers)
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()
		httpReq = httpReq.WithContext(ctx)
	}

	for _, interceptor := range c.cfg.Interceptors {
		if err := interceptor.BeforeRequest(httpReq.Context(), httpReq); err != nil {
			return nil, ErrRequestFailed.WithError(err)
		}
	}

	var span trace.Span
	if c.cfg.EnableTracing {
		ctx, s := otel.Tracer("sitesync.request").Start(httpReq.Context(), "HTTP "+httpReq.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.method", httpReq.Method),
				attribute.String("http.url", httpReq.URL.String()),
			),
		)
		span = s
		httpReq = httpReq.WithContext(ctx)
	}

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	duration := time.Since(start)

	if err != nil {
		c.failSpan(span, err)
		c.cfg.Logger.DebugContext(httpReq.Context(), "http request failed",
			zap.String("method", httpReq.Method),
			zap.String("url", httpReq.URL.String()),
			zap.Error(err),
		)
		if httpReq.Context().Err() != nil {
			return nil, ErrTimeout.WithError(err)
		}
		return nil, ErrRequestFailed.WithError(err)
	}
	defer httpResp.Body.Close()

	limit := c.cfg.MaxResponseBytes
	if r.maxBody != 0 {
		limit = r.maxBody
	}
	body, err := readBody(httpResp.Body, limit)
	if err != nil {
		c.failSpan(span, err)
		return nil, err
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		Duration:   duration,
		Request:    httpReq,
	}

	if span != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if resp.IsError() {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
		span.End()
	}

	for _, interceptor := range c.cfg.Interceptors {
		if err := interceptor.AfterResponse(httpReq.Context(), resp); err != nil {
			return resp, ErrRequestFailed.WithError(err)
		}
	}

	return resp, nil
}

func (c *Client) failSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}

// readBody 读取整个 body，超过 limit 字节视为失败
func readBody(rc io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		body, err := io.ReadAll(rc)
		if err != nil {
			return nil, ErrRequestFailed.WithError(err)
		}
		return body, nil
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, ErrRequestFailed.WithError(err)
	}
	if int64(len(body)) > limit {
		return nil, ErrRequestFailed.WithMessagef("request: response body exceeds %d bytes", limit)
	}
	return body, nil
}
