package request

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Request 链式构建，Do 之前不会发出任何请求
// body 以字节保存，重试时每次重新构建 http.Request
type Request struct {
	client  *Client
	method  string
	target  string
	header  http.Header
	query   url.Values
	body    []byte
	timeout time.Duration
	ctx     context.Context
	retry   *RetryConfig
	maxBody int64 // 0 使用客户端的 MaxResponseBytes
	err     error // SetBody 等延迟到 Do 返回的错误
}

func newRequest(c *Client, method, target string) *Request {
	return &Request{
		client: c,
		method: method,
		target: target,
		header: make(http.Header),
		query:  make(url.Values),
		ctx:    context.Background(),
	}
}

func (r *Request) SetHeader(k, v string) *Request {
	r.header.Set(k, v)
	return r
}

// SetHeaders 覆盖同名请求头，保留多值
func (r *Request) SetHeaders(h http.Header) *Request {
	for k, vs := range h {
		r.header.Del(k)
		for _, v := range vs {
			r.header.Add(k, v)
		}
	}
	return r
}

func (r *Request) SetQuery(k, v string) *Request {
	r.query.Set(k, v)
	return r
}

// SetBody 序列化为 JSON
func (r *Request) SetBody(body any) *Request {
	data, err := json.Marshal(body)
	if err != nil {
		r.err = ErrMarshal.WithError(err)
		return r
	}
	return r.SetJSON(data)
}

// SetJSON 已编码的 JSON，未设置 Content-Type 时补上
func (r *Request) SetJSON(data []byte) *Request {
	r.body = data
	if r.header.Get("Content-Type") == "" {
		r.header.Set("Content-Type", "application/json")
	}
	return r
}

// SetTimeout 单次尝试的超时，0 表示只受客户端超时与 ctx 约束
func (r *Request) SetTimeout(d time.Duration) *Request {
	r.timeout = d
	return r
}

func (r *Request) SetContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// SetBearerToken 空令牌不设置 Authorization
func (r *Request) SetBearerToken(token string) *Request {
	if token != "" {
		r.header.Set("Authorization", "Bearer "+token)
	}
	return r
}

// SetMaxResponseBytes 覆盖客户端的响应体上限，<0 不限制
func (r *Request) SetMaxResponseBytes(n int64) *Request {
	r.maxBody = n
	return r
}

// SetRetry 覆盖客户端的重试配置
func (r *Request) SetRetry(cfg *RetryConfig) *Request {
	r.retry = cfg
	return r
}

func (r *Request) Do() (*Response, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.client.execute(r)
}

// resolve 绝对地址原样使用，否则拼接在 base 之后
func (r *Request) resolve(base string) (*url.URL, error) {
	raw := r.target
	if base != "" && !strings.Contains(raw, "://") {
		raw = strings.TrimRight(base, "/") + "/" + strings.TrimLeft(raw, "/")
	}

	u, err := url.Parse(raw)
	if err == nil && (u.Scheme == "" || u.Host == "") {
		err = &url.Error{Op: "parse", URL: raw, Err: errMissingHost}
	}
	if err != nil {
		return nil, ErrInvalidURL.WithError(err)
	}

	if len(r.query) > 0 {
		q := u.Query()
		for k, vs := range r.query {
			q[k] = append(q[k], vs...)
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// build 每次尝试生成新的 http.Request，请求级 header 覆盖客户端默认值
func (r *Request) build(base string, defaults map[string]string) (*http.Request, error) {
	u, err := r.resolve(base)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(r.ctx, r.method, u.String(), body)
	if err != nil {
		return nil, ErrRequestFailed.WithError(err)
	}

	for k, v := range defaults {
		req.Header.Set(k, v)
	}
	for k, vs := range r.header {
		req.Header[k] = append([]string(nil), vs...)
	}
	return req, nil
}
