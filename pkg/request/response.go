package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// maxErrorBody 错误消息中保留的响应体长度
const maxErrorBody = 512

// Response 已读完 body 的响应
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Request    *http.Request
}

// IsSuccess 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError 4xx/5xx
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// Err 非 2xx 时返回 ErrRequestFailed，消息带状态码与截断后的响应体
func (r *Response) Err() error {
	if r.IsSuccess() {
		return nil
	}
	body := strings.TrimSpace(string(r.Body))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody] + "..."
	}
	msg := fmt.Sprintf("request: %d %s", r.StatusCode, http.StatusText(r.StatusCode))
	if body != "" {
		msg += ": " + body
	}
	return ErrRequestFailed.WithMessage(msg)
}

// Unmarshal 解析 JSON body，空 body 视为错误
func (r *Response) Unmarshal(v any) error {
	if len(r.Body) == 0 {
		return ErrUnmarshal.WithMessage("request: empty response body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return ErrUnmarshal.WithError(err)
	}
	return nil
}

func (r *Response) String() string {
	return string(r.Body)
}

// Decode 发送请求，要求 2xx 并解析为 T
//
//	hs, err := request.Decode[protocol.PollHandshake](client.Post(url).SetJSON(body))
func Decode[T any](req *Request) (T, error) {
	var out T
	resp, err := req.Do()
	if err != nil {
		return out, err
	}
	if err := resp.Err(); err != nil {
		return out, err
	}
	err = resp.Unmarshal(&out)
	return out, err
}
