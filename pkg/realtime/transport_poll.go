package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/protocol"
	"github.com/tokmz/sitesync/pkg/request"
)

// PollingDialer HTTP 长轮询传输
type PollingDialer struct {
	client      *request.Client
	pollTimeout time.Duration
	log         logger.Logger
}

// NewPollingDialer 创建长轮询传输
// 连续失败的握手会打开熔断器，之后的连接尝试立即失败直到熔断器半开
func NewPollingDialer(pollTimeout time.Duration, log logger.Logger) *PollingDialer {
	if log == nil {
		log = logger.Nop()
	}
	client := request.New(
		request.WithTimeout(0), // 单个请求自行设置超时
		request.WithLogger(log),
		request.WithTracing(true),
		request.WithCircuitBreaker(gobreaker.Settings{
			Name:    "realtime-polling",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	)
	return NewPollingDialerWithClient(client, pollTimeout, log)
}

// NewPollingDialerWithClient 使用已有的 HTTP 客户端
func NewPollingDialerWithClient(client *request.Client, pollTimeout time.Duration, log logger.Logger) *PollingDialer {
	if log == nil {
		log = logger.Nop()
	}
	return &PollingDialer{client: client, pollTimeout: pollTimeout, log: log}
}

// Dial 实现 Dialer
func (d *PollingDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	base, err := pollingBase(req.URL)
	if err != nil {
		return nil, err
	}

	r := d.client.Post(base + protocol.PathPollHandshake).
		SetContext(ctx).
		SetTimeout(d.pollTimeout).
		SetBearerToken(req.Token).
		SetJSON([]byte("{}")).
		SetHeaders(req.Header)

	resp, err := r.Do()
	if err != nil {
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrHandshake.WithError(fmt.Errorf("polling handshake: %s", strings.TrimSpace(resp.String())))
	}
	if err := resp.Err(); err != nil {
		return nil, fmt.Errorf("polling handshake: %w", err)
	}

	var hs protocol.PollHandshake
	if err := resp.Unmarshal(&hs); err != nil {
		return nil, fmt.Errorf("polling handshake: %w", err)
	}
	if hs.SID == "" {
		return nil, fmt.Errorf("polling handshake: empty sid")
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &pollConn{
		client:       d.client,
		base:         base,
		sid:          hs.SID,
		token:        req.Token,
		maxFrameSize: req.MaxFrameSize,
		pollTimeout:  d.pollTimeout,
		log:          d.log,
		ctx:          connCtx,
		cancel:       cancel,
	}, nil
}

// pollBodyLimit 一批最多 MaxPollBatch 帧，每帧不超过 maxFrameSize，另加数组分隔符
// 未限制帧大小时也不限制响应体
func pollBodyLimit(maxFrameSize int64) int64 {
	if maxFrameSize <= 0 {
		return -1
	}
	return protocol.MaxPollBatch*(maxFrameSize+1) + 2
}

// pollingBase ws(s)://host/base -> http(s)://host/base
func pollingBase(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid url %q: unsupported scheme", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

type pollConn struct {
	client       *request.Client
	base         string
	sid          string
	token        string
	maxFrameSize int64
	pollTimeout  time.Duration
	log          logger.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	queue []protocol.Frame // 仅读 goroutine 访问
}

func (c *pollConn) ID() string          { return c.sid }
func (c *pollConn) Kind() TransportKind { return TransportPolling }

// ReadFrame 实现 Conn，队列为空时发起一次长轮询
func (c *pollConn) ReadFrame() (protocol.Frame, error) {
	for len(c.queue) == 0 {
		if err := c.poll(); err != nil {
			return protocol.Frame{}, err
		}
	}
	f := c.queue[0]
	c.queue = c.queue[1:]
	return f, nil
}

func (c *pollConn) poll() error {
	if c.ctx.Err() != nil {
		return &CloseError{Reason: ReasonClientDisconnect}
	}

	resp, err := c.client.Get(c.base+protocol.PathPoll).
		SetContext(c.ctx).
		SetTimeout(c.pollTimeout).
		SetQuery(protocol.QuerySID, c.sid).
		SetBearerToken(c.token).
		SetMaxResponseBytes(pollBodyLimit(c.maxFrameSize)).
		Do()
	if err != nil {
		switch {
		case c.ctx.Err() != nil:
			return &CloseError{Reason: ReasonClientDisconnect}
		case errors.Is(err, request.ErrTimeout):
			return &CloseError{Reason: ReasonPingTimeout, Err: err}
		default:
			return &CloseError{Reason: ReasonTransportError, Err: err}
		}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil
	case http.StatusGone:
		return &CloseError{Reason: ReasonServerDisconnect}
	default:
		return &CloseError{Reason: ReasonTransportClose, Err: fmt.Errorf("poll: unexpected status %d", resp.StatusCode)}
	}

	var raws []json.RawMessage
	if err := resp.Unmarshal(&raws); err != nil {
		return &CloseError{Reason: ReasonTransportError, Err: fmt.Errorf("poll: decode batch: %w", err)}
	}
	for _, raw := range raws {
		if c.maxFrameSize > 0 && int64(len(raw)) > c.maxFrameSize {
			return &CloseError{Reason: ReasonTransportError, Err: fmt.Errorf("poll: frame of %d bytes exceeds limit", len(raw))}
		}
		f, err := protocol.Decode(raw)
		if err != nil {
			c.log.Warn("skip malformed frame", zap.String("sid", c.sid), zap.Error(err))
			continue
		}
		c.queue = append(c.queue, f)
	}
	return nil
}

// WriteFrame 实现 Conn
func (c *pollConn) WriteFrame(ctx context.Context, f protocol.Frame) error {
	if c.ctx.Err() != nil {
		return &CloseError{Reason: ReasonClientDisconnect}
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.base+protocol.PathPoll).
		SetContext(ctx).
		SetTimeout(c.pollTimeout).
		SetQuery(protocol.QuerySID, c.sid).
		SetBearerToken(c.token).
		SetJSON(data).
		Do()
	if err != nil {
		return err
	}
	return resp.Err()
}

// Close 实现 Conn，通知服务端释放会话
func (c *pollConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err = c.client.Delete(c.base+protocol.PathPoll).
			SetContext(ctx).
			SetQuery(protocol.QuerySID, c.sid).
			SetBearerToken(c.token).
			Do()
	})
	return err
}
