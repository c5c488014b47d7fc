package realtime

import (
	"context"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/protocol"
)

// TransportKind 传输类型
type TransportKind string

const (
	TransportWebSocket TransportKind = "websocket"
	TransportPolling   TransportKind = "polling"
)

// Conn 一条已打开的传输连接
// ReadFrame 只由一个 goroutine 调用；WriteFrame 可并发调用
type Conn interface {
	// ID 服务端分配的连接 ID
	ID() string
	// Kind 传输类型
	Kind() TransportKind
	// ReadFrame 阻塞读取下一帧，连接结束时返回 *CloseError
	ReadFrame() (protocol.Frame, error)
	// WriteFrame 写入一帧
	WriteFrame(ctx context.Context, f protocol.Frame) error
	// Close 关闭连接，阻塞中的 ReadFrame 随之返回
	Close() error
}

// DialRequest 建立连接所需参数
type DialRequest struct {
	URL          string
	Token        string
	Header       http.Header
	MaxFrameSize int64
}

// Dialer 建立传输连接
type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Conn, error)
}

// DialerFunc 函数适配 Dialer
type DialerFunc func(ctx context.Context, req DialRequest) (Conn, error)

// Dial 实现 Dialer
func (f DialerFunc) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	return f(ctx, req)
}

// negotiator 按优先级依次尝试各传输，可记住上次成功的传输
type negotiator struct {
	order    []TransportKind
	dialers  map[TransportKind]Dialer
	remember bool
	log      logger.Logger

	mu   sync.Mutex
	last TransportKind
}

func newNegotiator(cfg *Config, log logger.Logger) *negotiator {
	n := &negotiator{
		order:    cfg.Transports,
		dialers:  make(map[TransportKind]Dialer, len(cfg.Transports)),
		remember: cfg.RememberUpgrade,
		log:      log,
	}
	for _, kind := range cfg.Transports {
		switch kind {
		case TransportWebSocket:
			n.dialers[kind] = NewWebSocketDialer(cfg.PingTimeout, cfg.WriteTimeout, log)
		case TransportPolling:
			n.dialers[kind] = NewPollingDialer(cfg.PollTimeout, log)
		}
	}
	return n
}

// candidates 本次尝试顺序
func (n *negotiator) candidates() []TransportKind {
	n.mu.Lock()
	last := n.last
	n.mu.Unlock()

	if !n.remember || last == "" || last == n.order[0] {
		return n.order
	}
	out := make([]TransportKind, 0, len(n.order))
	out = append(out, last)
	for _, k := range n.order {
		if k != last {
			out = append(out, k)
		}
	}
	return out
}

// Dial 实现 Dialer
func (n *negotiator) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	var errs []error
	for _, kind := range n.candidates() {
		conn, err := n.dialers[kind].Dial(ctx, req)
		if err == nil {
			n.mu.Lock()
			n.last = kind
			n.mu.Unlock()
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		n.log.Debug("transport dial failed, trying next",
			zap.String("transport", string(kind)),
			zap.Error(err),
		)
	}
	return nil, errors.Join(errs...)
}
