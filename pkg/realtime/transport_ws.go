package realtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/protocol"
)

// WebSocketDialer 基于 gorilla/websocket 的传输
type WebSocketDialer struct {
	dialer       *websocket.Dialer
	pingTimeout  time.Duration
	writeTimeout time.Duration
	log          logger.Logger
}

// NewWebSocketDialer 创建 websocket 传输
func NewWebSocketDialer(pingTimeout, writeTimeout time.Duration, log logger.Logger) *WebSocketDialer {
	if log == nil {
		log = logger.Nop()
	}
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  10 * time.Second,
			EnableCompression: true,
		},
		pingTimeout:  pingTimeout,
		writeTimeout: writeTimeout,
		log:          log,
	}
}

// Dial 实现 Dialer
func (d *WebSocketDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	target, err := websocketURL(req.URL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	for k, vs := range req.Header {
		header[k] = append([]string(nil), vs...)
	}
	header.Set("Authorization", "Bearer "+req.Token)

	ws, resp, err := d.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrHandshake.WithError(fmt.Errorf("websocket handshake: %s", resp.Status))
		}
		return nil, fmt.Errorf("websocket dial %s: %w", target, err)
	}

	id := resp.Header.Get(protocol.HeaderSocketID)
	if id == "" {
		id = uuid.NewString()
	}

	c := &wsConn{
		ws:           ws,
		id:           id,
		pingTimeout:  d.pingTimeout,
		writeTimeout: d.writeTimeout,
		log:          d.log,
	}
	if req.MaxFrameSize > 0 {
		ws.SetReadLimit(req.MaxFrameSize)
	}
	c.armReadDeadline()
	ws.SetPingHandler(func(appData string) error {
		c.armReadDeadline()
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeTimeout))
		var ne net.Error
		if stderrors.Is(err, websocket.ErrCloseSent) || (stderrors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})
	return c, nil
}

// websocketURL http(s)://host/base -> ws(s)://host/base/ws
func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid url %q: unsupported scheme", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/") + protocol.PathWebSocket
	return u.String(), nil
}

type wsConn struct {
	ws           *websocket.Conn
	id           string
	pingTimeout  time.Duration
	writeTimeout time.Duration
	log          logger.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func (c *wsConn) ID() string          { return c.id }
func (c *wsConn) Kind() TransportKind { return TransportWebSocket }

func (c *wsConn) armReadDeadline() {
	if c.pingTimeout > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pingTimeout))
	}
}

// ReadFrame 实现 Conn，无法解析的消息被跳过
func (c *wsConn) ReadFrame() (protocol.Frame, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return protocol.Frame{}, c.closeError(err)
		}
		c.armReadDeadline()
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		f, err := protocol.Decode(data)
		if err != nil {
			c.log.Warn("skip malformed frame", zap.String("sid", c.id), zap.Error(err))
			continue
		}
		return f, nil
	}
}

func (c *wsConn) closeError(err error) error {
	if c.closed.Load() {
		return &CloseError{Reason: ReasonClientDisconnect}
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return &CloseError{Reason: ReasonServerDisconnect, Err: err}
	}
	var ne net.Error
	if stderrors.As(err, &ne) && ne.Timeout() {
		return &CloseError{Reason: ReasonPingTimeout, Err: err}
	}
	if stderrors.Is(err, websocket.ErrReadLimit) {
		return &CloseError{Reason: ReasonTransportError, Err: err}
	}
	return &CloseError{Reason: ReasonTransportClose, Err: err}
}

// WriteFrame 实现 Conn
func (c *wsConn) WriteFrame(ctx context.Context, f protocol.Frame) error {
	if c.closed.Load() {
		return &CloseError{Reason: ReasonClientDisconnect}
	}
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close 实现 Conn
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
