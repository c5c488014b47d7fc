package realtime

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/protocol"
)

type relayHandler func(c *Client, conn Conn, f protocol.Frame)

// handshakeHandlers 需要更新客户端状态的服务端事件，其余事件原样转发
var handshakeHandlers = map[string]relayHandler{
	protocol.EventAuthenticated:       (*Client).onAuthenticated,
	protocol.EventAuthenticationError: (*Client).onAuthError,
}

// dispatch 在读 goroutine 中串行调用，保持帧的到达顺序
func (c *Client) dispatch(conn Conn, f protocol.Frame) {
	if f.Type == protocol.FrameAck {
		c.metrics.IncFramesReceived("ack")
		c.resolveAck(f)
		return
	}

	if h, ok := handshakeHandlers[f.Event]; ok {
		c.metrics.IncFramesReceived(KindHandshake.String())
		h(c, conn, f)
		return
	}

	kind := KindOf(f.Event)
	if kind == KindUnknown {
		c.log.Debug("relay unregistered event", zap.String("event", f.Event))
	}
	c.metrics.IncFramesReceived(kind.String())
	c.registry.Emit(Event{Name: f.Event, Payload: f.Data, Time: time.Now()})
}

func (c *Client) onAuthenticated(conn Conn, f protocol.Frame) {
	var p protocol.Authenticated
	decoded := true
	if err := json.Unmarshal(f.Data, &p); err != nil {
		decoded = false
		c.log.Warn("authenticated payload not decodable", zap.Error(err))
	}

	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.authenticated = true
	// 以最后一次 authenticated 为准
	if decoded {
		u := p.User
		c.currentUser = &u
	}
	c.mu.Unlock()

	c.log.Info("authenticated", zap.String("user_id", p.User.ID))
	c.registry.Emit(Event{Name: EventAuthenticated, Payload: f.Data, Time: time.Now()})
}

func (c *Client) onAuthError(conn Conn, f protocol.Frame) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.authenticated = false
	c.mu.Unlock()

	c.log.Warn("authentication failed", zap.ByteString("payload", f.Data))
	c.registry.Emit(Event{Name: EventAuthError, Payload: f.Data, Time: time.Now()})
}
