package hub

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/protocol"
)

// ServeWS websocket 端点：升级后校验令牌，失败时发送 authentication_error 并正常关闭
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	c := newClient(h, uuid.NewString(), TransportWebSocket)
	if err := h.admit(c); err != nil {
		writeError(w, err)
		return
	}

	header := http.Header{protocol.HeaderSocketID: []string{c.ID}}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		// 升级失败时 upgrader 已写入响应
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		c.close(websocket.CloseGoingAway, ReasonTransport)
		return
	}
	c.conn = conn

	user, err := h.cfg.Authenticator.Authenticate(r.Context(), TokenFromRequest(r))
	if err != nil {
		h.refuse(c, err)
		return
	}
	h.attach(c, user)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		c.run()
	}()
}

// refuse 直接写出认证失败帧并关闭，不启动读写协程
func (h *Hub) refuse(c *Client, err error) {
	frame := h.rejected(c, err)
	deadline := time.Now().Add(h.cfg.WriteWait)

	if b, encErr := protocol.Encode(frame); encErr == nil {
		_ = c.conn.SetWriteDeadline(deadline)
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, ReasonAuthFailed)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)

	c.close(websocket.CloseNormalClosure, ReasonAuthFailed)
	_ = c.conn.Close()
}
