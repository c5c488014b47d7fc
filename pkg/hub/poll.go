package hub

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/protocol"
)

// ServePollHandshake 长轮询握手：创建会话并排入 authenticated 或 authentication_error
func (h *Hub) ServePollHandshake(w http.ResponseWriter, r *http.Request) {
	c := newClient(h, uuid.NewString(), TransportPolling)
	if err := h.admit(c); err != nil {
		writeError(w, err)
		return
	}
	h.sessions.Store(c.ID, c)

	user, err := h.cfg.Authenticator.Authenticate(r.Context(), TokenFromRequest(r))
	if err != nil {
		// 失败帧取走后下一次 GET 返回 410
		_ = c.sendControl(h.rejected(c, err))
		c.Kick(ReasonAuthFailed)
	} else {
		h.attach(c, user)
	}

	writeJSON(w, http.StatusOK, protocol.PollHandshake{
		SID:          c.ID,
		PingInterval: h.cfg.HeartbeatInterval.Milliseconds(),
		PingTimeout:  h.cfg.PollSessionTTL.Milliseconds(),
		MaxPayload:   h.cfg.MaxFrameSize,
	})
}

// ServePollRecv 长轮询接收：200 帧数组，204 无数据，410 服务端已断开
func (h *Hub) ServePollRecv(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(r)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if !c.recvMu.TryLock() {
		http.Error(w, "poll already in progress", http.StatusConflict)
		return
	}
	defer c.recvMu.Unlock()

	c.touch()
	defer c.touch()

	frames := c.drain(r.Context(), h.cfg.PollHold, h.cfg.PollBatchSize)
	if len(frames) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(batch(frames))
		return
	}

	if c.IsClosed() {
		h.sessions.Delete(c.ID)
		if c.closeCode.Load() == websocket.CloseNormalClosure {
			w.WriteHeader(http.StatusGone)
			return
		}
		// 服务端重启等情况，客户端按传输关闭处理并重连
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServePollSend 长轮询发送：请求体为单个帧
func (h *Hub) ServePollSend(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(r)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if c.IsClosed() {
		w.WriteHeader(http.StatusGone)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxFrameSize))
	if err != nil {
		http.Error(w, "frame too large", http.StatusRequestEntityTooLarge)
		return
	}
	f, err := protocol.Decode(body)
	if err != nil {
		if c.invalidFrame() {
			c.Kick(ReasonInvalid)
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.invalidFrames.Store(0)
	c.touch()

	h.handleFrame(c, f)
	w.WriteHeader(http.StatusNoContent)
}

// ServePollClose 客户端关闭会话
func (h *Hub) ServePollClose(w http.ResponseWriter, r *http.Request) {
	c, ok := h.session(r)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	c.close(websocket.CloseNormalClosure, ReasonClientClose)
	h.sessions.Delete(c.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Hub) session(r *http.Request) (*Client, bool) {
	sid := r.URL.Query().Get(protocol.QuerySID)
	if sid == "" {
		return nil, false
	}
	v, ok := h.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return v.(*Client), true
}

// janitor 关闭空闲会话，回收已关闭但未被取走的会话
func (h *Hub) janitor(ctx context.Context) {
	interval := h.cfg.PollSessionTTL / 4
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.sweep(now)
		}
	}
}

func (h *Hub) sweep(now time.Time) {
	ttl := h.cfg.PollSessionTTL
	h.sessions.Range(func(key, value any) bool {
		c := value.(*Client)
		switch {
		case c.IsClosed():
			if now.Sub(time.Unix(0, c.closedAt.Load())) > ttl {
				h.sessions.Delete(key)
			}
		case c.idleFor(now) > ttl:
			h.log.Debug("poll session expired", zap.String("client_id", c.ID))
			c.close(websocket.CloseGoingAway, ReasonIdle)
			h.sessions.Delete(key)
		}
		return true
	})
}

func batch(frames [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(bytes.Join(frames, []byte{','}))
	buf.WriteByte(']')
	return buf.Bytes()
}
