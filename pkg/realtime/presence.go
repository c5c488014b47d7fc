package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/protocol"
)

// SendUpdate 发送单向事件，载荷附带 timestamp，无应答不重试
func (c *Client) SendUpdate(event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if conn == nil || !connected {
		c.log.Warn("cannot send while not connected", zap.String("event", event))
		return ErrNotConnected
	}

	payload, err := stampPayload(data, time.Now())
	if err != nil {
		return ErrEncodePayload.WithError(err)
	}

	ctx := context.Background()
	if c.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
	}
	f := protocol.Frame{Type: protocol.FrameEvent, Event: event, Data: payload}
	if err := conn.WriteFrame(ctx, f); err != nil {
		return ErrSendFailed.WithError(err)
	}
	c.metrics.IncFramesSent(event)
	return nil
}

// UpdatePresence 上报在线状态
func (c *Client) UpdatePresence(presence any) error {
	return c.SendUpdate(protocol.EventPresenceUpdate, presence)
}

// SendTyping 上报输入状态
func (c *Client) SendTyping(location string, isTyping bool) error {
	return c.SendUpdate(protocol.EventTyping, struct {
		Location string `json:"location"`
		IsTyping bool   `json:"isTyping"`
	}{location, isTyping})
}

// SendCursorPosition 上报光标位置
func (c *Client) SendCursorPosition(position any) error {
	return c.SendUpdate(protocol.EventCursorMove, struct {
		Position any `json:"position"`
	}{position})
}

// stampPayload 对象载荷合并 timestamp 字段，其他载荷包装为 {"data":...,"timestamp":...}
func stampPayload(data any, now time.Time) (json.RawMessage, error) {
	ts, _ := json.Marshal(protocol.Timestamp(now))

	fields := map[string]json.RawMessage{}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(raw, []byte("{")) {
			if err := json.Unmarshal(raw, &fields); err != nil {
				return nil, err
			}
		} else if !bytes.Equal(raw, []byte("null")) {
			fields["data"] = raw
		}
	}
	fields["timestamp"] = ts
	return json.Marshal(fields)
}
