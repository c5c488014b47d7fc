package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/protocol"
)

// member collaboration:user_joined / user_left 载荷
type member struct {
	User      protocol.User `json:"user"`
	ProjectID string        `json:"projectId"`
	Timestamp string        `json:"timestamp"`
}

func memberPayload(u protocol.User, projectID string) member {
	return member{User: u, ProjectID: projectID, Timestamp: protocol.Timestamp(time.Now())}
}

func (h *Hub) registerBuiltins() error {
	return errors.Join(
		Handle(h.router, protocol.EventProjectJoin, h.joinProject),
		Handle(h.router, protocol.EventProjectLeave, h.leaveProject),
		h.router.Register(protocol.EventPresenceUpdate, h.relayTo(protocol.EventUserPresence)),
		h.router.Register(protocol.EventTyping, h.relayTo(protocol.EventTyping)),
		h.router.Register(protocol.EventCursorMove, h.relayTo(protocol.EventCursorMoved)),
	)
}

func (h *Hub) joinProject(ctx context.Context, c *Client, req *protocol.RoomRequest) error {
	if req.ProjectID == "" {
		return ErrProjectRequired
	}
	if policy := h.cfg.RoomPolicy; policy != nil {
		if err := policy(ctx, c.User, req.ProjectID); err != nil {
			var e *errors.Error
			if errors.As(err, &e) {
				return err
			}
			return ErrRoomForbidden.WithMessage(err.Error())
		}
	}

	joined, err := h.rooms.Join(c, req.ProjectID)
	if err != nil || !joined {
		return err
	}
	h.metrics.SetRoomCount(h.rooms.Count())
	h.events.Publish(Event{Type: EventRoomJoined, ClientID: c.ID, UserID: c.User.ID, ProjectID: req.ProjectID})
	return h.fanout(ctx, req.ProjectID, protocol.EventUserJoined, memberPayload(c.User, req.ProjectID), c)
}

// leaveProject 不在房间中也视为成功
func (h *Hub) leaveProject(ctx context.Context, c *Client, req *protocol.RoomRequest) error {
	if req.ProjectID == "" {
		return ErrProjectRequired
	}
	if !h.rooms.Leave(c, req.ProjectID) {
		return nil
	}
	h.metrics.SetRoomCount(h.rooms.Count())
	h.events.Publish(Event{Type: EventRoomLeft, ClientID: c.ID, UserID: c.User.ID, ProjectID: req.ProjectID})
	return h.fanout(ctx, req.ProjectID, protocol.EventUserLeft, memberPayload(c.User, req.ProjectID), c)
}

// relayTo 把客户端信号转发给同房间的其他成员，附带发送者的 userId
func (h *Hub) relayTo(event string) Handler {
	return func(ctx context.Context, c *Client, f protocol.Frame) error {
		rooms := c.Rooms()
		if len(rooms) == 0 {
			return nil
		}
		payload := withUserID(f.Data, c.User.ID)
		var errs []error
		for _, roomID := range rooms {
			if err := h.fanout(ctx, roomID, event, payload, c); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// withUserID 对象载荷写入 userId（覆盖客户端自带的值），其余载荷包装为 {"userId","data"}
func withUserID(data json.RawMessage, userID string) json.RawMessage {
	uid, _ := json.Marshal(userID)

	var obj map[string]json.RawMessage
	if len(data) > 0 && json.Unmarshal(data, &obj) == nil && obj != nil {
		obj["userId"] = uid
		out, err := json.Marshal(obj)
		if err == nil {
			return out
		}
	}

	wrapped := map[string]json.RawMessage{"userId": uid}
	if len(data) > 0 {
		wrapped["data"] = data
	}
	out, _ := json.Marshal(wrapped)
	return out
}
