// Package protocol defines the wire contract shared by the realtime client and the hub.
//
// Every frame is a JSON object:
//
//	{"type":"event","event":"task:created","data":{...}}
//	{"type":"request","event":"project:join","id":"<uuid>","data":{"projectId":"p1"}}
//	{"type":"ack","id":"<uuid>","data":{"success":true}}
//
// The bearer token travels with the transport handshake (Authorization header or the
// token query parameter), never as a frame.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// FrameType 帧类型
type FrameType string

const (
	FrameEvent   FrameType = "event"   // 单向事件
	FrameRequest FrameType = "request" // 需要应答的请求
	FrameAck     FrameType = "ack"     // 请求应答
)

// 服务端 -> 客户端 握手事件
const (
	EventAuthenticated       = "authenticated"
	EventAuthenticationError = "authentication_error"
)

// 客户端 -> 服务端 请求（带应答）
const (
	EventProjectJoin  = "project:join"
	EventProjectLeave = "project:leave"
)

// 客户端 -> 服务端 单向信号
const (
	EventPresenceUpdate = "user:presence_update"
	EventTyping         = "collaboration:typing"
	EventCursorMove     = "collaboration:cursor_move"
)

// 服务端 -> 客户端 业务事件
const (
	EventProjectUpdated   = "project:updated"
	EventTaskCreated      = "task:created"
	EventTaskUpdated      = "task:updated"
	EventScopeUpdated     = "scope:updated"
	EventUserPresence     = "user:presence"
	EventNotificationNew  = "notification:new"
	EventMentionCreated   = "mention:created"
	EventUserJoined       = "collaboration:user_joined"
	EventUserLeft         = "collaboration:user_left"
	EventCursorMoved      = "collaboration:cursor_moved"
	EventSelectionChanged = "collaboration:selection_changed"
)

// DomainEvents 服务端下发的业务事件，客户端原样转发
var DomainEvents = []string{
	EventProjectUpdated,
	EventTaskCreated,
	EventTaskUpdated,
	EventScopeUpdated,
	EventUserPresence,
	EventNotificationNew,
	EventMentionCreated,
	EventUserJoined,
	EventUserLeft,
	EventCursorMoved,
	EventSelectionChanged,
}

var domainSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(DomainEvents))
	for _, e := range DomainEvents {
		m[e] = struct{}{}
	}
	return m
}()

// IsDomainEvent 判断是否为已知业务事件
func IsDomainEvent(event string) bool {
	_, ok := domainSet[event]
	return ok
}

// 传输层约定
const (
	PathWebSocket     = "/ws"             // websocket 升级地址
	PathPoll          = "/poll"           // 长轮询收（GET）/发（POST）/关闭（DELETE）
	PathPollHandshake = "/poll/handshake" // 长轮询握手（POST）
	QuerySID          = "sid"             // 长轮询会话 ID 参数
	QueryToken        = "token"           // 无法设置请求头时的令牌参数
	HeaderSocketID    = "X-Socket-Id"     // websocket 升级响应中的连接 ID

	// MaxPollBatch 单次长轮询 GET 最多返回的帧数，客户端据此确定响应体上限
	MaxPollBatch = 64
)

// Frame 线上帧
type Frame struct {
	Type  FrameType       `json:"type"`
	Event string          `json:"event,omitempty"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack 请求应答载荷
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RoomRequest 加入/离开房间请求载荷
type RoomRequest struct {
	ProjectID string `json:"projectId"`
}

// User 认证用户
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Authenticated authenticated 事件载荷
type Authenticated struct {
	User User `json:"user"`
}

// AuthError authentication_error 事件载荷
type AuthError struct {
	Message string `json:"message"`
}

// PollHandshake 长轮询握手响应
type PollHandshake struct {
	SID          string `json:"sid"`
	PingInterval int64  `json:"pingInterval"` // 毫秒
	PingTimeout  int64  `json:"pingTimeout"`  // 毫秒
	MaxPayload   int64  `json:"maxPayload"`
}

// NewEvent 创建事件帧
func NewEvent(event string, data any) (Frame, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Frame{}, fmt.Errorf("protocol: encode %s: %w", event, err)
	}
	return Frame{Type: FrameEvent, Event: event, Data: raw}, nil
}

// NewRequest 创建请求帧
func NewRequest(event, id string, data any) (Frame, error) {
	f, err := NewEvent(event, data)
	if err != nil {
		return Frame{}, err
	}
	f.Type = FrameRequest
	f.ID = id
	return f, nil
}

// NewAck 创建应答帧
func NewAck(id string, ack Ack) Frame {
	raw, _ := json.Marshal(ack)
	return Frame{Type: FrameAck, ID: id, Data: raw}
}

// DecodeAck 解析应答帧载荷
func (f Frame) DecodeAck() (Ack, error) {
	var ack Ack
	if len(f.Data) == 0 {
		return ack, fmt.Errorf("protocol: empty ack payload")
	}
	if err := json.Unmarshal(f.Data, &ack); err != nil {
		return ack, fmt.Errorf("protocol: decode ack: %w", err)
	}
	return ack, nil
}

// Encode 序列化帧
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// Decode 解析帧，type 缺失时视为事件帧
func Decode(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return f, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if f.Type == "" {
		f.Type = FrameEvent
	}
	switch f.Type {
	case FrameEvent, FrameRequest:
		if f.Event == "" {
			return f, fmt.Errorf("protocol: %s frame without event name", f.Type)
		}
	case FrameAck:
		if f.ID == "" {
			return f, fmt.Errorf("protocol: ack frame without id")
		}
	default:
		return f, fmt.Errorf("protocol: unknown frame type %q", f.Type)
	}
	return f, nil
}

// Timestamp 格式化为 ISO-8601（UTC，毫秒精度）
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		if !json.Valid(v) {
			return nil, fmt.Errorf("invalid json payload")
		}
		return v, nil
	}
	return json.Marshal(data)
}
