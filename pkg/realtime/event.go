package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tokmz/sitesync/pkg/protocol"
)

// 本地事件，由客户端自身产生
const (
	EventConnected       = "socket:connected"
	EventDisconnected    = "socket:disconnected"
	EventAuthenticated   = "socket:authenticated"
	EventAuthError       = "socket:auth_error"
	EventReconnectFailed = "socket:reconnect_failed"
	EventProjectJoined   = "project:joined"
	EventProjectLeft     = "project:left"
)

// Kind 事件分类
type Kind int

const (
	KindUnknown   Kind = iota // 未登记的服务端事件，原样透传
	KindLifecycle             // 连接生命周期
	KindHandshake             // 鉴权握手结果
	KindDomain                // 业务事件
	KindLocal                 // 房间操作结果
)

func (k Kind) String() string {
	switch k {
	case KindLifecycle:
		return "lifecycle"
	case KindHandshake:
		return "handshake"
	case KindDomain:
		return "domain"
	case KindLocal:
		return "local"
	default:
		return "unknown"
	}
}

// KindOf 返回事件名对应的分类
func KindOf(name string) Kind {
	switch name {
	case EventConnected, EventDisconnected, EventReconnectFailed:
		return KindLifecycle
	case EventAuthenticated, EventAuthError:
		return KindHandshake
	case EventProjectJoined, EventProjectLeft:
		return KindLocal
	}
	if protocol.IsDomainEvent(name) {
		return KindDomain
	}
	return KindUnknown
}

// Event 分发给订阅者的事件
// Payload 是服务端下发的原始 JSON，转发过程中不做修改
type Event struct {
	Name    string
	Payload json.RawMessage
	Time    time.Time
}

// Kind 事件分类
func (e Event) Kind() Kind {
	return KindOf(e.Name)
}

// 各类事件的载荷
type (
	User = protocol.User

	ConnectedPayload struct {
		SocketID  string        `json:"socketId"`
		Transport TransportKind `json:"transport"`
	}

	DisconnectedPayload struct {
		Reason string `json:"reason"`
	}

	ReconnectFailedPayload struct {
		Attempts int `json:"attempts"`
	}

	AuthenticatedPayload = protocol.Authenticated

	AuthErrorPayload = protocol.AuthError

	RoomPayload struct {
		ProjectID string `json:"projectId"`
	}
)

// Decode 将事件载荷解析为具体类型
func Decode[T any](e Event) (T, error) {
	var v T
	if len(e.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return v, fmt.Errorf("realtime: decode %s payload: %w", e.Name, err)
	}
	return v, nil
}

// newLocalEvent 构造本地事件
func newLocalEvent(name string, payload any) Event {
	raw, _ := json.Marshal(payload)
	return Event{Name: name, Payload: raw, Time: time.Now()}
}
