package realtime

import "github.com/tokmz/sitesync/pkg/errors"

// 6000 段错误码：实时同步客户端
var (
	// ErrNoCredential 无法获取令牌，未发起连接
	ErrNoCredential = errors.New(6001, 401, "realtime: no credential available", nil)
	// ErrConnectTimeout 连接超时（既未连接成功也未收到连接错误）
	ErrConnectTimeout = errors.New(6002, 504, "realtime: connect timeout", nil)
	// ErrConnectFailed 首次连接出错
	ErrConnectFailed = errors.New(6003, 502, "realtime: connect failed", nil)
	// ErrNotConnected 传输未打开
	ErrNotConnected = errors.New(6004, 503, "realtime: not connected", nil)
	// ErrAckTimeout 等待服务端应答超时
	ErrAckTimeout = errors.New(6005, 504, "realtime: ack timeout", nil)
	// ErrRoomRejected 服务端拒绝加入/离开房间
	ErrRoomRejected = errors.New(6006, 409, "realtime: room request rejected", nil)
	// ErrDisconnected 等待应答期间连接断开
	ErrDisconnected = errors.New(6007, 503, "realtime: disconnected", nil)
	// ErrSendFailed 帧写入失败
	ErrSendFailed = errors.New(6008, 502, "realtime: send failed", nil)
	// ErrEncodePayload 载荷序列化失败
	ErrEncodePayload = errors.New(6009, 400, "realtime: encode payload failed", nil)
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New(6010, 500, "realtime: invalid config", nil)
	// ErrHandshake 传输握手被拒绝（鉴权失败、会话不存在等）
	ErrHandshake = errors.New(6011, 401, "realtime: handshake rejected", nil)
)

// 断开原因
const (
	ReasonClientDisconnect = "io client disconnect"
	ReasonServerDisconnect = "io server disconnect"
	ReasonTransportClose   = "transport close"
	ReasonTransportError   = "transport error"
	ReasonPingTimeout      = "ping timeout"
)

// CloseError 传输连接结束，Reason 为上面的断开原因之一
type CloseError struct {
	Reason string
	Err    error
}

func (e *CloseError) Error() string {
	if e.Err != nil {
		return "realtime: " + e.Reason + ": " + e.Err.Error()
	}
	return "realtime: " + e.Reason
}

func (e *CloseError) Unwrap() error {
	return e.Err
}

// closeReason 从读错误中提取断开原因
func closeReason(err error) string {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonTransportError
}
