package hub

import "github.com/tokmz/sitesync/pkg/errors"

// 7000 段错误码：hub
var (
	// 连接
	ErrTooManyConnections = errors.New(7001, 503, "hub: too many connections", nil)
	ErrClientIDExists     = errors.New(7002, 409, "hub: client id already exists", nil)
	ErrConnectionClosed   = errors.New(7003, 410, "hub: connection closed", nil)
	ErrChannelFull        = errors.New(7004, 503, "hub: send queue full", nil)
	ErrUnauthorized       = errors.New(7005, 401, "hub: unauthorized", nil)
	ErrSessionNotFound    = errors.New(7006, 404, "hub: poll session not found", nil)

	// 房间
	ErrRoomFull        = errors.New(7101, 409, "hub: room is full", nil)
	ErrProjectRequired = errors.New(7102, 400, "hub: projectId is required", nil)
	ErrRoomForbidden   = errors.New(7103, 403, "hub: not allowed to join project", nil)

	// 帧
	ErrHandlerNotFound = errors.New(7201, 404, "hub: no handler for event", nil)
	ErrHandlerExists   = errors.New(7202, 409, "hub: handler already registered", nil)
	ErrRouterFrozen    = errors.New(7203, 500, "hub: router is frozen", nil)
	ErrInvalidFrame    = errors.New(7204, 400, "hub: invalid frame", nil)

	// 配置
	ErrInvalidConfig = errors.New(7301, 500, "hub: invalid config", nil)
)
