package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/protocol"
	"github.com/tokmz/sitesync/pkg/tracing"
)

type ackResult struct {
	ack protocol.Ack
	err error
}

// JoinProject 加入项目房间
// 服务端拒绝时返回 (false, ErrRoomRejected)，未连接时返回 (false, ErrNotConnected)
func (c *Client) JoinProject(ctx context.Context, projectID string) (bool, error) {
	return c.roomRequest(ctx, protocol.EventProjectJoin, projectID, nil)
}

// LeaveProject 离开项目房间，仅当 projectID 为当前项目时清空当前项目
func (c *Client) LeaveProject(ctx context.Context, projectID string) (bool, error) {
	return c.roomRequest(ctx, protocol.EventProjectLeave, projectID, nil)
}

// roomRequest 发送房间请求并等待应答
// stale 非 nil 时在提交前以当前项目调用，返回 true 则不再修改当前项目
func (c *Client) roomRequest(ctx context.Context, event, projectID string, stale func(current string) bool) (ok bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "realtime."+event, attribute.String("project.id", projectID))
	defer func() { tracing.End(span, err) }()

	id := uuid.NewString()
	f, ferr := protocol.NewRequest(event, id, protocol.RoomRequest{ProjectID: projectID})
	if ferr != nil {
		return false, ErrEncodePayload.WithError(ferr)
	}

	wait := make(chan ackResult, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil || !c.connected {
		c.mu.Unlock()
		c.log.WarnContext(ctx, "room request while not connected",
			zap.String("event", event),
			zap.String("project_id", projectID),
		)
		return false, ErrNotConnected
	}
	c.pending[id] = wait
	c.mu.Unlock()

	start := time.Now()
	if werr := conn.WriteFrame(ctx, f); werr != nil {
		c.dropPending(id)
		c.metrics.ObserveAck(event, "send_error", time.Since(start))
		return false, ErrSendFailed.WithError(werr)
	}
	c.metrics.IncFramesSent(event)

	var timeout <-chan time.Time
	if c.cfg.AckTimeout > 0 {
		timer := time.NewTimer(c.cfg.AckTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	var res ackResult
	select {
	case res = <-wait:
	case <-timeout:
		c.dropPending(id)
		c.metrics.ObserveAck(event, "timeout", time.Since(start))
		c.log.WarnContext(ctx, "room request timed out",
			zap.String("event", event),
			zap.String("project_id", projectID),
			zap.Duration("timeout", c.cfg.AckTimeout),
		)
		return false, ErrAckTimeout
	case <-ctx.Done():
		c.dropPending(id)
		c.metrics.ObserveAck(event, "canceled", time.Since(start))
		return false, ctx.Err()
	}

	if res.err != nil {
		c.metrics.ObserveAck(event, "disconnected", time.Since(start))
		return false, res.err
	}
	if !res.ack.Success {
		c.metrics.ObserveAck(event, "rejected", time.Since(start))
		msg := res.ack.Error
		if msg == "" {
			msg = "rejected by server"
		}
		c.log.WarnContext(ctx, "room request rejected",
			zap.String("event", event),
			zap.String("project_id", projectID),
			zap.String("error", msg),
		)
		return false, ErrRoomRejected.WithMessagef("realtime: %s %s: %s", event, projectID, msg)
	}
	c.metrics.ObserveAck(event, "ok", time.Since(start))

	local := EventProjectJoined
	c.mu.Lock()
	if stale != nil && stale(c.currentProject) {
		current := c.currentProject
		c.mu.Unlock()
		c.log.DebugContext(ctx, "room ack superseded",
			zap.String("event", event),
			zap.String("project_id", projectID),
			zap.String("current_project_id", current),
		)
		return true, nil
	}
	if event == protocol.EventProjectJoin {
		c.currentProject = projectID
	} else {
		local = EventProjectLeft
		if c.currentProject == projectID {
			c.currentProject = ""
		}
	}
	c.mu.Unlock()

	c.log.InfoContext(ctx, local, zap.String("project_id", projectID))
	c.registry.Emit(newLocalEvent(local, RoomPayload{ProjectID: projectID}))
	return true, nil
}

// resolveAck 将应答交给等待中的请求，找不到请求的应答被忽略
func (c *Client) resolveAck(f protocol.Frame) {
	c.mu.Lock()
	wait, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug("ack for unknown request", zap.String("id", f.ID))
		return
	}

	ack, err := f.DecodeAck()
	if err != nil {
		ack = protocol.Ack{Success: false, Error: err.Error()}
	}
	wait <- ackResult{ack: ack}
}

func (c *Client) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) takePendingLocked() map[string]chan ackResult {
	p := c.pending
	c.pending = make(map[string]chan ackResult)
	return p
}

func failPending(pending map[string]chan ackResult, err error) {
	for _, wait := range pending {
		wait <- ackResult{err: err}
	}
}
