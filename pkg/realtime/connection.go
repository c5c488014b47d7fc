package realtime

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/pkg/protocol"
	"github.com/tokmz/sitesync/pkg/tracing"
)

// session 一轮连接循环：拨号、读帧、断线重连，直到被取消或达到失败上限
type session struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	token   string // 最近一次可用的令牌，只在循环 goroutine 内访问
	waiters []chan error
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Initialize 建立连接
// 首次打开成功返回 nil；首次打开前的连接错误返回 ErrConnectFailed；
// 超过 ConnectTimeout 仍无结果返回 ErrConnectTimeout。返回错误后后台循环仍会继续重试
func (c *Client) Initialize(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "realtime.Initialize")
	defer func() { tracing.End(span, err) }()

	token, terr := c.tokens.Token(ctx)
	if terr != nil || token == "" {
		c.log.WarnContext(ctx, "no credential available, connection not attempted", zap.Error(terr))
		if terr != nil {
			return ErrNoCredential.WithError(terr)
		}
		return ErrNoCredential
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	s := c.session
	if s == nil || s.finished() {
		s = c.startSessionLocked(token)
	}
	wait := make(chan error, 1)
	s.waiters = append(s.waiters, wait)
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case werr := <-wait:
		if werr != nil {
			return ErrConnectFailed.WithError(werr)
		}
		span.SetAttributes(attribute.String("realtime.socket_id", c.Status().SocketID))
		return nil
	case <-timer.C:
		c.removeWaiter(s, wait)
		c.log.WarnContext(ctx, "connect timeout", zap.Duration("timeout", c.cfg.ConnectTimeout))
		return ErrConnectTimeout
	case <-ctx.Done():
		c.removeWaiter(s, wait)
		return ctx.Err()
	}
}

func (c *Client) startSessionLocked(token string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		token:  token,
	}
	c.session = s
	c.attempts = 0
	go c.run(s)
	return s
}

func (c *Client) removeWaiter(s *session, wait chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range s.waiters {
		if w == wait {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// Disconnect 关闭连接并停止重连，清空连接状态、当前项目与全部订阅
// 可在事件处理函数中调用
func (c *Client) Disconnect() {
	c.mu.Lock()
	s := c.session
	c.session = nil
	conn := c.conn
	wasConnected := c.connected
	c.conn = nil
	c.connected = false
	c.authenticated = false
	c.socketID = ""
	c.transport = ""
	c.currentUser = nil
	c.currentProject = ""
	c.attempts = 0
	pending := c.takePendingLocked()
	var waiters []chan error
	if s != nil {
		waiters = s.waiters
		s.waiters = nil
	}
	c.mu.Unlock()

	if s != nil {
		s.cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	failPending(pending, ErrDisconnected)
	for _, w := range waiters {
		w <- ErrDisconnected
	}

	if wasConnected {
		c.metrics.SetConnected(false)
		c.metrics.IncDisconnects(ReasonClientDisconnect)
		c.log.Info("disconnected", zap.String("reason", ReasonClientDisconnect))
		c.registry.Emit(newLocalEvent(EventDisconnected, DisconnectedPayload{Reason: ReasonClientDisconnect}))
	}
	c.registry.Clear()
}

// ReconnectWithAuth 断开后使用新令牌重新连接
func (c *Client) ReconnectWithAuth(ctx context.Context) error {
	c.Disconnect()
	return c.Initialize(ctx)
}

// run 连接循环
func (c *Client) run(s *session) {
	defer c.endSession(s)

	bo := c.newBackOff()
	for {
		conn, err := c.dial(s)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if !c.connectFailed(s, err) {
				return
			}
		} else {
			bo.Reset()
			if !c.opened(s, conn) {
				return
			}
			reason := c.serve(s, conn)
			if s.ctx.Err() != nil || !c.cfg.Reconnection {
				return
			}
			if reason == ReasonServerDisconnect {
				c.log.Info("server closed the connection, reconnection stopped")
				return
			}
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// endSession 循环退出后唤醒仍在等待的 Initialize
func (c *Client) endSession(s *session) {
	c.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	close(s.done)
	c.mu.Unlock()

	for _, w := range waiters {
		w <- ErrDisconnected
	}
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectDelay
	b.MaxInterval = c.cfg.ReconnectDelayMax
	b.RandomizationFactor = c.cfg.RandomizationFactor
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// dial 单次拨号，每次都重新获取令牌，取不到时沿用上一次的令牌
func (c *Client) dial(s *session) (Conn, error) {
	if token, err := c.tokens.Token(s.ctx); err == nil && token != "" {
		s.token = token
	}

	ctx, cancel := context.WithTimeout(s.ctx, c.cfg.ConnectTimeout)
	defer cancel()
	ctx, span := tracing.StartSpan(ctx, "realtime.dial")

	conn, err := c.dialer.Dial(ctx, DialRequest{
		URL:          c.cfg.URL,
		Token:        s.token,
		Header:       c.cfg.Header,
		MaxFrameSize: c.cfg.MaxFrameSize,
	})
	tracing.End(span, err)

	if err != nil {
		c.metrics.IncConnectAttempts("unknown", "error")
		return nil, err
	}
	c.metrics.IncConnectAttempts(string(conn.Kind()), "ok")
	return conn, nil
}

// connectFailed 记录一次连接失败，返回是否继续重试
func (c *Client) connectFailed(s *session, err error) bool {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return false
	}
	c.attempts++
	attempts := c.attempts
	waiters := s.waiters
	s.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- err
	}

	limit := c.cfg.MaxReconnectAttempts
	c.log.Warn("connect error",
		zap.Int("attempt", attempts),
		zap.Int("max_attempts", limit),
		zap.Error(err),
	)

	if attempts >= limit {
		if attempts == limit {
			c.metrics.IncReconnectFailed()
			c.log.Error("reconnect attempts exhausted", zap.Int("attempts", attempts))
			c.registry.Emit(newLocalEvent(EventReconnectFailed, ReconnectFailedPayload{Attempts: attempts}))
		}
		return false
	}
	return c.cfg.Reconnection
}

// opened 连接打开
func (c *Client) opened(s *session, conn Conn) bool {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		_ = conn.Close()
		return false
	}
	c.conn = conn
	c.connected = true
	c.authenticated = false
	c.socketID = conn.ID()
	c.transport = conn.Kind()
	c.attempts = 0
	rejoin := c.currentProject
	waiters := s.waiters
	s.waiters = nil
	c.mu.Unlock()

	for _, w := range waiters {
		w <- nil
	}

	c.metrics.SetConnected(true)
	c.log.Info("connected",
		zap.String("socket_id", conn.ID()),
		zap.String("transport", string(conn.Kind())),
	)
	c.registry.Emit(newLocalEvent(EventConnected, ConnectedPayload{
		SocketID:  conn.ID(),
		Transport: conn.Kind(),
	}))

	// 断线期间服务端已丢弃房间成员关系
	if rejoin != "" {
		go c.rejoin(s.ctx, rejoin)
	}
	return true
}

// rejoin 重新加入断线前的项目，期间已切换到其他项目时应答不覆盖当前项目
func (c *Client) rejoin(ctx context.Context, projectID string) {
	ok, err := c.roomRequest(ctx, protocol.EventProjectJoin, projectID, func(current string) bool {
		return current != projectID
	})
	if ok {
		return
	}
	c.log.Warn("rejoin project after reconnect failed", zap.String("project_id", projectID), zap.Error(err))

	c.mu.Lock()
	if c.currentProject == projectID {
		c.currentProject = ""
	}
	c.mu.Unlock()
}

// serve 按到达顺序读帧并分发，连接结束时返回断开原因
func (c *Client) serve(s *session, conn Conn) string {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			reason := closeReason(err)
			c.closed(s, conn, reason, err)
			return reason
		}
		c.dispatch(conn, f)
	}
}

// closed 连接结束（任意原因）
func (c *Client) closed(s *session, conn Conn, reason string, err error) {
	_ = conn.Close()

	c.mu.Lock()
	if c.session != s || c.conn != conn {
		// Disconnect 已处理
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = false
	c.authenticated = false
	c.socketID = ""
	pending := c.takePendingLocked()
	c.mu.Unlock()

	failPending(pending, ErrDisconnected)

	c.metrics.SetConnected(false)
	c.metrics.IncDisconnects(reason)
	c.log.Warn("disconnected", zap.String("reason", reason), zap.Error(err))
	c.registry.Emit(newLocalEvent(EventDisconnected, DisconnectedPayload{Reason: reason}))
}
