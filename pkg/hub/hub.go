package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/protocol"
	"github.com/tokmz/sitesync/pkg/tracing"
)

// Hub 实时同步服务端：管理连接与项目房间，向客户端推送业务事件
type Hub struct {
	cfg      *Config
	log      logger.Logger
	pool     *ConnectionPool
	rooms    *RoomManager
	router   *Router
	events   *EventBus
	upgrader *websocket.Upgrader
	metrics  Metrics

	sessions sync.Map // sid -> *Client，长轮询会话

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New 创建 Hub
func New(opts ...Option) (*Hub, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      cfg,
		log:      cfg.Logger.Named("hub"),
		pool:     NewConnectionPool(cfg.MaxConnections),
		rooms:    NewRoomManager(cfg.MaxRoomSize),
		router:   NewRouter(),
		events:   NewEventBus(4, 1024),
		upgrader: newUpgrader(cfg),
		metrics:  cfg.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := h.registerBuiltins(); err != nil {
		cancel()
		return nil, err
	}
	h.setupEventHandlers()
	return h, nil
}

// setupEventHandlers 生命周期日志
func (h *Hub) setupEventHandlers() {
	h.events.Subscribe(EventClientConnected, func(e Event) {
		h.log.Info("client connected",
			zap.String("client_id", e.ClientID),
			zap.String("user_id", e.UserID),
			zap.String("transport", e.Transport))
	})
	h.events.Subscribe(EventClientDisconnected, func(e Event) {
		h.log.Info("client disconnected",
			zap.String("client_id", e.ClientID),
			zap.String("user_id", e.UserID),
			zap.String("reason", e.Reason))
	})
	h.events.Subscribe(EventAuthFailed, func(e Event) {
		h.log.Warn("authentication failed",
			zap.String("client_id", e.ClientID),
			zap.String("transport", e.Transport),
			zap.String("reason", e.Reason))
	})
}

// Router 帧路由器，Run 之前可注册自定义处理器
func (h *Hub) Router() *Router {
	return h.router
}

// OnEvent 订阅生命周期事件
func (h *Hub) OnEvent(t EventType, fn EventHandler) {
	h.events.Subscribe(t, fn)
}

// NodeID 节点 ID
func (h *Hub) NodeID() string {
	return h.cfg.NodeID
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	return h.pool.Count()
}

// RoomCount 当前房间数
func (h *Hub) RoomCount() int {
	return h.rooms.Count()
}

// Members 房间内的用户（同一用户多连接只计一次）
func (h *Hub) Members(projectID string) []protocol.User {
	seen := make(map[string]bool)
	var out []protocol.User
	for _, c := range h.rooms.Members(projectID) {
		if seen[c.User.ID] {
			continue
		}
		seen[c.User.ID] = true
		out = append(out, c.User)
	}
	return out
}

// Register 在 gin 路由上挂载传输端点
func (h *Hub) Register(r gin.IRoutes) {
	r.GET(protocol.PathWebSocket, gin.WrapF(h.ServeWS))
	r.POST(protocol.PathPollHandshake, gin.WrapF(h.ServePollHandshake))
	r.GET(protocol.PathPoll, gin.WrapF(h.ServePollRecv))
	r.POST(protocol.PathPoll, gin.WrapF(h.ServePollSend))
	r.DELETE(protocol.PathPoll, gin.WrapF(h.ServePollClose))
}

// Run 冻结路由并运行后台任务（跨节点订阅、长轮询会话清理），ctx 取消后返回
func (h *Hub) Run(ctx context.Context) error {
	h.router.Freeze()

	g, ctx := errgroup.WithContext(ctx)
	if bus := h.cfg.Bus; bus != nil {
		g.Go(func() error {
			return bus.Subscribe(ctx, h.receive)
		})
	}
	g.Go(func() error {
		h.janitor(ctx)
		return nil
	})
	return g.Wait()
}

// Shutdown 关闭所有连接，客户端会按各自的重连策略重新连接
func (h *Hub) Shutdown(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.cancel()

	var wg sync.WaitGroup
	for _, c := range h.pool.Snapshot() {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			c.close(websocket.CloseGoingAway, ReasonShutdown)
		}(c)
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	defer h.events.Close()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish 向项目房间推送事件（含其他节点）
func (h *Hub) Publish(ctx context.Context, projectID, event string, payload any) error {
	return h.fanout(ctx, projectID, event, payload, nil)
}

// SendToUser 向用户的所有连接推送事件（含其他节点）
func (h *Hub) SendToUser(ctx context.Context, userID, event string, payload any) error {
	f, err := protocol.NewEvent(event, payload)
	if err != nil {
		return ErrInvalidFrame.WithError(err)
	}
	b, err := protocol.Encode(f)
	if err != nil {
		return ErrInvalidFrame.WithError(err)
	}
	h.deliverToUser(userID, event, b)

	if bus := h.cfg.Bus; bus != nil {
		return bus.Publish(ctx, Envelope{Origin: h.cfg.NodeID, UserID: userID, Event: event, Data: f.Data})
	}
	return nil
}

func (h *Hub) deliverToUser(userID, event string, b []byte) {
	for _, c := range h.pool.ByUser(userID) {
		_ = c.sendBytes(event, b)
	}
}

// fanout 本地广播后转发给其他节点
func (h *Hub) fanout(ctx context.Context, roomID, event string, payload any, exclude *Client) error {
	f, err := protocol.NewEvent(event, payload)
	if err != nil {
		return ErrInvalidFrame.WithError(err)
	}
	b, err := protocol.Encode(f)
	if err != nil {
		return ErrInvalidFrame.WithError(err)
	}

	start := time.Now()
	h.rooms.Broadcast(roomID, event, b, exclude)
	h.metrics.ObserveBroadcast(time.Since(start))

	if bus := h.cfg.Bus; bus != nil {
		return bus.Publish(ctx, Envelope{Origin: h.cfg.NodeID, Room: roomID, Event: event, Data: f.Data})
	}
	return nil
}

// receive 处理其他节点转发的事件
func (h *Hub) receive(env Envelope) {
	if env.Origin == h.cfg.NodeID {
		return
	}
	b, err := protocol.Encode(protocol.Frame{Type: protocol.FrameEvent, Event: env.Event, Data: env.Data})
	if err != nil {
		h.log.Warn("drop remote envelope", zap.String("event", env.Event), zap.Error(err))
		return
	}
	switch {
	case env.Room != "":
		h.rooms.Broadcast(env.Room, env.Event, b, nil)
	case env.UserID != "":
		h.deliverToUser(env.UserID, env.Event, b)
	}
}

// handleFrame 路由入站帧，请求帧按处理结果回复应答
func (h *Hub) handleFrame(c *Client, f protocol.Frame) {
	h.metrics.IncFramesIn(f.Event)
	if f.Type == protocol.FrameAck {
		return
	}

	ctx, span := tracing.StartSpan(c.ctx, "hub."+f.Event,
		attribute.String("hub.client_id", c.ID),
		attribute.String("hub.user_id", c.User.ID))
	err := h.router.Route(ctx, c, f)
	tracing.End(span, err)

	if f.Type == protocol.FrameRequest {
		ack := protocol.Ack{Success: err == nil}
		if err != nil {
			ack.Error = ackMessage(err)
		}
		if serr := c.sendControl(protocol.NewAck(f.ID, ack)); serr != nil {
			h.log.Debug("ack not delivered", zap.String("client_id", c.ID), zap.Error(serr))
		}
		return
	}
	if err != nil {
		h.log.Debug("event rejected",
			zap.String("client_id", c.ID),
			zap.String("event", f.Event),
			zap.Error(err))
	}
}

// admit 占用连接名额
func (h *Hub) admit(c *Client) error {
	if h.closed.Load() {
		return ErrConnectionClosed.WithMessage("hub: shutting down")
	}
	if err := h.pool.Add(c); err != nil {
		return err
	}
	h.metrics.IncConnections(c.Transport)
	return nil
}

// attach 认证成功
func (h *Hub) attach(c *Client, user protocol.User) {
	c.User = user
	h.pool.Bind(c)
	if err := c.sendControl(mustEvent(protocol.EventAuthenticated, protocol.Authenticated{User: user})); err != nil {
		h.log.Warn("authenticated not delivered", zap.String("client_id", c.ID), zap.Error(err))
	}
	h.events.Publish(Event{Type: EventClientConnected, ClientID: c.ID, UserID: user.ID, Transport: c.Transport})
}

// rejected 认证失败
func (h *Hub) rejected(c *Client, err error) protocol.Frame {
	h.metrics.IncAuthFailures()
	h.events.Publish(Event{Type: EventAuthFailed, ClientID: c.ID, Transport: c.Transport, Reason: err.Error()})
	return mustEvent(protocol.EventAuthenticationError, protocol.AuthError{Message: ackMessage(err)})
}

// detach 连接关闭后的清理，由 Client.close 调用一次
func (h *Hub) detach(c *Client, reason string) {
	if h.pool.Remove(c) {
		h.metrics.DecConnections(c.Transport)
	}

	left := h.rooms.RemoveClient(c)
	if len(left) > 0 {
		h.metrics.SetRoomCount(h.rooms.Count())
	}
	for _, roomID := range left {
		if err := h.fanout(h.ctx, roomID, protocol.EventUserLeft, memberPayload(c.User, roomID), nil); err != nil {
			h.log.Debug("user_left not published", zap.String("project_id", roomID), zap.Error(err))
		}
	}

	h.events.Publish(Event{Type: EventClientDisconnected, ClientID: c.ID, UserID: c.User.ID, Transport: c.Transport, Reason: reason})
}

func mustEvent(event string, data any) protocol.Frame {
	f, err := protocol.NewEvent(event, data)
	if err != nil {
		panic(err)
	}
	return f
}

// ackMessage 应答中只携带错误信息，不暴露底层原因
func ackMessage(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// writeError 按错误码写入 HTTP 错误
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var e *errors.Error
	if errors.As(err, &e) {
		status = e.HttpCode
	}
	http.Error(w, ackMessage(err), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
