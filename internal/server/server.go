// Package server hosts the hub transports and the operational endpoints on a gin engine.
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tokmz/sitesync/internal/settings"
	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/hub"
	"github.com/tokmz/sitesync/pkg/ingest"
	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/metrics"
	"github.com/tokmz/sitesync/pkg/protocol"
	"github.com/tokmz/sitesync/pkg/tracing"
)

// 服务端路由
const (
	PathHealth  = "/healthz"
	PathPublish = "/api/publish"
)

// 1200 段错误码：server
var (
	ErrForbidden       = errors.New(1201, http.StatusForbidden, "server: role not allowed to publish", nil)
	ErrPayloadTooLarge = errors.New(1202, http.StatusRequestEntityTooLarge, "server: payload too large", nil)
	ErrInvalidOptions  = errors.New(1203, 500, "server: invalid options", nil)
)

// Options 服务依赖
type Options struct {
	Settings *settings.Settings
	Hub      *hub.Hub
	Logger   logger.Logger

	// 以下可选
	Auth      hub.Authenticator   // 为空时不开放发布接口
	Processor *ingest.Processor   // 为空时不开放发布接口
	Gatherer  prometheus.Gatherer // 为空时不暴露 metrics
}

// Server HTTP 服务
type Server struct {
	cfg      settings.Server
	hub      *hub.Hub
	auth     hub.Authenticator
	ingest   *ingest.Processor
	role     string
	maxBody  int64
	log      logger.Logger
	engine   *gin.Engine
	server   *http.Server
	basePath string
}

// New 创建服务并注册路由
func New(opts Options) (*Server, error) {
	if opts.Settings == nil || opts.Hub == nil {
		return nil, ErrInvalidOptions.WithMessage("server: settings and hub are required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	st := opts.Settings

	// gin.SetMode 是全局操作，进程内只应创建一个 Server
	gin.SetMode(st.Server.Mode)
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard

	engine := gin.New()
	engine.Use(gin.Recovery())
	if st.Server.TrustedProxies != nil {
		if err := engine.SetTrustedProxies(st.Server.TrustedProxies); err != nil {
			return nil, ErrInvalidOptions.WithError(err)
		}
	}

	s := &Server{
		cfg:      st.Server,
		hub:      opts.Hub,
		auth:     opts.Auth,
		ingest:   opts.Processor,
		role:     st.Auth.PublishRole,
		maxBody:  st.Hub.MaxFrameSize,
		log:      opts.Logger.Named("server"),
		engine:   engine,
		basePath: st.Server.BasePath,
	}

	quiet := []string{PathHealth, st.Metrics.Path}
	engine.Use(
		logger.Middleware(s.log, quiet...),
		tracing.Middleware("sitesync.http", quiet...),
	)
	if origins := st.Hub.AllowedOrigins; len(origins) > 0 {
		engine.Use(CORS(DefaultCORSConfig(origins)))
	}
	if st.Server.HandshakeRate > 0 {
		engine.Use(RateLimit(RateLimitConfig{
			Rate:  st.Server.HandshakeRate,
			Burst: st.Server.HandshakeBurst,
			Paths: []string{
				s.basePath + protocol.PathWebSocket,
				s.basePath + protocol.PathPollHandshake,
			},
			Logger: s.log,
		}))
	}

	engine.GET(PathHealth, s.health)
	if opts.Gatherer != nil && st.Metrics.Enabled {
		engine.GET(st.Metrics.Path, metrics.GinHandler(opts.Gatherer))
	}
	if st.Server.EnablePublish && s.auth != nil && s.ingest != nil {
		engine.POST(PathPublish, s.publish)
	}
	s.hub.Register(engine.Group(s.basePath))

	return s, nil
}

// Handler 返回 http.Handler，测试中配合 httptest 使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Routes 已注册路由
func (s *Server) Routes() gin.RoutesInfo {
	return s.engine.Routes()
}

// Run 监听 cfg.Addr 直到 ctx 取消，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在给定 listener 上服务直到 ctx 取消
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:        s.engine,
		ReadTimeout:    s.cfg.ReadTimeout,
		WriteTimeout:   s.cfg.WriteTimeout,
		IdleTimeout:    s.cfg.IdleTimeout,
		MaxHeaderBytes: s.cfg.MaxHeaderBytes,
	}
	s.logRoutes(ln.Addr().String())

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down server")
	}
	return s.shutdown()
}

// shutdown 先关闭 hub（websocket 连接已被接管，http.Server 不会等待它们），再关闭监听
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.hub.Shutdown(ctx); err != nil {
		s.log.Warn("hub shutdown incomplete", zap.Error(err))
	}
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Error("server forced to close", zap.Error(err))
		return err
	}
	s.log.Info("server exited")
	return nil
}

// logRoutes 启动时输出路由表
func (s *Server) logRoutes(addr string) {
	for _, r := range s.engine.Routes() {
		s.log.Debug("route", zap.String("method", r.Method), zap.String("path", r.Path))
	}
	s.log.Info("server listening",
		zap.String("addr", addr),
		zap.String("mode", s.cfg.Mode),
		zap.String("base_path", s.basePath),
		zap.String("node", s.hub.NodeID()),
	)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, Success(gin.H{
		"status":      "ok",
		"node":        s.hub.NodeID(),
		"connections": s.hub.ClientCount(),
		"rooms":       s.hub.RoomCount(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	}))
}

// publish 服务间推送事件，请求体为 ingest 信封
func (s *Server) publish(c *gin.Context) {
	ctx := c.Request.Context()

	user, err := s.auth.Authenticate(ctx, hub.TokenFromRequest(c.Request))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if user.Role != s.role {
		abortWithError(c, ErrForbidden.WithMessagef("server: role %q not allowed to publish", user.Role))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody))
	if err != nil {
		abortWithError(c, ErrPayloadTooLarge.WithError(err))
		return
	}
	if err := s.ingest.Process(ctx, "http", body); err != nil {
		abortWithError(c, err)
		return
	}

	s.log.DebugContext(ctx, "event published", zap.String("by", user.ID))
	c.JSON(http.StatusAccepted, Success(nil))
}
