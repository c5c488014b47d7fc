// Command sync-client connects to a sync-server, joins a project and logs every event it receives.
//
//	SITESYNC_TOKEN=<jwt> sync-client -project p1 -url http://localhost:8080/realtime
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/sitesync/internal/settings"
	"github.com/tokmz/sitesync/pkg/cache"
	"github.com/tokmz/sitesync/pkg/config"
	"github.com/tokmz/sitesync/pkg/credential"
	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/metrics"
	"github.com/tokmz/sitesync/pkg/protocol"
	"github.com/tokmz/sitesync/pkg/realtime"
)

const tokenCacheKey = "sync-client:token"

func main() {
	var (
		configPath  = flag.String("config", "", "config file (yaml, json or toml)")
		url         = flag.String("url", "", "server url, overrides client.url")
		project     = flag.String("project", "", "project to join, overrides client.project_id")
		metricsAddr = flag.String("metrics-addr", "", "serve client metrics on this address")
	)
	flag.Parse()

	if err := run(*configPath, *url, *project, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, "sync-client:", err)
		os.Exit(1)
	}
}

func run(configPath, url, project, metricsAddr string) error {
	st, cfg, err := settings.Load(configPath, config.WithOptionalFile(true))
	if err != nil {
		return err
	}
	cfg.Close()

	if url != "" {
		st.Client.URL = url
	}
	if project != "" {
		st.Client.ProjectID = project
	}
	if err := st.ValidateClient(); err != nil {
		return err
	}

	if st.Log.Name == "" {
		st.Log.Name = "sync-client"
	}
	log, err := logger.New(&st.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	tokens, err := tokenSource(st.Client)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	opts := []realtime.Option{
		realtime.WithURL(st.Client.URL),
		realtime.WithTokenSource(tokens),
		realtime.WithAckTimeout(st.Client.AckTimeout),
		realtime.WithConnectTimeout(st.Client.ConnectTimeout),
		realtime.WithMaxReconnectAttempts(st.Client.MaxReconnectAttempts),
		realtime.WithLogger(log),
		realtime.WithMetrics(metrics.NewClient(reg, st.Metrics.Namespace)),
	}
	if kinds := transports(st.Client.Transports); len(kinds) > 0 {
		opts = append(opts, realtime.WithTransports(kinds...))
	}

	client, err := realtime.New(opts...)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopped := make(chan error, 1)
	logEvents(client, log, stopped)

	if err := client.Initialize(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, metricsAddr, reg) })
	}
	if st.Client.ProjectID != "" {
		ok, err := client.JoinProject(ctx, st.Client.ProjectID)
		if err != nil {
			return err
		}
		log.Info("joined project", zap.String("project", st.Client.ProjectID), zap.Bool("ok", ok))
		if st.Client.PresenceInterval > 0 {
			g.Go(func() error {
				presenceLoop(gctx, client, log, st.Client.PresenceInterval)
				return nil
			})
		}
	}

	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-stopped:
			return err
		}
	})

	err = g.Wait()
	log.Info("disconnecting", zap.Any("status", client.Status()))
	return err
}

// tokenSource 环境变量优先，其次配置中的固定令牌；过期令牌视为没有令牌
func tokenSource(c settings.Client) (credential.Source, error) {
	var sources []credential.Source
	if c.TokenEnv != "" {
		sources = append(sources, credential.Env(c.TokenEnv))
	}
	if c.Token != "" {
		sources = append(sources, credential.Static(c.Token))
	}

	store, err := cache.New(cache.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return credential.Cached(store, tokenCacheKey, 10*time.Minute,
		credential.NotExpired(credential.Chain(sources...), 0)), nil
}

func transports(names []string) []realtime.TransportKind {
	var kinds []realtime.TransportKind
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			kinds = append(kinds, realtime.TransportKind(n))
		}
	}
	return kinds
}

// logEvents 订阅本地事件与服务端下发的全部已知事件
func logEvents(client *realtime.Client, log logger.Logger, stopped chan<- error) {
	events := []string{
		realtime.EventConnected,
		realtime.EventDisconnected,
		realtime.EventAuthenticated,
		realtime.EventAuthError,
		realtime.EventReconnectFailed,
		realtime.EventProjectJoined,
		realtime.EventProjectLeft,
		protocol.EventTyping,
	}
	events = append(events, protocol.DomainEvents...)

	for _, name := range events {
		client.On(name, func(e realtime.Event) {
			log.Info("event",
				zap.String("name", e.Name),
				zap.String("kind", e.Kind().String()),
				zap.ByteString("payload", e.Payload),
			)
		})
	}
	stop := func(e realtime.Event) {
		err := exitCause(e)
		if err == nil {
			return
		}
		select {
		case stopped <- err:
		default:
		}
	}
	client.On(realtime.EventReconnectFailed, stop)
	client.On(realtime.EventDisconnected, stop)
}

// exitCause 返回使进程退出的错误：重连耗尽，或服务端主动断开（客户端不会再重连）
func exitCause(e realtime.Event) error {
	switch e.Name {
	case realtime.EventReconnectFailed:
		return realtime.ErrConnectFailed
	case realtime.EventDisconnected:
		p, err := realtime.Decode[realtime.DisconnectedPayload](e)
		if err == nil && p.Reason == realtime.ReasonServerDisconnect {
			return realtime.ErrDisconnected.WithMessage("realtime: disconnected by server")
		}
	}
	return nil
}

func presenceLoop(ctx context.Context, client *realtime.Client, log logger.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.UpdatePresence(map[string]any{"status": "online"}); err != nil {
				log.Debug("presence update skipped", zap.Error(err))
			}
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg prometheus.Gatherer) error {
	srv := &http.Server{Addr: addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
