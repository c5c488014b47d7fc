// Command sync-server runs the realtime hub behind a gin HTTP server.
//
//	sync-server -config /etc/sitesync/server.yaml
//
// Every setting can be overridden with SITESYNC_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/sitesync/internal/server"
	"github.com/tokmz/sitesync/internal/settings"
	"github.com/tokmz/sitesync/pkg/cache"
	"github.com/tokmz/sitesync/pkg/config"
	"github.com/tokmz/sitesync/pkg/hub"
	"github.com/tokmz/sitesync/pkg/ingest"
	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/metrics"
	"github.com/tokmz/sitesync/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "config file (yaml, json or toml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "sync-server:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var log logger.Logger = logger.Nop()

	// 配置文件变更时只热更新日志级别，其余配置需要重启
	st, cfg, err := settings.Load(configPath,
		config.WithOnChange(func(c *config.Config) {
			next, err := settings.Decode(c)
			if err != nil {
				log.Warn("reload settings failed", zap.Error(err))
				return
			}
			if next.Log.Level != log.Level() {
				log.Info("log level changed", zap.String("from", log.Level().String()), zap.String("to", next.Log.Level.String()))
				log.SetLevel(next.Log.Level)
			}
		}),
	)
	if err != nil {
		return err
	}
	defer cfg.Close()

	if err := st.ValidateServer(); err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	if st.Metrics.Enabled {
		st.Log.Hooks = append(st.Log.Hooks, metrics.NewLogHook(reg, st.Metrics.Namespace))
	}

	if st.Log.Name == "" {
		st.Log.Name = "sync-server"
	}
	log, err = logger.New(&st.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if configPath != "" {
		if err := cfg.StartWatch(); err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.NewTracerProvider(ctx, &st.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warn("tracer provider shutdown", zap.Error(err))
		}
	}()

	auth := hub.NewJWTAuthenticator([]byte(st.Auth.Secret), st.Auth.Issuer, st.Auth.Leeway)

	opts := []hub.Option{
		hub.WithConfig(st.Hub),
		hub.WithAuthenticator(auth),
		hub.WithLogger(log),
		hub.WithMetrics(metrics.NewHub(reg, st.Metrics.Namespace)),
	}
	if len(st.Hub.AllowedOrigins) > 0 {
		opts = append(opts, hub.WithCheckOriginWhitelist(st.Hub.AllowedOrigins))
	}

	if st.Redis.Enabled {
		client, err := cache.NewRedisClient(&st.Redis.RedisConfig)
		if err != nil {
			return err
		}
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		opts = append(opts, hub.WithBus(hub.NewRedisBus(client, st.Redis.Channel, log)))
		log.Info("cross-node bus enabled", zap.String("channel", st.Redis.Channel))
	}

	h, err := hub.New(opts...)
	if err != nil {
		return err
	}

	processor := ingest.NewProcessor(h, log, metrics.NewIngest(reg, st.Metrics.Namespace))

	srv, err := server.New(server.Options{
		Settings:  st,
		Hub:       h,
		Logger:    log,
		Auth:      auth,
		Processor: processor,
		Gatherer:  reg,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })

	if st.Ingest.Kafka.Enabled {
		consumer, err := ingest.NewKafkaConsumer(st.Ingest.Kafka.KafkaConfig, processor, log)
		if err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx) })
	}
	if st.Ingest.AMQP.Enabled {
		consumer, err := ingest.NewAMQPConsumer(st.Ingest.AMQP.AMQPConfig, processor, log)
		if err != nil {
			return err
		}
		g.Go(func() error { return consumer.Run(gctx) })
	}

	log.Info("sync-server started", zap.String("node", h.NodeID()))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("sync-server stopped")
	return nil
}
