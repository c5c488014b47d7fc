package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cacheTracerName = "sitesync.cache"

// tracedCache 链路追踪装饰器
type tracedCache struct {
	Cache
	tracer trace.Tracer
}

// NewTracing 为缓存操作创建 span
func NewTracing(c Cache) Cache {
	return &tracedCache{Cache: c, tracer: otel.Tracer(cacheTracerName)}
}

func (t *tracedCache) wrap(ctx context.Context, op string, keys []string, fn func(ctx context.Context) error) error {
	ctx, span := t.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(attribute.String("cache.operation", op))
	if len(keys) == 1 {
		span.SetAttributes(attribute.String("cache.key", keys[0]))
	} else {
		span.SetAttributes(attribute.Int("cache.keys_count", len(keys)))
	}

	start := time.Now()
	err := fn(ctx)
	span.SetAttributes(attribute.Int64("cache.duration_ms", time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Get 未命中记为 cache.hit=false，不算错误
func (t *tracedCache) Get(ctx context.Context, key string, value any) error {
	var result error
	err := t.wrap(ctx, "cache.Get", []string{key}, func(ctx context.Context) error {
		result = t.Cache.Get(ctx, key, value)
		span := trace.SpanFromContext(ctx)
		switch {
		case result == nil:
			span.SetAttributes(attribute.Bool("cache.hit", true))
		case IsNotFound(result):
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil
		}
		return result
	})
	if err != nil {
		return err
	}
	return result
}

func (t *tracedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return t.wrap(ctx, "cache.Set", []string{key}, func(ctx context.Context) error {
		trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("cache.ttl_seconds", int64(ttl.Seconds())))
		return t.Cache.Set(ctx, key, value, ttl)
	})
}

func (t *tracedCache) Delete(ctx context.Context, keys ...string) error {
	return t.wrap(ctx, "cache.Delete", keys, func(ctx context.Context) error {
		return t.Cache.Delete(ctx, keys...)
	})
}

func (t *tracedCache) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := t.wrap(ctx, "cache.Exists", []string{key}, func(ctx context.Context) error {
		var err error
		ok, err = t.Cache.Exists(ctx, key)
		return err
	})
	return ok, err
}
