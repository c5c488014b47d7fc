package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tokmz/sitesync/pkg/errors"
)

func newMemory(t *testing.T) Cache {
	t.Helper()
	c, err := NewWithOptions(WithMemory(DefaultMemoryConfig()), WithKeyPrefix("test:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	t.Run("Set/Get", func(t *testing.T) {
		type token struct {
			Value string
			Exp   int64
		}
		require.NoError(t, c.Set(ctx, "tok:u1", token{"abc", 42}, time.Minute))

		var got token
		require.NoError(t, c.Get(ctx, "tok:u1", &got))
		assert.Equal(t, token{"abc", 42}, got)
	})

	t.Run("NotFound", func(t *testing.T) {
		var v string
		err := c.Get(ctx, "missing", &v)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Delete/Exists", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))
		ok, err := c.Exists(ctx, "k1")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, c.Delete(ctx, "k1"))
		ok, err = c.Exists(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TTL", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "short", 1, time.Minute))
		ttl, err := c.TTL(ctx, "short")
		require.NoError(t, err)
		assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 1)

		_, err = c.TTL(ctx, "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "gone", 1, 10*time.Millisecond))
		time.Sleep(20 * time.Millisecond)
		var v int
		assert.True(t, errors.Is(c.Get(ctx, "gone", &v), ErrNotFound))
	})

	t.Run("SerializationError", func(t *testing.T) {
		err := c.Set(ctx, "bad", make(chan int), time.Minute)
		assert.True(t, errors.Is(err, ErrSerialization))
	})

	assert.NoError(t, c.Ping(ctx))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Driver = "etcd"
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))

	assert.True(t, errors.Is((&RedisConfig{Mode: RedisStandalone}).Validate(), ErrInvalidConfig))
	assert.True(t, errors.Is((&RedisConfig{Mode: RedisSentinel, Addrs: []string{"a:1"}}).Validate(), ErrInvalidConfig))
	assert.True(t, errors.Is((&RedisConfig{Mode: "weird", Addr: "a:1"}).Validate(), ErrInvalidConfig))
	assert.NoError(t, (&RedisConfig{Mode: RedisCluster, Addrs: []string{"a:1"}}).Validate())

	_, err := New(&Config{Driver: DriverRedis})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	l := NewLoader[string](newMemory(t), time.Minute)

	var calls atomic.Int32
	load := func(context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "token-1", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Load(ctx, "tok", load)
			assert.NoError(t, err)
			assert.Equal(t, "token-1", v)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())

	// 命中缓存
	v, err := l.Load(ctx, "tok", load)
	require.NoError(t, err)
	assert.Equal(t, "token-1", v)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, l.Forget(ctx, "tok"))
	_, err = l.Load(ctx, "tok", load)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoader_ErrorNotCached(t *testing.T) {
	ctx := context.Background()
	l := NewLoader[int](newMemory(t), time.Minute)

	boom := stderrors.New("boom")
	_, err := l.Load(ctx, "n", func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	v, err := l.Load(ctx, "n", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestTracing(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	c := &tracedCache{Cache: newMemory(t), tracer: tp.Tracer(cacheTracerName)}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	var v string
	require.NoError(t, c.Get(ctx, "k", &v))
	assert.True(t, errors.Is(c.Get(ctx, "missing", &v), ErrNotFound))
	require.NoError(t, c.Delete(ctx, "k"))

	spans := rec.Ended()
	require.Len(t, spans, 4)
	names := []string{spans[0].Name(), spans[1].Name(), spans[2].Name(), spans[3].Name()}
	assert.Equal(t, []string{"cache.Set", "cache.Get", "cache.Get", "cache.Delete"}, names)

	hit := map[bool]bool{}
	for _, s := range spans[1:3] {
		for _, a := range s.Attributes() {
			if a.Key == "cache.hit" {
				hit[a.Value.AsBool()] = true
			}
		}
	}
	assert.Equal(t, map[bool]bool{true: true, false: true}, hit)
	assert.NotNil(t, NewTracing(newMemory(t)))
}
