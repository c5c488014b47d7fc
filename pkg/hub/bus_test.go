package hub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/sitesync/pkg/logger"
)

func TestMemoryBus(t *testing.T) {
	bus := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Envelope, 1)
	done := make(chan error, 1)
	go func() { done <- bus.Subscribe(ctx, func(e Envelope) { got <- e }) }()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), Envelope{Origin: "n1", Room: "p1", Event: "task:created"}))
	select {
	case e := <-got:
		assert.Equal(t, "p1", e.Room)
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered")
	}

	cancel()
	assert.NoError(t, <-done)
	assert.Zero(t, bus.Subscribers())
}

// 需要本地 redis：SITESYNC_TEST_REDIS=127.0.0.1:6379
func TestRedisBus(t *testing.T) {
	addr := os.Getenv("SITESYNC_TEST_REDIS")
	if addr == "" {
		t.Skip("SITESYNC_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	bus := NewRedisBus(client, "sitesync:test:"+t.Name(), logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Envelope, 1)
	go func() { _ = bus.Subscribe(ctx, func(e Envelope) { got <- e }) }()

	// 订阅建立前发布的消息会丢失，重复发布直到收到
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, Envelope{Origin: "n1", UserID: "u1", Event: "notification:new"})
		select {
		case e := <-got:
			return e.UserID == "u1"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)
}
