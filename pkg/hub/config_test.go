package hub

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/sitesync/pkg/protocol"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no authenticator", mutate: func(c *Config) { c.Authenticator = nil }},
		{name: "max connections", mutate: func(c *Config) { c.MaxConnections = 0 }},
		{name: "frame size", mutate: func(c *Config) { c.MaxFrameSize = 0 }},
		{name: "queue size", mutate: func(c *Config) { c.SendQueueSize = 0 }},
		{name: "poll batch", mutate: func(c *Config) { c.PollBatchSize = protocol.MaxPollBatch + 1 }},
		{name: "heartbeat", mutate: func(c *Config) { c.HeartbeatTimeout = c.HeartbeatInterval }},
		{name: "poll ttl", mutate: func(c *Config) { c.PollSessionTTL = c.PollHold }},
		{name: "room size", mutate: func(c *Config) { c.MaxRoomSize = -1 }},
	}

	base := DefaultConfig()
	base.Authenticator = testAuth
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestWithConfig_KeepsDependencies(t *testing.T) {
	cfg := DefaultConfig()
	WithAuthenticator(testAuth)(cfg)
	WithConfig(Config{MaxConnections: 7, PollHold: time.Second})(cfg)

	assert.Equal(t, 7, cfg.MaxConnections)
	assert.Equal(t, time.Second, cfg.PollHold)
	assert.Same(t, testAuth, cfg.Authenticator)
}

func TestCheckOrigin(t *testing.T) {
	req := func(origin string) *http.Request {
		r := httptest.NewRequest("GET", "http://sync.example.com/realtime/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	same := checkOrigin(nil)
	assert.True(t, same(req("")), "non-browser clients send no origin")
	assert.True(t, same(req("https://sync.example.com")))
	assert.False(t, same(req("https://evil.example.com")))

	listed := checkOrigin([]string{"https://app.example.com"})
	assert.True(t, listed(req("https://app.example.com")))
	assert.False(t, listed(req("https://sync.example.com")))
}
