package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/sitesync/pkg/protocol"
	"github.com/tokmz/sitesync/pkg/realtime"
)

const (
	testSecret = "hub-test-secret"
	testIssuer = "sitesync"
)

var testAuth = NewJWTAuthenticator([]byte(testSecret), testIssuer, 0)

type testServer struct {
	hub *Hub
	srv *httptest.Server
}

func (s *testServer) url() string {
	return s.srv.URL + "/realtime"
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()

	base := []Option{
		WithAuthenticator(testAuth),
		WithHeartbeat(100*time.Millisecond, 2*time.Second),
		WithPolling(200*time.Millisecond, 2*time.Second),
	}
	h, err := New(append(base, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	h.Register(engine.Group("/realtime"))
	srv := httptest.NewServer(engine)

	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = h.Shutdown(sctx)
		srv.Close()
	})
	return &testServer{hub: h, srv: srv}
}

func issue(t *testing.T, userID string) string {
	t.Helper()
	token, err := testAuth.Issue(protocol.User{ID: userID, Name: "User " + userID}, time.Hour)
	require.NoError(t, err)
	return token
}

func newRealtimeClient(t *testing.T, url, token string, kinds ...realtime.TransportKind) *realtime.Client {
	t.Helper()
	if len(kinds) == 0 {
		kinds = []realtime.TransportKind{realtime.TransportWebSocket}
	}
	c, err := realtime.New(
		realtime.WithURL(url),
		realtime.WithTokenSource(realtime.StaticToken(token)),
		realtime.WithTransports(kinds...),
		realtime.WithReconnectDelay(10*time.Millisecond, 50*time.Millisecond),
		realtime.WithAckTimeout(2*time.Second),
		realtime.WithPollTimeout(2*time.Second),
	)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

// connect 建立连接并等待认证完成
func connect(t *testing.T, url, userID string, kinds ...realtime.TransportKind) *realtime.Client {
	t.Helper()
	c := newRealtimeClient(t, url, issue(t, userID), kinds...)
	authed := watch(c, realtime.EventAuthenticated)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Initialize(ctx))
	authed.wait(t, 1)
	return c
}

// watcher 记录客户端收到的事件
type watcher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func watch(c *realtime.Client, event string) *watcher {
	w := &watcher{}
	c.On(event, func(e realtime.Event) {
		w.mu.Lock()
		w.events = append(w.events, e)
		w.mu.Unlock()
	})
	return w
}

func (w *watcher) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func (w *watcher) wait(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return w.count() >= n }, 5*time.Second, 5*time.Millisecond)
}

func (w *watcher) last(t *testing.T) map[string]any {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.events)
	var m map[string]any
	require.NoError(t, json.Unmarshal(w.events[len(w.events)-1].Payload, &m))
	return m
}

var transports = []realtime.TransportKind{realtime.TransportWebSocket, realtime.TransportPolling}
