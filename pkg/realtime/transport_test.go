package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/sitesync/pkg/errors"
	"github.com/tokmz/sitesync/pkg/logger"
	"github.com/tokmz/sitesync/pkg/protocol"
)

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080/realtime":  "ws://localhost:8080/realtime/ws",
		"https://sync.example.com/":       "wss://sync.example.com/ws",
		"ws://localhost:8080":             "ws://localhost:8080/ws",
		"wss://sync.example.com/realtime": "wss://sync.example.com/realtime/ws",
	}
	for in, want := range tests {
		got, err := websocketURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := websocketURL("ftp://example.com")
	assert.Error(t, err)
}

func TestPollingBase(t *testing.T) {
	got, err := pollingBase("wss://sync.example.com/realtime/")
	require.NoError(t, err)
	assert.Equal(t, "https://sync.example.com/realtime", got)

	got, err = pollingBase("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", got)

	_, err = pollingBase("mailto:someone")
	assert.Error(t, err)
}

func TestWebSocketDialer_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan protocol.Frame, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime"+protocol.PathWebSocket || r.Header.Get("Authorization") != "Bearer t1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := upgrader.Upgrade(w, r, http.Header{protocol.HeaderSocketID: []string{"srv-1"}})
		if err != nil {
			return
		}
		defer ws.Close()

		f, _ := protocol.NewEvent(protocol.EventAuthenticated, map[string]any{"user": map[string]any{"id": "u1"}})
		data, _ := protocol.Encode(f)
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = ws.WriteMessage(websocket.TextMessage, data)

		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		in, _ := protocol.Decode(msg)
		received <- in

		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	buf := &bytes.Buffer{}
	log, err := logger.NewWithOptions(logger.WithFormat(logger.JSONFormat), logger.WithWriter(buf))
	require.NoError(t, err)

	d := NewWebSocketDialer(time.Second, time.Second, log)
	conn, err := d.Dial(context.Background(), DialRequest{URL: srv.URL + "/realtime", Token: "t1", MaxFrameSize: 1 << 20})
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "srv-1", conn.ID())
	assert.Equal(t, TransportWebSocket, conn.Kind())

	f, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.EventAuthenticated, f.Event)
	assert.Contains(t, buf.String(), "skip malformed frame")
	assert.Contains(t, buf.String(), `"sid":"srv-1"`)

	req, err := protocol.NewRequest(protocol.EventProjectJoin, "r1", protocol.RoomRequest{ProjectID: "p1"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteFrame(context.Background(), req))

	select {
	case got := <-received:
		assert.Equal(t, "r1", got.ID)
		assert.JSONEq(t, `{"projectId":"p1"}`, string(got.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}

	_, err = conn.ReadFrame()
	var ce *CloseError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ReasonServerDisconnect, ce.Reason)
}

func TestWebSocketDialer_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewWebSocketDialer(time.Second, time.Second, nil).Dial(context.Background(), DialRequest{URL: srv.URL, Token: "bad"})
	assert.True(t, errors.Is(err, ErrHandshake))
}

func TestWebSocketConn_ClientClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, err := NewWebSocketDialer(time.Second, time.Second, nil).Dial(context.Background(), DialRequest{URL: srv.URL, Token: "t"})
	require.NoError(t, err)
	assert.NotEmpty(t, conn.ID())

	errc := make(chan error, 1)
	go func() {
		_, err := conn.ReadFrame()
		errc <- err
	}()
	require.NoError(t, conn.Close())

	select {
	case err := <-errc:
		assert.Equal(t, ReasonClientDisconnect, closeReason(err))
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame not released by Close")
	}
	assert.Error(t, conn.WriteFrame(context.Background(), protocol.Frame{Type: protocol.FrameEvent, Event: "x"}))
}

func TestWebSocketConn_PingTimeout(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	conn, err := NewWebSocketDialer(50*time.Millisecond, time.Second, nil).Dial(context.Background(), DialRequest{URL: srv.URL, Token: "t"})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame()
	assert.Equal(t, ReasonPingTimeout, closeReason(err))
}

// pollServer 最小长轮询服务端
type pollServer struct {
	mu      sync.Mutex
	batches [][]protocol.Frame
	sent    []protocol.Frame
	closed  bool
}

func (p *pollServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rt"+protocol.PathPollHandshake, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t1" {
			http.Error(w, `{"message":"invalid token"}`, http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(protocol.PollHandshake{SID: "s1", PingInterval: 25000, PingTimeout: 20000, MaxPayload: 1e6})
	})
	mux.HandleFunc("/rt"+protocol.PathPoll, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(protocol.QuerySID) != "s1" {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			if len(p.batches) == 0 {
				w.WriteHeader(http.StatusGone)
				return
			}
			batch := p.batches[0]
			p.batches = p.batches[1:]
			if len(batch) == 0 {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_ = json.NewEncoder(w).Encode(batch)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			f, err := protocol.Decode(body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			p.sent = append(p.sent, f)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			p.closed = true
			w.WriteHeader(http.StatusNoContent)
		}
	})
	return mux
}

func TestPollingDialer_RoundTrip(t *testing.T) {
	e1, _ := protocol.NewEvent(protocol.EventTaskCreated, map[string]string{"id": "t1"})
	e2, _ := protocol.NewEvent(protocol.EventTaskUpdated, map[string]string{"id": "t1"})
	ps := &pollServer{batches: [][]protocol.Frame{{e1}, {}, {e2}}}
	srv := httptest.NewServer(ps.handler(t))
	defer srv.Close()

	d := NewPollingDialer(time.Second, logger.Nop())
	conn, err := d.Dial(context.Background(), DialRequest{URL: srv.URL + "/rt", Token: "t1", MaxFrameSize: 1e6})
	require.NoError(t, err)
	assert.Equal(t, "s1", conn.ID())
	assert.Equal(t, TransportPolling, conn.Kind())

	f, err := conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.EventTaskCreated, f.Event)
	f, err = conn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.EventTaskUpdated, f.Event)

	out, _ := protocol.NewEvent(protocol.EventTyping, map[string]any{"isTyping": true})
	require.NoError(t, conn.WriteFrame(context.Background(), out))

	_, err = conn.ReadFrame()
	assert.Equal(t, ReasonServerDisconnect, closeReason(err))

	require.NoError(t, conn.Close())
	ps.mu.Lock()
	defer ps.mu.Unlock()
	require.Len(t, ps.sent, 1)
	assert.Equal(t, protocol.EventTyping, ps.sent[0].Event)
	assert.True(t, ps.closed)
}

func TestPollingDialer_Unauthorized(t *testing.T) {
	srv := httptest.NewServer((&pollServer{}).handler(t))
	defer srv.Close()

	_, err := NewPollingDialer(time.Second, nil).Dial(context.Background(), DialRequest{URL: srv.URL + "/rt", Token: "bad"})
	assert.True(t, errors.Is(err, ErrHandshake))
}

func TestPollingConn_FrameTooLarge(t *testing.T) {
	big, _ := protocol.NewEvent(protocol.EventTaskCreated, map[string]string{"body": string(make([]byte, 256))})
	srv := httptest.NewServer((&pollServer{batches: [][]protocol.Frame{{big}}}).handler(t))
	defer srv.Close()

	conn, err := NewPollingDialer(time.Second, nil).Dial(context.Background(), DialRequest{URL: srv.URL + "/rt", Token: "t1", MaxFrameSize: 64})
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.ReadFrame()
	assert.Equal(t, ReasonTransportError, closeReason(err))
}

func TestPollingConn_LargeBatchDelivered(t *testing.T) {
	var batch []protocol.Frame
	for i := 0; i < 10; i++ {
		f, err := protocol.NewEvent(protocol.EventTaskCreated, map[string]any{"seq": i, "body": strings.Repeat("x", 900_000)})
		require.NoError(t, err)
		batch = append(batch, f)
	}
	srv := httptest.NewServer((&pollServer{batches: [][]protocol.Frame{batch}}).handler(t))
	defer srv.Close()

	conn, err := NewPollingDialer(5*time.Second, nil).Dial(context.Background(), DialRequest{URL: srv.URL + "/rt", Token: "t1", MaxFrameSize: 1e6})
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 10; i++ {
		f, err := conn.ReadFrame()
		require.NoError(t, err, "frame %d", i)
		var p struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(f.Data, &p))
		assert.Equal(t, i, p.Seq)
	}
}

func TestPollBodyLimit(t *testing.T) {
	assert.Equal(t, int64(-1), pollBodyLimit(0))
	assert.Greater(t, pollBodyLimit(1e6), int64(protocol.MaxPollBatch*1e6))
}

func TestNegotiator_FallbackAndRemember(t *testing.T) {
	var mu sync.Mutex
	var order []TransportKind
	stub := func(kind TransportKind, fail bool) Dialer {
		return DialerFunc(func(context.Context, DialRequest) (Conn, error) {
			mu.Lock()
			order = append(order, kind)
			mu.Unlock()
			if fail {
				return nil, stderrors.New(string(kind) + " unavailable")
			}
			c := newStubConn("x")
			c.kind = kind
			return c, nil
		})
	}

	n := &negotiator{
		order: []TransportKind{TransportWebSocket, TransportPolling},
		dialers: map[TransportKind]Dialer{
			TransportWebSocket: stub(TransportWebSocket, true),
			TransportPolling:   stub(TransportPolling, false),
		},
		remember: true,
		log:      logger.Nop(),
	}

	conn, err := n.Dial(context.Background(), DialRequest{})
	require.NoError(t, err)
	assert.Equal(t, TransportPolling, conn.Kind())
	assert.Equal(t, []TransportKind{TransportPolling, TransportWebSocket}, n.candidates())

	n.remember = false
	assert.Equal(t, []TransportKind{TransportWebSocket, TransportPolling}, n.candidates())

	n.dialers[TransportPolling] = stub(TransportPolling, true)
	_, err = n.Dial(context.Background(), DialRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket unavailable")
	assert.Contains(t, err.Error(), "polling unavailable")
}
