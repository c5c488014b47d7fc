package realtime

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tokmz/sitesync/pkg/protocol"
)

// stubConn 内存连接：in 为服务端下发，out 为客户端写出
type stubConn struct {
	id   string
	kind TransportKind
	in   chan protocol.Frame
	out  chan protocol.Frame

	mu        sync.Mutex
	reason    string
	closed    chan struct{}
	closeOnce sync.Once
}

func newStubConn(id string) *stubConn {
	return &stubConn{
		id:     id,
		kind:   TransportWebSocket,
		in:     make(chan protocol.Frame, 64),
		out:    make(chan protocol.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (s *stubConn) ID() string          { return s.id }
func (s *stubConn) Kind() TransportKind { return s.kind }

func (s *stubConn) ReadFrame() (protocol.Frame, error) {
	select {
	case f := <-s.in:
		return f, nil
	case <-s.closed:
		s.mu.Lock()
		defer s.mu.Unlock()
		return protocol.Frame{}, &CloseError{Reason: s.reason}
	}
}

func (s *stubConn) WriteFrame(_ context.Context, f protocol.Frame) error {
	select {
	case <-s.closed:
		return &CloseError{Reason: ReasonTransportClose}
	default:
	}
	s.out <- f
	return nil
}

func (s *stubConn) Close() error {
	s.drop(ReasonClientDisconnect)
	return nil
}

// drop 模拟服务端断开
func (s *stubConn) drop(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.closed)
	})
}

func (s *stubConn) push(t *testing.T, event string, data any) {
	t.Helper()
	f, err := protocol.NewEvent(event, data)
	require.NoError(t, err)
	s.in <- f
}

// nextOut 读取客户端写出的下一帧
func (s *stubConn) nextOut(t *testing.T) protocol.Frame {
	t.Helper()
	select {
	case f := <-s.out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound frame")
		return protocol.Frame{}
	}
}

// ackNext 应答客户端的下一条请求
func (s *stubConn) ackNext(t *testing.T, ack protocol.Ack) protocol.Frame {
	t.Helper()
	req := s.nextOut(t)
	require.Equal(t, protocol.FrameRequest, req.Type)
	s.in <- protocol.NewAck(req.ID, ack)
	return req
}

var errNoMoreConns = stderrors.New("stub: no more connections")

// roomCall 在后台发起房间请求，由当前 goroutine 充当服务端应答
func roomCall(t *testing.T, conn *stubConn, ack protocol.Ack, call func() (bool, error)) (protocol.Frame, bool, error) {
	t.Helper()
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := call()
		done <- result{ok, err}
	}()

	req := conn.ackNext(t, ack)
	select {
	case r := <-done:
		return req, r.ok, r.err
	case <-time.After(2 * time.Second):
		t.Fatal("room request did not return")
		return req, false, nil
	}
}

func joinProject(t *testing.T, c *Client, conn *stubConn, projectID string) {
	t.Helper()
	_, ok, err := roomCall(t, conn, protocol.Ack{Success: true}, func() (bool, error) {
		return c.JoinProject(context.Background(), projectID)
	})
	require.NoError(t, err)
	require.True(t, ok)
}

// stubDialer 按顺序返回预置连接，用尽后返回 err
type stubDialer struct {
	calls  atomic.Int32
	mu     sync.Mutex
	conns  []*stubConn
	tokens []string
	err    error
}

func (d *stubDialer) Dial(_ context.Context, req DialRequest) (Conn, error) {
	d.calls.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, req.Token)
	if len(d.conns) == 0 {
		if d.err == nil {
			return nil, errNoMoreConns
		}
		return nil, d.err
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *stubDialer) add(c *stubConn) {
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
}

func (d *stubDialer) seenTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

// recorder 收集某个事件的全部载荷
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(c *Client, event string) *recorder {
	r := &recorder{}
	c.On(event, func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *recorder) at(i int) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i]
}

func newTestClient(t *testing.T, d Dialer, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithTokenSource(StaticToken("token-1")),
		WithDialer(d),
		WithConnectTimeout(time.Second),
		WithReconnectDelay(time.Millisecond, 2*time.Millisecond),
		WithAckTimeout(time.Second),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

// connectedClient 返回已连接的客户端及其连接
func connectedClient(t *testing.T, opts ...Option) (*Client, *stubConn, *stubDialer) {
	t.Helper()
	conn := newStubConn("sock-1")
	d := &stubDialer{err: context.DeadlineExceeded}
	d.add(conn)
	c := newTestClient(t, d, opts...)
	require.NoError(t, c.Initialize(context.Background()))
	return c, conn, d
}

func jsonObject(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}
