package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tokmz/sitesync/pkg/protocol"
)

// 传输类型
const (
	TransportWebSocket = "websocket"
	TransportPolling   = "polling"
)

// 关闭原因
const (
	ReasonClientClose = "client close"
	ReasonServerClose = "server close"
	ReasonAuthFailed  = "authentication failed"
	ReasonShutdown    = "server shutdown"
	ReasonIdle        = "idle timeout"
	ReasonTransport   = "transport error"
	ReasonInvalid     = "too many invalid frames"
)

// maxInvalidFrames 连续无效帧上限，超过后关闭连接
const maxInvalidFrames = 10

// Client 一个已握手的客户端连接（websocket 或长轮询会话）
type Client struct {
	ID        string
	User      protocol.User
	Transport string
	hub       *Hub

	// 发送队列，sendHigh 用于应答与握手帧
	send     chan []byte
	sendHigh chan []byte

	mu    sync.Mutex
	rooms map[string]struct{}

	// 生命周期
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
	closeCode atomic.Int32

	// websocket
	conn      *websocket.Conn
	writeDone chan struct{}

	// 长轮询
	lastSeen atomic.Int64
	closedAt atomic.Int64
	recvMu   sync.Mutex

	invalidFrames atomic.Int32
}

func newClient(h *Hub, id, transport string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:        id,
		Transport: transport,
		hub:       h,
		send:      make(chan []byte, h.cfg.SendQueueSize),
		sendHigh:  make(chan []byte, 16),
		rooms:     make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		writeDone: make(chan struct{}),
	}
	c.touch()
	return c
}

// Context 连接生命周期上下文，连接关闭时取消
func (c *Client) Context() context.Context {
	return c.ctx
}

// Emit 向客户端发送事件
func (c *Client) Emit(event string, data any) error {
	f, err := protocol.NewEvent(event, data)
	if err != nil {
		return ErrInvalidFrame.WithError(err)
	}
	return c.Send(f)
}

// Send 发送帧（非阻塞）
func (c *Client) Send(f protocol.Frame) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return ErrInvalidFrame.WithError(err)
	}
	return c.sendBytes(f.Event, b)
}

// sendControl 发送应答/握手帧，走高优先级队列
func (c *Client) sendControl(f protocol.Frame) error {
	b, err := protocol.Encode(f)
	if err != nil {
		return ErrInvalidFrame.WithError(err)
	}
	return c.enqueue(c.sendHigh, string(f.Type), b)
}

func (c *Client) sendBytes(event string, b []byte) error {
	return c.enqueue(c.send, event, b)
}

func (c *Client) enqueue(ch chan []byte, label string, b []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case ch <- b:
		c.hub.metrics.IncFramesOut(label)
		return nil
	default:
		c.hub.metrics.IncDroppedFrames()
		return ErrChannelFull
	}
}

// Rooms 当前所在房间
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// InRoom 是否在房间中
func (c *Client) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

func (c *Client) addRoom(id string) {
	c.mu.Lock()
	c.rooms[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeRoom(id string) {
	c.mu.Lock()
	delete(c.rooms, id)
	c.mu.Unlock()
}

// IsClosed 检查是否已关闭
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// Kick 服务端主动断开，客户端不会自动重连
func (c *Client) Kick(reason string) {
	c.close(websocket.CloseNormalClosure, reason)
}

func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode.Store(int32(code))
		c.closedAt.Store(time.Now().UnixNano())
		c.closed.Store(true)
		c.cancel()
		c.hub.detach(c, reason)
	})
}

func (c *Client) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *Client) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastSeen.Load()))
}

// invalidFrame 记录无效帧，超过上限返回 true
func (c *Client) invalidFrame() bool {
	c.hub.metrics.IncInvalidFrames()
	return c.invalidFrames.Add(1) > maxInvalidFrames
}

// run 运行 websocket 读写协程，返回时连接已关闭
func (c *Client) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readPump()
	}()
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	wg.Wait()
}

// readPump 读取帧
func (c *Client) readPump() {
	defer c.close(websocket.CloseGoingAway, ReasonTransport)

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxFrameSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.close(websocket.CloseNormalClosure, ReasonClientClose)
			}
			return
		}
		c.touch()

		f, err := protocol.Decode(data)
		if err != nil {
			if c.invalidFrame() {
				c.Kick(ReasonInvalid)
				return
			}
			continue
		}
		c.invalidFrames.Store(0)
		c.hub.handleFrame(c, f)
	}
}

// writePump 写入帧与心跳
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			msg := websocket.FormatCloseMessage(int(c.closeCode.Load()), "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.hub.cfg.WriteWait))
			return

		case b := <-c.sendHigh:
			if err := c.write(b); err != nil {
				return
			}

		case b := <-c.send:
			// 应答优先于普通事件
			if err := c.drainHigh(); err != nil {
				return
			}
			if err := c.write(b); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(b []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) drainHigh() error {
	for {
		select {
		case b := <-c.sendHigh:
			if err := c.write(b); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// flush 关闭前尽力写出已排队的帧
func (c *Client) flush() {
	if c.drainHigh() != nil {
		return
	}
	for {
		select {
		case b := <-c.send:
			if c.write(b) != nil {
				return
			}
		default:
			return
		}
	}
}

// drain 长轮询取帧：无数据时最多等待 hold，有数据后一次性取出不超过 limit 帧
func (c *Client) drain(ctx context.Context, hold time.Duration, limit int) [][]byte {
	var out [][]byte
	take := func() bool {
		for len(out) < limit {
			select {
			case b := <-c.sendHigh:
				out = append(out, b)
				continue
			default:
			}
			select {
			case b := <-c.send:
				out = append(out, b)
			default:
				return len(out) > 0
			}
		}
		return true
	}

	if take() {
		return out
	}

	timer := time.NewTimer(hold)
	defer timer.Stop()

	select {
	case b := <-c.sendHigh:
		out = append(out, b)
	case b := <-c.send:
		out = append(out, b)
	case <-c.ctx.Done():
	case <-timer.C:
	case <-ctx.Done():
	}
	take()
	return out
}
