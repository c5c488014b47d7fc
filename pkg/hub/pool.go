package hub

import "sync"

// ConnectionPool 连接池，按连接 ID 与用户 ID 双索引
type ConnectionPool struct {
	mu       sync.RWMutex
	clients  map[string]*Client            // clientID -> client
	users    map[string]map[string]*Client // userID -> clientID -> client
	maxConns int
}

// NewConnectionPool 创建连接池
func NewConnectionPool(maxConns int) *ConnectionPool {
	return &ConnectionPool{
		clients:  make(map[string]*Client),
		users:    make(map[string]map[string]*Client),
		maxConns: maxConns,
	}
}

// Add 添加客户端
func (p *ConnectionPool) Add(c *Client) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.clients[c.ID]; ok {
		return ErrClientIDExists
	}
	if len(p.clients) >= p.maxConns {
		return ErrTooManyConnections
	}
	p.clients[c.ID] = c
	return nil
}

// Bind 认证成功后登记用户索引
func (p *ConnectionPool) Bind(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.clients[c.ID]; !ok {
		return
	}
	set, ok := p.users[c.User.ID]
	if !ok {
		set = make(map[string]*Client)
		p.users[c.User.ID] = set
	}
	set[c.ID] = c
}

// Remove 移除客户端，返回是否存在
func (p *ConnectionPool) Remove(c *Client) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.clients[c.ID]; !ok {
		return false
	}
	delete(p.clients, c.ID)
	if set, ok := p.users[c.User.ID]; ok {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(p.users, c.User.ID)
		}
	}
	return true
}

// Get 获取客户端
func (p *ConnectionPool) Get(clientID string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[clientID]
	return c, ok
}

// ByUser 获取用户的全部连接（快照）
func (p *ConnectionPool) ByUser(userID string) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	set := p.users[userID]
	out := make([]*Client, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// Count 获取连接数
func (p *ConnectionPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Snapshot 获取所有客户端（快照）
func (p *ConnectionPool) Snapshot() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		out = append(out, c)
	}
	return out
}
