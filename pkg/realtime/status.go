package realtime

// Status 连接状态快照
type Status struct {
	Connected         bool          `json:"connected"`
	Authenticated     bool          `json:"authenticated"`
	SocketID          string        `json:"socketId,omitempty"`
	CurrentProjectID  string        `json:"currentProjectId,omitempty"`
	CurrentUser       *User         `json:"currentUser,omitempty"`
	Transport         TransportKind `json:"transport,omitempty"`
	ReconnectAttempts int           `json:"reconnectAttempts"`
}

// Status 返回当前状态
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Connected:         c.connected,
		Authenticated:     c.authenticated,
		SocketID:          c.socketID,
		CurrentProjectID:  c.currentProject,
		Transport:         c.transport,
		ReconnectAttempts: c.attempts,
	}
	if c.currentUser != nil {
		u := *c.currentUser
		st.CurrentUser = &u
	}
	return st
}

// IsReady 已连接且已通过鉴权
func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.authenticated
}
