package hub

import (
	"sync"
	"time"
)

// Room 项目房间
type Room struct {
	ID        string
	members   map[string]*Client
	createdAt time.Time
}

// RoomManager 房间管理器，房间在第一个成员加入时创建、最后一个成员离开时删除
type RoomManager struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	maxSize int
}

// NewRoomManager 创建房间管理器
func NewRoomManager(maxSize int) *RoomManager {
	return &RoomManager{
		rooms:   make(map[string]*Room),
		maxSize: maxSize,
	}
}

// Join 加入房间，已在房间中返回 false
func (rm *RoomManager) Join(c *Client, roomID string) (bool, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	room, ok := rm.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, members: make(map[string]*Client), createdAt: time.Now()}
		rm.rooms[roomID] = room
	}
	if _, ok := room.members[c.ID]; ok {
		return false, nil
	}
	if len(room.members) >= rm.maxSize {
		if len(room.members) == 0 {
			delete(rm.rooms, roomID)
		}
		return false, ErrRoomFull
	}

	room.members[c.ID] = c
	c.addRoom(roomID)
	return true, nil
}

// Leave 离开房间，不在房间中返回 false
func (rm *RoomManager) Leave(c *Client, roomID string) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.leaveLocked(c, roomID)
}

func (rm *RoomManager) leaveLocked(c *Client, roomID string) bool {
	room, ok := rm.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := room.members[c.ID]; !ok {
		return false
	}
	delete(room.members, c.ID)
	c.removeRoom(roomID)
	if len(room.members) == 0 {
		delete(rm.rooms, roomID)
	}
	return true
}

// RemoveClient 从所有房间移除客户端，返回离开的房间
func (rm *RoomManager) RemoveClient(c *Client) []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var left []string
	for _, roomID := range c.Rooms() {
		if rm.leaveLocked(c, roomID) {
			left = append(left, roomID)
		}
	}
	return left
}

// Members 房间成员（快照）
func (rm *RoomManager) Members(roomID string) []*Client {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	room, ok := rm.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*Client, 0, len(room.members))
	for _, c := range room.members {
		out = append(out, c)
	}
	return out
}

// Count 房间数量
func (rm *RoomManager) Count() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// Broadcast 向房间成员投递已编码的帧，返回投递成功的数量
func (rm *RoomManager) Broadcast(roomID, event string, payload []byte, exclude *Client) int {
	delivered := 0
	for _, c := range rm.Members(roomID) {
		if exclude != nil && c.ID == exclude.ID {
			continue
		}
		if err := c.sendBytes(event, payload); err == nil {
			delivered++
		}
	}
	return delivered
}
