package collab

import "sync"

// Hub 房间内会话的扇出表
// 为什么按 Session 存而不是按 userID：同一用户可以开多个标签页/设备，
// 广播要逐连接发，不能只按 userID 发一次
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Session]struct{})}
}

// Join 将会话加入指定房间
func (h *Hub) Join(roomID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Session]struct{})
	}
	h.rooms[roomID][s] = struct{}{}
}

// Leave 将会话从指定房间移除
func (h *Hub) Leave(roomID string, s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sessions, ok := h.rooms[roomID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

// Broadcast 广播到房间内除 except 以外的所有会话
func (h *Hub) Broadcast(roomID string, msg OutboundMessage, except *Session) {
	h.mu.RLock()
	sessions := h.rooms[roomID]
	h.mu.RUnlock()
	for s := range sessions {
		if s == except {
			continue
		}
		s.Enqueue(msg)
	}
}

// Drain 清空房间并返回其中的会话（删房时逐个通知+断开）
func (h *Hub) Drain(roomID string) []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions := h.rooms[roomID]
	delete(h.rooms, roomID)
	out := make([]*Session, 0, len(sessions))
	for s := range sessions {
		out = append(out, s)
	}
	return out
}

// Count 房间内连接数（监控/调试用）
func (h *Hub) Count(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
