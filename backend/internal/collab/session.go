package collab

import (
	"sync"

	"github.com/google/uuid"
)

// State 会话协议状态机
// Connecting → Authenticating → Joined(roomID) → Disconnected
// 用显式状态值而不是散落的布尔字段，非法迁移直接拒绝
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateJoined
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session 一条连接的服务端运行态
// 身份在升级握手时验证一次；roomID / heldLocks 随协议流转
type Session struct {
	ID       string // 连接 id（锁表里的 sessionID）
	UserID   uint64
	Username string

	mu        sync.Mutex
	state     State
	roomID    string
	heldLocks map[string]struct{}
	closed    bool
	pwTries   int

	send chan OutboundMessage
}

func NewSession(userID uint64, username string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		state:     StateConnecting,
		heldLocks: make(map[string]struct{}),
		send:      make(chan OutboundMessage, 32),
	}
}

// Send 出站通道，由传输层的写循环消费
func (s *Session) Send() <-chan OutboundMessage { return s.send }

// Enqueue 非阻塞入队；队列满则丢弃（慢消费者不拖垮房间）
// 在 mu 内做非阻塞发送，和 CloseSend 互斥，避免向已关闭通道写入
func (s *Session) Enqueue(msg OutboundMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.send <- msg:
	default:
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Authenticated 身份验证通过：Connecting → Authenticating
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.state = StateAuthenticating
	return true
}

// EnterRoom 入房：Authenticating/Joined → Joined(roomID)
// Joined → Joined 允许换房，返回离开的旧房间 id
func (s *Session) EnterRoom(roomID string) (prevRoom string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAuthenticating:
		s.state = StateJoined
		s.roomID = roomID
		return "", true
	case StateJoined:
		prev := s.roomID
		s.roomID = roomID
		return prev, true
	default:
		return "", false
	}
}

// Disconnect 终态；返回仍持有的锁，调用方负责 releaseAll
func (s *Session) Disconnect() (roomID string, held []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return "", nil
	}
	s.state = StateDisconnected
	roomID = s.roomID
	for id := range s.heldLocks {
		held = append(held, id)
	}
	s.heldLocks = make(map[string]struct{})
	s.roomID = ""
	return roomID, held
}

func (s *Session) TrackLock(componentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heldLocks[componentID] = struct{}{}
}

func (s *Session) UntrackLock(componentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.heldLocks, componentID)
}

// TakeLocks 取走并清空持锁集合（换房时释放旧房间的锁）
func (s *Session) TakeLocks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.heldLocks))
	for id := range s.heldLocks {
		out = append(out, id)
	}
	s.heldLocks = make(map[string]struct{})
	return out
}

// PasswordFailed 记一次口令失败，返回累计次数（只给一次重试机会）
func (s *Session) PasswordFailed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pwTries++
	return s.pwTries
}

// ResetPasswordTries 入房成功后清零
func (s *Session) ResetPasswordTries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pwTries = 0
}

// CloseSend 关闭出站通道（读循环退出处调用），写循环随之结束
func (s *Session) CloseSend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
