package room

import (
	"errors"
	"sync"

	"github.com/cd-con/brainstorm/backend/internal/canvas"
)

type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

var (
	ErrRoomNotFound     = errors.New("ROOM_NOT_FOUND")
	ErrAccessDenied     = errors.New("ROOM_ACCESS_DENIED")
	ErrPasswordRequired = errors.New("PASSWORD_REQUIRED")
	ErrNotOwner         = errors.New("NOT_ROOM_OWNER")
	ErrRoomClosed       = errors.New("ROOM_CLOSED")
)

// Room 一个协作域：文档存储 + 锁表 + 元数据
// 文档存储和锁表由房间独占，房间删除时一起销毁
type Room struct {
	ID         string
	Name       string
	OwnerID    uint64
	Visibility Visibility
	Password   string // 可选；空串表示不设密码

	// 房间级串行化点：对 Canvas 的读写（包括快照）都要经过这里，
	// 避免读到撕裂状态。锁表自带互斥，放在同一临界区内只是为了
	// mutate 路径上"查锁+改文档"是一个原子动作
	mu      sync.Mutex
	members map[uint64]struct{}
	closed  bool

	Canvas *canvas.Store
	Locks  *canvas.LockTable
}

// Sync 在房间的串行化点内执行 fn
// 同一房间的两个变更绝不交错；不同房间互不影响
func (r *Room) Sync(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	return fn()
}

func (r *Room) AddMember(userID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[userID] = struct{}{}
}

func (r *Room) IsMember(userID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[userID]
	return ok
}

// Admit 入场规则：
// - 私有房间只允许成员
// - 设了密码的房间要求口令匹配（成员也要输，和原始行为一致）
// - 公开无密码房间放行任何已验证身份
func (r *Room) Admit(userID uint64, password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if r.Visibility == Private {
		if _, ok := r.members[userID]; !ok {
			return ErrAccessDenied
		}
	}
	if r.Password != "" && r.Password != password {
		return ErrPasswordRequired
	}
	return nil
}

// Close 标记房间关闭并清空文档与锁表
// 之后所有 Sync/Admit 都会拒绝
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.Canvas = canvas.NewStore()
	r.Locks = canvas.NewLockTable()
	r.members = make(map[uint64]struct{})
}
