package room

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cd-con/brainstorm/backend/internal/canvas"
)

// Info 房间列表/详情 API 的返回形状
type Info struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	OwnerID    uint64     `json:"ownerId"`
	Visibility Visibility `json:"visibility"`
	// 是否需要口令（口令本身绝不下发）
	PasswordProtected bool `json:"passwordProtected"`
}

// Registry 进程级的房间注册表：roomID -> Room
// 注册表锁只保护 map 本身，房间内部状态由各自的串行化点保护，
// 跨房间操作保持并发
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

func (g *Registry) Create(name string, ownerID uint64, visibility Visibility, password string) *Room {
	r := &Room{
		ID:         "room-" + uuid.NewString(),
		Name:       name,
		OwnerID:    ownerID,
		Visibility: visibility,
		Password:   password,
		members:    map[uint64]struct{}{ownerID: {}},
		Canvas:     canvas.NewStore(),
		Locks:      canvas.NewLockTable(),
	}
	g.mu.Lock()
	g.rooms[r.ID] = r
	g.mu.Unlock()
	return r
}

func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// Delete 仅房主可删；返回被删的房间，调用方负责通知/断开其中的会话
func (g *Registry) Delete(id string, requesterID uint64) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.OwnerID != requesterID {
		return nil, ErrNotOwner
	}
	delete(g.rooms, id)
	return r, nil
}

// ListFor 某用户名下的房间：自己建的加上被邀请进的
func (g *Registry) ListFor(userID uint64) []Info {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Info, 0)
	for _, r := range g.rooms {
		if r.IsMember(userID) {
			out = append(out, Info{
				ID:                r.ID,
				Name:              r.Name,
				OwnerID:           r.OwnerID,
				Visibility:        r.Visibility,
				PasswordProtected: r.Password != "",
			})
		}
	}
	return out
}

// ListPublic 公开房间列表
func (g *Registry) ListPublic() []Info {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Info, 0)
	for _, r := range g.rooms {
		if r.Visibility == Public {
			out = append(out, Info{
				ID:                r.ID,
				Name:              r.Name,
				OwnerID:           r.OwnerID,
				Visibility:        r.Visibility,
				PasswordProtected: r.Password != "",
			})
		}
	}
	return out
}
