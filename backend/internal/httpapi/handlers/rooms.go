package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/cd-con/brainstorm/backend/internal/cache"
	"github.com/cd-con/brainstorm/backend/internal/collab"
	"github.com/cd-con/brainstorm/backend/internal/room"
)

type createRoomReq struct {
	Name     string `json:"name" binding:"required"`
	IsPublic *bool  `json:"isPublic"`
	Password string `json:"password"`
}

type inviteReq struct {
	UserID uint64 `json:"userId" binding:"required"`
}

type Rooms struct {
	registry *room.Registry
	co       *collab.Coordinator
	presence cache.PresenceCache
	// 公开房间列表的并发去重：同一瞬间的大量请求只扫一次注册表
	listGroup singleflight.Group
}

func NewRooms(registry *room.Registry, co *collab.Coordinator, presence cache.PresenceCache) *Rooms {
	if presence == nil {
		presence = cache.NoopPresence{}
	}
	return &Rooms{registry: registry, co: co, presence: presence}
}

// requesterID 从鉴权中间件写入的上下文取用户身份
// gin.Context 对每个请求天然隔离
func requesterID(c *gin.Context) (uint64, bool) {
	v, exists := c.Get("userId")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "User context missing"})
		return 0, false
	}
	userID, ok := v.(uint64)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Invalid user ID format"})
		return 0, false
	}
	return userID, true
}

func (h *Rooms) Create(c *gin.Context) {
	ownerID, ok := requesterID(c)
	if !ok {
		return
	}
	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}
	visibility := room.Public
	if req.IsPublic != nil && !*req.IsPublic {
		visibility = room.Private
	}
	r := h.registry.Create(req.Name, ownerID, visibility, req.Password)
	c.JSON(http.StatusOK, gin.H{
		"id":         r.ID,
		"name":       r.Name,
		"visibility": r.Visibility,
		"isOwner":    true,
	})
}

func (h *Rooms) List(c *gin.Context) {
	if _, ok := requesterID(c); !ok {
		return
	}
	v, err, _ := h.listGroup.Do("public-rooms", func() (interface{}, error) {
		return h.registry.ListPublic(), nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v.([]room.Info))
}

func (h *Rooms) Delete(c *gin.Context) {
	requester, ok := requesterID(c)
	if !ok {
		return
	}
	roomID := c.Param("roomID")

	r, err := h.registry.Delete(roomID, requester)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrRoomNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		case errors.Is(err, room.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "Not room owner"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	// 删房要同步清场：通知在场会话并断开
	h.co.CloseRoom(c.Request.Context(), r)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Invite 把用户加进私有房间的成员表（原始系统的 /api/add/user）
func (h *Rooms) Invite(c *gin.Context) {
	requester, ok := requesterID(c)
	if !ok {
		return
	}
	roomID := c.Param("roomID")
	var req inviteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}

	r, found := h.registry.Get(roomID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if r.OwnerID != requester {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not room owner"})
		return
	}
	r.AddMember(req.UserID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Members 房间在线成员（presence）
func (h *Rooms) Members(c *gin.Context) {
	if _, ok := requesterID(c); !ok {
		return
	}
	roomID := c.Param("roomID")
	if _, found := h.registry.Get(roomID); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	members, err := h.presence.GetAliveMembersWithNames(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if members == nil {
		members = []cache.PresenceMember{}
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "members": members})
}
