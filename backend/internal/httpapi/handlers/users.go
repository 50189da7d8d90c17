package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cd-con/brainstorm/backend/internal/room"
)

type Users struct {
	registry *room.Registry
}

func NewUsers(registry *room.Registry) *Users {
	return &Users{registry: registry}
}

// Profile 当前用户的身份信息和名下房间（自建 + 受邀）
// 身份取自鉴权中间件写入的上下文，不再查库
func (h *Users) Profile(c *gin.Context) {
	userID, ok := requesterID(c)
	if !ok {
		return
	}

	rooms := make([]gin.H, 0)
	for _, info := range h.registry.ListFor(userID) {
		rooms = append(rooms, gin.H{
			"id":      info.ID,
			"name":    info.Name,
			"isOwner": info.OwnerID == userID,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":   userID,
		"username": c.GetString("username"),
		"rooms":    rooms,
	})
}
