package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cd-con/brainstorm/backend/internal/blob"
)

type imageUploadReq struct {
	DataURL string `json:"dataUrl" binding:"required"`
}

type Images struct {
	blobs blob.Store
}

func NewImages(blobs blob.Store) *Images {
	return &Images{blobs: blobs}
}

// Upload HTTP 直传路径（协议内的 image 消息走 websocket，两条路共用同一个存储）
func (h *Images) Upload(c *gin.Context) {
	if _, ok := requesterID(c); !ok {
		return
	}
	imageID := c.Param("imageID")
	var req imageUploadReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}
	data, err := blob.DecodeDataURL(req.DataURL)
	if err != nil {
		if errors.Is(err, blob.ErrBadDataURL) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to decode image"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	url, err := h.blobs.Put(c.Request.Context(), imageID, data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to upload image: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}
