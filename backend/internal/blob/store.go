package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

var ErrBadDataURL = errors.New("INVALID_DATA_URL")

// Store 图片二进制存储的协作方接口
// 核心只依赖这一层，对接对象存储时换实现即可
type Store interface {
	// Put 存储字节流，返回可下发给客户端的持久引用（URL）
	Put(ctx context.Context, componentID string, data []byte) (string, error)
}

// FileStore 本地静态目录实现：写到 dir/{componentID}.png，
// 由同进程的静态文件路由对外提供
type FileStore struct {
	dir     string
	baseURL string // 形如 /static/images
}

func NewFileStore(dir, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *FileStore) Put(ctx context.Context, componentID string, data []byte) (string, error) {
	// componentID 是服务端生成/校验过的 uuid，这里再兜一层防路径穿越
	name := filepath.Base(componentID) + ".png"
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", err
	}
	return s.baseURL + "/" + name, nil
}

// DecodeDataURL 解析 "data:image/png;base64,...." 形式的 dataUrl
func DecodeDataURL(dataURL string) ([]byte, error) {
	_, raw, found := strings.Cut(dataURL, ",")
	if !found || raw == "" {
		return nil, ErrBadDataURL
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, ErrBadDataURL
	}
	return data, nil
}
