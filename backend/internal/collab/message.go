package collab

import (
	"github.com/cd-con/brainstorm/backend/internal/cache"
	"github.com/cd-con/brainstorm/backend/internal/canvas"
)

// 变更种类
const (
	KindCreate = "create"
	KindUpdate = "update"
	KindDelete = "delete"
)

// ClientMessage 入站消息统一信封
// type 取值：join / password / select / deselect / mutate / image / heartbeat
type ClientMessage struct {
	Type        string `json:"type"`
	RoomID      string `json:"roomId,omitempty"`
	ComponentID string `json:"componentId,omitempty"`
	// line / text / image，create 时必填
	ObjectType string `json:"objectType,omitempty"`
	// create / update / delete，mutate 时必填
	Kind     string            `json:"kind,omitempty"`
	Payload  canvas.Properties `json:"payload,omitempty"`
	ParentID string            `json:"parentId,omitempty"`
	ZIndex   int               `json:"zIndex,omitempty"`
	Password string            `json:"password,omitempty"`
	// 客户端生成的关联令牌，ack 原样带回
	Correlation string `json:"correlationToken,omitempty"`
	// image 消息：base64 dataUrl
	DataURL string `json:"dataUrl,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m InitMessage) MessageType() string      { return m.Type }
func (m AckMessage) MessageType() string       { return m.Type }
func (m MutateBroadcast) MessageType() string  { return m.Type }
func (m SelectResult) MessageType() string     { return m.Type }
func (m DeselectNotice) MessageType() string   { return m.Type }
func (m LoginRequired) MessageType() string    { return m.Type }
func (m RoomClosed) MessageType() string       { return m.Type }
func (m ErrorMessage) MessageType() string     { return m.Type }
func (m PresenceMessage) MessageType() string  { return m.Type }
func (m HeartbeatReply) MessageType() string   { return m.Type }

// InitMessage 入房成功后的全量快照（"init" 传输）
type InitMessage struct {
	Type       string             `json:"type"` // 固定 "init"
	RoomID     string             `json:"roomId"`
	Components []canvas.Component `json:"components"`
}

// AckMessage 变更回执，只发给发起方
// 由 componentId+kind+correlationToken 三元组做关联
type AckMessage struct {
	Type        string `json:"type"` // 固定 "ack"
	RoomID      string `json:"roomId,omitempty"`
	ComponentID string `json:"componentId"`
	Kind        string `json:"kind"`
	Correlation string `json:"correlationToken,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	// LOCK_CONFLICT 时带上持有者，前端可以提示"被谁占用"
	Holder string `json:"holder,omitempty"`
}

// MutateBroadcast 广播给房间内其他会话的已应用变更（不带 ack 字段）
type MutateBroadcast struct {
	Type        string            `json:"type"` // 固定 "mutate"
	RoomID      string            `json:"roomId"`
	ComponentID string            `json:"componentId"`
	ObjectType  string            `json:"objectType,omitempty"`
	Kind        string            `json:"kind"`
	Payload     canvas.Properties `json:"payload,omitempty"`
	AuthorID    uint64            `json:"authorId,omitempty"`
	ZIndex      int               `json:"zIndex,omitempty"`
	ParentID    string            `json:"parentId,omitempty"`
}

// SelectResult select 的应答：Granted 或 Denied(holder)
type SelectResult struct {
	Type        string `json:"type"` // 固定 "select"
	ComponentID string `json:"componentId"`
	CanEdit     bool   `json:"canEdit"`
	Holder      string `json:"holder,omitempty"`
}

// DeselectNotice 锁释放的主动广播（增强项：免去盲重试）
type DeselectNotice struct {
	Type        string `json:"type"` // 固定 "deselect"
	RoomID      string `json:"roomId,omitempty"`
	ComponentID string `json:"componentId"`
}

// LoginRequired 口令房间的密码质询（join 不带/带错口令时回发）
type LoginRequired struct {
	Type   string `json:"type"` // 固定 "login_required"
	RoomID string `json:"roomId"`
}

// RoomClosed 房主删房后对在场会话的通知，连接随后关闭
type RoomClosed struct {
	Type   string `json:"type"` // 固定 "room_closed"
	RoomID string `json:"roomId"`
}

type ErrorMessage struct {
	Type    string `json:"type"` // 固定 "error"
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type PresenceMessage struct {
	Type    string                 `json:"type"` // 固定 "presence"
	RoomID  string                 `json:"roomId"`
	Members []cache.PresenceMember `json:"members"`
}

type HeartbeatReply struct {
	Type string `json:"type"` // 固定 "heartbeat"
}

// Envelope 客户端侧解码用的出站消息并集
// 服务端按具体类型编码，客户端只需要一个超集结构就能分发
type Envelope struct {
	Type        string                 `json:"type"`
	RoomID      string                 `json:"roomId,omitempty"`
	ComponentID string                 `json:"componentId,omitempty"`
	ObjectType  string                 `json:"objectType,omitempty"`
	Kind        string                 `json:"kind,omitempty"`
	Payload     canvas.Properties      `json:"payload,omitempty"`
	Components  []canvas.Component     `json:"components,omitempty"`
	Correlation string                 `json:"correlationToken,omitempty"`
	Success     bool                   `json:"success,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Holder      string                 `json:"holder,omitempty"`
	CanEdit     bool                   `json:"canEdit,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Members     []cache.PresenceMember `json:"members,omitempty"`
	AuthorID    uint64                 `json:"authorId,omitempty"`
	ZIndex      int                    `json:"zIndex,omitempty"`
	ParentID    string                 `json:"parentId,omitempty"`
}
