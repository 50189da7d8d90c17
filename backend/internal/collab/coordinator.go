package collab

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cd-con/brainstorm/backend/internal/blob"
	"github.com/cd-con/brainstorm/backend/internal/cache"
	"github.com/cd-con/brainstorm/backend/internal/canvas"
	"github.com/cd-con/brainstorm/backend/internal/room"
)

// 错误码（下发给客户端的 error/ack.error 字段）
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodeRoomAccess      = "ROOM_ACCESS_DENIED"
	CodeRoomClosed      = "ROOM_CLOSED"
	CodeLockConflict    = "LOCK_CONFLICT"
	CodeValidation      = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternal        = "INTERNAL"
)

// 在线状态的逻辑 TTL，心跳负责续期
const presenceTTL = 600 * time.Second

// Coordinator 同步协调器：协议消息的唯一处理入口
// 校验 -> 房间串行化点内变更 -> ack 发起方 -> 广播同房间其他会话
type Coordinator struct {
	registry *room.Registry
	hub      *Hub
	presence cache.PresenceCache
	events   *EventDispatcher // 可为 nil（不接 kafka 时）
	blobs    blob.Store       // 可为 nil（不接图片存储时）
}

func NewCoordinator(registry *room.Registry, hub *Hub, presence cache.PresenceCache, events *EventDispatcher, blobs blob.Store) *Coordinator {
	if presence == nil {
		presence = cache.NoopPresence{}
	}
	return &Coordinator{
		registry: registry,
		hub:      hub,
		presence: presence,
		events:   events,
		blobs:    blobs,
	}
}

func (co *Coordinator) Hub() *Hub { return co.hub }

// Dispatch 处理一条入站消息
// 返回 terminate=true 表示协议层要求断开连接（鉴权/入场失败）
func (co *Coordinator) Dispatch(ctx context.Context, sess *Session, msg ClientMessage) (terminate bool) {
	switch msg.Type {
	case "join", "password":
		// password 消息就是带口令的二次 join（口令质询应答）
		return co.handleJoin(ctx, sess, msg.RoomID, msg.Password)
	case "select":
		co.handleSelect(sess, msg.ComponentID)
	case "deselect":
		co.handleDeselect(sess, msg.ComponentID)
	case "mutate":
		co.handleMutate(sess, msg)
	case "image":
		co.handleImage(ctx, sess, msg)
	case "heartbeat":
		co.handleHeartbeat(ctx, sess)
	default:
		// 未知类型：回错误提示，连接保持
		sess.Enqueue(ErrorMessage{Type: "error", Code: CodeValidation, Message: "unknown message type: " + msg.Type})
	}
	return false
}

func (co *Coordinator) handleJoin(ctx context.Context, sess *Session, roomID, password string) (terminate bool) {
	if st := sess.State(); st != StateAuthenticating && st != StateJoined {
		sess.Enqueue(ErrorMessage{Type: "error", Code: CodeValidation, Message: "join in state " + st.String()})
		return false
	}
	if roomID == "" {
		sess.Enqueue(ErrorMessage{Type: "error", Code: CodeValidation, Message: "missing roomId"})
		return false
	}

	r, ok := co.registry.Get(roomID)
	if !ok {
		sess.Enqueue(ErrorMessage{Type: "error", Code: CodeRoomNotFound, Message: "room " + roomID + " not found"})
		return true
	}

	if err := r.Admit(sess.UserID, password); err != nil {
		switch {
		case errors.Is(err, room.ErrPasswordRequired):
			// 给一次重试机会，第二次仍失败就断开
			if sess.PasswordFailed() >= 2 {
				sess.Enqueue(ErrorMessage{Type: "error", Code: CodeRoomAccess, Message: "wrong password"})
				return true
			}
			sess.Enqueue(LoginRequired{Type: "login_required", RoomID: roomID})
			return false
		default:
			sess.Enqueue(ErrorMessage{Type: "error", Code: CodeRoomAccess, Message: err.Error()})
			return true
		}
	}

	prevRoom, ok := sess.EnterRoom(roomID)
	if !ok {
		sess.Enqueue(ErrorMessage{Type: "error", Code: CodeValidation, Message: "illegal state transition"})
		return false
	}
	sess.ResetPasswordTries()

	// 换房：先把旧房间清理干净
	if prevRoom != "" && prevRoom != roomID {
		co.leaveRoom(ctx, sess, prevRoom)
	}

	co.hub.Join(roomID, sess)
	if err := co.presence.AddMember(ctx, roomID, sess.UserID, sess.Username, presenceTTL); err != nil {
		log.Printf("presence add member failed room=%s user=%d: %v", roomID, sess.UserID, err)
	}

	// 快照读和 init 入队在同一个串行化点内完成：
	// 快照之前应用的变更一定在快照里，之后应用的变更其广播
	// 一定排在 init 之后，新成员不会丢中间的那一条
	err := r.Sync(func() error {
		sess.Enqueue(InitMessage{Type: "init", RoomID: roomID, Components: r.Canvas.Snapshot()})
		return nil
	})
	if err != nil {
		sess.Enqueue(ErrorMessage{Type: "error", Code: CodeRoomClosed, Message: err.Error()})
		return true
	}
	return false
}

// leaveRoom 离开房间的公共路径：释放锁 + 广播释放 + 退出扇出表 + 摘在线
func (co *Coordinator) leaveRoom(ctx context.Context, sess *Session, roomID string) {
	held := sess.TakeLocks()
	if r, ok := co.registry.Get(roomID); ok {
		_ = r.Sync(func() error {
			for _, componentID := range held {
				if r.Locks.Release(componentID, sess.ID) {
					co.hub.Broadcast(roomID, DeselectNotice{Type: "deselect", RoomID: roomID, ComponentID: componentID}, sess)
				}
			}
			// 兜底：锁表里不应再有该会话的残留
			for _, componentID := range r.Locks.ReleaseAll(sess.ID) {
				co.hub.Broadcast(roomID, DeselectNotice{Type: "deselect", RoomID: roomID, ComponentID: componentID}, sess)
			}
			return nil
		})
	}
	co.hub.Leave(roomID, sess)
	if err := co.presence.RemoveMember(ctx, roomID, sess.UserID); err != nil {
		log.Printf("presence remove member failed room=%s user=%d: %v", roomID, sess.UserID, err)
	}
}

func (co *Coordinator) handleSelect(sess *Session, componentID string) {
	r, ok := co.joinedRoom(sess)
	if !ok {
		return
	}
	if componentID == "" {
		sess.Enqueue(ErrorMessage{Type: "error", Code: CodeValidation, Message: "missing componentId"})
		return
	}

	err := r.Sync(func() error {
		if _, exists := r.Canvas.Get(componentID); !exists {
			return canvas.ErrComponentNotFound
		}
		granted, holder := r.Locks.TryAcquire(componentID, sess.ID)
		if granted {
			// 本协议一次只持一把锁：新 select 成功时放掉旧的
			for _, prev := range sess.TakeLocks() {
				if prev != componentID && r.Locks.Release(prev, sess.ID) {
					co.hub.Broadcast(sess.RoomID(), DeselectNotice{Type: "deselect", RoomID: sess.RoomID(), ComponentID: prev}, sess)
				}
			}
			sess.TrackLock(componentID)
		}
		sess.Enqueue(SelectResult{Type: "select", ComponentID: componentID, CanEdit: granted, Holder: holder})
		return nil
	})
	if err != nil {
		sess.Enqueue(ErrorMessage{Type: "error", Code: codeFor(err), Message: err.Error()})
	}
}

func (co *Coordinator) handleDeselect(sess *Session, componentID string) {
	r, ok := co.joinedRoom(sess)
	if !ok {
		return
	}
	_ = r.Sync(func() error {
		if r.Locks.Release(componentID, sess.ID) {
			sess.UntrackLock(componentID)
			// 主动广播锁释放，免得别人只能盲重试
			co.hub.Broadcast(sess.RoomID(), DeselectNotice{Type: "deselect", RoomID: sess.RoomID(), ComponentID: componentID}, sess)
		}
		return nil
	})
}

func (co *Coordinator) handleMutate(sess *Session, msg ClientMessage) {
	r, ok := co.joinedRoom(sess)
	if !ok {
		return
	}
	co.applyMutation(sess, r, msg)
}

// applyMutation 变更主路径：锁校验 + 文档变更 + ack + 广播 + 事件外发
// 整个"查锁+改文档"在房间串行化点内是一个原子动作
func (co *Coordinator) applyMutation(sess *Session, r *room.Room, msg ClientMessage) {
	roomID := sess.RoomID()
	ack := AckMessage{
		Type:        "ack",
		RoomID:      roomID,
		ComponentID: msg.ComponentID,
		Kind:        msg.Kind,
		Correlation: msg.Correlation,
	}

	var bc *MutateBroadcast
	apply := func() error {
		switch msg.Kind {
		case KindCreate:
			c, err := r.Canvas.Create(canvas.ComponentDef{
				ID:         msg.ComponentID,
				Type:       canvas.ComponentType(msg.ObjectType),
				AuthorID:   sess.UserID,
				Properties: msg.Payload,
				ZIndex:     msg.ZIndex,
				ParentID:   msg.ParentID,
			})
			if err != nil {
				return err
			}
			ack.ComponentID = c.ID
			bc = &MutateBroadcast{
				Type: "mutate", RoomID: roomID, ComponentID: c.ID,
				ObjectType: string(c.Type), Kind: KindCreate,
				Payload: c.Properties.Clone(), AuthorID: sess.UserID,
				ZIndex: c.ZIndex, ParentID: msg.ParentID,
			}
			return nil

		case KindUpdate:
			// 变更必须持锁；锁空闲时静默获取（串行化点本身保证了
			// 本次应用期间的独占，所以无需真的落表再回收）
			if holder, held := r.Locks.Holder(msg.ComponentID); held && holder != sess.ID {
				ack.Holder = holder
				return errLockConflict
			}
			c, err := r.Canvas.Update(msg.ComponentID, msg.Payload)
			if err != nil {
				return err
			}
			bc = &MutateBroadcast{
				Type: "mutate", RoomID: roomID, ComponentID: c.ID,
				ObjectType: string(c.Type), Kind: KindUpdate,
				Payload: msg.Payload.Clone(), AuthorID: sess.UserID,
			}
			return nil

		case KindDelete:
			if holder, held := r.Locks.Holder(msg.ComponentID); held && holder != sess.ID {
				ack.Holder = holder
				return errLockConflict
			}
			removed, err := r.Canvas.Delete(msg.ComponentID)
			if err != nil {
				return err
			}
			// 级联删除要同步清掉锁表里的全部子孙
			for _, rid := range removed {
				r.Locks.Drop(rid)
				sess.UntrackLock(rid)
			}
			bc = &MutateBroadcast{
				Type: "mutate", RoomID: roomID, ComponentID: msg.ComponentID,
				ObjectType: msg.ObjectType, Kind: KindDelete, AuthorID: sess.UserID,
			}
			return nil

		default:
			return errBadKind
		}
	}

	// ack、广播、事件外发都在串行化点内入队：各会话通道收到消息的
	// 顺序就是应用顺序。Enqueue 和 Publish 都是非阻塞的，慢客户端
	// 不会把临界区拖住
	err := r.Sync(func() error {
		if err := apply(); err != nil {
			return err
		}
		ack.Success = true
		sess.Enqueue(ack)
		co.hub.Broadcast(roomID, *bc, sess)
		if co.events != nil {
			co.events.Publish(CanvasOpEvent{
				EventType:   "MUTATION_APPLIED",
				RoomID:      roomID,
				ComponentID: ack.ComponentID,
				ObjectType:  bc.ObjectType,
				Kind:        msg.Kind,
				AuthorID:    sess.UserID,
				SessionID:   sess.ID,
				Payload:     bc.Payload,
				AppliedAt:   time.Now(),
			})
		}
		return nil
	})
	if err != nil {
		ack.Success = false
		ack.Error = codeFor(err)
		sess.Enqueue(ack)
	}
}

// handleImage 图片引用上传：
// 解码和落盘都在房间锁外做（慢操作不能占住串行化点），
// 只有"把持久 URL 写回组件"这一步回到串行化点内
func (co *Coordinator) handleImage(ctx context.Context, sess *Session, msg ClientMessage) {
	r, ok := co.joinedRoom(sess)
	if !ok {
		return
	}
	if co.blobs == nil {
		sess.Enqueue(AckMessage{Type: "ack", ComponentID: msg.ComponentID, Kind: KindUpdate,
			Correlation: msg.Correlation, Success: false, Error: CodeInternal})
		return
	}

	data, err := blob.DecodeDataURL(msg.DataURL)
	if err != nil {
		sess.Enqueue(AckMessage{Type: "ack", ComponentID: msg.ComponentID, Kind: KindUpdate,
			Correlation: msg.Correlation, Success: false, Error: CodeValidation})
		return
	}
	ref, err := co.blobs.Put(ctx, msg.ComponentID, data)
	if err != nil {
		log.Printf("blob store failed component=%s: %v", msg.ComponentID, err)
		sess.Enqueue(AckMessage{Type: "ack", ComponentID: msg.ComponentID, Kind: KindUpdate,
			Correlation: msg.Correlation, Success: false, Error: CodeInternal})
		return
	}

	// 完成事件回到串行化点：用持久引用替换临时引用，随后正常广播
	co.applyMutation(sess, r, ClientMessage{
		Type:        "mutate",
		Kind:        KindUpdate,
		ComponentID: msg.ComponentID,
		Payload:     canvas.Properties{"url": ref},
		Correlation: msg.Correlation,
	})
}

func (co *Coordinator) handleHeartbeat(ctx context.Context, sess *Session) {
	if sess.State() == StateJoined {
		roomID := sess.RoomID()
		if err := co.presence.AddMember(ctx, roomID, sess.UserID, sess.Username, presenceTTL); err != nil {
			log.Printf("presence refresh failed room=%s user=%d: %v", roomID, sess.UserID, err)
		}
		members, err := co.presence.GetAliveMembersWithNames(ctx, roomID)
		if err != nil {
			log.Printf("presence query failed room=%s: %v", roomID, err)
		} else if members != nil {
			sess.Enqueue(PresenceMessage{Type: "presence", RoomID: roomID, Members: members})
		}
	}
	sess.Enqueue(HeartbeatReply{Type: "heartbeat"})
}

// Disconnect 会话终结：Joined → Disconnected
// releaseAll + 退出扇出表；锁释放对外表现为 deselect 广播
func (co *Coordinator) Disconnect(ctx context.Context, sess *Session) {
	roomID, _ := sess.Disconnect()
	if roomID == "" {
		return
	}
	if r, ok := co.registry.Get(roomID); ok {
		_ = r.Sync(func() error {
			for _, componentID := range r.Locks.ReleaseAll(sess.ID) {
				co.hub.Broadcast(roomID, DeselectNotice{Type: "deselect", RoomID: roomID, ComponentID: componentID}, sess)
			}
			return nil
		})
	}
	co.hub.Leave(roomID, sess)
	if err := co.presence.RemoveMember(ctx, roomID, sess.UserID); err != nil {
		log.Printf("presence remove member failed room=%s user=%d: %v", roomID, sess.UserID, err)
	}
}

// CloseRoom 房主删房：通知在场会话并逐个断开，状态一次性清空
func (co *Coordinator) CloseRoom(ctx context.Context, r *room.Room) {
	r.Close()
	for _, sess := range co.hub.Drain(r.ID) {
		sess.Enqueue(RoomClosed{Type: "room_closed", RoomID: r.ID})
		sess.Disconnect()
		sess.CloseSend()
	}
	if err := co.presence.FlushRoom(ctx, r.ID); err != nil {
		log.Printf("presence flush failed room=%s: %v", r.ID, err)
	}
}

// joinedRoom 只有 Joined 状态才允许的消息的公共前置
func (co *Coordinator) joinedRoom(sess *Session) (*room.Room, bool) {
	if sess.State() != StateJoined {
		sess.Enqueue(ErrorMessage{Type: "error", Code: CodeValidation, Message: "not joined to any room"})
		return nil, false
	}
	r, ok := co.registry.Get(sess.RoomID())
	if !ok {
		sess.Enqueue(ErrorMessage{Type: "error", Code: CodeRoomNotFound, Message: "room is gone"})
		return nil, false
	}
	return r, true
}

var (
	errLockConflict = errors.New(CodeLockConflict)
	errBadKind      = errors.New(CodeValidation)
)

// codeFor 内部错误到协议错误码的映射
func codeFor(err error) string {
	switch {
	case errors.Is(err, errLockConflict):
		return CodeLockConflict
	case errors.Is(err, canvas.ErrComponentNotFound):
		return CodeNotFound
	case errors.Is(err, canvas.ErrComponentExists),
		errors.Is(err, canvas.ErrInvalidType),
		errors.Is(err, canvas.ErrParentNotFound),
		errors.Is(err, errBadKind):
		return CodeValidation
	case errors.Is(err, room.ErrRoomClosed):
		return CodeRoomClosed
	default:
		return CodeInternal
	}
}
