package client

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cd-con/brainstorm/backend/internal/canvas"
	"github.com/cd-con/brainstorm/backend/internal/collab"
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
)

type Options struct {
	URL      string // ws://host:port/ws?token=...
	RoomID   string
	Password string
	// ack 超时即按失败回滚（断连途中丢 ack 的兜底）
	AckTimeout time.Duration
	// 重连参数：固定上限的容量退避
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (o *Options) fillDefaults() {
	if o.AckTimeout <= 0 {
		o.AckTimeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 3 * time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
}

// 在途乐观变更：保留变更前的值，负回执/超时按它精确恢复
type pendingMutation struct {
	componentID string
	kind        string
	prior       *canvas.Component // nil 表示变更前不存在（create 的回滚是删除）
	timer       *time.Timer
}

// Reconciler 客户端和解器
// 变更先落本地视图（乐观应用），回执为 success 则保持，
// 失败/超时则精确恢复保留的前值；他人广播无条件应用
// （锁仲裁保证变更时刻只有一个持有者，所以不需要本地冲突解决）
type Reconciler struct {
	opt Options

	mu      sync.Mutex
	view    map[string]canvas.Component
	pending map[string]*pendingMutation // correlationToken -> 回滚信息
	conn    *websocket.Conn
	synced  bool
	sawInit bool // 本条连接是否完成过一次 init 同步

	// 注入点：单测不走网络
	sendFn    func(collab.ClientMessage) error
	connectFn func(context.Context) error
}

func NewReconciler(opt Options) *Reconciler {
	opt.fillDefaults()
	r := &Reconciler{
		opt:     opt,
		view:    make(map[string]canvas.Component),
		pending: make(map[string]*pendingMutation),
	}
	r.sendFn = r.sendWS
	r.connectFn = r.connectAndServe
	return r
}

// Run 连接并驱动读循环，断线后按容量退避重连
// 重连成功即重新 join：丢弃此前的乐观状态，以新快照为准
// （不做增量追赶——宁可简单也不要发散）
// 重连额度按"连续失败"计：一条连接只要完成过 init 同步，
// 它掉线后就是一个全新的重连序列，额度重新来过
func (r *Reconciler) Run(ctx context.Context) error {
	failures := 0
	for {
		r.mu.Lock()
		r.sawInit = false
		r.mu.Unlock()

		err := r.connectFn(ctx)
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// 断连：在途变更等不到 ack 了，全部按失败回滚
		r.failAllPending()

		r.mu.Lock()
		synced := r.sawInit
		r.mu.Unlock()
		if synced {
			failures = 0
		} else {
			failures++
			if failures >= r.opt.MaxAttempts {
				// 重试额度用尽是终态失败，必须让上层感知
				return ErrRetriesExhausted
			}
		}
		log.Printf("connection lost (consecutive failures %d/%d): %v", failures, r.opt.MaxAttempts, err)

		delay := r.opt.BaseDelay
		if failures > 1 {
			delay = r.opt.BaseDelay * time.Duration(1<<(failures-1))
			if delay > r.opt.MaxDelay {
				delay = r.opt.MaxDelay
			}
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reconciler) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, r.opt.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	r.mu.Lock()
	r.conn = conn
	r.synced = false
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.conn = nil
		r.synced = false
		r.mu.Unlock()
	}()

	join := collab.ClientMessage{Type: "join", RoomID: r.opt.RoomID, Password: r.opt.Password}
	if err := conn.WriteJSON(join); err != nil {
		return err
	}

	for {
		var env collab.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if terminal := r.handleEnvelope(env); terminal != nil {
			return terminal
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// handleEnvelope 服务端消息分发；返回非 nil 表示连接应当终止
func (r *Reconciler) handleEnvelope(env collab.Envelope) error {
	switch env.Type {
	case "init":
		r.applyInit(env.Components)
	case "ack":
		r.resolveAck(env)
	case "mutate":
		r.applyBroadcast(env)
	case "deselect":
		// 锁已易手的提示，本地视图无需变化
	case "login_required":
		if r.opt.Password == "" {
			return errors.New("room requires a password")
		}
		return r.send(collab.ClientMessage{Type: "password", RoomID: r.opt.RoomID, Password: r.opt.Password})
	case "room_closed":
		return errors.New("room was closed by its owner")
	case "error":
		log.Printf("server error: code=%s message=%s", env.Code, env.Message)
	}
	return nil
}

// applyInit 全量替换本地视图；之前的乐观状态一律作废
func (r *Reconciler) applyInit(components []canvas.Component) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.pending {
		p.timer.Stop()
	}
	r.pending = make(map[string]*pendingMutation)
	r.view = make(map[string]canvas.Component, len(components))
	for _, c := range components {
		r.view[c.ID] = c.Clone()
	}
	r.synced = true
	r.sawInit = true
}

func (r *Reconciler) resolveAck(env collab.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[env.Correlation]
	if !ok {
		return
	}
	// 关联键是 componentId+kind+correlationToken 三元组
	if p.componentID != env.ComponentID || p.kind != env.Kind {
		return
	}
	p.timer.Stop()
	delete(r.pending, env.Correlation)
	if env.Success {
		return // 乐观状态成立
	}
	r.rollbackLocked(p)
}

// rollbackLocked 精确恢复前值（不做部分回滚）
func (r *Reconciler) rollbackLocked(p *pendingMutation) {
	if p.prior == nil {
		delete(r.view, p.componentID)
		return
	}
	r.view[p.componentID] = p.prior.Clone()
}

// applyBroadcast 他人已被仲裁过的变更，无条件应用
func (r *Reconciler) applyBroadcast(env collab.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch env.Kind {
	case collab.KindCreate:
		r.view[env.ComponentID] = canvas.Component{
			ID:         env.ComponentID,
			Type:       canvas.ComponentType(env.ObjectType),
			AuthorID:   env.AuthorID,
			Properties: env.Payload.Clone(),
			ZIndex:     env.ZIndex,
		}
	case collab.KindUpdate:
		c, ok := r.view[env.ComponentID]
		if !ok {
			return
		}
		c.Properties = c.Properties.Merge(env.Payload)
		r.view[env.ComponentID] = c
	case collab.KindDelete:
		delete(r.view, env.ComponentID)
	}
}

// Create 乐观创建，返回本地生成的组件 id 和关联令牌
func (r *Reconciler) Create(objectType string, props canvas.Properties, zIndex int) (string, error) {
	componentID := uuid.NewString()
	token := uuid.NewString()

	r.mu.Lock()
	r.view[componentID] = canvas.Component{
		ID:         componentID,
		Type:       canvas.ComponentType(objectType),
		Properties: props.Clone(),
		ZIndex:     zIndex,
	}
	r.trackPendingLocked(token, componentID, collab.KindCreate, nil)
	r.mu.Unlock()

	err := r.send(collab.ClientMessage{
		Type: "mutate", Kind: collab.KindCreate,
		ComponentID: componentID, ObjectType: objectType,
		Payload: props, ZIndex: zIndex, Correlation: token,
	})
	if err != nil {
		r.failPending(token)
		return "", err
	}
	return componentID, nil
}

// Update 乐观更新
func (r *Reconciler) Update(componentID string, props canvas.Properties) error {
	token := uuid.NewString()

	r.mu.Lock()
	c, ok := r.view[componentID]
	if !ok {
		r.mu.Unlock()
		return canvas.ErrComponentNotFound
	}
	prior := c.Clone()
	c.Properties = c.Properties.Clone().Merge(props)
	r.view[componentID] = c
	r.trackPendingLocked(token, componentID, collab.KindUpdate, &prior)
	r.mu.Unlock()

	err := r.send(collab.ClientMessage{
		Type: "mutate", Kind: collab.KindUpdate,
		ComponentID: componentID, Payload: props, Correlation: token,
	})
	if err != nil {
		r.failPending(token)
		return err
	}
	return nil
}

// Delete 乐观删除
func (r *Reconciler) Delete(componentID string) error {
	token := uuid.NewString()

	r.mu.Lock()
	c, ok := r.view[componentID]
	if !ok {
		r.mu.Unlock()
		return canvas.ErrComponentNotFound
	}
	prior := c.Clone()
	delete(r.view, componentID)
	r.trackPendingLocked(token, componentID, collab.KindDelete, &prior)
	r.mu.Unlock()

	err := r.send(collab.ClientMessage{
		Type: "mutate", Kind: collab.KindDelete,
		ComponentID: componentID, Correlation: token,
	})
	if err != nil {
		r.failPending(token)
		return err
	}
	return nil
}

func (r *Reconciler) Select(componentID string) error {
	return r.send(collab.ClientMessage{Type: "select", ComponentID: componentID})
}

func (r *Reconciler) Deselect(componentID string) error {
	return r.send(collab.ClientMessage{Type: "deselect", ComponentID: componentID})
}

// trackPendingLocked 登记在途变更并武装超时回滚；调用方持有 r.mu
func (r *Reconciler) trackPendingLocked(token, componentID, kind string, prior *canvas.Component) {
	p := &pendingMutation{componentID: componentID, kind: kind, prior: prior}
	p.timer = time.AfterFunc(r.opt.AckTimeout, func() {
		r.failPending(token)
	})
	r.pending[token] = p
}

// failPending 按失败处理一条在途变更（超时/发送失败路径）
func (r *Reconciler) failPending(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[token]
	if !ok {
		return
	}
	p.timer.Stop()
	delete(r.pending, token)
	r.rollbackLocked(p)
}

func (r *Reconciler) failAllPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, token)
		r.rollbackLocked(p)
	}
}

func (r *Reconciler) send(msg collab.ClientMessage) error {
	return r.sendFn(msg)
}

func (r *Reconciler) sendWS(msg collab.ClientMessage) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(msg)
}

// Component 本地视图里的单个组件（深拷贝）
func (r *Reconciler) Component(id string) (canvas.Component, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.view[id]
	if !ok {
		return canvas.Component{}, false
	}
	return c.Clone(), true
}

// Components 本地视图快照
func (r *Reconciler) Components() []canvas.Component {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]canvas.Component, 0, len(r.view))
	for _, c := range r.view {
		out = append(out, c.Clone())
	}
	return out
}

// Synced 是否已完成至少一次 init 同步
func (r *Reconciler) Synced() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synced
}
