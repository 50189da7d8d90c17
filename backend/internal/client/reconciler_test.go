package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cd-con/brainstorm/backend/internal/canvas"
	"github.com/cd-con/brainstorm/backend/internal/collab"
)

// 不走网络：捕获外发消息，回执由测试直接喂给 handleEnvelope
func newTestReconciler(t *testing.T) (*Reconciler, *[]collab.ClientMessage) {
	t.Helper()
	r := NewReconciler(Options{RoomID: "room-test", AckTimeout: time.Hour})
	var sent []collab.ClientMessage
	r.sendFn = func(msg collab.ClientMessage) error {
		sent = append(sent, msg)
		return nil
	}
	return r, &sent
}

func seedInit(r *Reconciler, components ...canvas.Component) {
	r.handleEnvelope(collab.Envelope{Type: "init", Components: components})
}

func lineComponent(id, color string) canvas.Component {
	return canvas.Component{
		ID:         id,
		Type:       canvas.TypeLine,
		Properties: canvas.Properties{"color": color},
	}
}

func TestInitReplacesViewAndDropsPending(t *testing.T) {
	r, sent := newTestReconciler(t)
	seedInit(r, lineComponent("c1", "#000000"))

	if err := r.Update("c1", canvas.Properties{"color": "#ff0000"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(*sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(*sent))
	}

	// 重新同步：全量替换，在途变更作废
	seedInit(r, lineComponent("c2", "#00ff00"))

	if _, ok := r.Component("c1"); ok {
		t.Fatalf("c1 survived init replacement")
	}
	c, ok := r.Component("c2")
	if !ok || c.Properties["color"] != "#00ff00" {
		t.Fatalf("c2 = %+v, ok = %v", c, ok)
	}
	if n := len(r.pending); n != 0 {
		t.Fatalf("pending after init = %d, want 0", n)
	}
	if !r.Synced() {
		t.Fatalf("Synced() = false after init")
	}
}

func TestOptimisticUpdateKeptOnSuccessAck(t *testing.T) {
	r, sent := newTestReconciler(t)
	seedInit(r, lineComponent("c1", "#000000"))

	if err := r.Update("c1", canvas.Properties{"color": "#ff0000"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	// 乐观应用立即可见
	c, _ := r.Component("c1")
	if c.Properties["color"] != "#ff0000" {
		t.Fatalf("optimistic color = %v, want #ff0000", c.Properties["color"])
	}

	msg := (*sent)[0]
	r.handleEnvelope(collab.Envelope{
		Type: "ack", Success: true,
		ComponentID: "c1", Kind: collab.KindUpdate, Correlation: msg.Correlation,
	})

	c, _ = r.Component("c1")
	if c.Properties["color"] != "#ff0000" {
		t.Fatalf("color after success ack = %v, want #ff0000", c.Properties["color"])
	}
	if n := len(r.pending); n != 0 {
		t.Fatalf("pending after ack = %d, want 0", n)
	}
}

func TestFailedAckRollsBackExactly(t *testing.T) {
	r, sent := newTestReconciler(t)
	seedInit(r, canvas.Component{
		ID:   "c1",
		Type: canvas.TypeLine,
		Properties: canvas.Properties{
			"color": "#000000",
			"width": float64(2),
		},
	})

	if err := r.Update("c1", canvas.Properties{"color": "#ff0000"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	msg := (*sent)[0]
	r.handleEnvelope(collab.Envelope{
		Type: "ack", Success: false, Error: "LOCK_CONFLICT",
		ComponentID: "c1", Kind: collab.KindUpdate, Correlation: msg.Correlation,
	})

	c, _ := r.Component("c1")
	if c.Properties["color"] != "#000000" {
		t.Fatalf("color after rollback = %v, want #000000", c.Properties["color"])
	}
	if c.Properties["width"] != float64(2) {
		t.Fatalf("width lost in rollback: %v", c.Properties["width"])
	}
}

func TestFailedCreateRollbackRemovesComponent(t *testing.T) {
	r, sent := newTestReconciler(t)
	seedInit(r)

	id, err := r.Create("text", canvas.Properties{"content": "hello"}, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := r.Component(id); !ok {
		t.Fatalf("optimistic create not visible")
	}

	msg := (*sent)[0]
	r.handleEnvelope(collab.Envelope{
		Type: "ack", Success: false, Error: "VALIDATION",
		ComponentID: id, Kind: collab.KindCreate, Correlation: msg.Correlation,
	})

	if _, ok := r.Component(id); ok {
		t.Fatalf("component survived failed create")
	}
}

func TestFailedDeleteRestoresComponent(t *testing.T) {
	r, sent := newTestReconciler(t)
	seedInit(r, lineComponent("c1", "#000000"))

	if err := r.Delete("c1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := r.Component("c1"); ok {
		t.Fatalf("optimistic delete not visible")
	}

	msg := (*sent)[0]
	r.handleEnvelope(collab.Envelope{
		Type: "ack", Success: false, Error: "LOCK_CONFLICT",
		ComponentID: "c1", Kind: collab.KindDelete, Correlation: msg.Correlation,
	})

	c, ok := r.Component("c1")
	if !ok || c.Properties["color"] != "#000000" {
		t.Fatalf("component not restored after failed delete: %+v, ok = %v", c, ok)
	}
}

func TestAckTimeoutRollsBack(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.opt.AckTimeout = 20 * time.Millisecond
	seedInit(r, lineComponent("c1", "#000000"))

	if err := r.Update("c1", canvas.Properties{"color": "#ff0000"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		c, _ := r.Component("c1")
		if c.Properties["color"] == "#000000" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout rollback never happened, color = %v", c.Properties["color"])
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(r.pending); n != 0 {
		t.Fatalf("pending after timeout = %d, want 0", n)
	}
}

func TestSendFailureRollsBackImmediately(t *testing.T) {
	r, _ := newTestReconciler(t)
	r.sendFn = func(collab.ClientMessage) error { return ErrNotConnected }
	seedInit(r, lineComponent("c1", "#000000"))

	err := r.Update("c1", canvas.Properties{"color": "#ff0000"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
	c, _ := r.Component("c1")
	if c.Properties["color"] != "#000000" {
		t.Fatalf("color after send failure = %v, want #000000", c.Properties["color"])
	}
}

func TestStaleAckIgnored(t *testing.T) {
	r, sent := newTestReconciler(t)
	seedInit(r, lineComponent("c1", "#000000"))

	if err := r.Update("c1", canvas.Properties{"color": "#ff0000"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	msg := (*sent)[0]

	// componentId/kind 不匹配的回执不得消费在途记录
	r.handleEnvelope(collab.Envelope{
		Type: "ack", Success: false,
		ComponentID: "other", Kind: collab.KindUpdate, Correlation: msg.Correlation,
	})
	r.handleEnvelope(collab.Envelope{
		Type: "ack", Success: false,
		ComponentID: "c1", Kind: collab.KindDelete, Correlation: msg.Correlation,
	})
	if n := len(r.pending); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	// 凭空的关联令牌直接忽略
	r.handleEnvelope(collab.Envelope{
		Type: "ack", Success: false,
		ComponentID: "c1", Kind: collab.KindUpdate, Correlation: "no-such-token",
	})
	c, _ := r.Component("c1")
	if c.Properties["color"] != "#ff0000" {
		t.Fatalf("stale ack mutated the view: %v", c.Properties["color"])
	}
}

func TestBroadcastAppliedUnconditionally(t *testing.T) {
	r, _ := newTestReconciler(t)
	seedInit(r, lineComponent("c1", "#000000"))

	r.handleEnvelope(collab.Envelope{
		Type: "mutate", Kind: collab.KindCreate,
		ComponentID: "c2", ObjectType: "text", AuthorID: 7,
		Payload: canvas.Properties{"content": "hi"}, ZIndex: 3,
	})
	c, ok := r.Component("c2")
	if !ok || c.Properties["content"] != "hi" || c.ZIndex != 3 || c.AuthorID != 7 {
		t.Fatalf("broadcast create: %+v, ok = %v", c, ok)
	}

	r.handleEnvelope(collab.Envelope{
		Type: "mutate", Kind: collab.KindUpdate,
		ComponentID: "c1", Payload: canvas.Properties{"color": "#0000ff"},
	})
	c, _ = r.Component("c1")
	if c.Properties["color"] != "#0000ff" {
		t.Fatalf("broadcast update: color = %v", c.Properties["color"])
	}

	r.handleEnvelope(collab.Envelope{
		Type: "mutate", Kind: collab.KindDelete, ComponentID: "c1",
	})
	if _, ok := r.Component("c1"); ok {
		t.Fatalf("broadcast delete not applied")
	}

	// 未知组件的 update 静默丢弃（快照之外的幽灵）
	r.handleEnvelope(collab.Envelope{
		Type: "mutate", Kind: collab.KindUpdate,
		ComponentID: "ghost", Payload: canvas.Properties{"x": float64(1)},
	})
	if _, ok := r.Component("ghost"); ok {
		t.Fatalf("ghost update created a component")
	}
}

func TestUpdateUnknownComponent(t *testing.T) {
	r, sent := newTestReconciler(t)
	seedInit(r)

	if err := r.Update("missing", canvas.Properties{"x": float64(1)}); !errors.Is(err, canvas.ErrComponentNotFound) {
		t.Fatalf("err = %v, want ErrComponentNotFound", err)
	}
	if err := r.Delete("missing"); !errors.Is(err, canvas.ErrComponentNotFound) {
		t.Fatalf("err = %v, want ErrComponentNotFound", err)
	}
	if len(*sent) != 0 {
		t.Fatalf("sent %d messages for unknown component, want 0", len(*sent))
	}
}

// 重连额度按连续失败计：完成过同步的连接掉线后额度重置，
// 不是整个进程生命周期只许断 MaxAttempts 次
func TestRunResetsRetryBudgetAfterSyncedConnection(t *testing.T) {
	r := NewReconciler(Options{
		RoomID:      "room-test",
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	})
	r.sendFn = func(collab.ClientMessage) error { return nil }

	dropped := errors.New("connection dropped")
	calls := 0
	// 脚本：失败、失败、同步后掉线，然后连续失败到额度用尽
	r.connectFn = func(context.Context) error {
		calls++
		if calls == 3 {
			r.handleEnvelope(collab.Envelope{Type: "init"})
		}
		return dropped
	}

	err := r.Run(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Run err = %v, want ErrRetriesExhausted", err)
	}
	// 前两次失败 + 同步的第三次（额度归零）+ 三次连续失败
	if calls != 6 {
		t.Fatalf("connect attempts = %d, want 6", calls)
	}
}

func TestRunExhaustsAfterConsecutiveFailures(t *testing.T) {
	r := NewReconciler(Options{
		RoomID:      "room-test",
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	})
	calls := 0
	r.connectFn = func(context.Context) error {
		calls++
		return errors.New("refused")
	}

	if err := r.Run(context.Background()); !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Run err = %v, want ErrRetriesExhausted", err)
	}
	if calls != 3 {
		t.Fatalf("connect attempts = %d, want 3", calls)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r := NewReconciler(Options{RoomID: "room-test", MaxAttempts: 5, BaseDelay: time.Hour})
	r.connectFn = func(context.Context) error { return errors.New("refused") }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
