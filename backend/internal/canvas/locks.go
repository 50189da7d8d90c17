package canvas

import "sync"

// LockTable 单个房间的对象锁表：componentID -> 持锁会话
// 仲裁规则：先到先得，没有排队；Denied 时把当前持有者告诉请求方
type LockTable struct {
	mu      sync.Mutex
	holders map[string]string // componentID -> sessionID
}

func NewLockTable() *LockTable {
	return &LockTable{holders: make(map[string]string)}
}

// TryAcquire 尝试获取组件锁
// - 空闲 -> 授予
// - 自己已持有 -> 幂等，仍然授予（重复 select 自己的锁是合法的）
// - 他人持有 -> 拒绝，返回当前持有者
func (t *LockTable) TryAcquire(componentID, sessionID string) (granted bool, holder string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.holders[componentID]
	if !ok {
		t.holders[componentID] = sessionID
		return true, sessionID
	}
	if cur == sessionID {
		return true, sessionID
	}
	return false, cur
}

// Release 释放组件锁；非持有者调用是 no-op
func (t *LockTable) Release(componentID, sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.holders[componentID] != sessionID {
		return false
	}
	delete(t.holders, componentID)
	return true
}

// ReleaseAll 释放某会话持有的全部锁（断连清理路径），返回被释放的组件 id
func (t *LockTable) ReleaseAll(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var released []string
	for componentID, holder := range t.holders {
		if holder == sessionID {
			released = append(released, componentID)
			delete(t.holders, componentID)
		}
	}
	return released
}

// Holder 查询当前持有者
func (t *LockTable) Holder(componentID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	holder, ok := t.holders[componentID]
	return holder, ok
}

// Drop 组件被删除时移除对应锁项（无论持有者是谁）
func (t *LockTable) Drop(componentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.holders, componentID)
}
