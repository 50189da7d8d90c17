package canvas

import (
	"errors"
	"sort"

	"github.com/google/uuid"
)

var (
	ErrComponentNotFound = errors.New("COMPONENT_NOT_FOUND")
	ErrComponentExists   = errors.New("COMPONENT_EXISTS")
	ErrInvalidType       = errors.New("INVALID_COMPONENT_TYPE")
	ErrParentNotFound    = errors.New("PARENT_NOT_FOUND")
)

// ComponentDef 创建组件时的输入
// ID 可以由客户端预先生成（乐观应用需要本地先有 id），为空则服务端生成
type ComponentDef struct {
	ID         string
	Type       ComponentType
	AuthorID   uint64
	Properties Properties
	ZIndex     int
	ParentID   string
}

// Store 单个房间的文档存储：组件 arena + 插入顺序
// 本身不加锁——所有读写都经过房间级串行化点（见 room 包），
// 和 docState 由外层 mu 保护是同一个思路
type Store struct {
	components map[string]*Component
	order      []string // 插入顺序，快照时做 zIndex 排序的次级键
}

func NewStore() *Store {
	return &Store{components: make(map[string]*Component)}
}

func (s *Store) Len() int { return len(s.components) }

func (s *Store) Get(id string) (*Component, bool) {
	c, ok := s.components[id]
	return c, ok
}

// Create 创建组件并挂到父组件（如果指定）
// 新组件没有子节点，所以挂接不可能产生环
func (s *Store) Create(def ComponentDef) (*Component, error) {
	if !def.Type.IsValid() {
		return nil, ErrInvalidType
	}
	id := def.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := s.components[id]; ok {
		// 组件 id 在房间生命周期内唯一，重复创建视为协议错误
		return nil, ErrComponentExists
	}
	var parent *Component
	if def.ParentID != "" {
		p, ok := s.components[def.ParentID]
		if !ok {
			return nil, ErrParentNotFound
		}
		parent = p
	}
	c := &Component{
		ID:         id,
		Type:       def.Type,
		AuthorID:   def.AuthorID,
		Properties: def.Properties.Clone(),
		ZIndex:     def.ZIndex,
	}
	s.components[id] = c
	s.order = append(s.order, id)
	if parent != nil {
		parent.Children = append(parent.Children, id)
	}
	return c, nil
}

// Update 浅合并 partial 到已有属性，后写的键覆盖先写的
func (s *Store) Update(id string, partial Properties) (*Component, error) {
	c, ok := s.components[id]
	if !ok {
		return nil, ErrComponentNotFound
	}
	c.Properties = c.Properties.Merge(partial)
	return c, nil
}

// Delete 删除组件并级联删除全部子孙，返回被删除的 id 列表
// （调用方要用这个列表同步清理锁表）
func (s *Store) Delete(id string) ([]string, error) {
	root, ok := s.components[id]
	if !ok {
		return nil, ErrComponentNotFound
	}

	// 收集子树。子引用图是树，不会重复访问
	removed := make([]string, 0, 1)
	stack := []*Component{root}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		removed = append(removed, c.ID)
		for _, childID := range c.Children {
			if child, ok := s.components[childID]; ok {
				stack = append(stack, child)
			}
		}
	}

	gone := make(map[string]struct{}, len(removed))
	for _, rid := range removed {
		delete(s.components, rid)
		gone[rid] = struct{}{}
	}

	// 从父组件的子列表里摘掉被删的根
	for _, c := range s.components {
		for i, childID := range c.Children {
			if childID == id {
				c.Children = append(c.Children[:i], c.Children[i+1:]...)
				break
			}
		}
	}

	// 压缩插入顺序表
	kept := s.order[:0]
	for _, oid := range s.order {
		if _, dead := gone[oid]; !dead {
			kept = append(kept, oid)
		}
	}
	s.order = kept

	return removed, nil
}

// Snapshot 全量快照：zIndex 升序，插入顺序做次级键
// 返回的是深拷贝，渲染层/新会话可以直接按序绘制
func (s *Store) Snapshot() []Component {
	out := make([]Component, 0, len(s.components))
	for _, id := range s.order {
		if c, ok := s.components[id]; ok {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ZIndex < out[j].ZIndex
	})
	return out
}
