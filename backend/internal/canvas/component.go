package canvas

// 画布组件类型：白板上可绘制的三种对象
type ComponentType string

const (
	TypeLine  ComponentType = "line"
	TypeText  ComponentType = "text"
	TypeImage ComponentType = "image"
)

// IsValid 检查组件类型是否是协议允许的三种之一
func (t ComponentType) IsValid() bool {
	return t == TypeLine || t == TypeText || t == TypeImage
}

// Properties 组件的自由键值属性
// - line: points / color / width
// - text: text / fontSize / fill
// - image: url / width / height
// 服务端不校验具体取值（非目标），畸形值原样存储，由调用方负责
type Properties map[string]any

// Merge 浅合并：partial 中的键覆盖已有键
func (p Properties) Merge(partial Properties) Properties {
	if p == nil {
		p = make(Properties, len(partial))
	}
	for k, v := range partial {
		p[k] = v
	}
	return p
}

// Clone 拷贝一层键值（属性值本身按引用拷贝，调用方不得原地改值）
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Component 白板组件
// 子组件用显式 id 列表表示（arena 方式），不做对象内嵌，
// 这样级联删除和环检测都只需要查 id 表
type Component struct {
	ID         string        `json:"id"`
	Type       ComponentType `json:"type"`
	AuthorID   uint64        `json:"authorId"`
	Properties Properties    `json:"properties"`
	ZIndex     int           `json:"zIndex"`
	Children   []string      `json:"children,omitempty"`
}

// Clone 深拷贝，用于快照传输，避免协程间共享可变状态
func (c *Component) Clone() Component {
	out := *c
	out.Properties = c.Properties.Clone()
	if c.Children != nil {
		out.Children = append([]string(nil), c.Children...)
	}
	return out
}
