package mir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoEntry 模块中找不到入口函数
var ErrNoEntry = errors.New("no entry function")

// CallConv 函数调用约定
type CallConv uint8

const (
	CallConvDefault CallConv = iota // 引擎内部约定
	CallConvC                       // 平台 C 约定（外部符号）
)

func (c CallConv) String() string {
	if c == CallConvC {
		return "c"
	}
	return "default"
}

// MarshalText 实现 encoding.TextMarshaler
func (c CallConv) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText 实现 encoding.TextUnmarshaler
func (c *CallConv) UnmarshalText(b []byte) error {
	switch string(b) {
	case "", "default":
		*c = CallConvDefault
	case "c":
		*c = CallConvC
	default:
		return fmt.Errorf("unknown calling convention %q", b)
	}
	return nil
}

// Signature 函数签名
type Signature struct {
	Params   []Type   `json:"params"`
	Ret      Type     `json:"ret"`
	CallConv CallConv `json:"callconv,omitempty"`
	CanThrow bool     `json:"can_throw,omitempty"`
}

func (s Signature) String() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.String()
	}
	return fmt.Sprintf("(%s) -> %s", strings.Join(parts, ", "), s.Ret)
}

// Block 基本块，ID 等于其在 Function.Blocks 中的下标
type Block struct {
	ID    BlockID `json:"id"`
	Phis  []Phi   `json:"phis,omitempty"`
	Insts []Inst  `json:"insts"`
	Term  Term    `json:"term"`
}

// Function MIR 函数
//
// Blocks 为空表示外部声明，只有签名，没有函数体。
// RegTypes 以寄存器编号为下标记录每个寄存器的类型。
type Function struct {
	ID       FuncID    `json:"id"`
	Name     string    `json:"name"`
	Sig      Signature `json:"sig"`
	Params   []Reg     `json:"params,omitempty"`
	Blocks   []*Block  `json:"blocks,omitempty"`
	Entry    BlockID   `json:"entry"`
	RegTypes []Type    `json:"regs,omitempty"`
}

// IsExtern 是否是外部声明
func (f *Function) IsExtern() bool { return len(f.Blocks) == 0 }

// Block 按 ID 获取基本块
func (f *Function) Block(id BlockID) *Block {
	if int(id) < len(f.Blocks) {
		return f.Blocks[id]
	}
	return nil
}

// RegType 返回寄存器类型
func (f *Function) RegType(r Reg) (Type, bool) {
	if int(r) < len(f.RegTypes) {
		return f.RegTypes[r], true
	}
	return TypeVoid, false
}

// NumRegs 寄存器数量
func (f *Function) NumRegs() int { return len(f.RegTypes) }

// InstCount 指令总数（不含 phi 和终结指令）
func (f *Function) InstCount() int {
	n := 0
	for _, b := range f.Blocks {
		n += len(b.Insts)
	}
	return n
}

// Predecessors 计算每个块的前驱
func (f *Function) Predecessors() map[BlockID][]BlockID {
	preds := make(map[BlockID][]BlockID, len(f.Blocks))
	for _, b := range f.Blocks {
		for _, s := range b.Term.Successors() {
			preds[s] = append(preds[s], b.ID)
		}
	}
	return preds
}

// ReversePostorder 从入口块出发的逆后序，不可达块不包含在内
func (f *Function) ReversePostorder() []BlockID {
	if f.IsExtern() {
		return nil
	}
	visited := make([]bool, len(f.Blocks))
	post := make([]BlockID, 0, len(f.Blocks))
	var walk func(id BlockID)
	walk = func(id BlockID) {
		if int(id) >= len(f.Blocks) || visited[id] {
			return
		}
		visited[id] = true
		for _, s := range f.Blocks[id].Term.Successors() {
			walk(s)
		}
		post = append(post, id)
	}
	walk(f.Entry)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// Global 模块级全局变量
type Global struct {
	ID   GlobalID `json:"id"`
	Name string   `json:"name"`
	Type Type     `json:"type"`
	Init Value    `json:"init"`
}

// Module MIR 模块
//
// 函数 ID 等于其在 Functions 中的下标，全局变量同理。
// 注册到执行引擎后模块只读。
type Module struct {
	Name      string      `json:"name"`
	Functions []*Function `json:"functions"`
	Globals   []*Global   `json:"globals,omitempty"`
	EntryName string      `json:"entry,omitempty"`

	byName map[string]FuncID
}

// NewModule 创建空模块
func NewModule(name string) *Module {
	return &Module{Name: name, byName: make(map[string]FuncID)}
}

// Reindex 重建名称索引
func (m *Module) Reindex() {
	m.byName = make(map[string]FuncID, len(m.Functions))
	for _, f := range m.Functions {
		m.byName[f.Name] = f.ID
	}
}

// Function 按 ID 获取函数
func (m *Module) Function(id FuncID) *Function {
	if int(id) < len(m.Functions) {
		return m.Functions[id]
	}
	return nil
}

// Lookup 按名称查找函数
func (m *Module) Lookup(name string) (*Function, bool) {
	if m.byName != nil {
		id, ok := m.byName[name]
		if !ok {
			return nil, false
		}
		return m.Functions[id], true
	}
	for _, f := range m.Functions {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Global 按 ID 获取全局变量
func (m *Module) Global(id GlobalID) *Global {
	if int(id) < len(m.Globals) {
		return m.Globals[id]
	}
	return nil
}

// Externs 返回所有外部声明
func (m *Module) Externs() []*Function {
	var out []*Function
	for _, f := range m.Functions {
		if f.IsExtern() {
			out = append(out, f)
		}
	}
	return out
}

// EntryFunction 查找入口函数
//
// 优先使用 EntryName；否则查找 main，再查找以 _main 结尾的函数。
func (m *Module) EntryFunction() (*Function, error) {
	if m.EntryName != "" {
		if f, ok := m.Lookup(m.EntryName); ok && !f.IsExtern() {
			return f, nil
		}
		return nil, fmt.Errorf("%w: %q not defined in module %s", ErrNoEntry, m.EntryName, m.Name)
	}
	if f, ok := m.Lookup("main"); ok && !f.IsExtern() {
		return f, nil
	}
	for i := len(m.Functions) - 1; i >= 0; i-- {
		f := m.Functions[i]
		if !f.IsExtern() && strings.HasSuffix(f.Name, "_main") {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w in module %s", ErrNoEntry, m.Name)
}

// Clone 深拷贝模块，优化和裁剪在副本上进行
func (m *Module) Clone() *Module {
	out := &Module{Name: m.Name, EntryName: m.EntryName}
	for _, g := range m.Globals {
		cp := *g
		out.Globals = append(out.Globals, &cp)
	}
	for _, f := range m.Functions {
		out.Functions = append(out.Functions, f.Clone())
	}
	out.Reindex()
	return out
}

// Clone 深拷贝函数
func (f *Function) Clone() *Function {
	cp := *f
	cp.Sig.Params = append([]Type(nil), f.Sig.Params...)
	cp.Params = append([]Reg(nil), f.Params...)
	cp.RegTypes = append([]Type(nil), f.RegTypes...)
	cp.Blocks = make([]*Block, len(f.Blocks))
	for i, b := range f.Blocks {
		nb := &Block{ID: b.ID, Term: b.Term}
		nb.Term.Cases = append([]SwitchCase(nil), b.Term.Cases...)
		for _, p := range b.Phis {
			p.Incoming = append([]PhiIncoming(nil), p.Incoming...)
			nb.Phis = append(nb.Phis, p)
		}
		for _, in := range b.Insts {
			in.Args = append([]Reg(nil), in.Args...)
			nb.Insts = append(nb.Insts, in)
		}
		cp.Blocks[i] = nb
	}
	if len(f.Blocks) == 0 {
		cp.Blocks = nil
	}
	return &cp
}
