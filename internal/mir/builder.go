package mir

// ModuleBuilder 以编程方式构造模块
type ModuleBuilder struct {
	m *Module
}

// NewModuleBuilder 创建模块构造器
func NewModuleBuilder(name string) *ModuleBuilder {
	return &ModuleBuilder{m: NewModule(name)}
}

// Global 声明全局变量
func (b *ModuleBuilder) Global(name string, init Value) GlobalID {
	id := GlobalID(len(b.m.Globals))
	b.m.Globals = append(b.m.Globals, &Global{ID: id, Name: name, Type: init.Type(), Init: init})
	return id
}

// Extern 声明外部函数
func (b *ModuleBuilder) Extern(name string, params []Type, ret Type) FuncID {
	id := FuncID(len(b.m.Functions))
	b.m.Functions = append(b.m.Functions, &Function{
		ID:   id,
		Name: name,
		Sig:  Signature{Params: append([]Type(nil), params...), Ret: ret, CallConv: CallConvC},
	})
	b.m.byName[name] = id
	return id
}

// Func 定义函数并返回函数体构造器，参数寄存器为 %0..%n-1
func (b *ModuleBuilder) Func(name string, params []Type, ret Type) *FuncBuilder {
	id := FuncID(len(b.m.Functions))
	f := &Function{
		ID:   id,
		Name: name,
		Sig:  Signature{Params: append([]Type(nil), params...), Ret: ret},
	}
	for _, p := range params {
		f.Params = append(f.Params, Reg(len(f.RegTypes)))
		f.RegTypes = append(f.RegTypes, p)
	}
	b.m.Functions = append(b.m.Functions, f)
	b.m.byName[name] = id
	return &FuncBuilder{f: f}
}

// SetEntry 指定入口函数名
func (b *ModuleBuilder) SetEntry(name string) { b.m.EntryName = name }

// Build 返回构造好的模块
func (b *ModuleBuilder) Build() *Module {
	b.m.Reindex()
	return b.m
}

// FuncBuilder 函数体构造器
type FuncBuilder struct {
	f   *Function
	cur *Block
}

// ID 函数编号
func (fb *FuncBuilder) ID() FuncID { return fb.f.ID }

// Function 返回正在构造的函数
func (fb *FuncBuilder) Function() *Function { return fb.f }

// Param 第 i 个参数寄存器
func (fb *FuncBuilder) Param(i int) Reg { return fb.f.Params[i] }

// NewBlock 新建基本块；第一个块是入口块
func (fb *FuncBuilder) NewBlock() BlockID {
	id := BlockID(len(fb.f.Blocks))
	fb.f.Blocks = append(fb.f.Blocks, &Block{ID: id})
	if fb.cur == nil {
		fb.cur = fb.f.Blocks[id]
		fb.f.Entry = id
	}
	return id
}

// SetBlock 切换当前块
func (fb *FuncBuilder) SetBlock(id BlockID) { fb.cur = fb.f.Blocks[id] }

// NewReg 分配寄存器
func (fb *FuncBuilder) NewReg(t Type) Reg {
	r := Reg(len(fb.f.RegTypes))
	fb.f.RegTypes = append(fb.f.RegTypes, t)
	return r
}

func (fb *FuncBuilder) typeOf(r Reg) Type {
	t, _ := fb.f.RegType(r)
	return t
}

func (fb *FuncBuilder) emit(in Inst) Reg {
	fb.cur.Insts = append(fb.cur.Insts, in)
	return in.Dest
}

// Const 常量
func (fb *FuncBuilder) Const(v Value) Reg {
	return fb.emit(Inst{Op: OpConst, Dest: fb.NewReg(v.Type()), Type: v.Type(), Const: v})
}

// Copy 复制寄存器
func (fb *FuncBuilder) Copy(x Reg) Reg {
	t := fb.typeOf(x)
	return fb.emit(Inst{Op: OpCopy, Dest: fb.NewReg(t), Type: t, Args: []Reg{x}})
}

// Binary 二元运算，结果类型与左操作数相同
func (fb *FuncBuilder) Binary(op Op, x, y Reg) Reg {
	t := fb.typeOf(x)
	return fb.emit(Inst{Op: op, Dest: fb.NewReg(t), Type: t, Args: []Reg{x, y}})
}

// Unary 一元运算
func (fb *FuncBuilder) Unary(op Op, x Reg) Reg {
	t := fb.typeOf(x)
	return fb.emit(Inst{Op: op, Dest: fb.NewReg(t), Type: t, Args: []Reg{x}})
}

// Compare 比较，结果为 bool
func (fb *FuncBuilder) Compare(op Op, x, y Reg) Reg {
	return fb.emit(Inst{Op: op, Dest: fb.NewReg(TypeBool), Type: TypeBool, Args: []Reg{x, y}})
}

// Cast 类型转换
func (fb *FuncBuilder) Cast(to Type, x Reg) Reg {
	return fb.emit(Inst{Op: OpCast, Dest: fb.NewReg(to), Type: to, From: fb.typeOf(x), Args: []Reg{x}})
}

// Select 条件选择
func (fb *FuncBuilder) Select(cond, x, y Reg) Reg {
	t := fb.typeOf(x)
	return fb.emit(Inst{Op: OpSelect, Dest: fb.NewReg(t), Type: t, Args: []Reg{cond, x, y}})
}

// Call 直接调用，ret 为 void 时返回 NoReg
func (fb *FuncBuilder) Call(callee FuncID, ret Type, args ...Reg) Reg {
	dest := NoReg
	if ret != TypeVoid {
		dest = fb.NewReg(ret)
	}
	fb.emit(Inst{Op: OpCall, Dest: dest, Type: ret, Callee: callee, Args: append([]Reg(nil), args...)})
	return dest
}

// LoadGlobal 读取全局变量
func (fb *FuncBuilder) LoadGlobal(g GlobalID, t Type) Reg {
	return fb.emit(Inst{Op: OpLoadGlobal, Dest: fb.NewReg(t), Type: t, Global: g})
}

// StoreGlobal 写入全局变量
func (fb *FuncBuilder) StoreGlobal(g GlobalID, v Reg) {
	fb.emit(Inst{Op: OpStoreGlobal, Dest: NoReg, Type: fb.typeOf(v), Global: g, Args: []Reg{v}})
}

// Undef 未定义值
func (fb *FuncBuilder) Undef(t Type) Reg {
	return fb.emit(Inst{Op: OpUndef, Dest: fb.NewReg(t), Type: t})
}

// Panic 运行时错误
func (fb *FuncBuilder) Panic(msg string) {
	fb.emit(Inst{Op: OpPanic, Dest: NoReg, Message: msg})
}

// Phi 在当前块添加 phi 节点
func (fb *FuncBuilder) Phi(t Type) Reg {
	r := fb.NewReg(t)
	fb.cur.Phis = append(fb.cur.Phis, Phi{Dest: r, Type: t})
	return r
}

// AddIncoming 为 phi 添加输入
func (fb *FuncBuilder) AddIncoming(phi Reg, pred BlockID, v Reg) {
	for _, b := range fb.f.Blocks {
		for i := range b.Phis {
			if b.Phis[i].Dest == phi {
				b.Phis[i].SetIncoming(pred, v)
				return
			}
		}
	}
}

// Br 无条件跳转
func (fb *FuncBuilder) Br(target BlockID) {
	fb.cur.Term = Term{Kind: TermBr, Target: target, Value: NoReg}
}

// CondBr 条件跳转
func (fb *FuncBuilder) CondBr(cond Reg, then, els BlockID) {
	fb.cur.Term = Term{Kind: TermCondBr, Cond: cond, Then: then, Else: els, Value: NoReg}
}

// Switch 多路跳转
func (fb *FuncBuilder) Switch(x Reg, def BlockID, cases ...SwitchCase) {
	fb.cur.Term = Term{Kind: TermSwitch, Cond: x, Default: def, Cases: cases, Value: NoReg}
}

// Ret 返回值
func (fb *FuncBuilder) Ret(v Reg) {
	fb.cur.Term = Term{Kind: TermRet, Value: v}
}

// RetVoid 无返回值
func (fb *FuncBuilder) RetVoid() {
	fb.cur.Term = Term{Kind: TermRet, Value: NoReg}
}

// Unreachable 不可达
func (fb *FuncBuilder) Unreachable() {
	fb.cur.Term = Term{Kind: TermUnreachable, Value: NoReg}
}
