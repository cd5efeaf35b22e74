// x64_backend.go - x86-64 基线后端
//
// 栈槽模板编译：每个 MIR 寄存器在栈帧中有一个 8 字节槽位，
// 每条指令从槽位读入 RAX/RCX/RDX，计算，按类型规范化后写回。
// 不做寄存器分配，生成速度快，适合作为第一级编译。
//
// 栈帧布局（System V AMD64）：
//
//	[rbp-8*(r+1)]          寄存器 r
//	[rbp-8*(nregs+i+1)]    phi 并行复制的临时槽位 i
//
// 只支持整数、bool 和指针类型；浮点、除法、调用、全局变量和
// panic 返回 CodegenError，函数留在解释器或交给其他后端。
// 生成的代码运行在 callNative 的固定栈帧内，栈帧超过 x64MaxFrame
// 的函数同样拒绝编译。未通过 mir.CheckTypes 的函数也不编译，
// 由解释器在执行时报告错误。

package jit

import (
	"fmt"

	"github.com/tangzhangming/mirjit/internal/mir"
)

// X64BackendName 基线后端名称
const X64BackendName = "x64-baseline"

// x64MaxFrame 生成代码的栈帧上限，加上返回地址和保存的 RBP 后
// 必须小于 bridge_amd64.s 中 callNative 的 16 KiB 帧
const x64MaxFrame = 16000

// X64Backend x86-64 基线后端
type X64Backend struct{}

// NewX64Backend 创建基线后端
func NewX64Backend() *X64Backend { return &X64Backend{} }

// Name 实现 Backend
func (*X64Backend) Name() string { return X64BackendName }

// Compile 实现 Backend
func (b *X64Backend) Compile(f *mir.Function, m *mir.Module, syms SymbolResolver) (*CompiledCode, error) {
	if err := x64Supports(f); err != nil {
		return nil, err
	}
	conv, err := ConvFor(f.Sig)
	if err != nil {
		return nil, &CodegenError{Backend: X64BackendName, Func: f.Name, Reason: err.Error()}
	}
	g := &x64Gen{
		f:      f,
		asm:    NewX64Assembler(),
		blocks: make(map[mir.BlockID]Label, len(f.Blocks)),
	}
	if err := g.function(); err != nil {
		return nil, err
	}
	code, err := g.asm.Finish()
	if err != nil {
		return nil, &CodegenError{Backend: X64BackendName, Func: f.Name, Reason: err.Error()}
	}
	return &CompiledCode{Name: f.Name, Backend: X64BackendName, Code: code, Conv: conv}, nil
}

func x64Unsupported(f *mir.Function, format string, args ...interface{}) error {
	return &CodegenError{Backend: X64BackendName, Func: f.Name, Reason: fmt.Sprintf(format, args...)}
}

// x64Supports 在生成代码之前检查整个函数
func x64Supports(f *mir.Function) error {
	if f.IsExtern() {
		return x64Unsupported(f, "extern declaration")
	}
	if len(f.Sig.Params) > len(sysVArgRegs) {
		return x64Unsupported(f, "%d parameters", len(f.Sig.Params))
	}
	if frame := x64FrameSize(f); frame > x64MaxFrame {
		return x64Unsupported(f, "stack frame of %d bytes exceeds %d", frame, x64MaxFrame)
	}
	if f.Sig.Ret != mir.TypeVoid && !f.Sig.Ret.IsIntLike() {
		return x64Unsupported(f, "return type %s", f.Sig.Ret)
	}
	for r, t := range f.RegTypes {
		if t != mir.TypeVoid && !t.IsIntLike() {
			return x64Unsupported(f, "register %%%d has type %s", r, t)
		}
	}
	for _, blk := range f.Blocks {
		for i := range blk.Insts {
			in := &blk.Insts[i]
			switch {
			case in.Op.IsFloatOp():
				return x64Unsupported(f, "float operation %s", in.Op)
			case in.Op == mir.OpDiv || in.Op == mir.OpRem:
				return x64Unsupported(f, "%s", in.Op)
			case in.Op == mir.OpCast && (in.From.IsFloat() || in.Type.IsFloat()):
				return x64Unsupported(f, "cast %s to %s", in.From, in.Type)
			case in.Op == mir.OpCall, in.Op == mir.OpLoadGlobal, in.Op == mir.OpStoreGlobal, in.Op == mir.OpPanic:
				return x64Unsupported(f, "%s", in.Op)
			}
		}
		if blk.Term.Kind == mir.TermNone {
			return x64Unsupported(f, "block %s has no terminator", blk.ID)
		}
	}
	// 生成的代码不检查寄存器是否已定义，也不检查类型
	if err := mir.CheckTypes(f); err != nil {
		return x64Unsupported(f, "%v", err)
	}
	return nil
}

// ============================================================================
// 代码生成
// ============================================================================

type x64Edge struct {
	label Label
	from  mir.BlockID
	to    mir.BlockID
}

type x64Gen struct {
	f      *mir.Function
	asm    *X64Assembler
	blocks map[mir.BlockID]Label
	edges  []x64Edge // 当前块待生成的 phi 复制桩
	nregs  int
}

func (g *x64Gen) slot(r mir.Reg) int32 { return int32(-8 * (int(r) + 1)) }
func (g *x64Gen) scratch(i int) int32  { return int32(-8 * (g.nregs + i + 1)) }

func (g *x64Gen) regType(r mir.Reg) mir.Type {
	t, _ := g.f.RegType(r)
	return t
}

// x64FrameSize 寄存器槽位加 phi 临时槽位，按 16 字节对齐
func x64FrameSize(f *mir.Function) int {
	maxPhis := 0
	for _, blk := range f.Blocks {
		if len(blk.Phis) > maxPhis {
			maxPhis = len(blk.Phis)
		}
	}
	return roundUp(8*(f.NumRegs()+maxPhis), 16)
}

func (g *x64Gen) function() error {
	f, a := g.f, g.asm
	g.nregs = f.NumRegs()
	frame := x64FrameSize(f)
	if frame > x64MaxFrame {
		return x64Unsupported(f, "stack frame of %d bytes exceeds %d", frame, x64MaxFrame)
	}

	a.Push(RBP)
	a.MovRR(RBP, RSP)
	if frame > 0 {
		a.SubRSP(int32(frame))
	}
	for i, p := range f.Params {
		r := sysVArgRegs[i]
		g.normalize(f.Sig.Params[i], r)
		a.Store(g.slot(p), r)
	}

	order := f.ReversePostorder()
	for _, id := range order {
		g.blocks[id] = a.NewLabel()
	}
	for _, id := range order {
		blk := f.Block(id)
		a.Bind(g.blocks[id])
		for i := range blk.Insts {
			if err := g.inst(&blk.Insts[i]); err != nil {
				return err
			}
		}
		g.edges = g.edges[:0]
		if err := g.term(blk); err != nil {
			return err
		}
		for _, e := range g.edges {
			if err := g.edgeStub(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalize 把寄存器内容截断并扩展到类型宽度
func (g *x64Gen) normalize(t mir.Type, r X64Reg) {
	a := g.asm
	switch t {
	case mir.TypeI8:
		a.Movsx8(r, r)
	case mir.TypeI16:
		a.Movsx16(r, r)
	case mir.TypeI32:
		a.Movsxd(r, r)
	case mir.TypeU8:
		a.Movzx8(r, r)
	case mir.TypeU16:
		a.Movzx16(r, r)
	case mir.TypeU32:
		a.Mov32(r, r)
	case mir.TypeBool:
		a.AndImm8(r, 1)
	}
}

func (g *x64Gen) inst(in *mir.Inst) error {
	a := g.asm
	switch {
	case in.Op == mir.OpConst:
		a.MovImm(RAX, in.Const.Bits())
	case in.Op == mir.OpUndef:
		a.Xor(RAX, RAX)
	case in.Op == mir.OpCopy:
		a.Load(RAX, g.slot(in.Args[0]))
	case in.Op.IsBinary():
		a.Load(RAX, g.slot(in.Args[0]))
		a.Load(RCX, g.slot(in.Args[1]))
		switch in.Op {
		case mir.OpAdd:
			a.Add(RAX, RCX)
		case mir.OpSub:
			a.Sub(RAX, RCX)
		case mir.OpMul:
			a.Imul(RAX, RCX)
		case mir.OpAnd:
			a.And(RAX, RCX)
		case mir.OpOr:
			a.Or(RAX, RCX)
		case mir.OpXor:
			a.Xor(RAX, RCX)
		case mir.OpShl, mir.OpShr:
			a.AndImm8(RCX, int8(in.Type.Bits()-1))
			switch {
			case in.Op == mir.OpShl:
				a.ShlCL(RAX)
			case in.Type.IsSigned():
				a.SarCL(RAX)
			default:
				a.ShrCL(RAX)
			}
		default:
			return x64Unsupported(g.f, "%s", in.Op)
		}
		g.normalize(in.Type, RAX)
	case in.Op == mir.OpNeg:
		a.Load(RAX, g.slot(in.Args[0]))
		a.Neg(RAX)
		g.normalize(in.Type, RAX)
	case in.Op == mir.OpNot:
		a.Load(RAX, g.slot(in.Args[0]))
		if in.Type == mir.TypeBool {
			a.XorImm8(RAX, 1)
		} else {
			a.Not(RAX)
			g.normalize(in.Type, RAX)
		}
	case in.Op.IsCompare():
		cc, ok := x64Conds[in.Op]
		if !ok {
			return x64Unsupported(g.f, "%s", in.Op)
		}
		a.Load(RAX, g.slot(in.Args[0]))
		a.Load(RCX, g.slot(in.Args[1]))
		a.Cmp(RAX, RCX)
		a.Setcc(cc, RAX)
		a.Movzx8(RAX, RAX)
	case in.Op == mir.OpCast:
		a.Load(RAX, g.slot(in.Args[0]))
		if in.Type == mir.TypeBool {
			a.Test(RAX, RAX)
			a.Setcc(CondNE, RAX)
			a.Movzx8(RAX, RAX)
		} else {
			g.normalize(in.Type, RAX)
		}
	case in.Op == mir.OpSelect:
		a.Load(RAX, g.slot(in.Args[0]))
		a.Load(RCX, g.slot(in.Args[1]))
		a.Load(RDX, g.slot(in.Args[2]))
		a.Test(RAX, RAX)
		a.Cmov(CondNE, RDX, RCX)
		a.Store(g.slot(in.Dest), RDX)
		return nil
	default:
		return x64Unsupported(g.f, "%s", in.Op)
	}
	a.Store(g.slot(in.Dest), RAX)
	return nil
}

var x64Conds = map[mir.Op]Cond{
	mir.OpEq:  CondE,
	mir.OpNe:  CondNE,
	mir.OpLt:  CondL,
	mir.OpLe:  CondLE,
	mir.OpGt:  CondG,
	mir.OpGe:  CondGE,
	mir.OpULt: CondB,
	mir.OpULe: CondBE,
	mir.OpUGt: CondA,
	mir.OpUGe: CondAE,
}

// target 返回跳转到 to 使用的标签；目标块有 phi 时经过复制桩
func (g *x64Gen) target(from, to mir.BlockID) (Label, error) {
	blk := g.f.Block(to)
	if blk == nil {
		return 0, x64Unsupported(g.f, "branch to missing block %s", to)
	}
	if len(blk.Phis) == 0 {
		return g.blocks[to], nil
	}
	l := g.asm.NewLabel()
	g.edges = append(g.edges, x64Edge{label: l, from: from, to: to})
	return l, nil
}

// edgeStub phi 并行复制：先全部读到临时槽位，再写入目标寄存器
func (g *x64Gen) edgeStub(e x64Edge) error {
	a := g.asm
	a.Bind(e.label)
	phis := g.f.Block(e.to).Phis
	for i := range phis {
		src, ok := phis[i].ValueFor(e.from)
		if !ok {
			return x64Unsupported(g.f, "phi %s in %s has no value for %s", phis[i].Dest, e.to, e.from)
		}
		a.Load(RAX, g.slot(src))
		a.Store(g.scratch(i), RAX)
	}
	for i := range phis {
		a.Load(RAX, g.scratch(i))
		a.Store(g.slot(phis[i].Dest), RAX)
	}
	a.Jmp(g.blocks[e.to])
	return nil
}

func (g *x64Gen) term(blk *mir.Block) error {
	a := g.asm
	t := &blk.Term
	switch t.Kind {
	case mir.TermBr:
		l, err := g.target(blk.ID, t.Target)
		if err != nil {
			return err
		}
		a.Jmp(l)
	case mir.TermCondBr:
		then, err := g.target(blk.ID, t.Then)
		if err != nil {
			return err
		}
		els, err := g.target(blk.ID, t.Else)
		if err != nil {
			return err
		}
		a.Load(RAX, g.slot(t.Cond))
		a.Test(RAX, RAX)
		a.Jcc(CondNE, then)
		a.Jmp(els)
	case mir.TermSwitch:
		ct := g.regType(t.Cond)
		a.Load(RAX, g.slot(t.Cond))
		for _, c := range t.Cases {
			l, err := g.target(blk.ID, c.Target)
			if err != nil {
				return err
			}
			a.MovImm(RCX, mir.NewInt(ct, c.Value).Bits())
			a.Cmp(RAX, RCX)
			a.Jcc(CondE, l)
		}
		l, err := g.target(blk.ID, t.Default)
		if err != nil {
			return err
		}
		a.Jmp(l)
	case mir.TermRet:
		if t.Value != mir.NoReg {
			a.Load(RAX, g.slot(t.Value))
		} else {
			a.Xor(RAX, RAX)
		}
		a.MovRR(RSP, RBP)
		a.Pop(RBP)
		a.Ret()
	case mir.TermUnreachable:
		a.Ud2()
	default:
		return x64Unsupported(g.f, "terminator %s", t.Kind)
	}
	return nil
}
