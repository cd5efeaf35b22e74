// llvmgen.go - MIR 到 LLVM IR 的翻译
//
// 类型映射：bool -> i1，iN/uN -> iN，ptr -> i64，f32/f64 -> float/double。
// 运算语义与解释器一致：
//   - 移位次数按宽度取模
//   - 除以零调用 mirrt_panic
//   - MinInt / -1 回绕
//   - 浮点转整数饱和，NaN 得 0

package aot

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/tangzhangming/mirjit/internal/mir"
)

const (
	// PanicSymbol 运行时库提供的 panic 入口：void mirrt_panic(const char*)
	PanicSymbol = "mirrt_panic"
	// RenamedMain 入口函数本身叫 main 时的新名字
	RenamedMain = "_mir_main"
)

// IRConfig LLVM IR 生成选项
type IRConfig struct {
	Target string
	// Entry 非空且 MainWrapper 为真时生成 C main：以零参数调用入口并返回 0
	Entry       *mir.Function
	MainWrapper bool
}

type generator struct {
	src      *mir.Module
	mod      *ir.Module
	funcs    []*ir.Func
	globals  []*ir.Global
	declared map[string]*ir.Func
	strs     map[string]constant.Constant
}

// GenerateIR 把模块翻译为 LLVM IR
func GenerateIR(m *mir.Module, cfg IRConfig) (*ir.Module, error) {
	g := &generator{
		src:      m,
		mod:      ir.NewModule(),
		declared: make(map[string]*ir.Func),
		strs:     make(map[string]constant.Constant),
	}
	g.mod.SourceFilename = m.Name
	if cfg.Target != "" {
		g.mod.TargetTriple = cfg.Target
	}

	for _, gl := range m.Globals {
		init := gl.Init
		if init.Type() != gl.Type {
			init = mir.Zero(gl.Type)
		}
		c, err := constFor(init)
		if err != nil {
			return nil, fmt.Errorf("global %s: %w", gl.Name, err)
		}
		g.globals = append(g.globals, g.mod.NewGlobalDef(gl.Name, c))
	}

	wrap := cfg.MainWrapper && cfg.Entry != nil
	for _, f := range m.Functions {
		name := f.Name
		if wrap && f.ID == cfg.Entry.ID && name == "main" {
			name = RenamedMain
		}
		ret, err := llType(f.Sig.Ret, true)
		if err != nil {
			return nil, fmt.Errorf("function %s: %w", f.Name, err)
		}
		params := make([]*ir.Param, len(f.Sig.Params))
		for i, t := range f.Sig.Params {
			pt, err := llType(t, false)
			if err != nil {
				return nil, fmt.Errorf("function %s parameter %d: %w", f.Name, i, err)
			}
			params[i] = ir.NewParam(fmt.Sprintf("p%d", i), pt)
		}
		fn := g.mod.NewFunc(name, ret, params...)
		g.funcs = append(g.funcs, fn)
		g.declared[name] = fn
	}

	for _, f := range m.Functions {
		if f.IsExtern() {
			continue
		}
		fg := &funcGen{g: g, f: f, fn: g.funcs[f.ID]}
		if err := fg.emit(); err != nil {
			return nil, fmt.Errorf("function %s: %w", f.Name, err)
		}
	}

	if wrap {
		if _, taken := g.declared["main"]; taken {
			return nil, fmt.Errorf("cannot emit main wrapper: symbol main is already defined")
		}
		g.emitMain(cfg.Entry)
	}
	return g.mod, nil
}

// emitMain 生成 int main(void)
func (g *generator) emitMain(entry *mir.Function) {
	fn := g.mod.NewFunc("main", types.I32)
	blk := fn.NewBlock("entry")
	args := make([]value.Value, len(entry.Sig.Params))
	for i, t := range entry.Sig.Params {
		c, _ := constFor(mir.Zero(t))
		args[i] = c
	}
	blk.NewCall(g.funcs[entry.ID], args...)
	blk.NewRet(constant.NewInt(types.I32, 0))
}

// declare 按名称声明外部函数，已存在则复用
func (g *generator) declare(name string, ret types.Type, params ...types.Type) *ir.Func {
	if fn, ok := g.declared[name]; ok {
		return fn
	}
	ps := make([]*ir.Param, len(params))
	for i, t := range params {
		ps[i] = ir.NewParam("", t)
	}
	fn := g.mod.NewFunc(name, ret, ps...)
	g.declared[name] = fn
	return fn
}

// str 返回以 NUL 结尾的字符串常量指针，相同内容共享一个全局变量
func (g *generator) str(s string) constant.Constant {
	if c, ok := g.strs[s]; ok {
		return c
	}
	gl := g.mod.NewGlobalDef(fmt.Sprintf(".str.%d", len(g.strs)), constant.NewCharArrayFromString(s+"\x00"))
	gl.Immutable = true
	gl.Linkage = enum.LinkagePrivate
	c := constant.NewBitCast(gl, types.I8Ptr)
	g.strs[s] = c
	return c
}

func (g *generator) panicFunc() *ir.Func {
	return g.declare(PanicSymbol, types.Void, types.I8Ptr)
}

// ============================================================================
// 类型与常量
// ============================================================================

func llType(t mir.Type, allowVoid bool) (types.Type, error) {
	switch {
	case t == mir.TypeVoid && allowVoid:
		return types.Void, nil
	case t == mir.TypeF32:
		return types.Float, nil
	case t == mir.TypeF64:
		return types.Double, nil
	case t.IsIntLike():
		return intType(t), nil
	}
	return nil, fmt.Errorf("type %s has no LLVM representation", t)
}

func intType(t mir.Type) *types.IntType {
	switch t.Bits() {
	case 1:
		return types.I1
	case 8:
		return types.I8
	case 16:
		return types.I16
	case 32:
		return types.I32
	}
	return types.I64
}

// intConst 按类型宽度符号扩展后输出，u32 0xFFFFFFFF 写作 i32 -1
func intConst(t mir.Type, bits uint64) constant.Constant {
	if t == mir.TypeBool {
		return constant.NewBool(bits&1 != 0)
	}
	w := t.Bits()
	v := int64(bits<<(64-w)) >> (64 - w)
	return constant.NewInt(intType(t), v)
}

func constFor(v mir.Value) (constant.Constant, error) {
	t := v.Type()
	switch {
	case t == mir.TypeF32:
		return constant.NewFloat(types.Float, float64(v.Float32())), nil
	case t == mir.TypeF64:
		return constant.NewFloat(types.Double, v.Float()), nil
	case t.IsIntLike():
		return intConst(t, v.Bits()), nil
	}
	return nil, fmt.Errorf("constant of type %s has no LLVM representation", t)
}

// typeSuffix 内建函数名中的类型后缀
func typeSuffix(t mir.Type) string {
	switch t {
	case mir.TypeF32:
		return "f32"
	case mir.TypeF64:
		return "f64"
	}
	return fmt.Sprintf("i%d", t.Bits())
}

// ============================================================================
// 函数体
// ============================================================================

type pendingPhi struct {
	block mir.BlockID
	phi   *mir.Phi
	inst  *ir.InstPhi
}

type funcGen struct {
	g      *generator
	f      *mir.Function
	fn     *ir.Func
	blocks []*ir.Block // MIR 块 -> 对应的第一个 LLVM 块
	exits  []*ir.Block // MIR 块 -> 持有终结指令的 LLVM 块
	cur    *ir.Block
	vals   []value.Value
	phis   []pendingPhi
	aux    int
	start  *ir.Block
}

func (fg *funcGen) emit() error {
	f := fg.f
	fg.blocks = make([]*ir.Block, len(f.Blocks))
	fg.exits = make([]*ir.Block, len(f.Blocks))
	fg.vals = make([]value.Value, f.NumRegs())
	for i, r := range f.Params {
		if int(r) < len(fg.vals) {
			fg.vals[r] = fg.fn.Params[i]
		}
	}

	order := f.ReversePostorder()
	// LLVM 的入口块不能有前驱
	if len(f.Predecessors()[f.Entry]) > 0 {
		fg.start = fg.fn.NewBlock("start")
		defer func() {
			if fg.blocks[f.Entry] != nil {
				fg.start.NewBr(fg.blocks[f.Entry])
			}
		}()
	}
	for _, id := range order {
		fg.blocks[id] = fg.fn.NewBlock(fmt.Sprintf("bb%d", id))
	}

	// phi 先创建，使循环中的前向引用都有定义
	for _, id := range order {
		b := f.Blocks[id]
		for i := range b.Phis {
			p := &b.Phis[i]
			t, err := llType(p.Type, false)
			if err != nil {
				return err
			}
			inst := &ir.InstPhi{Typ: t}
			fg.blocks[id].Insts = append(fg.blocks[id].Insts, inst)
			fg.define(p.Dest, inst)
			fg.phis = append(fg.phis, pendingPhi{block: id, phi: p, inst: inst})
		}
	}

	for _, id := range order {
		b := f.Blocks[id]
		fg.cur = fg.blocks[id]
		for i := range b.Insts {
			if err := fg.inst(&b.Insts[i]); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
		}
		if err := fg.term(&b.Term); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fg.exits[id] = fg.cur
	}

	for _, pp := range fg.phis {
		if pp.block == f.Entry && fg.start != nil {
			pp.inst.Incs = append(pp.inst.Incs, ir.NewIncoming(constant.NewUndef(pp.inst.Typ), fg.start))
		}
		for _, inc := range pp.phi.Incoming {
			if int(inc.Pred) >= len(fg.exits) || fg.exits[inc.Pred] == nil {
				continue
			}
			exit := fg.exits[inc.Pred]
			v := fg.use(inc.Value, pp.phi.Type)
			for n := fg.edgeCount(&f.Blocks[inc.Pred].Term, pp.block); n > 0; n-- {
				pp.inst.Incs = append(pp.inst.Incs, ir.NewIncoming(v, exit))
			}
		}
	}
	return nil
}

// edgeCount 生成的终结指令中到 succ 的边数，LLVM 要求 phi 每条边一个输入
func (fg *funcGen) edgeCount(t *mir.Term, succ mir.BlockID) int {
	succs := t.Successors()
	if t.Kind == mir.TermSwitch {
		ct, _ := fg.f.RegType(t.Cond)
		succs = succs[:0:0]
		for _, c := range switchCases(t, ct) {
			succs = append(succs, c.Target)
		}
		succs = append(succs, t.Default)
	}
	n := 0
	for _, s := range succs {
		if s == succ {
			n++
		}
	}
	return n
}

// switchCases 去掉按类型规范化后重复的 case，以第一个为准
func switchCases(t *mir.Term, ct mir.Type) []mir.SwitchCase {
	out := make([]mir.SwitchCase, 0, len(t.Cases))
	seen := make(map[uint64]bool, len(t.Cases))
	for _, c := range t.Cases {
		bits := mir.NewInt(ct, c.Value).Bits()
		if seen[bits] {
			continue
		}
		seen[bits] = true
		out = append(out, c)
	}
	return out
}

func (fg *funcGen) define(r mir.Reg, v value.Value) {
	if r != mir.NoReg && int(r) < len(fg.vals) {
		fg.vals[r] = v
	}
}

// use 读取寄存器；来自不可达块的值用 undef 代替
func (fg *funcGen) use(r mir.Reg, t mir.Type) value.Value {
	if int(r) < len(fg.vals) && fg.vals[r] != nil {
		return fg.vals[r]
	}
	lt, err := llType(t, false)
	if err != nil {
		lt = types.I64
	}
	return constant.NewUndef(lt)
}

func (fg *funcGen) arg(in *mir.Inst, i int) value.Value {
	t, _ := fg.f.RegType(in.Args[i])
	return fg.use(in.Args[i], t)
}

func (fg *funcGen) newAux(kind string) *ir.Block {
	fg.aux++
	return fg.fn.NewBlock(fmt.Sprintf("%s.%d", kind, fg.aux))
}

// trap 以 mirrt_panic(msg) 结束块
func (fg *funcGen) trap(blk *ir.Block, msg string) {
	blk.NewCall(fg.g.panicFunc(), fg.g.str(msg))
	blk.NewUnreachable()
}

func (fg *funcGen) inst(in *mir.Inst) error {
	blk := fg.cur
	switch {
	case in.Op == mir.OpConst:
		c, err := constFor(in.Const)
		if err != nil {
			return err
		}
		fg.define(in.Dest, c)
	case in.Op == mir.OpCopy:
		fg.define(in.Dest, fg.arg(in, 0))
	case in.Op.IsBinary():
		v, err := fg.binary(in)
		if err != nil {
			return err
		}
		fg.define(in.Dest, v)
	case in.Op.IsUnary():
		x := fg.arg(in, 0)
		switch in.Op {
		case mir.OpNeg:
			fg.define(in.Dest, blk.NewSub(intConst(in.Type, 0), x))
		case mir.OpNot:
			fg.define(in.Dest, blk.NewXor(x, intConst(in.Type, ^uint64(0))))
		default:
			fg.define(in.Dest, blk.NewFNeg(x))
		}
	case in.Op.IsCompare():
		t, _ := fg.f.RegType(in.Args[0])
		x, y := fg.arg(in, 0), fg.arg(in, 1)
		if in.Op.IsFloatOp() {
			fg.define(in.Dest, blk.NewFCmp(floatPred(in.Op), x, y))
		} else {
			fg.define(in.Dest, blk.NewICmp(intPred(in.Op, t), x, y))
		}
	case in.Op == mir.OpCast:
		v, err := fg.cast(in)
		if err != nil {
			return err
		}
		fg.define(in.Dest, v)
	case in.Op == mir.OpSelect:
		fg.define(in.Dest, blk.NewSelect(fg.arg(in, 0), fg.arg(in, 1), fg.arg(in, 2)))
	case in.Op == mir.OpCall:
		if int(in.Callee) >= len(fg.g.funcs) {
			return fmt.Errorf("call to unknown function %d", in.Callee)
		}
		args := make([]value.Value, len(in.Args))
		for i := range in.Args {
			args[i] = fg.arg(in, i)
		}
		call := blk.NewCall(fg.g.funcs[in.Callee], args...)
		fg.define(in.Dest, call)
	case in.Op == mir.OpLoadGlobal:
		if int(in.Global) >= len(fg.g.globals) {
			return fmt.Errorf("load of unknown global %d", in.Global)
		}
		t, err := llType(in.Type, false)
		if err != nil {
			return err
		}
		fg.define(in.Dest, blk.NewLoad(t, fg.g.globals[in.Global]))
	case in.Op == mir.OpStoreGlobal:
		if int(in.Global) >= len(fg.g.globals) {
			return fmt.Errorf("store to unknown global %d", in.Global)
		}
		blk.NewStore(fg.arg(in, 0), fg.g.globals[in.Global])
	case in.Op == mir.OpUndef:
		t, err := llType(in.Type, false)
		if err != nil {
			return err
		}
		fg.define(in.Dest, constant.NewUndef(t))
	case in.Op == mir.OpPanic:
		// panic 之后的指令不可达，写入一个新块
		fg.trap(blk, in.Message)
		fg.cur = fg.newAux("dead")
	default:
		return fmt.Errorf("unsupported instruction %s", in.Op)
	}
	return nil
}

func (fg *funcGen) binary(in *mir.Inst) (value.Value, error) {
	t := in.Type
	x, y := fg.arg(in, 0), fg.arg(in, 1)
	blk := fg.cur
	switch in.Op {
	case mir.OpAdd:
		return blk.NewAdd(x, y), nil
	case mir.OpSub:
		return blk.NewSub(x, y), nil
	case mir.OpMul:
		return blk.NewMul(x, y), nil
	case mir.OpAnd:
		return blk.NewAnd(x, y), nil
	case mir.OpOr:
		return blk.NewOr(x, y), nil
	case mir.OpXor:
		return blk.NewXor(x, y), nil
	case mir.OpShl, mir.OpShr:
		n := blk.NewAnd(y, intConst(t, uint64(t.Bits()-1)))
		switch {
		case in.Op == mir.OpShl:
			return blk.NewShl(x, n), nil
		case t.IsSigned():
			return blk.NewAShr(x, n), nil
		}
		return blk.NewLShr(x, n), nil
	case mir.OpDiv, mir.OpRem:
		return fg.divide(in.Op, t, x, y), nil
	case mir.OpFAdd:
		return blk.NewFAdd(x, y), nil
	case mir.OpFSub:
		return blk.NewFSub(x, y), nil
	case mir.OpFMul:
		return blk.NewFMul(x, y), nil
	case mir.OpFDiv:
		return blk.NewFDiv(x, y), nil
	case mir.OpFRem:
		return blk.NewFRem(x, y), nil
	}
	return nil, fmt.Errorf("unsupported binary operator %s", in.Op)
}

// divide 整数除法和取余：除数为零时 panic，有符号 MinInt / -1 回绕
func (fg *funcGen) divide(op mir.Op, t mir.Type, x, y value.Value) value.Value {
	isZero := fg.cur.NewICmp(enum.IPredEQ, y, intConst(t, 0))
	trap := fg.newAux("divzero")
	cont := fg.newAux("div")
	fg.cur.NewCondBr(isZero, trap, cont)
	fg.trap(trap, fmt.Sprintf("%s %s by zero", op, t))
	fg.cur = cont

	if !t.IsSigned() {
		if op == mir.OpDiv {
			return cont.NewUDiv(x, y)
		}
		return cont.NewURem(x, y)
	}
	negOne := cont.NewICmp(enum.IPredEQ, y, intConst(t, ^uint64(0)))
	safe := cont.NewSelect(negOne, intConst(t, 1), y)
	if op == mir.OpDiv {
		q := cont.NewSDiv(x, safe)
		return cont.NewSelect(negOne, cont.NewSub(intConst(t, 0), x), q)
	}
	r := cont.NewSRem(x, safe)
	return cont.NewSelect(negOne, intConst(t, 0), r)
}

func (fg *funcGen) cast(in *mir.Inst) (value.Value, error) {
	from, _ := fg.f.RegType(in.Args[0])
	if in.From != mir.TypeVoid {
		from = in.From
	}
	to := in.Type
	x := fg.arg(in, 0)
	blk := fg.cur

	switch {
	case to == mir.TypeVoid || from == mir.TypeVoid:
		return nil, fmt.Errorf("cannot cast %s to %s", from, to)
	case to == mir.TypeBool && from == mir.TypeBool:
		return x, nil
	case to == mir.TypeBool && from.IsFloat():
		zero, _ := constFor(mir.Zero(from))
		return blk.NewFCmp(enum.FPredUNE, x, zero), nil
	case to == mir.TypeBool:
		return blk.NewICmp(enum.IPredNE, x, intConst(from, 0)), nil
	case from.IsIntLike() && to.IsIntLike():
		ws, wt := from.Bits(), to.Bits()
		switch {
		case ws > wt:
			return blk.NewTrunc(x, intType(to)), nil
		case ws < wt && from.IsSigned():
			return blk.NewSExt(x, intType(to)), nil
		case ws < wt:
			return blk.NewZExt(x, intType(to)), nil
		}
		return x, nil
	case from.IsIntLike() && to.IsFloat():
		ft, _ := llType(to, false)
		if from.IsSigned() {
			return blk.NewSIToFP(x, ft), nil
		}
		return blk.NewUIToFP(x, ft), nil
	case from.IsFloat() && to.IsFloat():
		ft, _ := llType(to, false)
		switch {
		case from.Bits() < to.Bits():
			return blk.NewFPExt(x, ft), nil
		case from.Bits() > to.Bits():
			return blk.NewFPTrunc(x, ft), nil
		}
		return x, nil
	case from.IsFloat() && to.IsIntLike():
		kind := "fptoui"
		if to.IsSigned() {
			kind = "fptosi"
		}
		ft, _ := llType(from, false)
		name := fmt.Sprintf("llvm.%s.sat.%s.%s", kind, typeSuffix(to), typeSuffix(from))
		return blk.NewCall(fg.g.declare(name, intType(to), ft), x), nil
	}
	return nil, fmt.Errorf("cannot cast %s to %s", from, to)
}

func (fg *funcGen) term(t *mir.Term) error {
	blk := fg.cur
	switch t.Kind {
	case mir.TermBr:
		blk.NewBr(fg.blocks[t.Target])
	case mir.TermCondBr:
		ct, _ := fg.f.RegType(t.Cond)
		cond := fg.use(t.Cond, ct)
		if ct != mir.TypeBool {
			cond = blk.NewICmp(enum.IPredNE, cond, intConst(ct, 0))
		}
		blk.NewCondBr(cond, fg.blocks[t.Then], fg.blocks[t.Else])
	case mir.TermSwitch:
		ct, _ := fg.f.RegType(t.Cond)
		if !ct.IsIntLike() {
			return fmt.Errorf("switch on %s", ct)
		}
		var cases []*ir.Case
		for _, c := range switchCases(t, ct) {
			bits := mir.NewInt(ct, c.Value).Bits()
			cases = append(cases, ir.NewCase(intConst(ct, bits), fg.blocks[c.Target]))
		}
		blk.NewSwitch(fg.use(t.Cond, ct), fg.blocks[t.Default], cases...)
	case mir.TermRet:
		if t.Value == mir.NoReg || fg.f.Sig.Ret == mir.TypeVoid {
			blk.NewRet(nil)
			break
		}
		blk.NewRet(fg.use(t.Value, fg.f.Sig.Ret))
	default:
		blk.NewUnreachable()
	}
	return nil
}

func intPred(op mir.Op, t mir.Type) enum.IPred {
	// 解释器按 64 位有符号数比较规范化后的值：窄无符号类型等价于无符号比较
	signed := t.IsSigned() || t.Bits() == 64
	switch op {
	case mir.OpEq:
		return enum.IPredEQ
	case mir.OpNe:
		return enum.IPredNE
	case mir.OpULt:
		return enum.IPredULT
	case mir.OpULe:
		return enum.IPredULE
	case mir.OpUGt:
		return enum.IPredUGT
	case mir.OpUGe:
		return enum.IPredUGE
	}
	if signed {
		switch op {
		case mir.OpLt:
			return enum.IPredSLT
		case mir.OpLe:
			return enum.IPredSLE
		case mir.OpGt:
			return enum.IPredSGT
		}
		return enum.IPredSGE
	}
	switch op {
	case mir.OpLt:
		return enum.IPredULT
	case mir.OpLe:
		return enum.IPredULE
	case mir.OpGt:
		return enum.IPredUGT
	}
	return enum.IPredUGE
}

func floatPred(op mir.Op) enum.FPred {
	switch op {
	case mir.OpFEq:
		return enum.FPredOEQ
	case mir.OpFNe:
		return enum.FPredUNE
	case mir.OpFLt:
		return enum.FPredOLT
	case mir.OpFLe:
		return enum.FPredOLE
	case mir.OpFGt:
		return enum.FPredOGT
	case mir.OpFGe:
		return enum.FPredOGE
	case mir.OpFOrd:
		return enum.FPredORD
	}
	return enum.FPredUNO
}
