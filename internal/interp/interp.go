// interp.go - MIR 解释器（第 0 层）
//
// 直接遍历函数的控制流图求值。每次调用有独立的寄存器文件；
// 进入基本块时先根据前驱块解析 phi，再按顺序执行普通指令。
//
// 函数调用不直接递归到解释器，而是交给 Dispatcher，
// 由分层会话决定被调函数当前在哪一层执行。

package interp

import (
	"context"
	"fmt"
	"sync"

	"github.com/tangzhangming/mirjit/internal/mir"
)

// DefaultMaxDepth 默认最大调用深度
const DefaultMaxDepth = 1000

// Dispatcher 函数调用分派
type Dispatcher interface {
	Call(ctx context.Context, id mir.FuncID, args []mir.Value) (mir.Value, error)
}

// HostFunc 由宿主提供的外部函数实现
type HostFunc func(args []mir.Value) (mir.Value, error)

// RunStats 单次调用的执行统计（不含被调函数）
type RunStats struct {
	Blocks uint64 // 进入的基本块数
	Insts  uint64 // 执行的普通指令数
}

// ============================================================================
// 全局变量存储
// ============================================================================

// Globals 模块全局变量，按 GlobalID 索引，可被并发调用共享
type Globals struct {
	mu   sync.RWMutex
	vals []mir.Value
}

// NewGlobals 按模块的初始值创建全局变量存储
func NewGlobals(m *mir.Module) *Globals {
	g := &Globals{vals: make([]mir.Value, len(m.Globals))}
	for i, gl := range m.Globals {
		g.vals[i] = gl.Init
		if gl.Init.Type() != gl.Type {
			g.vals[i] = mir.Zero(gl.Type)
		}
	}
	return g
}

// Load 读取全局变量
func (g *Globals) Load(id mir.GlobalID) (mir.Value, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if int(id) >= len(g.vals) {
		return mir.Value{}, false
	}
	return g.vals[id], true
}

// Store 写入全局变量，类型必须与声明一致
func (g *Globals) Store(id mir.GlobalID, v mir.Value) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if int(id) >= len(g.vals) {
		return fmt.Errorf("unknown global g%d", id)
	}
	if g.vals[id].Type() != v.Type() {
		return fmt.Errorf("global g%d has type %s, cannot store %s", id, g.vals[id].Type(), v.Type())
	}
	g.vals[id] = v
	return nil
}

// ============================================================================
// 解释器
// ============================================================================

// Interpreter MIR 解释器
//
// Interpreter 本身不保存调用状态，可以被多个 goroutine 同时使用。
type Interpreter struct {
	dispatch Dispatcher
	globals  *Globals
	hosts    map[string]HostFunc
	maxDepth int
}

// Option 解释器选项
type Option func(*Interpreter)

// WithDispatcher 设置函数调用分派；未设置时被调函数由解释器自己执行
func WithDispatcher(d Dispatcher) Option {
	return func(it *Interpreter) { it.dispatch = d }
}

// WithGlobals 设置全局变量存储；未设置时每次 Execute 使用模块初始值
func WithGlobals(g *Globals) Option {
	return func(it *Interpreter) { it.globals = g }
}

// WithHostFuncs 注册外部函数实现
func WithHostFuncs(hosts map[string]HostFunc) Option {
	return func(it *Interpreter) {
		for name, fn := range hosts {
			it.hosts[name] = fn
		}
	}
}

// WithMaxDepth 设置最大调用深度
func WithMaxDepth(n int) Option {
	return func(it *Interpreter) { it.maxDepth = n }
}

// New 创建解释器
func New(opts ...Option) *Interpreter {
	it := &Interpreter{
		hosts:    make(map[string]HostFunc),
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// Host 查找外部函数实现
func (it *Interpreter) Host(name string) (HostFunc, bool) {
	fn, ok := it.hosts[name]
	return fn, ok
}

type depthKey struct{}

func depthOf(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

// Execute 执行函数并返回结果
func (it *Interpreter) Execute(ctx context.Context, m *mir.Module, id mir.FuncID, args []mir.Value) (mir.Value, error) {
	v, _, err := it.Run(ctx, m, id, args)
	return v, err
}

// Run 执行函数，同时返回本次调用的执行统计
func (it *Interpreter) Run(ctx context.Context, m *mir.Module, id mir.FuncID, args []mir.Value) (mir.Value, RunStats, error) {
	f := m.Function(id)
	if f == nil {
		return mir.Value{}, RunStats{}, newError(UnknownFunction, nil, 0, "no function with id f%d", id)
	}
	if len(args) != len(f.Sig.Params) {
		return mir.Value{}, RunStats{}, newError(ArgCount, f, f.Entry, "got %d arguments, want %d", len(args), len(f.Sig.Params))
	}
	for i, a := range args {
		if a.Type() != f.Sig.Params[i] {
			return mir.Value{}, RunStats{}, newError(TypeMismatch, f, f.Entry, "argument %d is %s, want %s", i, a.Type(), f.Sig.Params[i])
		}
	}
	if f.IsExtern() {
		return it.callHost(f, args)
	}

	depth := depthOf(ctx)
	if depth >= it.maxDepth {
		return mir.Value{}, RunStats{}, newError(StackOverflow, f, f.Entry, "call depth exceeds %d", it.maxDepth)
	}
	globals := it.globals
	if globals == nil {
		globals = NewGlobals(m)
	}
	fr := &frame{
		it:      it,
		ctx:     context.WithValue(ctx, depthKey{}, depth+1),
		m:       m,
		f:       f,
		globals: globals,
		regs:    make([]mir.Value, f.NumRegs()),
		defined: make([]bool, f.NumRegs()),
	}
	for i, r := range f.Params {
		if err := fr.set(r, args[i]); err != nil {
			err.Block = f.Entry
			return mir.Value{}, RunStats{}, err
		}
	}
	v, err := fr.run()
	if err != nil {
		return mir.Value{}, fr.stats, err
	}
	return v, fr.stats, nil
}

func (it *Interpreter) callHost(f *mir.Function, args []mir.Value) (mir.Value, RunStats, error) {
	fn, ok := it.hosts[f.Name]
	if !ok {
		return mir.Value{}, RunStats{}, newError(UnknownFunction, f, 0, "extern %s has no implementation", f.Name)
	}
	v, err := fn(args)
	if err != nil {
		return mir.Value{}, RunStats{}, fmt.Errorf("host function %s: %w", f.Name, err)
	}
	if v.Type() != f.Sig.Ret {
		return mir.Value{}, RunStats{}, newError(TypeMismatch, f, 0, "host function returned %s, want %s", v.Type(), f.Sig.Ret)
	}
	return v, RunStats{}, nil
}

// ============================================================================
// 调用帧
// ============================================================================

type frame struct {
	it      *Interpreter
	ctx     context.Context
	m       *mir.Module
	f       *mir.Function
	globals *Globals

	regs    []mir.Value
	defined []bool
	block   mir.BlockID
	stats   RunStats
}

func (fr *frame) fail(kind ErrorKind, format string, args ...interface{}) *Error {
	return newError(kind, fr.f, fr.block, format, args...)
}

func (fr *frame) get(r mir.Reg) (mir.Value, *Error) {
	if int(r) >= len(fr.regs) || !fr.defined[r] {
		return mir.Value{}, fr.fail(MissingRegister, "register %s is not defined", r)
	}
	return fr.regs[r], nil
}

func (fr *frame) set(r mir.Reg, v mir.Value) *Error {
	if int(r) >= len(fr.regs) {
		return fr.fail(MissingRegister, "register %s has no declared type", r)
	}
	if want := fr.f.RegTypes[r]; want != v.Type() {
		return fr.fail(TypeMismatch, "register %s is %s, cannot hold %s", r, want, v.Type())
	}
	fr.regs[r] = v
	fr.defined[r] = true
	return nil
}

func (fr *frame) run() (mir.Value, error) {
	prev := mir.BlockID(0)
	hasPrev := false
	cur := fr.f.Entry
	for {
		b := fr.f.Block(cur)
		if b == nil {
			return mir.Value{}, fr.fail(BadBranch, "branch to missing block %s", cur)
		}
		fr.block = cur
		fr.stats.Blocks++

		if len(b.Phis) > 0 {
			if err := fr.resolvePhis(b, prev, hasPrev); err != nil {
				return mir.Value{}, err
			}
		}
		for i := range b.Insts {
			if err := fr.exec(&b.Insts[i]); err != nil {
				return mir.Value{}, err
			}
			fr.stats.Insts++
		}

		next, ret, done, err := fr.terminate(&b.Term)
		if err != nil {
			return mir.Value{}, err
		}
		if done {
			return ret, nil
		}
		prev, hasPrev, cur = cur, true, next
	}
}

// resolvePhis 先读出所有 phi 的输入再统一写入，phi 之间互不影响
func (fr *frame) resolvePhis(b *mir.Block, prev mir.BlockID, hasPrev bool) *Error {
	if !hasPrev {
		return fr.fail(MissingRegister, "phi in entry block %s has no predecessor", b.ID)
	}
	vals := make([]mir.Value, len(b.Phis))
	for i := range b.Phis {
		p := &b.Phis[i]
		r, ok := p.ValueFor(prev)
		if !ok {
			return fr.fail(MissingRegister, "phi %s has no incoming value for %s", p.Dest, prev)
		}
		v, err := fr.get(r)
		if err != nil {
			return err
		}
		vals[i] = v
	}
	for i := range b.Phis {
		if err := fr.set(b.Phis[i].Dest, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

func (fr *frame) args(in *mir.Inst, n int) ([]mir.Value, *Error) {
	if len(in.Args) != n {
		return nil, fr.fail(TypeMismatch, "%s expects %d operands, got %d", in.Op, n, len(in.Args))
	}
	out := make([]mir.Value, n)
	for i, r := range in.Args {
		v, err := fr.get(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (fr *frame) located(err *Error) *Error {
	err.Func = fr.f.Name
	err.Block = fr.block
	return err
}

func (fr *frame) exec(in *mir.Inst) error {
	var (
		v    mir.Value
		eerr *Error
	)
	switch {
	case in.Op == mir.OpConst:
		v = in.Const
	case in.Op == mir.OpUndef:
		v = mir.Zero(in.Type)
	case in.Op == mir.OpCopy:
		a, err := fr.args(in, 1)
		if err != nil {
			return err
		}
		v = a[0]
	case in.Op.IsBinary():
		a, err := fr.args(in, 2)
		if err != nil {
			return err
		}
		v, eerr = evalBinary(in.Op, in.Type, a[0], a[1])
	case in.Op.IsUnary():
		a, err := fr.args(in, 1)
		if err != nil {
			return err
		}
		v, eerr = evalUnary(in.Op, in.Type, a[0])
	case in.Op.IsCompare():
		a, err := fr.args(in, 2)
		if err != nil {
			return err
		}
		v, eerr = evalCompare(in.Op, a[0], a[1])
	case in.Op == mir.OpCast:
		a, err := fr.args(in, 1)
		if err != nil {
			return err
		}
		v, eerr = evalCast(in.Type, a[0])
	case in.Op == mir.OpSelect:
		a, err := fr.args(in, 3)
		if err != nil {
			return err
		}
		if a[0].Type() != mir.TypeBool || a[1].Type() != a[2].Type() {
			return fr.fail(TypeMismatch, "select %s ? %s : %s", a[0].Type(), a[1].Type(), a[2].Type())
		}
		v = a[2]
		if a[0].Bool() {
			v = a[1]
		}
	case in.Op == mir.OpCall:
		return fr.call(in)
	case in.Op == mir.OpLoadGlobal:
		g, ok := fr.globals.Load(in.Global)
		if !ok {
			return fr.fail(MissingRegister, "unknown global g%d", in.Global)
		}
		v = g
	case in.Op == mir.OpStoreGlobal:
		a, err := fr.args(in, 1)
		if err != nil {
			return err
		}
		if err := fr.globals.Store(in.Global, a[0]); err != nil {
			return fr.fail(TypeMismatch, "%v", err)
		}
		return nil
	case in.Op == mir.OpPanic:
		return fr.fail(Panic, "%s", in.Message)
	default:
		return fr.fail(TypeMismatch, "unknown opcode %s", in.Op)
	}
	if eerr != nil {
		return fr.located(eerr)
	}
	if err := fr.set(in.Dest, v); err != nil {
		return err
	}
	return nil
}

func (fr *frame) call(in *mir.Inst) error {
	callee := fr.m.Function(in.Callee)
	if callee == nil {
		return fr.fail(UnknownFunction, "call to unknown function f%d", in.Callee)
	}
	args, err := fr.args(in, len(in.Args))
	if err != nil {
		return err
	}
	var ret mir.Value
	var cerr error
	if fr.it.dispatch != nil {
		ret, cerr = fr.it.dispatch.Call(fr.ctx, in.Callee, args)
	} else {
		ret, _, cerr = fr.it.Run(fr.ctx, fr.m, in.Callee, args)
	}
	if cerr != nil {
		return cerr
	}
	if in.Dest == mir.NoReg {
		return nil
	}
	if serr := fr.set(in.Dest, ret); serr != nil {
		return serr
	}
	return nil
}

// terminate 执行终结指令，返回下一个块或返回值
func (fr *frame) terminate(t *mir.Term) (next mir.BlockID, ret mir.Value, done bool, err error) {
	switch t.Kind {
	case mir.TermBr:
		return t.Target, mir.Value{}, false, nil
	case mir.TermCondBr:
		c, gerr := fr.get(t.Cond)
		if gerr != nil {
			return 0, mir.Value{}, false, gerr
		}
		if !c.Type().IsIntLike() {
			return 0, mir.Value{}, false, fr.fail(TypeMismatch, "branch condition is %s", c.Type())
		}
		if c.Bits() != 0 {
			return t.Then, mir.Value{}, false, nil
		}
		return t.Else, mir.Value{}, false, nil
	case mir.TermSwitch:
		x, gerr := fr.get(t.Cond)
		if gerr != nil {
			return 0, mir.Value{}, false, gerr
		}
		if !x.Type().IsIntLike() {
			return 0, mir.Value{}, false, fr.fail(TypeMismatch, "switch on %s", x.Type())
		}
		for _, c := range t.Cases {
			if x.Equal(mir.NewInt(x.Type(), c.Value)) {
				return c.Target, mir.Value{}, false, nil
			}
		}
		return t.Default, mir.Value{}, false, nil
	case mir.TermRet:
		want := fr.f.Sig.Ret
		if t.Value == mir.NoReg {
			if want != mir.TypeVoid {
				return 0, mir.Value{}, false, fr.fail(TypeMismatch, "ret without value in function returning %s", want)
			}
			return 0, mir.Void(), true, nil
		}
		v, gerr := fr.get(t.Value)
		if gerr != nil {
			return 0, mir.Value{}, false, gerr
		}
		if v.Type() != want {
			return 0, mir.Value{}, false, fr.fail(TypeMismatch, "returns %s, signature says %s", v.Type(), want)
		}
		return 0, v, true, nil
	case mir.TermUnreachable:
		return 0, mir.Value{}, false, fr.fail(Unreachable, "reached unreachable terminator")
	}
	return 0, mir.Value{}, false, fr.fail(MissingTerminator, "block %s has no terminator", fr.block)
}
