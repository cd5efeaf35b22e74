package interp

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/tangzhangming/mirjit/internal/mir"
)

func run(t *testing.T, m *mir.Module, name string, args ...mir.Value) mir.Value {
	t.Helper()
	f, ok := m.Lookup(name)
	if !ok {
		t.Fatalf("function %s not found", name)
	}
	v, err := New().Execute(context.Background(), m, f.ID, args)
	if err != nil {
		t.Fatalf("%s(%v): %v", name, args, err)
	}
	return v
}

// TestAdd 解释执行 add
func TestAdd(t *testing.T) {
	m := mir.SampleModule()
	if got := run(t, m, "add", mir.I32(5), mir.I32(3)); got.Int() != 8 {
		t.Errorf("add(5,3) = %v", got)
	}
	if got := run(t, m, "add", mir.I32(100), mir.I32(200)); got.Int() != 300 {
		t.Errorf("add(100,200) = %v", got)
	}
}

// TestMax 三个基本块的 if/else
func TestMax(t *testing.T) {
	m := mir.SampleModule()
	cases := [][3]int32{{10, 5, 10}, {5, 10, 10}, {42, 42, 42}}
	for _, c := range cases {
		if got := run(t, m, "max", mir.I32(c[0]), mir.I32(c[1])); got.Int() != int64(c[2]) {
			t.Errorf("max(%d,%d) = %v, want %d", c[0], c[1], got, c[2])
		}
	}
}

// TestLoopAndCalls phi 循环、递归和 switch
func TestLoopAndCalls(t *testing.T) {
	m := mir.SampleModule()
	if got := run(t, m, "sum_to", mir.I64(10)); got.Int() != 45 {
		t.Errorf("sum_to(10) = %v", got)
	}
	if got := run(t, m, "sum_to", mir.I64(0)); got.Int() != 0 {
		t.Errorf("sum_to(0) = %v", got)
	}
	if got := run(t, m, "fib", mir.I64(15)); got.Int() != 610 {
		t.Errorf("fib(15) = %v", got)
	}
	for in, want := range map[int32]int64{1: 10, 2: 20, 3: -1, -7: -1} {
		if got := run(t, m, "classify", mir.I32(in)); got.Int() != want {
			t.Errorf("classify(%d) = %v, want %d", in, got, want)
		}
	}
	if got := run(t, m, "main"); got.Int() != 87 || got.Type() != mir.TypeI32 {
		t.Errorf("main() = %v", got)
	}
}

// TestRunStats 统计进入的基本块数
func TestRunStats(t *testing.T) {
	m := mir.SampleModule()
	f, _ := m.Lookup("sum_to")
	_, st, err := New().Run(context.Background(), m, f.ID, []mir.Value{mir.I64(3)})
	if err != nil {
		t.Fatal(err)
	}
	// entry + 4 次循环头 + 3 次循环体 + exit
	if st.Blocks != 9 {
		t.Errorf("blocks = %d, want 9", st.Blocks)
	}
}

func binaryFunc(op mir.Op, t mir.Type) *mir.Module {
	b := mir.NewModuleBuilder("bin")
	fb := b.Func("f", []mir.Type{t, t}, t)
	fb.NewBlock()
	fb.Ret(fb.Binary(op, fb.Param(0), fb.Param(1)))
	return b.Build()
}

// TestIntegerSemantics 宽度和符号语义
func TestIntegerSemantics(t *testing.T) {
	tests := []struct {
		name string
		op   mir.Op
		x, y mir.Value
		want mir.Value
	}{
		{"i32 add wraps", mir.OpAdd, mir.I32(math.MaxInt32), mir.I32(1), mir.I32(math.MinInt32)},
		{"u8 add wraps", mir.OpAdd, mir.U8(250), mir.U8(10), mir.U8(4)},
		{"i8 mul wraps", mir.OpMul, mir.I8(64), mir.I8(4), mir.I8(0)},
		{"i32 signed div", mir.OpDiv, mir.I32(-7), mir.I32(2), mir.I32(-3)},
		{"u32 unsigned div", mir.OpDiv, mir.U32(math.MaxUint32), mir.U32(2), mir.U32(math.MaxUint32 / 2)},
		{"i32 signed rem", mir.OpRem, mir.I32(-7), mir.I32(2), mir.I32(-1)},
		{"i32 min div -1", mir.OpDiv, mir.I32(math.MinInt32), mir.I32(-1), mir.I32(math.MinInt32)},
		{"i32 arithmetic shr", mir.OpShr, mir.I32(-8), mir.I32(1), mir.I32(-4)},
		{"u32 logical shr", mir.OpShr, mir.U32(0x80000000), mir.U32(31), mir.U32(1)},
		{"i32 shl masks count", mir.OpShl, mir.I32(1), mir.I32(33), mir.I32(2)},
		{"u16 xor", mir.OpXor, mir.U16(0xff00), mir.U16(0x0ff0), mir.U16(0xf0f0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := binaryFunc(tt.op, tt.x.Type())
			got, err := New().Execute(context.Background(), m, 0, []mir.Value{tt.x, tt.y})
			if err != nil {
				t.Fatal(err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCompareAndCast 比较和转换
func TestCompareAndCast(t *testing.T) {
	if v, _ := evalCompare(mir.OpLt, mir.I32(-1), mir.I32(1)); !v.Bool() {
		t.Error("-1 < 1 signed should be true")
	}
	if v, _ := evalCompare(mir.OpULt, mir.I32(-1), mir.I32(1)); v.Bool() {
		t.Error("-1 <u 1 should be false")
	}
	if v, _ := evalCompare(mir.OpFEq, mir.F64(math.NaN()), mir.F64(math.NaN())); v.Bool() {
		t.Error("NaN == NaN should be false")
	}
	if v, _ := evalCompare(mir.OpFUno, mir.F64(math.NaN()), mir.F64(1)); !v.Bool() {
		t.Error("fcmp uno with NaN should be true")
	}

	casts := []struct {
		name string
		to   mir.Type
		x    mir.Value
		want mir.Value
	}{
		{"sext", mir.TypeI64, mir.I32(-1), mir.I64(-1)},
		{"zext", mir.TypeI64, mir.U32(math.MaxUint32), mir.I64(math.MaxUint32)},
		{"trunc", mir.TypeI8, mir.I32(0x1ff), mir.I8(-1)},
		{"to bool", mir.TypeBool, mir.I32(2), mir.Bool(true)},
		{"float trunc", mir.TypeI32, mir.F64(-3.9), mir.I32(-3)},
		{"float saturate", mir.TypeI8, mir.F64(1e9), mir.I8(math.MaxInt8)},
		{"float saturate low", mir.TypeU8, mir.F64(-5), mir.U8(0)},
		{"nan to int", mir.TypeI64, mir.F64(math.NaN()), mir.I64(0)},
		{"int to float", mir.TypeF64, mir.I32(-2), mir.F64(-2)},
		{"f64 to f32", mir.TypeF32, mir.F64(0.1), mir.F32(0.1)},
	}
	for _, c := range casts {
		got, err := evalCast(c.to, c.x)
		if err != nil {
			t.Errorf("%s: %v", c.name, err)
			continue
		}
		if !got.Equal(c.want) {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}
}

// TestFloatOps 浮点运算按 f32 舍入
func TestFloatOps(t *testing.T) {
	m := binaryFunc(mir.OpFAdd, mir.TypeF32)
	got, err := New().Execute(context.Background(), m, 0, []mir.Value{mir.F32(0.1), mir.F32(0.2)})
	if err != nil {
		t.Fatal(err)
	}
	a, b := float32(0.1), float32(0.2)
	if got.Float32() != a+b {
		t.Errorf("f32 add = %v", got)
	}
}

// TestErrors 错误都以 *Error 返回
func TestErrors(t *testing.T) {
	ctx := context.Background()

	m := binaryFunc(mir.OpDiv, mir.TypeI32)
	_, err := New().Execute(ctx, m, 0, []mir.Value{mir.I32(1), mir.I32(0)})
	if KindOf(err) != DivideByZero {
		t.Errorf("div by zero: %v", err)
	}

	_, err = New().Execute(ctx, m, 0, []mir.Value{mir.I32(1)})
	if KindOf(err) != ArgCount {
		t.Errorf("arg count: %v", err)
	}

	_, err = New().Execute(ctx, m, 0, []mir.Value{mir.I32(1), mir.I64(2)})
	if KindOf(err) != TypeMismatch {
		t.Errorf("arg type: %v", err)
	}

	b := mir.NewModuleBuilder("noterm")
	fb := b.Func("f", nil, mir.TypeI32)
	fb.NewBlock()
	fb.Const(mir.I32(1))
	_, err = New().Execute(ctx, b.Build(), 0, nil)
	if KindOf(err) != MissingTerminator {
		t.Errorf("missing terminator: %v", err)
	}

	b = mir.NewModuleBuilder("noreg")
	fb = b.Func("f", nil, mir.TypeI32)
	fb.NewBlock()
	ghost := fb.NewReg(mir.TypeI32)
	fb.Ret(fb.Copy(ghost))
	_, err = New().Execute(ctx, b.Build(), 0, nil)
	var ie *Error
	if !errors.As(err, &ie) || ie.Kind != MissingRegister || ie.Func != "f" {
		t.Errorf("missing register: %v", err)
	}

	b = mir.NewModuleBuilder("panic")
	fb = b.Func("f", nil, mir.TypeVoid)
	fb.NewBlock()
	fb.Panic("boom")
	fb.RetVoid()
	_, err = New().Execute(ctx, b.Build(), 0, nil)
	if KindOf(err) != Panic {
		t.Errorf("panic: %v", err)
	}

	_, err = New().Execute(ctx, b.Build(), 9, nil)
	if KindOf(err) != UnknownFunction {
		t.Errorf("unknown function: %v", err)
	}
}

// TestStackOverflow 无限递归在深度上限处报错
func TestStackOverflow(t *testing.T) {
	b := mir.NewModuleBuilder("rec")
	fb := b.Func("loop", nil, mir.TypeVoid)
	fb.NewBlock()
	fb.Call(fb.ID(), mir.TypeVoid)
	fb.RetVoid()
	_, err := New(WithMaxDepth(50)).Execute(context.Background(), b.Build(), 0, nil)
	if KindOf(err) != StackOverflow {
		t.Errorf("expected stack overflow, got %v", err)
	}
}

// TestGlobals 全局变量在同一存储上的调用之间保留
func TestGlobals(t *testing.T) {
	b := mir.NewModuleBuilder("counter")
	g := b.Global("n", mir.I64(0))
	fb := b.Func("bump", nil, mir.TypeI64)
	fb.NewBlock()
	cur := fb.LoadGlobal(g, mir.TypeI64)
	next := fb.Binary(mir.OpAdd, cur, fb.Const(mir.I64(1)))
	fb.StoreGlobal(g, next)
	fb.Ret(next)
	m := b.Build()

	it := New(WithGlobals(NewGlobals(m)))
	for i := int64(1); i <= 3; i++ {
		v, err := it.Execute(context.Background(), m, 0, nil)
		if err != nil {
			t.Fatal(err)
		}
		if v.Int() != i {
			t.Fatalf("call %d returned %v", i, v)
		}
	}
}

// TestHostFunc 外部声明由宿主函数实现
func TestHostFunc(t *testing.T) {
	b := mir.NewModuleBuilder("host")
	twice := b.Extern("twice", []mir.Type{mir.TypeI64}, mir.TypeI64)
	fb := b.Func("f", []mir.Type{mir.TypeI64}, mir.TypeI64)
	fb.NewBlock()
	fb.Ret(fb.Call(twice, mir.TypeI64, fb.Param(0)))
	m := b.Build()

	_, err := New().Execute(context.Background(), m, fb.ID(), []mir.Value{mir.I64(4)})
	if KindOf(err) != UnknownFunction {
		t.Fatalf("unresolved extern: %v", err)
	}

	it := New(WithHostFuncs(map[string]HostFunc{
		"twice": func(args []mir.Value) (mir.Value, error) { return mir.I64(args[0].Int() * 2), nil },
	}))
	v, err := it.Execute(context.Background(), m, fb.ID(), []mir.Value{mir.I64(21)})
	if err != nil || v.Int() != 42 {
		t.Fatalf("twice(21) = %v, %v", v, err)
	}
}

type countingDispatcher struct {
	it    *Interpreter
	m     *mir.Module
	calls int
}

func (d *countingDispatcher) Call(ctx context.Context, id mir.FuncID, args []mir.Value) (mir.Value, error) {
	d.calls++
	return d.it.Execute(ctx, d.m, id, args)
}

// TestDispatcher 调用经过 Dispatcher
func TestDispatcher(t *testing.T) {
	m := mir.SampleModule()
	d := &countingDispatcher{m: m}
	d.it = New(WithDispatcher(d))
	f, _ := m.Lookup("fib")
	v, err := d.it.Execute(context.Background(), m, f.ID, []mir.Value{mir.I64(10)})
	if err != nil || v.Int() != 55 {
		t.Fatalf("fib(10) = %v, %v", v, err)
	}
	// fib(10) 共 177 次调用，第一次不经过分派
	if d.calls != 176 {
		t.Errorf("dispatched calls = %d, want 176", d.calls)
	}
}
