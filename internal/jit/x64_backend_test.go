package jit

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/tangzhangming/mirjit/internal/mir"
)

func compileSample(t *testing.T, name string) (*mir.Module, *CompiledCode) {
	t.Helper()
	m := mir.SampleModule()
	f, ok := m.Lookup(name)
	if !ok {
		t.Fatalf("sample %s missing", name)
	}
	code, err := NewX64Backend().Compile(f, m, NewSymbolTable())
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return m, code
}

func TestX64BackendDecodes(t *testing.T) {
	for _, name := range []string{"add", "max", "mul", "sum_to", "classify"} {
		_, code := compileSample(t, name)
		insts, err := DecodeX64(code.Code)
		if err != nil {
			t.Fatalf("%s: %v\n%s", name, err, DisassembleX64(code.Code))
		}
		if insts[0].Op != x86asm.PUSH {
			t.Errorf("%s: first instruction %v", name, insts[0])
		}
		if code.Backend != X64BackendName || code.Conv == nil {
			t.Errorf("%s: compiled code %+v", name, code)
		}
		rets := 0
		for _, in := range insts {
			if in.Op == x86asm.RET {
				rets++
			}
		}
		if rets == 0 {
			t.Errorf("%s: no ret instruction", name)
		}
	}
}

func opsOf(t *testing.T, code []byte) map[x86asm.Op]int {
	t.Helper()
	insts, err := DecodeX64(code)
	if err != nil {
		t.Fatal(err)
	}
	ops := make(map[x86asm.Op]int)
	for _, in := range insts {
		ops[in.Op]++
	}
	return ops
}

func TestX64BackendInstructionSelection(t *testing.T) {
	_, code := compileSample(t, "add")
	ops := opsOf(t, code.Code)
	for _, want := range []x86asm.Op{x86asm.PUSH, x86asm.MOVSXD, x86asm.ADD, x86asm.POP, x86asm.RET} {
		if ops[want] == 0 {
			t.Errorf("add: missing %v in\n%s", want, DisassembleX64(code.Code))
		}
	}

	_, code = compileSample(t, "max")
	if ops := opsOf(t, code.Code); ops[x86asm.SETGE] != 1 || ops[x86asm.RET] != 2 {
		t.Errorf("max: unexpected code\n%s", DisassembleX64(code.Code))
	}

	_, code = compileSample(t, "mul")
	if ops := opsOf(t, code.Code); ops[x86asm.IMUL] != 1 {
		t.Errorf("mul: missing IMUL\n%s", DisassembleX64(code.Code))
	}

	_, code = compileSample(t, "classify")
	if ops := opsOf(t, code.Code); ops[x86asm.JE] != 2 {
		t.Errorf("classify: %d JE, want 2\n%s", ops[x86asm.JE], DisassembleX64(code.Code))
	}
}

func TestX64BackendRejects(t *testing.T) {
	m := mir.SampleModule()
	for _, name := range []string{"fib", "main"} {
		f, _ := m.Lookup(name)
		_, err := NewX64Backend().Compile(f, m, nil)
		var cerr *CodegenError
		if !errors.As(err, &cerr) {
			t.Fatalf("%s: err = %v, want CodegenError", name, err)
		}
		if cerr.Func != name || cerr.Backend != X64BackendName {
			t.Errorf("%s: %+v", name, cerr)
		}
	}

	b := mir.NewModuleBuilder("floats")
	fadd := b.Func("fadd", []mir.Type{mir.TypeF64, mir.TypeF64}, mir.TypeF64)
	fadd.NewBlock()
	fadd.Ret(fadd.Binary(mir.OpFAdd, fadd.Param(0), fadd.Param(1)))
	div := b.Func("div", []mir.Type{mir.TypeI32, mir.TypeI32}, mir.TypeI32)
	div.NewBlock()
	div.Ret(div.Binary(mir.OpDiv, div.Param(0), div.Param(1)))
	fm := b.Build()
	for _, f := range fm.Functions {
		if _, err := NewX64Backend().Compile(f, fm, nil); err == nil {
			t.Errorf("%s compiled", f.Name)
		}
	}
}

func TestConvFor(t *testing.T) {
	cc, err := ConvFor(mir.Signature{Params: []mir.Type{mir.TypeI32, mir.TypeF64, mir.TypeBool, mir.TypeF32}, Ret: mir.TypeF64})
	if err != nil {
		t.Fatal(err)
	}
	want := []ArgLoc{{Index: 0}, {Float: true, Index: 0}, {Index: 1}, {Float: true, Index: 1}}
	for i, loc := range cc.Args {
		if loc != want[i] {
			t.Errorf("arg %d at %+v, want %+v", i, loc, want[i])
		}
	}
	var ints, floats [8]uint64
	if err := cc.Marshal([]mir.Value{mir.I32(-1), mir.F64(1.5), mir.Bool(true), mir.F32(2)}, &ints, &floats); err != nil {
		t.Fatal(err)
	}
	if ints[0] != mir.I32(-1).Bits() || ints[1] != 1 || floats[0] != mir.F64(1.5).Bits() {
		t.Errorf("ints %v floats %v", ints, floats)
	}
	if v := cc.Unmarshal([2]uint64{7, mir.F64(2.5).Bits()}); v.Float() != 2.5 {
		t.Errorf("float return = %v", v)
	}
	if err := cc.Marshal([]mir.Value{mir.I64(1)}, &ints, &floats); err == nil {
		t.Error("wrong argument count accepted")
	}

	many := make([]mir.Type, 9)
	for i := range many {
		many[i] = mir.TypeI64
	}
	if _, err := ConvFor(mir.Signature{Params: many, Ret: mir.TypeI64}); err == nil {
		t.Error("nine integer arguments accepted")
	}
}

// chainModule chain(x) = x + 3 + 3 + ...，共 n 次加法，每次一个新寄存器
func chainModule(n int) (*mir.Module, *mir.Function) {
	b := mir.NewModuleBuilder("chain")
	fb := b.Func("chain", []mir.Type{mir.TypeI64}, mir.TypeI64)
	fb.NewBlock()
	x := fb.Param(0)
	three := fb.Const(mir.I64(3))
	for i := 0; i < n; i++ {
		x = fb.Binary(mir.OpAdd, x, three)
	}
	fb.Ret(x)
	m := b.Build()
	return m, m.Functions[0]
}

func TestX64BackendFrameLimit(t *testing.T) {
	m, f := chainModule(1990)
	if frame := x64FrameSize(f); frame > x64MaxFrame {
		t.Fatalf("frame %d already over the limit", frame)
	}
	if _, err := NewX64Backend().Compile(f, m, nil); err != nil {
		t.Fatalf("chain of 1990: %v", err)
	}

	for _, n := range []int{2000, 4000} {
		m, f := chainModule(n)
		_, err := NewX64Backend().Compile(f, m, nil)
		var cerr *CodegenError
		if !errors.As(err, &cerr) {
			t.Fatalf("chain of %d: err = %v, want CodegenError", n, err)
		}
	}
}

// TestX64BackendRefusesIllTyped 寄存器未在所有路径上定义时不生成代码
func TestX64BackendRefusesIllTyped(t *testing.T) {
	b := mir.NewModuleBuilder("partial")
	fb := b.Func("f", []mir.Type{mir.TypeI64}, mir.TypeI64)
	entry := fb.NewBlock()
	then := fb.NewBlock()
	join := fb.NewBlock()
	fb.SetBlock(entry)
	fb.CondBr(fb.Compare(mir.OpGt, fb.Param(0), fb.Const(mir.I64(0))), then, join)
	fb.SetBlock(then)
	y := fb.Const(mir.I64(7))
	fb.Br(join)
	fb.SetBlock(join)
	fb.Ret(y)
	m := b.Build()

	_, err := NewX64Backend().Compile(m.Functions[0], m, nil)
	var cerr *CodegenError
	if !errors.As(err, &cerr) || !strings.Contains(cerr.Reason, "before it is defined") {
		t.Fatalf("err = %v, want CodegenError for the undefined register", err)
	}
}
