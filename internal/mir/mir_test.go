package mir

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

// TestNormalize 测试按宽度回绕
func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want int64
	}{
		{"i8 wrap", NewInt(TypeI8, 200), -56},
		{"i16 wrap", NewInt(TypeI16, 40000), -25536},
		{"i32 wrap", NewInt(TypeI32, math.MaxInt32+1), math.MinInt32},
		{"u8 mask", NewInt(TypeU8, -1), 255},
		{"u32 mask", NewInt(TypeU32, -1), math.MaxUint32},
		{"bool", NewInt(TypeBool, 3), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.Int(); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

// TestValueAccessors 测试值读取
func TestValueAccessors(t *testing.T) {
	if got := I32(-1).Uint(); got != math.MaxUint32 {
		t.Errorf("I32(-1).Uint() = %d", got)
	}
	if got := F32(1.5).Float(); got != 1.5 {
		t.Errorf("F32(1.5).Float() = %v", got)
	}
	if !Bool(true).Bool() || Bool(false).Bool() {
		t.Error("bool round trip failed")
	}
	if !I64(7).Equal(NewInt(TypeI64, 7)) {
		t.Error("equal values reported unequal")
	}
	if I64(7).Equal(I32(7)) {
		t.Error("values of different types reported equal")
	}
	if got := I32(-5).String(); got != "i32 -5" {
		t.Errorf("String() = %q", got)
	}
}

// TestParseValue 测试字面量解析
func TestParseValue(t *testing.T) {
	v, err := ParseValue(TypeI32, "-12")
	if err != nil || v.Int() != -12 {
		t.Fatalf("ParseValue i32: %v %v", v, err)
	}
	v, err = ParseValue(TypePtr, "0x1000")
	if err != nil || v.Bits() != 0x1000 {
		t.Fatalf("ParseValue ptr: %v %v", v, err)
	}
	if _, err := ParseValue(TypeBool, "maybe"); err == nil {
		t.Error("expected error for bad bool literal")
	}
}

// TestModuleJSON 测试模块的 JSON 编解码
func TestModuleJSON(t *testing.T) {
	m := SampleModule()
	var buf bytes.Buffer
	if err := EncodeModule(&buf, m); err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeModule(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := Verify(decoded); err != nil {
		t.Fatalf("decoded module does not verify: %v", err)
	}
	if decoded.String() != m.String() {
		t.Errorf("decoded module differs:\n%s\nwant:\n%s", decoded, m)
	}
	mainFn, ok := decoded.Lookup("main")
	if !ok {
		t.Fatal("main not found after decode")
	}
	last := mainFn.Blocks[0].Term
	if last.Kind != TermRet || last.Value == NoReg {
		t.Errorf("main terminator = %s", last.String())
	}
}

// TestDecodeVoidReturn 省略 value 的 ret 表示无返回值
func TestDecodeVoidReturn(t *testing.T) {
	src := `{"name":"m","functions":[{"id":0,"name":"f","sig":{"params":[],"ret":"void"},
		"blocks":[{"id":0,"insts":[],"term":{"kind":"ret"}}],"entry":0}]}`
	m, err := DecodeModule(strings.NewReader(src))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v := m.Functions[0].Blocks[0].Term.Value; v != NoReg {
		t.Errorf("ret value = %s, want NoReg", v)
	}
}

// TestEntryFunction 测试入口查找
func TestEntryFunction(t *testing.T) {
	m := SampleModule()
	f, err := m.EntryFunction()
	if err != nil || f.Name != "main" {
		t.Fatalf("EntryFunction = %v, %v", f, err)
	}

	b := NewModuleBuilder("noentry")
	fb := b.Func("helper", nil, TypeVoid)
	fb.NewBlock()
	fb.RetVoid()
	if _, err := b.Build().EntryFunction(); !errors.Is(err, ErrNoEntry) {
		t.Errorf("expected ErrNoEntry, got %v", err)
	}

	b = NewModuleBuilder("suffix")
	fb = b.Func("app_main", nil, TypeVoid)
	fb.NewBlock()
	fb.RetVoid()
	if f, err := b.Build().EntryFunction(); err != nil || f.Name != "app_main" {
		t.Errorf("suffix entry = %v, %v", f, err)
	}
}

// TestVerify 测试结构检查
func TestVerify(t *testing.T) {
	if err := Verify(SampleModule()); err != nil {
		t.Fatalf("sample module should verify: %v", err)
	}

	b := NewModuleBuilder("bad")
	fb := b.Func("f", nil, TypeVoid)
	fb.NewBlock()
	fb.Br(7)
	err := Verify(b.Build())
	if err == nil || !strings.Contains(err.Error(), "missing block bb7") {
		t.Errorf("expected missing block error, got %v", err)
	}
}

// TestReversePostorder 测试逆后序
func TestReversePostorder(t *testing.T) {
	m := SampleModule()
	f, _ := m.Lookup("sum_to")
	order := f.ReversePostorder()
	if len(order) != 4 || order[0] != f.Entry {
		t.Fatalf("unexpected order %v", order)
	}
	pos := make(map[BlockID]int)
	for i, id := range order {
		pos[id] = i
	}
	// 循环头必须排在循环体和出口之前
	if pos[1] > pos[2] || pos[1] > pos[3] {
		t.Errorf("loop header after its successors: %v", order)
	}
}

// TestClone 测试深拷贝互不影响
func TestClone(t *testing.T) {
	m := SampleModule()
	cp := m.Clone()
	f, _ := cp.Lookup("add")
	f.Blocks[0].Insts[0].Op = OpSub
	orig, _ := m.Lookup("add")
	if orig.Blocks[0].Insts[0].Op != OpAdd {
		t.Error("clone shares instruction storage with original")
	}
}

// partialDef f(c i64) i64：只有 c > 0 的分支定义了返回的寄存器
func partialDef() *Module {
	b := NewModuleBuilder("partial")
	fb := b.Func("f", []Type{TypeI64}, TypeI64)
	entry := fb.NewBlock()
	then := fb.NewBlock()
	join := fb.NewBlock()
	fb.SetBlock(entry)
	fb.CondBr(fb.Compare(OpGt, fb.Param(0), fb.Const(I64(0))), then, join)
	fb.SetBlock(then)
	y := fb.Const(I64(7))
	fb.Br(join)
	fb.SetBlock(join)
	fb.Ret(y)
	return b.Build()
}

// TestCheckTypes 寄存器定义和操作数类型
func TestCheckTypes(t *testing.T) {
	for _, f := range SampleModule().Functions {
		if err := CheckTypes(f); err != nil {
			t.Errorf("sample %s: %v", f.Name, err)
		}
	}

	err := CheckTypes(partialDef().Functions[0])
	if err == nil || !strings.Contains(err.Error(), "before it is defined on every path") {
		t.Errorf("partial definition: %v", err)
	}

	cases := []struct {
		name  string
		build func(fb *FuncBuilder)
		want  string
	}{
		{"mixed operands", func(fb *FuncBuilder) {
			wide := fb.Cast(TypeI64, fb.Param(0))
			fb.emit(Inst{Op: OpAdd, Dest: fb.NewReg(TypeI32), Type: TypeI32, Args: []Reg{fb.Param(0), wide}})
			fb.Ret(fb.Param(0))
		}, "add i32 applied to i32 and i64"},
		{"wrong dest type", func(fb *FuncBuilder) {
			fb.emit(Inst{Op: OpConst, Dest: fb.NewReg(TypeI32), Type: TypeI64, Const: I64(1)})
			fb.Ret(fb.Param(0))
		}, "writes i64 to register"},
		{"undeclared register", func(fb *FuncBuilder) {
			fb.Ret(fb.Copy(fb.Param(0)))
			fb.cur.Term.Value = 99
		}, "no declared type"},
		{"never defined", func(fb *FuncBuilder) {
			fb.Ret(fb.NewReg(TypeI32))
		}, "before it is defined"},
		{"bad return", func(fb *FuncBuilder) {
			fb.Ret(fb.Compare(OpEq, fb.Param(0), fb.Param(0)))
		}, "returns bool, signature says i32"},
		{"operand count", func(fb *FuncBuilder) {
			fb.emit(Inst{Op: OpNeg, Dest: fb.NewReg(TypeI32), Type: TypeI32})
			fb.Ret(fb.Param(0))
		}, "neg takes 1 operands, got 0"},
	}
	for _, tc := range cases {
		b := NewModuleBuilder(tc.name)
		fb := b.Func("f", []Type{TypeI32}, TypeI32)
		fb.NewBlock()
		tc.build(fb)
		err := CheckTypes(b.Build().Functions[0])
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: err = %v, want %q", tc.name, err, tc.want)
		}
	}
}

// TestCheckTypesPhi phi 的输入在前驱末尾必须已定义
func TestCheckTypesPhi(t *testing.T) {
	b := NewModuleBuilder("phi")
	fb := b.Func("f", []Type{TypeI64}, TypeI64)
	entry := fb.NewBlock()
	left := fb.NewBlock()
	right := fb.NewBlock()
	join := fb.NewBlock()
	fb.SetBlock(entry)
	fb.CondBr(fb.Compare(OpGt, fb.Param(0), fb.Const(I64(0))), left, right)
	fb.SetBlock(left)
	l := fb.Const(I64(1))
	fb.Br(join)
	fb.SetBlock(right)
	fb.Br(join)
	fb.SetBlock(join)
	p := fb.Phi(TypeI64)
	fb.Ret(p)
	fb.AddIncoming(p, left, l)
	fb.AddIncoming(p, right, fb.Param(0))
	if err := CheckTypes(b.Build().Functions[0]); err != nil {
		t.Fatalf("well-formed phi: %v", err)
	}

	m := b.Build()
	m.Functions[0].Blocks[join].Phis[0].Incoming[1].Value = l
	err := CheckTypes(m.Functions[0])
	if err == nil || !strings.Contains(err.Error(), "not defined at the end of bb2") {
		t.Errorf("phi reading a register from the other branch: %v", err)
	}

	m.Functions[0].Blocks[join].Phis[0].Incoming = m.Functions[0].Blocks[join].Phis[0].Incoming[:1]
	err = CheckTypes(m.Functions[0])
	if err == nil || !strings.Contains(err.Error(), "no incoming value for bb2") {
		t.Errorf("phi missing a predecessor: %v", err)
	}
}
