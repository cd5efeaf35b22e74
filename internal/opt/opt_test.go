package opt

import (
	"context"
	"testing"

	"github.com/tangzhangming/mirjit/internal/interp"
	"github.com/tangzhangming/mirjit/internal/mir"
)

// branchy: 条件在编译期已知的分支
//
//	s = 2 + 3
//	if s < 10 { r = p0 * s } else { r = p0 }
func branchy() *mir.Module {
	b := mir.NewModuleBuilder("branchy")
	fb := b.Func("branchy", []mir.Type{mir.TypeI32}, mir.TypeI32)
	entry := fb.NewBlock()
	then := fb.NewBlock()
	els := fb.NewBlock()
	join := fb.NewBlock()

	fb.SetBlock(entry)
	s := fb.Binary(mir.OpAdd, fb.Const(mir.I32(2)), fb.Const(mir.I32(3)))
	cond := fb.Compare(mir.OpLt, s, fb.Const(mir.I32(10)))
	fb.CondBr(cond, then, els)

	fb.SetBlock(then)
	x := fb.Binary(mir.OpMul, fb.Param(0), s)
	fb.Br(join)

	fb.SetBlock(els)
	y := fb.Copy(fb.Param(0))
	fb.Br(join)

	fb.SetBlock(join)
	r := fb.Phi(mir.TypeI32)
	fb.AddIncoming(r, then, x)
	fb.AddIncoming(r, els, y)
	fb.Ret(r)
	return b.Build()
}

func exec(t *testing.T, m *mir.Module, name string, args ...mir.Value) mir.Value {
	t.Helper()
	f, ok := m.Lookup(name)
	if !ok {
		t.Fatalf("function %s not found", name)
	}
	v, err := interp.New().Execute(context.Background(), m, f.ID, args)
	if err != nil {
		t.Fatalf("%s(%v): %v", name, args, err)
	}
	return v
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"O0": O0, "o1": O1, "2": O2, " O3 ": O3} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("O7"); err == nil {
		t.Error("ParseLevel(O7) should fail")
	}
}

// TestO0NoChange O0 不做任何变换
func TestO0NoChange(t *testing.T) {
	m := branchy()
	f := m.Functions[0]
	before := f.InstCount()
	if ForLevel(O0).RunFunction(f) {
		t.Error("O0 reported a change")
	}
	if f.InstCount() != before || len(f.Blocks) != 4 {
		t.Error("O0 modified the function")
	}
}

// TestFoldBranch 常量条件折叠为跳转，不可达块被删除
func TestFoldBranch(t *testing.T) {
	m := branchy()
	want := exec(t, m, "branchy", mir.I32(4))

	f := m.Functions[0]
	pm := ForLevel(O2)
	if !pm.RunFunction(f) {
		t.Fatal("O2 reported no change")
	}
	if err := mir.Verify(m); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(f.Blocks) != 3 {
		t.Errorf("blocks = %d, want 3", len(f.Blocks))
	}
	for _, blk := range f.Blocks {
		if blk.Term.Kind == mir.TermCondBr {
			t.Errorf("%s still ends in condbr", blk.ID)
		}
		for _, phi := range blk.Phis {
			if len(phi.Incoming) != 1 {
				t.Errorf("phi %s has %d inputs", phi.Dest, len(phi.Incoming))
			}
		}
	}
	if got := exec(t, m, "branchy", mir.I32(4)); !got.Equal(want) || got.Int() != 20 {
		t.Errorf("branchy(4) = %v, want %v", got, want)
	}
	if pm.Stats().PerPassChanges["constfold"] == 0 {
		t.Error("constfold not counted")
	}
}

// TestCopyPropagation 复制链被消除
func TestCopyPropagation(t *testing.T) {
	b := mir.NewModuleBuilder("copies")
	fb := b.Func("twice", []mir.Type{mir.TypeI64}, mir.TypeI64)
	fb.NewBlock()
	c1 := fb.Copy(fb.Param(0))
	c2 := fb.Copy(c1)
	fb.Ret(fb.Binary(mir.OpAdd, c2, c2))
	m := b.Build()

	ForLevel(O2).RunModule(m)
	f := m.Functions[0]
	if f.InstCount() != 1 {
		t.Errorf("InstCount = %d, want 1", f.InstCount())
	}
	if got := exec(t, m, "twice", mir.I64(21)); got.Int() != 42 {
		t.Errorf("twice(21) = %v", got)
	}
}

// TestKeepTrappingOps 除零不折叠也不删除
func TestKeepTrappingOps(t *testing.T) {
	b := mir.NewModuleBuilder("trap")
	fb := b.Func("trap", nil, mir.TypeI32)
	fb.NewBlock()
	fb.Binary(mir.OpDiv, fb.Const(mir.I32(1)), fb.Const(mir.I32(0)))
	fb.Ret(fb.Const(mir.I32(7)))
	m := b.Build()

	ForLevel(O3).RunModule(m)
	found := false
	for _, in := range m.Functions[0].Blocks[0].Insts {
		if in.Op == mir.OpDiv {
			found = true
		}
	}
	if !found {
		t.Fatal("div was removed")
	}
	f, _ := m.Lookup("trap")
	_, err := interp.New().Execute(context.Background(), m, f.ID, nil)
	if interp.KindOf(err) != interp.DivideByZero {
		t.Errorf("err = %v, want division by zero", err)
	}
}

// TestSwitchFold 常量 switch 选中对应分支
func TestSwitchFold(t *testing.T) {
	m := mir.SampleModule()
	cls, _ := m.Lookup("classify")
	f := cls.Clone()
	// 把参数替换为常量 2
	entry := f.Block(f.Entry)
	k := mir.Reg(len(f.RegTypes))
	f.RegTypes = append(f.RegTypes, mir.TypeI32)
	entry.Insts = append([]mir.Inst{{Op: mir.OpConst, Dest: k, Type: mir.TypeI32, Const: mir.I32(2)}}, entry.Insts...)
	if entry.Term.Kind != mir.TermSwitch {
		t.Fatalf("classify entry ends in %s", entry.Term.Kind)
	}
	entry.Term.Cond = k

	want := exec(t, m, "classify", mir.I32(2))
	ForLevel(O3).RunFunction(f)
	if f.Block(f.Entry).Term.Kind == mir.TermSwitch {
		t.Error("switch was not folded")
	}
	m.Functions[cls.ID] = f
	for _, arg := range []int32{0, 2, 9} {
		if got := exec(t, m, "classify", mir.I32(arg)); !got.Equal(want) {
			t.Errorf("classify(%d) = %v, want %v", arg, got, want)
		}
	}
}

// TestSamplesEquivalent 优化后的样例与原模块结果一致
func TestSamplesEquivalent(t *testing.T) {
	orig := mir.SampleModule()
	for _, level := range []Level{O1, O2, O3} {
		m := orig.Clone()
		ForLevel(level).RunModule(m)
		if err := mir.Verify(m); err != nil {
			t.Fatalf("%s: Verify: %v", level, err)
		}
		cases := []struct {
			name string
			args []mir.Value
		}{
			{"add", []mir.Value{mir.I32(5), mir.I32(3)}},
			{"max", []mir.Value{mir.I32(-4), mir.I32(9)}},
			{"mul", []mir.Value{mir.I64(6), mir.I64(7)}},
			{"sum_to", []mir.Value{mir.I64(100)}},
			{"fib", []mir.Value{mir.I64(12)}},
			{"classify", []mir.Value{mir.I32(1)}},
			{"classify", []mir.Value{mir.I32(5)}},
			{"main", nil},
		}
		for _, c := range cases {
			want := exec(t, orig, c.name, c.args...)
			if got := exec(t, m, c.name, c.args...); !got.Equal(want) {
				t.Errorf("%s: %s%v = %v, want %v", level, c.name, c.args, got, want)
			}
		}
	}
}
