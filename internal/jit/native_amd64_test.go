//go:build amd64 && linux

package jit

import (
	"bytes"
	"context"
	"testing"

	"github.com/tangzhangming/mirjit/internal/interp"
	"github.com/tangzhangming/mirjit/internal/mir"
)

// install 编译并安装一组函数，返回入口地址
func install(t *testing.T, mgr *Manager, m *mir.Module, names ...string) map[string]*CompiledCode {
	t.Helper()
	out := make(map[string]*CompiledCode)
	batch, err := mgr.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	defer batch.EndWrite()
	for _, name := range names {
		f, _ := m.Lookup(name)
		code, err := NewX64Backend().Compile(f, m, nil)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		if _, err := batch.AllocateFunction(name, code.Code); err != nil {
			t.Fatal(err)
		}
		out[name] = code
	}
	return out
}

func TestNativeMatchesInterpreter(t *testing.T) {
	mgr := NewManager(NewNativeMemory(), 0)
	defer mgr.Close()
	m := mir.SampleModule()
	compiled := install(t, mgr, m, "add", "max", "mul", "sum_to", "classify")
	in := interp.New()

	cases := []struct {
		name string
		args []mir.Value
	}{
		{"add", []mir.Value{mir.I32(40), mir.I32(2)}},
		{"add", []mir.Value{mir.I32(2147483647), mir.I32(1)}},
		{"max", []mir.Value{mir.I32(-5), mir.I32(3)}},
		{"max", []mir.Value{mir.I32(7), mir.I32(7)}},
		{"mul", []mir.Value{mir.I64(-6), mir.I64(7)}},
		{"sum_to", []mir.Value{mir.I64(10)}},
		{"sum_to", []mir.Value{mir.I64(0)}},
		{"sum_to", []mir.Value{mir.I64(1000)}},
		{"classify", []mir.Value{mir.I32(1)}},
		{"classify", []mir.Value{mir.I32(2)}},
		{"classify", []mir.Value{mir.I32(99)}},
	}
	for _, c := range cases {
		f, _ := m.Lookup(c.name)
		want, err := in.Execute(context.Background(), m, f.ID, c.args)
		if err != nil {
			t.Fatal(err)
		}
		entry, ok := mgr.GetFunction(c.name)
		if !ok {
			t.Fatalf("%s not installed", c.name)
		}
		got, err := TrampolineInvoker{}.Invoke(entry, compiled[c.name].Conv, c.args)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(want) {
			t.Errorf("%s%v: native %v, interpreter %v", c.name, c.args, got, want)
		}
	}
}

func TestNativeNarrowIntegers(t *testing.T) {
	b := mir.NewModuleBuilder("narrow")
	addI8 := b.Func("add_i8", []mir.Type{mir.TypeI8, mir.TypeI8}, mir.TypeI8)
	addI8.NewBlock()
	addI8.Ret(addI8.Binary(mir.OpAdd, addI8.Param(0), addI8.Param(1)))
	shrU8 := b.Func("shr_u8", []mir.Type{mir.TypeU8, mir.TypeU8}, mir.TypeU8)
	shrU8.NewBlock()
	shrU8.Ret(shrU8.Binary(mir.OpShr, shrU8.Param(0), shrU8.Param(1)))
	sel := b.Func("pick", []mir.Type{mir.TypeU32, mir.TypeU32}, mir.TypeU32)
	sel.NewBlock()
	sel.Ret(sel.Select(sel.Compare(mir.OpULt, sel.Param(0), sel.Param(1)), sel.Param(0), sel.Param(1)))
	widen := b.Func("widen", []mir.Type{mir.TypeI16}, mir.TypeU32)
	widen.NewBlock()
	widen.Ret(widen.Cast(mir.TypeU32, widen.Param(0)))
	m := b.Build()

	mgr := NewManager(NewNativeMemory(), 0)
	defer mgr.Close()
	compiled := install(t, mgr, m, "add_i8", "shr_u8", "pick", "widen")
	in := interp.New()

	cases := []struct {
		name string
		args []mir.Value
	}{
		{"add_i8", []mir.Value{mir.I8(100), mir.I8(100)}},
		{"add_i8", []mir.Value{mir.I8(-128), mir.I8(-1)}},
		{"shr_u8", []mir.Value{mir.U8(0x80), mir.U8(9)}},
		{"pick", []mir.Value{mir.U32(0xFFFFFFFF), mir.U32(1)}},
		{"pick", []mir.Value{mir.U32(3), mir.U32(4)}},
		{"widen", []mir.Value{mir.I16(-2)}},
	}
	for _, c := range cases {
		f, _ := m.Lookup(c.name)
		want, err := in.Execute(context.Background(), m, f.ID, c.args)
		if err != nil {
			t.Fatal(err)
		}
		entry, _ := mgr.GetFunction(c.name)
		got, err := TrampolineInvoker{}.Invoke(entry, compiled[c.name].Conv, c.args)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(want) {
			t.Errorf("%s%v: native %v, interpreter %v", c.name, c.args, got, want)
		}
	}
}

// 两个 2048 字节的函数共用一个区域，第三个落在新区域，三者都能执行
func TestNativeRegionGrowth(t *testing.T) {
	mem := NewNativeMemory()
	if mem.PageSize() != 4096 {
		t.Skipf("page size %d", mem.PageSize())
	}
	mgr := NewManager(mem, 4096)
	defer mgr.Close()
	m := mir.SampleModule()
	f, _ := m.Lookup("add")
	code, err := NewX64Backend().Compile(f, m, nil)
	if err != nil {
		t.Fatal(err)
	}
	padded := append(append([]byte(nil), code.Code...), bytes.Repeat([]byte{0xCC}, 2048-len(code.Code))...)

	var entries []uintptr
	batch, _ := mgr.BeginWrite()
	for _, name := range []string{"a", "b"} {
		addr, err := batch.AllocateFunction(name, padded)
		if err != nil {
			t.Fatal(err)
		}
		entries = append(entries, addr)
	}
	batch.EndWrite()

	batch, _ = mgr.BeginWrite()
	addr, err := batch.AllocateFunction("c", padded)
	if err != nil {
		t.Fatal(err)
	}
	batch.EndWrite()
	entries = append(entries, addr)

	if st := mgr.Stats(); st.Regions != 2 {
		t.Errorf("regions = %d, want 2", st.Regions)
	}
	for i, e := range entries {
		got, err := TrampolineInvoker{}.Invoke(e, code.Conv, []mir.Value{mir.I32(int32(i)), mir.I32(10)})
		if err != nil {
			t.Fatal(err)
		}
		if got.Int() != int64(i+10) {
			t.Errorf("function %d returned %v", i, got)
		}
	}
}
