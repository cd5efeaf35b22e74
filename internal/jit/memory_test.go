package jit

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func fill(n int, b byte) []byte { return bytes.Repeat([]byte{b}, n) }

func TestManagerRegionReuseAndGrowth(t *testing.T) {
	mem := NewHeapMemory(4096)
	m := NewManager(mem, 4096)
	defer m.Close()

	batch, err := m.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	a, err := batch.AllocateFunction("a", fill(2048, 0xC3))
	if err != nil {
		t.Fatal(err)
	}
	b, err := batch.AllocateFunction("b", fill(2048, 0xC3))
	if err != nil {
		t.Fatal(err)
	}
	if b != a+2048 {
		t.Errorf("b = %#x, want %#x", b, a+2048)
	}
	if _, ok := m.GetFunction("a"); ok {
		t.Error("function visible before EndWrite")
	}
	if err := batch.EndWrite(); err != nil {
		t.Fatal(err)
	}
	if st := m.Stats(); st.Regions != 1 || st.Functions != 2 {
		t.Errorf("stats after first batch = %+v", st)
	}

	batch, err = m.BeginWrite()
	if err != nil {
		t.Fatal(err)
	}
	c, err := batch.AllocateFunction("c", fill(2048, 0xC3))
	if err != nil {
		t.Fatal(err)
	}
	if err := batch.EndWrite(); err != nil {
		t.Fatal(err)
	}
	if c >= a && c < a+4096 {
		t.Errorf("c = %#x landed inside the first region", c)
	}
	st := m.Stats()
	if st.Regions != 2 || st.Functions != 3 || st.Batches != 2 {
		t.Errorf("stats = %+v", st)
	}

	// 前两个函数的地址和内容不受影响
	for name, want := range map[string]uintptr{"a": a, "b": b, "c": c} {
		got, ok := m.GetFunction(name)
		if !ok || got != want {
			t.Errorf("GetFunction(%s) = %#x, %v; want %#x", name, got, ok, want)
		}
	}
	got, err := mem.Bytes(a, 2048)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, fill(2048, 0xC3)) {
		t.Error("code of a changed")
	}
}

func TestManagerSealsPages(t *testing.T) {
	mem := NewHeapMemory(4096)
	m := NewManager(mem, 16384)
	defer m.Close()

	batch, _ := m.BeginWrite()
	f1, err := batch.AllocateFunction("f1", fill(100, 0x90))
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := mem.ProtectionAt(f1); p != ProtRW {
		t.Errorf("page of f1 during write = %v, want RW", p)
	}
	batch.EndWrite()
	if p, _ := mem.ProtectionAt(f1); p != ProtRX {
		t.Errorf("page of f1 after EndWrite = %v, want RX", p)
	}

	batch, _ = m.BeginWrite()
	f2, err := batch.AllocateFunction("f2", fill(100, 0x90))
	if err != nil {
		t.Fatal(err)
	}
	if f2 != f1+4096 {
		t.Errorf("f2 = %#x, want next page %#x", f2, f1+4096)
	}
	if p, _ := mem.ProtectionAt(f1); p != ProtRX {
		t.Error("sealed page became writable again")
	}
	if p, _ := mem.ProtectionAt(f2); p != ProtRW {
		t.Error("page of f2 is not writable during write")
	}
	batch.EndWrite()
	if p, _ := mem.ProtectionAt(f2); p != ProtRX {
		t.Error("page of f2 not sealed")
	}
	if mem.Flushes() != 2 {
		t.Errorf("icache flushes = %d, want 2", mem.Flushes())
	}
}

func TestManagerAlignment(t *testing.T) {
	m := NewManager(NewHeapMemory(4096), 0)
	defer m.Close()
	batch, _ := m.BeginWrite()
	a, _ := batch.AllocateFunction("a", []byte{0xC3, 0x90, 0x90, 0x90, 0x90})
	b, _ := batch.AllocateFunction("b", []byte{0xC3})
	batch.Finalize()
	if a%FunctionAlign != 0 || b%FunctionAlign != 0 {
		t.Errorf("addresses %#x %#x not %d-byte aligned", a, b, FunctionAlign)
	}
	if b-a != 16 {
		t.Errorf("b-a = %d, want 16", b-a)
	}
	if st := m.Stats(); st.Reserved != DefaultRegionSize {
		t.Errorf("reserved = %d, want %d", st.Reserved, DefaultRegionSize)
	}
}

func TestManagerLookup(t *testing.T) {
	m := NewManager(NewHeapMemory(4096), 8192)
	defer m.Close()
	batch, _ := m.BeginWrite()
	a, _ := batch.AllocateFunction("a", fill(40, 0xC3))
	b, _ := batch.AllocateFunction("b", fill(64, 0xC3))
	batch.EndWrite()

	if s, ok := m.Lookup(a + 10); !ok || s.Name != "a" {
		t.Errorf("Lookup(a+10) = %+v, %v", s, ok)
	}
	if s, ok := m.Lookup(b); !ok || s.Name != "b" {
		t.Errorf("Lookup(b) = %+v, %v", s, ok)
	}
	// a 与 b 之间的对齐填充不属于任何函数
	if b != a+48 {
		t.Fatalf("b = a+%d, want a+48", b-a)
	}
	if _, ok := m.Lookup(a + 40); ok {
		t.Error("padding resolved to a function")
	}
	if _, ok := m.Lookup(0); ok {
		t.Error("Lookup(0) found a function")
	}
	if syms := m.Symbols(); len(syms) != 2 || syms[0].Name != "a" {
		t.Errorf("Symbols() = %+v", syms)
	}
}

func TestManagerSameNameReplaced(t *testing.T) {
	m := NewManager(NewHeapMemory(4096), 8192)
	defer m.Close()
	for i := 0; i < 2; i++ {
		batch, _ := m.BeginWrite()
		batch.AllocateFunction("f", fill(32, 0xC3))
		batch.EndWrite()
	}
	addr, _ := m.GetFunction("f")
	syms := m.Symbols()
	if len(syms) != 2 || addr != syms[1].Addr {
		t.Errorf("GetFunction(f) = %#x, symbols %+v", addr, syms)
	}
}

func TestManagerMemoryError(t *testing.T) {
	mem := NewHeapMemory(4096)
	mem.SetLimit(4096)
	m := NewManager(mem, 4096)
	defer m.Close()

	batch, _ := m.BeginWrite()
	if _, err := batch.AllocateFunction("a", fill(2048, 0xC3)); err != nil {
		t.Fatal(err)
	}
	_, err := batch.AllocateFunction("big", fill(4096, 0xC3))
	var merr *MemoryError
	if !errors.As(err, &merr) {
		t.Fatalf("err = %v, want MemoryError", err)
	}
	if merr.Size != 8192 {
		t.Errorf("requested region size = %d, want 8192", merr.Size)
	}
	batch.EndWrite()
	if _, ok := m.GetFunction("a"); !ok {
		t.Error("successful allocation of the batch was not published")
	}
}

func TestWriteBatchMisuse(t *testing.T) {
	m := NewManager(NewHeapMemory(4096), 0)
	batch, _ := m.BeginWrite()
	if _, err := batch.AllocateFunction("empty", nil); err == nil {
		t.Error("empty code accepted")
	}
	batch.EndWrite()
	if err := batch.EndWrite(); err != nil {
		t.Errorf("second EndWrite = %v", err)
	}
	if _, err := batch.AllocateFunction("late", []byte{0xC3}); err == nil {
		t.Error("allocation after EndWrite accepted")
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.BeginWrite(); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("BeginWrite after Close = %v", err)
	}
}

func TestHeapMemoryWrite(t *testing.T) {
	mem := NewHeapMemory(4096)
	a, err := mem.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	b, err := mem.Allocate(4096)
	if err != nil {
		t.Fatal(err)
	}
	if b < a+8192 {
		t.Errorf("blocks %#x and %#x have no gap", a, b)
	}

	if err := mem.Write(a+16, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	got, _ := mem.Bytes(a+16, 3)
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("Bytes = %v", got)
	}
	if err := mem.Write(a+4090, fill(10, 0x90)); err == nil {
		t.Error("write across the end of a block accepted")
	}

	if err := mem.EndWrite(a, 4096); err != nil {
		t.Fatal(err)
	}
	if err := mem.Write(a, []byte{0xC3}); err == nil {
		t.Error("write to a sealed page accepted")
	}
	if err := mem.Release(a, 4096); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.Bytes(a, 1); err == nil {
		t.Error("released block still readable")
	}
}

func TestManagerConcurrentBatches(t *testing.T) {
	mem := NewHeapMemory(4096)
	m := NewManager(mem, 8192)
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batch, err := m.BeginWrite()
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := batch.AllocateFunction(fmt.Sprintf("f%d", i), fill(300, byte(i))); err != nil {
				t.Error(err)
			}
			batch.EndWrite()
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		addr, ok := m.GetFunction(fmt.Sprintf("f%d", i))
		if !ok {
			t.Fatalf("f%d missing", i)
		}
		got, err := mem.Bytes(addr, 300)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, fill(300, byte(i))) {
			t.Errorf("code of f%d overwritten", i)
		}
	}
}
