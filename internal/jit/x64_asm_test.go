package jit

import (
	"bytes"
	"testing"
)

func TestX64Encodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *X64Assembler)
		want []byte
	}{
		{"push rbp", func(a *X64Assembler) { a.Push(RBP) }, []byte{0x55}},
		{"push r12", func(a *X64Assembler) { a.Push(R12) }, []byte{0x41, 0x54}},
		{"mov rbp, rsp", func(a *X64Assembler) { a.MovRR(RBP, RSP) }, []byte{0x48, 0x89, 0xE5}},
		{"sub rsp, 16", func(a *X64Assembler) { a.SubRSP(16) }, []byte{0x48, 0x81, 0xEC, 0x10, 0, 0, 0}},
		{"mov rax, [rbp-8]", func(a *X64Assembler) { a.Load(RAX, -8) }, []byte{0x48, 0x8B, 0x85, 0xF8, 0xFF, 0xFF, 0xFF}},
		{"mov [rbp-16], rcx", func(a *X64Assembler) { a.Store(-16, RCX) }, []byte{0x48, 0x89, 0x8D, 0xF0, 0xFF, 0xFF, 0xFF}},
		{"imul rax, rcx", func(a *X64Assembler) { a.Imul(RAX, RCX) }, []byte{0x48, 0x0F, 0xAF, 0xC1}},
		{"movsxd rax, eax", func(a *X64Assembler) { a.Movsxd(RAX, RAX) }, []byte{0x48, 0x63, 0xC0}},
		{"movsx rdi, dil", func(a *X64Assembler) { a.Movsx8(RDI, RDI) }, []byte{0x48, 0x0F, 0xBE, 0xFF}},
		{"movzx r8, r8w", func(a *X64Assembler) { a.Movzx16(R8, R8) }, []byte{0x4D, 0x0F, 0xB7, 0xC0}},
		{"mov eax, eax", func(a *X64Assembler) { a.Mov32(RAX, RAX) }, []byte{0x8B, 0xC0}},
		{"mov r9d, r9d", func(a *X64Assembler) { a.Mov32(R9, R9) }, []byte{0x45, 0x8B, 0xC9}},
		{"setl al", func(a *X64Assembler) { a.Setcc(CondL, RAX) }, []byte{0x0F, 0x9C, 0xC0}},
		{"cmovne rdx, rcx", func(a *X64Assembler) { a.Cmov(CondNE, RDX, RCX) }, []byte{0x48, 0x0F, 0x45, 0xD1}},
		{"and rcx, 31", func(a *X64Assembler) { a.AndImm8(RCX, 31) }, []byte{0x48, 0x83, 0xE1, 0x1F}},
		{"sar rax, cl", func(a *X64Assembler) { a.SarCL(RAX) }, []byte{0x48, 0xD3, 0xF8}},
		{"cmp rax, rcx", func(a *X64Assembler) { a.Cmp(RAX, RCX) }, []byte{0x48, 0x39, 0xC8}},
		{"add rax, rcx", func(a *X64Assembler) { a.Add(RAX, RCX) }, []byte{0x48, 0x01, 0xC8}},
		{"neg rax", func(a *X64Assembler) { a.Neg(RAX) }, []byte{0x48, 0xF7, 0xD8}},
		{"mov rcx, imm64", func(a *X64Assembler) { a.MovImm(RCX, 1) }, []byte{0x48, 0xB9, 1, 0, 0, 0, 0, 0, 0, 0}},
	}
	for _, tt := range tests {
		a := NewX64Assembler()
		tt.emit(a)
		got, err := a.Finish()
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if !bytes.Equal(got, tt.want) {
			t.Errorf("%s: got % x, want % x", tt.name, got, tt.want)
		}
	}
}

func TestX64Labels(t *testing.T) {
	a := NewX64Assembler()
	fwd := a.NewLabel()
	a.Jmp(fwd)
	a.Ud2()
	a.Bind(fwd)
	a.Ret()
	got, _ := a.Finish()
	want := []byte{0xE9, 0x02, 0, 0, 0, 0x0F, 0x0B, 0xC3}
	if !bytes.Equal(got, want) {
		t.Errorf("forward jump: got % x, want % x", got, want)
	}

	a = NewX64Assembler()
	back := a.NewLabel()
	a.Bind(back)
	a.Ret()
	a.Ret()
	a.Jcc(CondE, back)
	got, _ = a.Finish()
	want = []byte{0xC3, 0xC3, 0x0F, 0x84, 0xF8, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Errorf("backward jcc: got % x, want % x", got, want)
	}

	a = NewX64Assembler()
	a.Jmp(a.NewLabel())
	if _, err := a.Finish(); err == nil {
		t.Error("unbound label accepted")
	}
}
