// x64_asm.go - x86-64 汇编器
//
// 只覆盖基线后端用到的指令。x86-64 指令编码格式：
// [前缀] [REX] [操作码] [ModR/M] [SIB] [位移] [立即数]
//
// REX 前缀：用于扩展寄存器和操作数大小
// - REX.W: 64 位操作数
// - REX.R: 扩展 ModR/M.reg 字段
// - REX.B: 扩展 ModR/M.r/m 字段

package jit

import (
	"encoding/binary"
	"fmt"
)

// X64Reg x86-64 寄存器
type X64Reg int

const (
	RAX X64Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var x64RegNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r X64Reg) String() string {
	if r >= 0 && int(r) < len(x64RegNames) {
		return x64RegNames[r]
	}
	return "???"
}

func (r X64Reg) ext() bool  { return r >= R8 }
func (r X64Reg) low() byte  { return byte(r) & 7 }
func (r X64Reg) extB() byte { return byte(r>>3) & 1 }

// Cond 条件码（jcc/setcc/cmovcc 操作码的低 4 位）
type Cond byte

const (
	CondB  Cond = 0x2 // 无符号 <
	CondAE Cond = 0x3 // 无符号 >=
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6 // 无符号 <=
	CondA  Cond = 0x7 // 无符号 >
	CondL  Cond = 0xC // 有符号 <
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

// Label 代码位置标签
type Label int

type x64Fixup struct {
	at    int // rel32 字段的偏移
	label Label
}

// X64Assembler x86-64 汇编器
type X64Assembler struct {
	code   []byte
	labels []int // 标签 -> 代码偏移，-1 表示未绑定
	fixups []x64Fixup
}

// NewX64Assembler 创建汇编器
func NewX64Assembler() *X64Assembler {
	return &X64Assembler{code: make([]byte, 0, 256)}
}

// Len 当前代码长度
func (a *X64Assembler) Len() int { return len(a.code) }

// NewLabel 分配未绑定的标签
func (a *X64Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Bind 把标签绑定到当前位置
func (a *X64Assembler) Bind(l Label) {
	a.labels[l] = len(a.code)
}

// Finish 回填跳转偏移并返回机器码
func (a *X64Assembler) Finish() ([]byte, error) {
	for _, f := range a.fixups {
		target := a.labels[f.label]
		if target < 0 {
			return nil, fmt.Errorf("x64: label %d is never bound", f.label)
		}
		rel := int32(target - (f.at + 4))
		binary.LittleEndian.PutUint32(a.code[f.at:], uint32(rel))
	}
	return a.code, nil
}

// ============================================================================
// 底层编码
// ============================================================================

func (a *X64Assembler) emit(b ...byte) { a.code = append(a.code, b...) }

func (a *X64Assembler) emitU32(v uint32) {
	a.code = binary.LittleEndian.AppendUint32(a.code, v)
}

func (a *X64Assembler) emitU64(v uint64) {
	a.code = binary.LittleEndian.AppendUint64(a.code, v)
}

// rexW 64 位操作数的 REX 前缀
func rexW(reg, rm X64Reg) byte {
	return 0x48 | reg.extB()<<2 | rm.extB()
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | rm&7
}

// rr 寄存器-寄存器形式：REX.W op... ModR/M(11, reg, rm)
func (a *X64Assembler) rr(reg, rm X64Reg, op ...byte) {
	a.emit(rexW(reg, rm))
	a.emit(op...)
	a.emit(modrm(3, reg.low(), rm.low()))
}

// extOp 带操作码扩展的单操作数形式：REX.W op /n
func (a *X64Assembler) extOp(n byte, rm X64Reg, op ...byte) {
	a.emit(rexW(0, rm))
	a.emit(op...)
	a.emit(modrm(3, n, rm.low()))
}

// ============================================================================
// 栈帧
// ============================================================================

// Push push reg
func (a *X64Assembler) Push(r X64Reg) {
	if r.ext() {
		a.emit(0x41)
	}
	a.emit(0x50 + r.low())
}

// Pop pop reg
func (a *X64Assembler) Pop(r X64Reg) {
	if r.ext() {
		a.emit(0x41)
	}
	a.emit(0x58 + r.low())
}

// SubRSP sub rsp, imm32
func (a *X64Assembler) SubRSP(n int32) {
	a.emit(0x48, 0x81, modrm(3, 5, RSP.low()))
	a.emitU32(uint32(n))
}

// Ret ret
func (a *X64Assembler) Ret() { a.emit(0xC3) }

// Ud2 ud2
func (a *X64Assembler) Ud2() { a.emit(0x0F, 0x0B) }

// ============================================================================
// 数据移动
// ============================================================================

// MovRR mov dst, src
func (a *X64Assembler) MovRR(dst, src X64Reg) { a.rr(src, dst, 0x89) }

// MovImm mov reg, imm64
func (a *X64Assembler) MovImm(r X64Reg, imm uint64) {
	a.emit(rexW(0, r), 0xB8+r.low())
	a.emitU64(imm)
}

// Load mov reg, [rbp+disp32]
func (a *X64Assembler) Load(r X64Reg, disp int32) {
	a.emit(rexW(r, RBP), 0x8B, modrm(2, r.low(), RBP.low()))
	a.emitU32(uint32(disp))
}

// Store mov [rbp+disp32], reg
func (a *X64Assembler) Store(disp int32, r X64Reg) {
	a.emit(rexW(r, RBP), 0x89, modrm(2, r.low(), RBP.low()))
	a.emitU32(uint32(disp))
}

// Movsx8 movsx dst, src8
func (a *X64Assembler) Movsx8(dst, src X64Reg) { a.rr(dst, src, 0x0F, 0xBE) }

// Movsx16 movsx dst, src16
func (a *X64Assembler) Movsx16(dst, src X64Reg) { a.rr(dst, src, 0x0F, 0xBF) }

// Movsxd movsxd dst, src32
func (a *X64Assembler) Movsxd(dst, src X64Reg) { a.rr(dst, src, 0x63) }

// Movzx8 movzx dst, src8
func (a *X64Assembler) Movzx8(dst, src X64Reg) { a.rr(dst, src, 0x0F, 0xB6) }

// Movzx16 movzx dst, src16
func (a *X64Assembler) Movzx16(dst, src X64Reg) { a.rr(dst, src, 0x0F, 0xB7) }

// Mov32 mov dst32, src32（高 32 位清零）
func (a *X64Assembler) Mov32(dst, src X64Reg) {
	if dst.ext() || src.ext() {
		a.emit(0x40 | dst.extB()<<2 | src.extB())
	}
	a.emit(0x8B, modrm(3, dst.low(), src.low()))
}

// ============================================================================
// 算术与逻辑
// ============================================================================

func (a *X64Assembler) Add(dst, src X64Reg) { a.rr(src, dst, 0x01) }
func (a *X64Assembler) Sub(dst, src X64Reg) { a.rr(src, dst, 0x29) }
func (a *X64Assembler) And(dst, src X64Reg) { a.rr(src, dst, 0x21) }
func (a *X64Assembler) Or(dst, src X64Reg)  { a.rr(src, dst, 0x09) }
func (a *X64Assembler) Xor(dst, src X64Reg) { a.rr(src, dst, 0x31) }
func (a *X64Assembler) Cmp(x, y X64Reg)     { a.rr(y, x, 0x39) }
func (a *X64Assembler) Test(x, y X64Reg)    { a.rr(y, x, 0x85) }

// Imul imul dst, src
func (a *X64Assembler) Imul(dst, src X64Reg) { a.rr(dst, src, 0x0F, 0xAF) }

// AndImm8 and reg, imm8（符号扩展）
func (a *X64Assembler) AndImm8(r X64Reg, imm int8) {
	a.extOp(4, r, 0x83)
	a.emit(byte(imm))
}

// XorImm8 xor reg, imm8（符号扩展）
func (a *X64Assembler) XorImm8(r X64Reg, imm int8) {
	a.extOp(6, r, 0x83)
	a.emit(byte(imm))
}

// Neg neg reg
func (a *X64Assembler) Neg(r X64Reg) { a.extOp(3, r, 0xF7) }

// Not not reg
func (a *X64Assembler) Not(r X64Reg) { a.extOp(2, r, 0xF7) }

// ShlCL shl reg, cl
func (a *X64Assembler) ShlCL(r X64Reg) { a.extOp(4, r, 0xD3) }

// ShrCL shr reg, cl
func (a *X64Assembler) ShrCL(r X64Reg) { a.extOp(5, r, 0xD3) }

// SarCL sar reg, cl
func (a *X64Assembler) SarCL(r X64Reg) { a.extOp(7, r, 0xD3) }

// Setcc setcc reg8；只用于 rax/rcx/rdx/rbx，不需要 REX
func (a *X64Assembler) Setcc(c Cond, r X64Reg) {
	a.emit(0x0F, 0x90+byte(c), modrm(3, 0, r.low()))
}

// Cmov cmovcc dst, src
func (a *X64Assembler) Cmov(c Cond, dst, src X64Reg) { a.rr(dst, src, 0x0F, 0x40+byte(c)) }

// ============================================================================
// 跳转
// ============================================================================

// Jmp jmp rel32
func (a *X64Assembler) Jmp(l Label) {
	a.emit(0xE9)
	a.fixup(l)
}

// Jcc jcc rel32
func (a *X64Assembler) Jcc(c Cond, l Label) {
	a.emit(0x0F, 0x80+byte(c))
	a.fixup(l)
}

func (a *X64Assembler) fixup(l Label) {
	a.fixups = append(a.fixups, x64Fixup{at: len(a.code), label: l})
	a.emitU32(0)
}
