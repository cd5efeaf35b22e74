// disasm.go - 机器码反汇编（调试输出）

package jit

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// DisassembleX64 反汇编 x86-64 机器码，每行一条指令
func DisassembleX64(code []byte) string {
	var sb strings.Builder
	offset := 0
	for offset < len(code) {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			sb.WriteString(fmt.Sprintf("0x%04x: db 0x%02x\n", offset, code[offset]))
			offset++
			continue
		}
		hexBytes := make([]string, 0, inst.Len)
		for i := 0; i < inst.Len; i++ {
			hexBytes = append(hexBytes, fmt.Sprintf("%02x", code[offset+i]))
		}
		sb.WriteString(fmt.Sprintf("0x%04x: %-24s %s\n", offset, strings.Join(hexBytes, " "), inst.String()))
		offset += inst.Len
	}
	return sb.String()
}

// DecodeX64 把机器码解码为指令序列，遇到无法解码的字节时返回错误
func DecodeX64(code []byte) ([]x86asm.Inst, error) {
	var out []x86asm.Inst
	for offset := 0; offset < len(code); {
		inst, err := x86asm.Decode(code[offset:], 64)
		if err != nil {
			return out, fmt.Errorf("decode at 0x%04x: %w", offset, err)
		}
		out = append(out, inst)
		offset += inst.Len
	}
	return out, nil
}
