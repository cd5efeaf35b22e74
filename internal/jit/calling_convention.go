// calling_convention.go - 原生调用约定
//
// 生成的代码使用平台 C 约定：
//   - System V AMD64：整数/指针/bool 参数依次放入 RDI, RSI, RDX, RCX, R8, R9，
//     浮点参数放入 XMM0-XMM7；整数返回 RAX，浮点返回 XMM0
//   - AAPCS64：整数参数 X0-X7，浮点参数 D0-D7；返回 X0 / D0
//
// f32 以 float32 位模式放在浮点寄存器的低 32 位。
// 超出寄存器数量的参数（需要栈传递）不支持。

package jit

import (
	"fmt"

	"github.com/tangzhangming/mirjit/internal/mir"
)

// MaxFloatArgs 浮点参数寄存器数量
const MaxFloatArgs = 8

// SystemV 参数寄存器（按顺序）
var sysVArgRegs = [...]X64Reg{RDI, RSI, RDX, RCX, R8, R9}

// ArgLoc 参数位置
type ArgLoc struct {
	Float bool // 是否使用浮点寄存器
	Index int  // 在对应寄存器组中的序号
}

// CallConv 一个签名的调用描述
type CallConv struct {
	Sig    mir.Signature
	Args   []ArgLoc
	Ints   int
	Floats int
}

// ConvFor 为签名计算参数位置
func ConvFor(sig mir.Signature) (*CallConv, error) {
	cc := &CallConv{Sig: sig, Args: make([]ArgLoc, len(sig.Params))}
	for i, t := range sig.Params {
		switch {
		case t.IsFloat():
			if cc.Floats >= MaxFloatArgs {
				return nil, fmt.Errorf("signature %s: more than %d float arguments", sig, MaxFloatArgs)
			}
			cc.Args[i] = ArgLoc{Float: true, Index: cc.Floats}
			cc.Floats++
		case t.IsIntLike():
			if cc.Ints >= maxIntArgs {
				return nil, fmt.Errorf("signature %s: more than %d integer arguments", sig, maxIntArgs)
			}
			cc.Args[i] = ArgLoc{Index: cc.Ints}
			cc.Ints++
		default:
			return nil, fmt.Errorf("signature %s: parameter %d has type %s", sig, i, t)
		}
	}
	return cc, nil
}

// Marshal 把参数放入寄存器数组
func (cc *CallConv) Marshal(args []mir.Value, ints *[8]uint64, floats *[8]uint64) error {
	if len(args) != len(cc.Args) {
		return fmt.Errorf("expected %d arguments, got %d", len(cc.Args), len(args))
	}
	for i, a := range args {
		if a.Type() != cc.Sig.Params[i] {
			return fmt.Errorf("argument %d: expected %s, got %s", i, cc.Sig.Params[i], a.Type())
		}
		loc := cc.Args[i]
		if loc.Float {
			floats[loc.Index] = a.Bits()
		} else {
			ints[loc.Index] = a.Bits()
		}
	}
	return nil
}

// Unmarshal 从返回寄存器构造返回值，ret[0] 为整数寄存器，ret[1] 为浮点寄存器
func (cc *CallConv) Unmarshal(ret [2]uint64) mir.Value {
	t := cc.Sig.Ret
	switch {
	case t == mir.TypeVoid:
		return mir.Void()
	case t.IsFloat():
		return mir.FromBits(t, ret[1])
	}
	return mir.FromBits(t, ret[0])
}
