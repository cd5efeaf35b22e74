// bridge.go - 调用已安装的机器码
//
// Go 与生成代码之间通过汇编跳板 callNative 交接：跳板把参数数组
// 装入参数寄存器，切换到对齐的栈帧上调用入口地址，再把返回寄存器
// 写回 ret。生成的代码不会回调 Go，也不会触发栈增长。

package jit

import (
	"fmt"

	"github.com/tangzhangming/mirjit/internal/mir"
)

// NativeInvoker 调用机器码入口
type NativeInvoker interface {
	Invoke(entry uintptr, conv *CallConv, args []mir.Value) (mir.Value, error)
}

// TrampolineInvoker 通过汇编跳板直接调用
type TrampolineInvoker struct{}

// NativeSupported 当前平台能否直接执行生成的机器码
func NativeSupported() bool { return nativeCallSupported }

// Invoke 调用 entry 处的函数
func (TrampolineInvoker) Invoke(entry uintptr, conv *CallConv, args []mir.Value) (mir.Value, error) {
	if !nativeCallSupported {
		return mir.Value{}, ErrNativeUnsupported
	}
	if entry == 0 {
		return mir.Value{}, fmt.Errorf("invoke: nil entry")
	}
	var ints, floats [8]uint64
	var ret [2]uint64
	if err := conv.Marshal(args, &ints, &floats); err != nil {
		return mir.Value{}, err
	}
	callNative(entry, &ints, &floats, &ret)
	return conv.Unmarshal(ret), nil
}
