//go:build !unix && !windows

package jit

// NewNativeMemory 没有原生实现的平台退回到堆内存，代码不可执行
func NewNativeMemory() CodeMemory {
	return NewHeapMemory(4096)
}
