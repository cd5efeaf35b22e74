//go:build amd64

package jit

// memoryBarrier 完整内存屏障（MFENCE）
func memoryBarrier()

// invalidateICache x86-64 的指令缓存与数据缓存保持一致，无需操作
func invalidateICache(addr uintptr, size int) {}
