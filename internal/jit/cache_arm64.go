//go:build arm64

// cache_arm64.go - ARM64 缓存维护
//
// 数据缓存和指令缓存不一致：写入机器码后必须把数据缓存行清到
// 统一层（DC CVAU），再使指令缓存行失效（IC IVAU），最后 DSB + ISB。

package jit

import (
	"runtime"
	"sync"
)

// memoryBarrier 完整内存屏障（DSB SY）
func memoryBarrier()

// readCTR 读取 CTR_EL0
func readCTR() uint64

// flushICache 按给定行大小清理 [addr, addr+size)
func flushICache(addr, size, dline, iline uintptr)

var (
	lineOnce sync.Once
	dLine    uintptr
	iLine    uintptr
)

func cacheLines() (uintptr, uintptr) {
	lineOnce.Do(func() {
		if runtime.GOOS == "darwin" {
			// Apple 芯片固定 64 字节行
			dLine, iLine = 64, 64
			return
		}
		ctr := readCTR()
		dLine = 4 << ((ctr >> 16) & 0xf)
		iLine = 4 << (ctr & 0xf)
	})
	return dLine, iLine
}

func invalidateICache(addr uintptr, size int) {
	if size <= 0 {
		return
	}
	d, i := cacheLines()
	flushICache(addr, uintptr(size), d, i)
}
