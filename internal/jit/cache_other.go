//go:build !amd64 && !arm64

package jit

import "sync/atomic"

var barrierWord atomic.Uint32

// memoryBarrier 没有专用指令时用原子读改写代替
func memoryBarrier() {
	barrierWord.Add(1)
}

func invalidateICache(addr uintptr, size int) {}
