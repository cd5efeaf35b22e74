//go:build arm64 && !windows

package jit

const (
	nativeCallSupported = true
	maxIntArgs          = 8
)

// callNative 按 AAPCS64 调用 fn，实现在 bridge_arm64.s
//
//go:noescape
func callNative(fn uintptr, ints *[8]uint64, floats *[8]uint64, ret *[2]uint64)
