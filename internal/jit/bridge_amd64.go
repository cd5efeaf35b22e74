//go:build amd64 && !windows

package jit

const (
	nativeCallSupported = true
	maxIntArgs          = 6
)

// callNative 按 System V 约定调用 fn，实现在 bridge_amd64.s
//
//go:noescape
func callNative(fn uintptr, ints *[8]uint64, floats *[8]uint64, ret *[2]uint64)
