//go:build !(amd64 || arm64) || windows

package jit

const (
	nativeCallSupported = false
	maxIntArgs          = 6
)

func callNative(fn uintptr, ints *[8]uint64, floats *[8]uint64, ret *[2]uint64) {
	panic(ErrNativeUnsupported)
}
