//go:build windows

// codemem_windows.go - Windows 代码内存
//
// VirtualAlloc 提交 PAGE_READWRITE 页，写完后 VirtualProtect 为
// PAGE_EXECUTE_READ，并调用 FlushInstructionCache。

package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

type virtualMemory struct {
	page int
}

// NewNativeMemory 返回当前平台的代码内存
func NewNativeMemory() CodeMemory {
	return &virtualMemory{page: windows.Getpagesize()}
}

func (m *virtualMemory) PageSize() int    { return m.page }
func (m *virtualMemory) Executable() bool { return nativeCallSupported }

func (m *virtualMemory) Allocate(size int) (uintptr, error) {
	size = roundUp(size, m.page)
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("VirtualAlloc failed: %w", err)
	}
	return addr, nil
}

// Write 地址来自 VirtualAlloc，不在 Go 堆上
func (m *virtualMemory) Write(addr uintptr, code []byte) error {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(code)), code)
	return nil
}

func (m *virtualMemory) protect(addr uintptr, size int, prot uint32) error {
	if size == 0 {
		return nil
	}
	var old uint32
	return windows.VirtualProtect(addr, uintptr(size), prot, &old)
}

func (m *virtualMemory) BeginWrite(addr uintptr, size int) error {
	if err := m.protect(addr, size, windows.PAGE_READWRITE); err != nil {
		return fmt.Errorf("VirtualProtect rw failed: %w", err)
	}
	return nil
}

func (m *virtualMemory) EndWrite(addr uintptr, size int) error {
	if err := m.protect(addr, size, windows.PAGE_EXECUTE_READ); err != nil {
		return fmt.Errorf("VirtualProtect rx failed: %w", err)
	}
	return nil
}

func (m *virtualMemory) InvalidateICache(addr uintptr, size int) {
	procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, uintptr(size))
}

func (m *virtualMemory) Release(addr uintptr, size int) error {
	if err := windows.VirtualFree(addr, 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("VirtualFree failed: %w", err)
	}
	return nil
}
