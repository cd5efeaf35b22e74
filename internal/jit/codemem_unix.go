//go:build unix

// codemem_unix.go - Unix/Linux/macOS 代码内存
//
// mmap 分配匿名私有页（RW），写完后 mprotect 为 RX。

package jit

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

type mmapMemory struct {
	page int

	mu   sync.Mutex
	maps map[uintptr][]byte
}

// NewNativeMemory 返回当前平台的代码内存
func NewNativeMemory() CodeMemory {
	return &mmapMemory{
		page: unix.Getpagesize(),
		maps: make(map[uintptr][]byte),
	}
}

func (m *mmapMemory) PageSize() int    { return m.page }
func (m *mmapMemory) Executable() bool { return nativeCallSupported }

func (m *mmapMemory) Allocate(size int) (uintptr, error) {
	size = roundUp(size, m.page)
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, fmt.Errorf("mmap failed: %w", err)
	}
	base := uintptr(unsafe.Pointer(&b[0]))
	m.mu.Lock()
	m.maps[base] = b
	m.mu.Unlock()
	return base, nil
}

// slice 返回映射中 [addr, addr+size) 对应的切片
func (m *mmapMemory) slice(addr uintptr, size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for base, b := range m.maps {
		if addr >= base && addr+uintptr(size) <= base+uintptr(len(b)) {
			off := int(addr - base)
			return b[off : off+size], nil
		}
	}
	return nil, fmt.Errorf("range %#x+%d is outside every mapping", addr, size)
}

func (m *mmapMemory) Write(addr uintptr, code []byte) error {
	dst, err := m.slice(addr, len(code))
	if err != nil {
		return err
	}
	copy(dst, code)
	return nil
}

func (m *mmapMemory) BeginWrite(addr uintptr, size int) error {
	if size == 0 {
		return nil
	}
	b, err := m.slice(addr, size)
	if err != nil {
		return err
	}
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("mprotect rw failed: %w", err)
	}
	return nil
}

func (m *mmapMemory) EndWrite(addr uintptr, size int) error {
	if size == 0 {
		return nil
	}
	b, err := m.slice(addr, size)
	if err != nil {
		return err
	}
	if err := unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect rx failed: %w", err)
	}
	return nil
}

func (m *mmapMemory) InvalidateICache(addr uintptr, size int) {
	invalidateICache(addr, size)
}

func (m *mmapMemory) Release(addr uintptr, size int) error {
	m.mu.Lock()
	b, ok := m.maps[addr]
	delete(m.maps, addr)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("munmap of unknown mapping %#x", addr)
	}
	if err := unix.Munmap(b); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}
	return nil
}
