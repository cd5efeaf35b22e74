// codemem.go - 代码内存抽象
//
// CodeMemory 把平台相关的页分配和权限切换封装起来：
//
//	Allocate          分配可读写（不可执行）的页
//	BeginWrite        使一段页可写
//	EndWrite          使一段页只读可执行
//	InvalidateICache  使指令缓存中的旧内容失效
//
// Manager 只依赖这个接口。unix 使用 mmap/mprotect，windows 使用
// VirtualAlloc/VirtualProtect，HeapMemory 使用 Go 切片和虚拟地址，仅用于测试。

package jit

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNativeUnsupported 当前平台不能执行生成的机器码
var ErrNativeUnsupported = errors.New("native code execution is not supported on this platform")

// CodeMemory 平台代码内存
type CodeMemory interface {
	// PageSize 页大小，分配和权限切换都按页进行
	PageSize() int
	// Allocate 分配 size 字节（页对齐）的可读写内存
	Allocate(size int) (uintptr, error)
	// Write 把 code 复制到 addr，范围必须处于可写状态
	Write(addr uintptr, code []byte) error
	// BeginWrite 使 [addr, addr+size) 可写不可执行
	BeginWrite(addr uintptr, size int) error
	// EndWrite 使 [addr, addr+size) 可执行不可写
	EndWrite(addr uintptr, size int) error
	// InvalidateICache 使 [addr, addr+size) 的指令缓存失效
	InvalidateICache(addr uintptr, size int)
	// Release 释放 Allocate 返回的整块内存
	Release(addr uintptr, size int) error
	// Executable 写入的代码能否被真正执行
	Executable() bool
}

// MemoryError 代码内存分配或权限切换失败
type MemoryError struct {
	Op   string
	Size int
	Err  error
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("jit memory: %s (%d bytes): %v", e.Op, e.Size, e.Err)
}

func (e *MemoryError) Unwrap() error { return e.Err }

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// ============================================================================
// 堆内存实现
// ============================================================================

// Protection 页保护状态（heapMemory 记录用）
type Protection uint8

const (
	ProtRW Protection = iota
	ProtRX
)

// heapBase HeapMemory 第一个块的虚拟地址
const heapBase = 0x100000

// HeapMemory 用 Go 切片模拟代码内存
//
// 地址是虚拟的，只用于定位块，不能被解引用或执行。
// 页保护只被记录而不被硬件强制，适合在任何平台上测试 Manager 的行为。
type HeapMemory struct {
	page int

	mu      sync.Mutex
	blocks  map[uintptr][]byte
	prot    map[uintptr]Protection // 页地址 -> 保护状态
	next    uintptr
	flushes int
	limit   int // 累计分配上限，0 表示不限
	used    int
}

// NewHeapMemory 创建堆代码内存
func NewHeapMemory(pageSize int) *HeapMemory {
	if pageSize <= 0 {
		pageSize = 4096
	}
	return &HeapMemory{
		page:   pageSize,
		blocks: make(map[uintptr][]byte),
		prot:   make(map[uintptr]Protection),
		next:   uintptr(roundUp(heapBase, pageSize)),
	}
}

// SetLimit 设置累计分配上限，超过后 Allocate 失败
func (h *HeapMemory) SetLimit(n int) {
	h.mu.Lock()
	h.limit = n
	h.mu.Unlock()
}

func (h *HeapMemory) PageSize() int    { return h.page }
func (h *HeapMemory) Executable() bool { return false }

func (h *HeapMemory) Allocate(size int) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.limit > 0 && h.used+size > h.limit {
		return 0, fmt.Errorf("heap code memory limit %d exceeded", h.limit)
	}
	size = roundUp(size, h.page)
	base := h.next
	// 块之间留一页空隙，越界访问不会落到相邻块
	h.next += uintptr(size + h.page)
	h.blocks[base] = make([]byte, size)
	for p := 0; p < size; p += h.page {
		h.prot[base+uintptr(p)] = ProtRW
	}
	h.used += size
	return base, nil
}

// slice 返回 [addr, addr+size) 对应的切片，调用方持有 h.mu
func (h *HeapMemory) slice(addr uintptr, size int) ([]byte, error) {
	for base, buf := range h.blocks {
		if addr >= base && addr+uintptr(size) <= base+uintptr(len(buf)) {
			off := int(addr - base)
			return buf[off : off+size], nil
		}
	}
	return nil, fmt.Errorf("range %#x+%d is outside every block", addr, size)
}

func (h *HeapMemory) Write(addr uintptr, code []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	dst, err := h.slice(addr, len(code))
	if err != nil {
		return err
	}
	for off := 0; off < len(code); off += h.page {
		if h.prot[(addr+uintptr(off))&^uintptr(h.page-1)] != ProtRW {
			return fmt.Errorf("write to sealed page at %#x", addr+uintptr(off))
		}
	}
	copy(dst, code)
	return nil
}

// Bytes 返回 [addr, addr+size) 当前内容的副本
func (h *HeapMemory) Bytes(addr uintptr, size int) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	src, err := h.slice(addr, size)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), src...), nil
}

func (h *HeapMemory) setProt(addr uintptr, size int, p Protection) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if int(addr)%h.page != 0 {
		return fmt.Errorf("address %#x is not page aligned", addr)
	}
	for off := 0; off < size; off += h.page {
		h.prot[addr+uintptr(off)] = p
	}
	return nil
}

func (h *HeapMemory) BeginWrite(addr uintptr, size int) error { return h.setProt(addr, size, ProtRW) }
func (h *HeapMemory) EndWrite(addr uintptr, size int) error   { return h.setProt(addr, size, ProtRX) }

func (h *HeapMemory) InvalidateICache(addr uintptr, size int) {
	h.mu.Lock()
	h.flushes++
	h.mu.Unlock()
}

func (h *HeapMemory) Release(addr uintptr, size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.blocks[addr]; !ok {
		return fmt.Errorf("release of unknown block %#x", addr)
	}
	delete(h.blocks, addr)
	for off := 0; off < size; off += h.page {
		delete(h.prot, addr+uintptr(off))
	}
	h.used -= size
	return nil
}

// ProtectionAt 返回地址所在页的保护状态
func (h *HeapMemory) ProtectionAt(addr uintptr) (Protection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	page := addr &^ uintptr(h.page-1)
	p, ok := h.prot[page]
	return p, ok
}

// Flushes 返回 InvalidateICache 的调用次数
func (h *HeapMemory) Flushes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushes
}
