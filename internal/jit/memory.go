// memory.go - JIT 代码内存管理
//
// Manager 管理一组代码区域（region），在区域内按 16 字节对齐做
// 指针碰撞分配。写入遵循 W^X：
//
//	batch := m.BeginWrite()             // 获取写锁
//	addr, _ := batch.AllocateFunction() // 复制机器码到可写页
//	batch.EndWrite()                    // 屏障 → 刷新指令缓存 → 改为 RX → 屏障
//
// EndWrite 之后已写入的页被封存为只读可执行，且永远不会再变为可写，
// 因此并发执行的代码不会受到后续写入的影响。为此 EndWrite 把区域的
// 分配偏移向上取整到页边界，下一批代码总是写在新的页上。

package jit

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
	"go.uber.org/multierr"
)

const (
	// DefaultRegionSize 默认区域大小
	DefaultRegionSize = 4 << 20
	// FunctionAlign 函数起始地址对齐
	FunctionAlign = 16
)

// ErrManagerClosed 管理器已关闭
var ErrManagerClosed = errors.New("jit memory manager is closed")

// ============================================================================
// 区域
// ============================================================================

type region struct {
	base   uintptr
	size   int
	offset int // 下一次分配的位置
	sealed int // [0, sealed) 已经是 RX
	open   bool
}

// Symbol 已安装的函数
type Symbol struct {
	Name string
	Addr uintptr
	Size int
}

func symbolLess(a, b Symbol) bool { return a.Addr < b.Addr }

// MemoryStats 内存统计
type MemoryStats struct {
	Regions   int
	Reserved  int // 区域总大小
	Used      int // 已分配字节（含对齐填充）
	Functions int
	Batches   int
}

// ============================================================================
// 管理器
// ============================================================================

// Manager JIT 代码内存管理器
type Manager struct {
	mem        CodeMemory
	regionSize int

	// mu 串行化写阶段，持有期间可以修改区域
	mu      sync.Mutex
	regions []*region
	closed  bool
	batches int

	// 已发布的符号，EndWrite 之后才可见
	symMu  sync.RWMutex
	byName map[string]uintptr
	byAddr *btree.BTreeG[Symbol]
}

// NewManager 创建代码内存管理器，regionSize <= 0 时使用默认大小
func NewManager(mem CodeMemory, regionSize int) *Manager {
	if regionSize <= 0 {
		regionSize = DefaultRegionSize
	}
	return &Manager{
		mem:        mem,
		regionSize: regionSize,
		byName:     make(map[string]uintptr),
		byAddr:     btree.NewG[Symbol](16, symbolLess),
	}
}

// Memory 返回底层代码内存
func (m *Manager) Memory() CodeMemory { return m.mem }

// BeginWrite 进入写阶段，返回的批次必须以 EndWrite 结束
func (m *Manager) BeginWrite() (*WriteBatch, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	return &WriteBatch{m: m}, nil
}

// GetFunction 按名称查找函数地址；同名函数返回最近安装的一个
func (m *Manager) GetFunction(name string) (uintptr, bool) {
	m.symMu.RLock()
	defer m.symMu.RUnlock()
	addr, ok := m.byName[name]
	return addr, ok
}

// Lookup 查找包含 addr 的函数
func (m *Manager) Lookup(addr uintptr) (Symbol, bool) {
	m.symMu.RLock()
	defer m.symMu.RUnlock()
	var found Symbol
	var ok bool
	m.byAddr.DescendLessOrEqual(Symbol{Addr: addr}, func(s Symbol) bool {
		if addr < s.Addr+uintptr(s.Size) {
			found, ok = s, true
		}
		return false
	})
	return found, ok
}

// Symbols 按地址顺序返回所有已安装的函数
func (m *Manager) Symbols() []Symbol {
	m.symMu.RLock()
	defer m.symMu.RUnlock()
	out := make([]Symbol, 0, m.byAddr.Len())
	m.byAddr.Ascend(func(s Symbol) bool {
		out = append(out, s)
		return true
	})
	return out
}

// Stats 返回内存统计
func (m *Manager) Stats() MemoryStats {
	m.mu.Lock()
	st := MemoryStats{Regions: len(m.regions), Batches: m.batches}
	for _, r := range m.regions {
		st.Reserved += r.size
		st.Used += r.offset
	}
	m.mu.Unlock()
	m.symMu.RLock()
	st.Functions = m.byAddr.Len()
	m.symMu.RUnlock()
	return st
}

// Close 释放所有区域；之后的地址全部失效
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	var errs error
	for _, r := range m.regions {
		errs = multierr.Append(errs, m.mem.Release(r.base, r.size))
	}
	m.regions = nil
	m.symMu.Lock()
	m.byName = make(map[string]uintptr)
	m.byAddr.Clear(false)
	m.symMu.Unlock()
	return errs
}

// newRegion 分配新区域，大小为 max(2*need, regionSize) 按页取整
func (m *Manager) newRegion(need int) (*region, error) {
	size := m.regionSize
	if 2*need > size {
		size = 2 * need
	}
	size = roundUp(size, m.mem.PageSize())
	base, err := m.mem.Allocate(size)
	if err != nil {
		return nil, &MemoryError{Op: "allocate region", Size: size, Err: err}
	}
	r := &region{base: base, size: size}
	m.regions = append(m.regions, r)
	return r, nil
}

// ============================================================================
// 写批次
// ============================================================================

type span struct {
	addr uintptr
	size int
}

// WriteBatch 一次写阶段
//
// 同一时间最多存在一个批次；批次内分配的函数在 EndWrite 之后才能
// 通过 GetFunction 查到。
type WriteBatch struct {
	m       *Manager
	written []span
	touched []*region
	pending []Symbol
	done    bool
}

// AllocateFunction 分配空间并复制机器码，返回稳定的函数地址
func (b *WriteBatch) AllocateFunction(name string, code []byte) (uintptr, error) {
	if b.done {
		return 0, errors.New("write batch already ended")
	}
	if len(code) == 0 {
		return 0, fmt.Errorf("function %s has no code", name)
	}
	m := b.m
	var r *region
	start := 0
	if n := len(m.regions); n > 0 {
		cur := m.regions[n-1]
		start = roundUp(cur.offset, FunctionAlign)
		if start+len(code) <= cur.size {
			r = cur
		}
	}
	if r == nil {
		nr, err := m.newRegion(len(code))
		if err != nil {
			return 0, err
		}
		r, start = nr, 0
	}
	if !r.open {
		if err := m.mem.BeginWrite(r.base+uintptr(r.sealed), r.size-r.sealed); err != nil {
			return 0, &MemoryError{Op: "begin write", Size: r.size - r.sealed, Err: err}
		}
		r.open = true
		b.touched = append(b.touched, r)
	}
	addr := r.base + uintptr(start)
	if err := m.mem.Write(addr, code); err != nil {
		return 0, &MemoryError{Op: "write", Size: len(code), Err: err}
	}
	r.offset = start + len(code)
	b.written = append(b.written, span{addr: addr, size: len(code)})
	b.pending = append(b.pending, Symbol{Name: name, Addr: addr, Size: len(code)})
	return addr, nil
}

// EndWrite 结束写阶段
//
// 顺序固定：屏障，使写入范围的指令缓存失效，封存为 RX，屏障。
// 之后发布本批次的符号并释放写锁。可以重复调用。
func (b *WriteBatch) EndWrite() error {
	if b.done {
		return nil
	}
	b.done = true
	m := b.m
	defer m.mu.Unlock()

	memoryBarrier()
	for _, s := range b.written {
		m.mem.InvalidateICache(s.addr, s.size)
	}
	var errs error
	page := m.mem.PageSize()
	for _, r := range b.touched {
		end := roundUp(r.offset, page)
		if end > r.size {
			end = r.size
		}
		if end > r.sealed {
			if err := m.mem.EndWrite(r.base+uintptr(r.sealed), end-r.sealed); err != nil {
				errs = multierr.Append(errs, &MemoryError{Op: "seal", Size: end - r.sealed, Err: err})
			}
		}
		r.sealed = end
		r.offset = end
		r.open = false
	}
	memoryBarrier()
	m.batches++

	m.symMu.Lock()
	for _, s := range b.pending {
		m.byName[s.Name] = s.Addr
		m.byAddr.ReplaceOrInsert(s)
	}
	m.symMu.Unlock()
	return errs
}

// Finalize 在一个批次的所有函数分配完成后调用，等同于 EndWrite
func (b *WriteBatch) Finalize() error { return b.EndWrite() }
