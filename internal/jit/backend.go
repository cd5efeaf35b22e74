// backend.go - 代码生成后端接口

package jit

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/tangzhangming/mirjit/internal/mir"
)

// CompiledCode 后端输出：一个函数的位置无关机器码
type CompiledCode struct {
	Name    string
	Backend string
	Code    []byte
	Conv    *CallConv
}

// SymbolResolver 解析外部符号地址
type SymbolResolver interface {
	Resolve(name string) (uintptr, bool)
}

// Backend 把 MIR 函数编译为机器码
type Backend interface {
	Name() string
	Compile(f *mir.Function, m *mir.Module, syms SymbolResolver) (*CompiledCode, error)
}

// CodegenError 后端不能编译该函数
type CodegenError struct {
	Backend string
	Func    string
	Reason  string
}

func (e *CodegenError) Error() string {
	return fmt.Sprintf("%s: cannot compile %s: %s", e.Backend, e.Func, e.Reason)
}

// ============================================================================
// 符号表
// ============================================================================

// SymbolTable 名称到地址的映射，可并发使用
type SymbolTable struct {
	mu   sync.RWMutex
	syms map[string]uintptr
}

// NewSymbolTable 创建符号表
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{syms: make(map[string]uintptr)}
}

// Define 定义或覆盖符号
func (t *SymbolTable) Define(name string, addr uintptr) {
	t.mu.Lock()
	t.syms[name] = addr
	t.mu.Unlock()
}

// Resolve 实现 SymbolResolver
func (t *SymbolTable) Resolve(name string) (uintptr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.syms[name]
	return addr, ok
}

// HostBackends 返回当前平台可用的后端
func HostBackends() []Backend {
	if runtime.GOARCH == "amd64" && nativeCallSupported {
		return []Backend{NewX64Backend()}
	}
	return nil
}
