// Package opt 实现 MIR 层面的优化 Pass。
//
// Pass 直接修改传入的函数；需要保留原函数时先调用 Function.Clone。
package opt

import (
	"fmt"
	"strings"

	"github.com/tangzhangming/mirjit/internal/mir"
)

// ============================================================================
// 优化 Pass 接口
// ============================================================================

// Pass 函数级优化 Pass
type Pass interface {
	Name() string
	Run(f *mir.Function) bool // 返回是否有修改
}

// Level 优化级别
type Level int

const (
	O0 Level = iota
	O1
	O2
	O3
)

func (l Level) String() string { return fmt.Sprintf("O%d", int(l)) }

// ParseLevel 解析 "O2"、"2" 等写法
func ParseLevel(s string) (Level, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "O")
	switch s {
	case "0":
		return O0, nil
	case "1":
		return O1, nil
	case "2":
		return O2, nil
	case "3":
		return O3, nil
	}
	return O0, fmt.Errorf("unknown optimization level %q", s)
}

// ============================================================================
// Pass 管理器
// ============================================================================

// PassManager Pass 管理器
type PassManager struct {
	passes   []Pass
	maxIters int
	stats    PassStats
}

// PassStats Pass 统计信息
type PassStats struct {
	PassesRun      int
	TotalChanges   int
	PerPassChanges map[string]int
}

// NewPassManager 创建 Pass 管理器，maxIters > 1 时重复运行直到不再变化
func NewPassManager(maxIters int) *PassManager {
	if maxIters < 1 {
		maxIters = 1
	}
	return &PassManager{
		maxIters: maxIters,
		stats:    PassStats{PerPassChanges: make(map[string]int)},
	}
}

// AddPass 添加 Pass
func (pm *PassManager) AddPass(p Pass) {
	pm.passes = append(pm.passes, p)
}

// Passes 返回 Pass 名称
func (pm *PassManager) Passes() []string {
	names := make([]string, len(pm.passes))
	for i, p := range pm.passes {
		names[i] = p.Name()
	}
	return names
}

// RunFunction 对单个函数运行，外部声明不处理
func (pm *PassManager) RunFunction(f *mir.Function) bool {
	if f.IsExtern() {
		return false
	}
	any := false
	for i := 0; i < pm.maxIters; i++ {
		changed := false
		for _, p := range pm.passes {
			pm.stats.PassesRun++
			if p.Run(f) {
				changed = true
				pm.stats.TotalChanges++
				pm.stats.PerPassChanges[p.Name()]++
			}
		}
		if !changed {
			break
		}
		any = true
	}
	return any
}

// RunModule 对模块中所有函数运行
func (pm *PassManager) RunModule(m *mir.Module) bool {
	changed := false
	for _, f := range m.Functions {
		if pm.RunFunction(f) {
			changed = true
		}
	}
	return changed
}

// Stats 获取统计信息
func (pm *PassManager) Stats() PassStats {
	return pm.stats
}

// ============================================================================
// 预置优化 Pipeline
// ============================================================================

// ForLevel 按优化级别构造 Pipeline
//
//	O0  不做任何变换
//	O1  常量折叠、死代码删除
//	O2  O1 + 复制传播、不可达块删除
//	O3  O2 重复运行直到不动点
func ForLevel(l Level) *PassManager {
	switch {
	case l <= O0:
		return NewPassManager(1)
	case l == O1:
		pm := NewPassManager(1)
		pm.AddPass(NewConstantFoldingPass())
		pm.AddPass(NewDeadCodeEliminationPass())
		return pm
	}
	iters := 1
	if l >= O3 {
		iters = 8
	}
	pm := NewPassManager(iters)
	pm.AddPass(NewConstantFoldingPass())
	pm.AddPass(NewCopyPropagationPass())
	pm.AddPass(NewUnreachableBlockPass())
	pm.AddPass(NewDeadCodeEliminationPass())
	return pm
}
