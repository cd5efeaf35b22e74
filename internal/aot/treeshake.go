// treeshake.go - 裁剪入口不可达的函数、外部声明和全局变量

package aot

import (
	"fmt"

	"github.com/tangzhangming/mirjit/internal/mir"
)

// TreeShakeStats 裁剪统计
type TreeShakeStats struct {
	FunctionsRemoved int `json:"functions_removed"`
	ExternsRemoved   int `json:"externs_removed"`
	GlobalsRemoved   int `json:"globals_removed"`
	FunctionsKept    int `json:"functions_kept"`
	ExternsKept      int `json:"externs_kept"`
}

func (s TreeShakeStats) String() string {
	return fmt.Sprintf("Removed: %d functions, %d externs, %d globals; Kept: %d functions, %d externs",
		s.FunctionsRemoved, s.ExternsRemoved, s.GlobalsRemoved, s.FunctionsKept, s.ExternsKept)
}

// TreeShake 从入口函数出发沿调用边和全局变量引用标记可达项，删除其余部分
//
// 函数和全局变量重新编号以保持 ID 等于下标，调用和全局访问随之改写。
// 模块原地修改。
func TreeShake(m *mir.Module, entry mir.FuncID) TreeShakeStats {
	var stats TreeShakeStats
	if m.Function(entry) == nil {
		return stats
	}

	liveFuncs := make([]bool, len(m.Functions))
	liveGlobals := make([]bool, len(m.Globals))

	worklist := []mir.FuncID{entry}
	liveFuncs[entry] = true
	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		for _, b := range m.Functions[id].Blocks {
			for i := range b.Insts {
				in := &b.Insts[i]
				switch in.Op {
				case mir.OpCall:
					if int(in.Callee) < len(liveFuncs) && !liveFuncs[in.Callee] {
						liveFuncs[in.Callee] = true
						worklist = append(worklist, in.Callee)
					}
				case mir.OpLoadGlobal, mir.OpStoreGlobal:
					if int(in.Global) < len(liveGlobals) {
						liveGlobals[in.Global] = true
					}
				}
			}
		}
	}

	funcMap := make([]mir.FuncID, len(m.Functions))
	kept := m.Functions[:0]
	for i, f := range m.Functions {
		switch {
		case liveFuncs[i] && f.IsExtern():
			stats.ExternsKept++
		case liveFuncs[i]:
			stats.FunctionsKept++
		case f.IsExtern():
			stats.ExternsRemoved++
			continue
		default:
			stats.FunctionsRemoved++
			continue
		}
		funcMap[i] = mir.FuncID(len(kept))
		f.ID = funcMap[i]
		kept = append(kept, f)
	}
	for i := len(kept); i < len(m.Functions); i++ {
		m.Functions[i] = nil
	}
	m.Functions = kept

	globalMap := make([]mir.GlobalID, len(m.Globals))
	keptGlobals := m.Globals[:0]
	for i, g := range m.Globals {
		if !liveGlobals[i] {
			stats.GlobalsRemoved++
			continue
		}
		globalMap[i] = mir.GlobalID(len(keptGlobals))
		g.ID = globalMap[i]
		keptGlobals = append(keptGlobals, g)
	}
	for i := len(keptGlobals); i < len(m.Globals); i++ {
		m.Globals[i] = nil
	}
	m.Globals = keptGlobals

	for _, f := range m.Functions {
		for _, b := range f.Blocks {
			for i := range b.Insts {
				in := &b.Insts[i]
				switch in.Op {
				case mir.OpCall:
					in.Callee = funcMap[in.Callee]
				case mir.OpLoadGlobal, mir.OpStoreGlobal:
					in.Global = globalMap[in.Global]
				}
			}
		}
	}
	m.Reindex()
	return stats
}
