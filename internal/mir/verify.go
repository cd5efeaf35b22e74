package mir

import (
	"fmt"

	"go.uber.org/multierr"
)

// Verify 检查模块的结构完整性
//
// 只检查会破坏引擎索引假设的问题：编号与下标不一致、跳转目标越界、
// 调用目标或全局变量不存在、参数数量与签名不符。缺少终结指令、
// 未定义寄存器和类型不匹配留给解释器在执行时报告。
func Verify(m *Module) error {
	var errs error
	seen := make(map[string]bool, len(m.Functions))
	for i, f := range m.Functions {
		if f == nil {
			errs = multierr.Append(errs, fmt.Errorf("function #%d is nil", i))
			continue
		}
		if int(f.ID) != i {
			errs = multierr.Append(errs, fmt.Errorf("function %s: id %d does not match index %d", f.Name, f.ID, i))
		}
		if seen[f.Name] {
			errs = multierr.Append(errs, fmt.Errorf("function %s: duplicate name", f.Name))
		}
		seen[f.Name] = true
		errs = multierr.Append(errs, verifyFunction(m, f))
	}
	for i, g := range m.Globals {
		if int(g.ID) != i {
			errs = multierr.Append(errs, fmt.Errorf("global %s: id %d does not match index %d", g.Name, g.ID, i))
		}
	}
	return errs
}

func verifyFunction(m *Module, f *Function) error {
	if f.IsExtern() {
		return nil
	}
	var errs error
	fail := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf("function %s: "+format, append([]interface{}{f.Name}, args...)...))
	}
	if len(f.Params) != len(f.Sig.Params) {
		fail("%d parameter registers for %d signature parameters", len(f.Params), len(f.Sig.Params))
	}
	for _, p := range f.Params {
		if int(p) >= len(f.RegTypes) {
			fail("parameter register %s has no type", p)
		}
	}
	if int(f.Entry) >= len(f.Blocks) {
		fail("entry block %s out of range", f.Entry)
	}
	inRange := func(id BlockID) bool { return int(id) < len(f.Blocks) }
	for i, b := range f.Blocks {
		if b == nil {
			fail("block #%d is nil", i)
			continue
		}
		if int(b.ID) != i {
			fail("block id %s does not match index %d", b.ID, i)
		}
		for _, s := range b.Term.Successors() {
			if !inRange(s) {
				fail("%s branches to missing block %s", b.ID, s)
			}
		}
		for _, p := range b.Phis {
			for _, in := range p.Incoming {
				if !inRange(in.Pred) {
					fail("%s phi %s names missing predecessor %s", b.ID, p.Dest, in.Pred)
				}
			}
		}
		for j := range b.Insts {
			in := &b.Insts[j]
			switch in.Op {
			case OpCall:
				callee := m.Function(in.Callee)
				if callee == nil {
					fail("%s calls unknown function f%d", b.ID, in.Callee)
				} else if len(callee.Sig.Params) != len(in.Args) {
					fail("%s calls %s with %d args, want %d", b.ID, callee.Name, len(in.Args), len(callee.Sig.Params))
				}
			case OpLoadGlobal, OpStoreGlobal:
				if m.Global(in.Global) == nil {
					fail("%s references unknown global g%d", b.ID, in.Global)
				}
			}
		}
	}
	return errs
}
