package opt

import "github.com/tangzhangming/mirjit/internal/mir"

// CopyPropagationPass 把 copy 结果的使用替换为其来源寄存器
//
// 只处理来源与目标类型相同的 copy；copy 本身留给 dce 删除。
type CopyPropagationPass struct{}

// NewCopyPropagationPass 创建复制传播 Pass
func NewCopyPropagationPass() *CopyPropagationPass { return &CopyPropagationPass{} }

func (p *CopyPropagationPass) Name() string { return "copyprop" }

func (p *CopyPropagationPass) Run(f *mir.Function) bool {
	alias := make(map[mir.Reg]mir.Reg)
	for _, blk := range f.Blocks {
		for i := range blk.Insts {
			in := &blk.Insts[i]
			if in.Op != mir.OpCopy || len(in.Args) != 1 || in.Dest == mir.NoReg {
				continue
			}
			dt, ok1 := f.RegType(in.Dest)
			st, ok2 := f.RegType(in.Args[0])
			if ok1 && ok2 && dt == st && in.Dest != in.Args[0] {
				alias[in.Dest] = in.Args[0]
			}
		}
	}
	if len(alias) == 0 {
		return false
	}
	resolve := func(r mir.Reg) mir.Reg {
		for i := 0; i <= len(alias); i++ {
			next, ok := alias[r]
			if !ok {
				break
			}
			r = next
		}
		return r
	}

	changed := false
	rewrite := func(r *mir.Reg) {
		if n := resolve(*r); n != *r {
			*r = n
			changed = true
		}
	}
	for _, blk := range f.Blocks {
		for i := range blk.Phis {
			for j := range blk.Phis[i].Incoming {
				rewrite(&blk.Phis[i].Incoming[j].Value)
			}
		}
		for i := range blk.Insts {
			in := &blk.Insts[i]
			for j := range in.Args {
				rewrite(&in.Args[j])
			}
		}
		t := &blk.Term
		switch t.Kind {
		case mir.TermCondBr, mir.TermSwitch:
			rewrite(&t.Cond)
		case mir.TermRet:
			if t.Value != mir.NoReg {
				rewrite(&t.Value)
			}
		}
	}
	return changed
}
