package opt

import "github.com/tangzhangming/mirjit/internal/mir"

// DeadCodeEliminationPass 删除结果未被使用且没有副作用的指令和 phi
type DeadCodeEliminationPass struct{}

// NewDeadCodeEliminationPass 创建死代码删除 Pass
func NewDeadCodeEliminationPass() *DeadCodeEliminationPass { return &DeadCodeEliminationPass{} }

func (p *DeadCodeEliminationPass) Name() string { return "dce" }

func (p *DeadCodeEliminationPass) Run(f *mir.Function) bool {
	changed := false
	for {
		uses := countUses(f)
		removed := false
		for _, blk := range f.Blocks {
			phis := blk.Phis[:0]
			for _, phi := range blk.Phis {
				if uses[phi.Dest] == 0 {
					removed = true
					continue
				}
				phis = append(phis, phi)
			}
			blk.Phis = phis

			insts := blk.Insts[:0]
			for _, in := range blk.Insts {
				if in.HasDest() && !in.Op.HasSideEffects() && uses[in.Dest] == 0 {
					removed = true
					continue
				}
				insts = append(insts, in)
			}
			blk.Insts = insts
		}
		if !removed {
			return changed
		}
		changed = true
	}
}

func countUses(f *mir.Function) map[mir.Reg]int {
	uses := make(map[mir.Reg]int)
	for _, blk := range f.Blocks {
		for _, phi := range blk.Phis {
			for _, in := range phi.Incoming {
				uses[in.Value]++
			}
		}
		for i := range blk.Insts {
			for _, r := range blk.Insts[i].Args {
				uses[r]++
			}
		}
		for _, r := range blk.Term.Uses() {
			uses[r]++
		}
	}
	return uses
}
