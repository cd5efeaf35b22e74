package opt

import (
	"github.com/tangzhangming/mirjit/internal/interp"
	"github.com/tangzhangming/mirjit/internal/mir"
)

// ============================================================================
// 常量折叠
// ============================================================================

// ConstantFoldingPass 常量折叠
//
// 操作数全部为常量的纯指令替换为 const；条件为常量的 condbr/switch
// 替换为 br，并从不再可达的边上删除 phi 输入。
type ConstantFoldingPass struct{}

// NewConstantFoldingPass 创建常量折叠 Pass
func NewConstantFoldingPass() *ConstantFoldingPass { return &ConstantFoldingPass{} }

func (p *ConstantFoldingPass) Name() string { return "constfold" }

func (p *ConstantFoldingPass) Run(f *mir.Function) bool {
	consts := make(map[mir.Reg]mir.Value)
	changed := false
	for _, id := range f.ReversePostorder() {
		blk := f.Block(id)
		for i := range blk.Insts {
			in := &blk.Insts[i]
			if in.Op == mir.OpConst {
				consts[in.Dest] = in.Const
				continue
			}
			if !in.HasDest() || len(in.Args) == 0 {
				continue
			}
			args := make([]mir.Value, len(in.Args))
			known := true
			for j, a := range in.Args {
				v, ok := consts[a]
				if !ok {
					known = false
					break
				}
				args[j] = v
			}
			if !known {
				continue
			}
			v, ok := interp.Fold(in, args)
			if !ok {
				continue
			}
			*in = mir.Inst{Op: mir.OpConst, Dest: in.Dest, Type: in.Type, Const: v}
			consts[in.Dest] = v
			changed = true
		}
		if foldBranch(f, blk, consts) {
			changed = true
		}
	}
	return changed
}

// foldBranch 把条件为常量的分支改为无条件跳转
func foldBranch(f *mir.Function, blk *mir.Block, consts map[mir.Reg]mir.Value) bool {
	t := &blk.Term
	var target mir.BlockID
	switch t.Kind {
	case mir.TermCondBr:
		c, ok := consts[t.Cond]
		if !ok || !c.Type().IsIntLike() {
			return false
		}
		target = t.Else
		if c.Bool() {
			target = t.Then
		}
	case mir.TermSwitch:
		c, ok := consts[t.Cond]
		if !ok || !c.Type().IsIntLike() {
			return false
		}
		target = t.Default
		for _, sc := range t.Cases {
			if mir.NewInt(c.Type(), sc.Value).Equal(c) {
				target = sc.Target
				break
			}
		}
	default:
		return false
	}
	for _, s := range t.Successors() {
		if s != target {
			removeIncoming(f.Block(s), blk.ID)
		}
	}
	*t = mir.Term{Kind: mir.TermBr, Target: target, Value: mir.NoReg}
	return true
}

// removeIncoming 删除 blk 中所有 phi 来自 pred 的输入
func removeIncoming(blk *mir.Block, pred mir.BlockID) {
	if blk == nil {
		return
	}
	for i := range blk.Phis {
		in := blk.Phis[i].Incoming[:0]
		for _, pi := range blk.Phis[i].Incoming {
			if pi.Pred != pred {
				in = append(in, pi)
			}
		}
		blk.Phis[i].Incoming = in
	}
}
