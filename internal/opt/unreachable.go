package opt

import "github.com/tangzhangming/mirjit/internal/mir"

// UnreachableBlockPass 删除从入口不可达的块并重新编号
//
// 保留块的相对顺序；phi 中来自被删除前驱的输入一并删除。
type UnreachableBlockPass struct{}

// NewUnreachableBlockPass 创建不可达块删除 Pass
func NewUnreachableBlockPass() *UnreachableBlockPass { return &UnreachableBlockPass{} }

func (p *UnreachableBlockPass) Name() string { return "unreachable" }

func (p *UnreachableBlockPass) Run(f *mir.Function) bool {
	rpo := f.ReversePostorder()
	if len(rpo) == len(f.Blocks) {
		return false
	}
	live := make([]bool, len(f.Blocks))
	for _, id := range rpo {
		live[id] = true
	}
	remap := make(map[mir.BlockID]mir.BlockID, len(rpo))
	blocks := make([]*mir.Block, 0, len(rpo))
	for _, blk := range f.Blocks {
		if !live[blk.ID] {
			continue
		}
		remap[blk.ID] = mir.BlockID(len(blocks))
		blocks = append(blocks, blk)
	}

	for _, blk := range blocks {
		blk.ID = remap[blk.ID]
		for i := range blk.Phis {
			in := blk.Phis[i].Incoming[:0]
			for _, pi := range blk.Phis[i].Incoming {
				if np, ok := remap[pi.Pred]; ok {
					in = append(in, mir.PhiIncoming{Pred: np, Value: pi.Value})
				}
			}
			blk.Phis[i].Incoming = in
		}
		t := &blk.Term
		switch t.Kind {
		case mir.TermBr:
			t.Target = remap[t.Target]
		case mir.TermCondBr:
			t.Then, t.Else = remap[t.Then], remap[t.Else]
		case mir.TermSwitch:
			for i := range t.Cases {
				t.Cases[i].Target = remap[t.Cases[i].Target]
			}
			t.Default = remap[t.Default]
		}
	}
	f.Entry = remap[f.Entry]
	f.Blocks = blocks
	return true
}
