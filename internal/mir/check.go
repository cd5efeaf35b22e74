package mir

import (
	"fmt"

	"go.uber.org/multierr"
)

// CheckTypes 检查函数中寄存器的定义和类型
//
// 每次读取的寄存器在所有到达路径上都已定义，指令操作数和结果与寄存器的
// 声明类型一致。解释器只在执行到出错的指令时才报告这些问题，机器码不做
// 检查，所以编译前必须通过。不可达块不检查。
func CheckTypes(f *Function) error {
	if f.IsExtern() {
		return nil
	}
	c := &typeChecker{f: f, preds: f.Predecessors()}
	c.checkParams()
	order := f.ReversePostorder()
	if len(order) == 0 {
		return c.errs
	}
	c.flow(order)
	for _, id := range order {
		c.checkBlock(f.Blocks[id])
	}
	return c.errs
}

type typeChecker struct {
	f     *Function
	preds map[BlockID][]BlockID
	in    map[BlockID][]bool // 进入块时一定已定义的寄存器
	out   map[BlockID][]bool // 离开块时一定已定义的寄存器，只含可达块
	errs  error
}

func (c *typeChecker) fail(b BlockID, format string, args ...interface{}) {
	c.errs = multierr.Append(c.errs, fmt.Errorf("function %s: %s: "+format,
		append([]interface{}{c.f.Name, b}, args...)...))
}

func (c *typeChecker) checkParams() {
	for i, p := range c.f.Params {
		if i >= len(c.f.Sig.Params) {
			break
		}
		if t, ok := c.f.RegType(p); ok && t != c.f.Sig.Params[i] {
			c.errs = multierr.Append(c.errs, fmt.Errorf("function %s: parameter %d register %s is %s, signature says %s",
				c.f.Name, i, p, t, c.f.Sig.Params[i]))
		}
	}
}

// flow 前向数据流，交汇处取交集
func (c *typeChecker) flow(order []BlockID) {
	f := c.f
	n := f.NumRegs()

	params := make([]bool, n)
	for _, p := range f.Params {
		if int(p) < n {
			params[p] = true
		}
	}
	in := make(map[BlockID][]bool, len(order))
	out := make(map[BlockID][]bool, len(order))
	for _, id := range order {
		all := make([]bool, n)
		for i := range all {
			all[i] = true
		}
		out[id] = all
	}
	in[f.Entry] = params

	for changed := true; changed; {
		changed = false
		for _, id := range order {
			cur := in[id]
			if id != f.Entry {
				cur = make([]bool, n)
				first := true
				for _, p := range c.preds[id] {
					if _, reachable := out[p]; !reachable {
						continue
					}
					if first {
						copy(cur, out[p])
						first = false
						continue
					}
					for r := range cur {
						cur[r] = cur[r] && out[p][r]
					}
				}
				in[id] = cur
			}
			next := append([]bool(nil), cur...)
			for _, d := range blockDefs(f.Blocks[id]) {
				if int(d) < n {
					next[d] = true
				}
			}
			for r := range next {
				if next[r] != out[id][r] {
					out[id] = next
					changed = true
					break
				}
			}
		}
	}
	c.in, c.out = in, out
}

func blockDefs(b *Block) []Reg {
	defs := make([]Reg, 0, len(b.Phis)+len(b.Insts))
	for _, p := range b.Phis {
		defs = append(defs, p.Dest)
	}
	for i := range b.Insts {
		if b.Insts[i].HasDest() {
			defs = append(defs, b.Insts[i].Dest)
		}
	}
	return defs
}

func (c *typeChecker) checkBlock(b *Block) {
	f := c.f
	defined := append([]bool(nil), c.in[b.ID]...)

	use := func(r Reg, what string) (Type, bool) {
		t, ok := f.RegType(r)
		if !ok {
			c.fail(b.ID, "%s reads register %s with no declared type", what, r)
			return TypeVoid, false
		}
		if !defined[r] {
			c.fail(b.ID, "%s reads register %s before it is defined on every path", what, r)
			return t, false
		}
		return t, true
	}
	def := func(r Reg, t Type, what string) {
		want, ok := f.RegType(r)
		switch {
		case !ok:
			c.fail(b.ID, "%s writes register %s with no declared type", what, r)
		case want != t:
			c.fail(b.ID, "%s writes %s to register %s of type %s", what, t, r, want)
		}
	}

	if len(b.Phis) > 0 && b.ID == f.Entry {
		c.fail(b.ID, "phi in entry block")
	}
	for _, p := range b.Phis {
		def(p.Dest, p.Type, "phi")
		for _, pred := range c.preds[b.ID] {
			if _, reachable := c.out[pred]; reachable {
				if _, ok := p.ValueFor(pred); !ok {
					c.fail(b.ID, "phi %s has no incoming value for %s", p.Dest, pred)
				}
			}
		}
		for _, inc := range p.Incoming {
			predOut, reachable := c.out[inc.Pred]
			if !reachable {
				continue
			}
			t, ok := f.RegType(inc.Value)
			switch {
			case !ok:
				c.fail(b.ID, "phi %s reads register %s with no declared type", p.Dest, inc.Value)
			case !predOut[inc.Value]:
				c.fail(b.ID, "phi %s reads register %s not defined at the end of %s", p.Dest, inc.Value, inc.Pred)
			case t != p.Type:
				c.fail(b.ID, "phi %s of type %s takes %s from %s", p.Dest, p.Type, t, inc.Pred)
			}
		}
	}
	for _, p := range b.Phis {
		if int(p.Dest) < len(defined) {
			defined[p.Dest] = true
		}
	}

	for i := range b.Insts {
		in := &b.Insts[i]
		what := in.Op.String()
		arity := -1
		switch {
		case in.Op == OpCopy, in.Op.IsUnary(), in.Op == OpCast, in.Op == OpStoreGlobal:
			arity = 1
		case in.Op.IsBinary(), in.Op.IsCompare():
			arity = 2
		case in.Op == OpSelect:
			arity = 3
		case in.Op == OpConst, in.Op == OpUndef, in.Op == OpLoadGlobal, in.Op == OpPanic:
			arity = 0
		}
		if arity >= 0 && len(in.Args) != arity {
			c.fail(b.ID, "%s takes %d operands, got %d", what, arity, len(in.Args))
			continue
		}
		types := make([]Type, len(in.Args))
		ok := true
		for j, r := range in.Args {
			t, good := use(r, what)
			types[j] = t
			ok = ok && good
		}
		if !ok {
			continue
		}

		switch {
		case in.Op == OpConst:
			def(in.Dest, in.Const.Type(), what)
		case in.Op == OpUndef:
			def(in.Dest, in.Type, what)
		case in.Op == OpCopy:
			def(in.Dest, types[0], what)
		case in.Op.IsBinary():
			if types[0] != in.Type || types[1] != in.Type {
				c.fail(b.ID, "%s %s applied to %s and %s", what, in.Type, types[0], types[1])
			}
			def(in.Dest, in.Type, what)
		case in.Op.IsUnary():
			if types[0] != in.Type {
				c.fail(b.ID, "%s %s applied to %s", what, in.Type, types[0])
			}
			def(in.Dest, in.Type, what)
		case in.Op.IsCompare():
			if types[0] != types[1] {
				c.fail(b.ID, "%s compares %s with %s", what, types[0], types[1])
			}
			def(in.Dest, TypeBool, what)
		case in.Op == OpCast:
			if types[0] == TypeVoid || in.Type == TypeVoid {
				c.fail(b.ID, "cannot cast %s to %s", types[0], in.Type)
			}
			def(in.Dest, in.Type, what)
		case in.Op == OpSelect:
			if types[0] != TypeBool || types[1] != types[2] {
				c.fail(b.ID, "select %s ? %s : %s", types[0], types[1], types[2])
			}
			def(in.Dest, types[1], what)
		case in.Op == OpCall:
			if _, ok := f.RegType(in.Dest); in.Dest != NoReg && !ok {
				c.fail(b.ID, "call writes register %s with no declared type", in.Dest)
			}
		case in.Op == OpLoadGlobal:
			def(in.Dest, in.Type, what)
		}
		if in.HasDest() && int(in.Dest) < len(defined) {
			defined[in.Dest] = true
		}
	}

	t := &b.Term
	switch t.Kind {
	case TermCondBr, TermSwitch:
		if ct, ok := use(t.Cond, t.Kind.String()); ok && !ct.IsIntLike() {
			c.fail(b.ID, "%s on %s", t.Kind, ct)
		}
	case TermRet:
		want := f.Sig.Ret
		if t.Value == NoReg {
			if want != TypeVoid {
				c.fail(b.ID, "ret without value in function returning %s", want)
			}
			break
		}
		if rt, ok := use(t.Value, "ret"); ok && rt != want {
			c.fail(b.ID, "returns %s, signature says %s", rt, want)
		}
	}
}
