package mir

import (
	"fmt"
	"strings"
)

// String 输出模块的文本形式（调试用）
func (m *Module) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "module %s\n", m.Name)
	for _, g := range m.Globals {
		fmt.Fprintf(&sb, "global @%s = %s\n", g.Name, g.Init)
	}
	for _, f := range m.Functions {
		sb.WriteString("\n")
		sb.WriteString(f.String())
	}
	return sb.String()
}

// String 输出函数的文本形式
func (f *Function) String() string {
	var sb strings.Builder
	params := make([]string, len(f.Params))
	for i, r := range f.Params {
		params[i] = fmt.Sprintf("%s: %s", r, f.Sig.Params[i])
	}
	if f.IsExtern() {
		parts := make([]string, len(f.Sig.Params))
		for i, p := range f.Sig.Params {
			parts[i] = p.String()
		}
		fmt.Fprintf(&sb, "extern %s(%s) -> %s\n", f.Name, strings.Join(parts, ", "), f.Sig.Ret)
		return sb.String()
	}
	fmt.Fprintf(&sb, "func %s(%s) -> %s {\n", f.Name, strings.Join(params, ", "), f.Sig.Ret)
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b.ID)
		for _, p := range b.Phis {
			parts := make([]string, len(p.Incoming))
			for i, in := range p.Incoming {
				parts[i] = fmt.Sprintf("[%s, %s]", in.Value, in.Pred)
			}
			fmt.Fprintf(&sb, "  %s = phi %s %s\n", p.Dest, p.Type, strings.Join(parts, ", "))
		}
		for i := range b.Insts {
			fmt.Fprintf(&sb, "  %s\n", b.Insts[i].String())
		}
		fmt.Fprintf(&sb, "  %s\n", b.Term.String())
	}
	sb.WriteString("}\n")
	return sb.String()
}

func regList(rs []Reg) string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

func (in *Inst) String() string {
	switch in.Op {
	case OpConst:
		return fmt.Sprintf("%s = const %s", in.Dest, in.Const)
	case OpCast:
		return fmt.Sprintf("%s = cast %s %s to %s", in.Dest, in.From, regList(in.Args), in.Type)
	case OpCall:
		if in.Dest == NoReg {
			return fmt.Sprintf("call f%d(%s)", in.Callee, regList(in.Args))
		}
		return fmt.Sprintf("%s = call %s f%d(%s)", in.Dest, in.Type, in.Callee, regList(in.Args))
	case OpLoadGlobal:
		return fmt.Sprintf("%s = load_global %s g%d", in.Dest, in.Type, in.Global)
	case OpStoreGlobal:
		return fmt.Sprintf("store_global g%d, %s", in.Global, regList(in.Args))
	case OpPanic:
		return fmt.Sprintf("panic %q", in.Message)
	case OpUndef:
		return fmt.Sprintf("%s = undef %s", in.Dest, in.Type)
	}
	return fmt.Sprintf("%s = %s %s %s", in.Dest, in.Op, in.Type, regList(in.Args))
}

func (t *Term) String() string {
	switch t.Kind {
	case TermBr:
		return fmt.Sprintf("br %s", t.Target)
	case TermCondBr:
		return fmt.Sprintf("condbr %s, %s, %s", t.Cond, t.Then, t.Else)
	case TermSwitch:
		parts := make([]string, len(t.Cases))
		for i, c := range t.Cases {
			parts[i] = fmt.Sprintf("%d: %s", c.Value, c.Target)
		}
		return fmt.Sprintf("switch %s [%s] default %s", t.Cond, strings.Join(parts, ", "), t.Default)
	case TermRet:
		if t.Value == NoReg {
			return "ret"
		}
		return fmt.Sprintf("ret %s", t.Value)
	case TermUnreachable:
		return "unreachable"
	}
	return "<missing terminator>"
}
