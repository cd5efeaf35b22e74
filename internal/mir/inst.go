package mir

import (
	"fmt"
)

// Reg 虚拟寄存器编号
type Reg uint32

// NoReg 表示没有寄存器
const NoReg Reg = ^Reg(0)

func (r Reg) String() string {
	if r == NoReg {
		return "_"
	}
	return fmt.Sprintf("%%%d", uint32(r))
}

// BlockID 基本块编号
type BlockID uint32

func (b BlockID) String() string { return fmt.Sprintf("bb%d", uint32(b)) }

// FuncID 函数编号（稠密、稳定）
type FuncID uint32

// GlobalID 全局变量编号
type GlobalID uint32

// ============================================================================
// 指令操作码
// ============================================================================

// Op 指令操作码
type Op uint8

const (
	OpConst Op = iota
	OpCopy

	// 二元运算
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFRem

	// 一元运算
	OpNeg
	OpNot
	OpFNeg

	// 比较
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpULt
	OpULe
	OpUGt
	OpUGe
	OpFEq
	OpFNe
	OpFLt
	OpFLe
	OpFGt
	OpFGe
	OpFOrd
	OpFUno

	OpCast
	OpSelect
	OpCall
	OpLoadGlobal
	OpStoreGlobal
	OpUndef
	OpPanic

	opCount
)

var opNames = [...]string{
	OpConst:       "const",
	OpCopy:        "copy",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpDiv:         "div",
	OpRem:         "rem",
	OpAnd:         "and",
	OpOr:          "or",
	OpXor:         "xor",
	OpShl:         "shl",
	OpShr:         "shr",
	OpFAdd:        "fadd",
	OpFSub:        "fsub",
	OpFMul:        "fmul",
	OpFDiv:        "fdiv",
	OpFRem:        "frem",
	OpNeg:         "neg",
	OpNot:         "not",
	OpFNeg:        "fneg",
	OpEq:          "eq",
	OpNe:          "ne",
	OpLt:          "lt",
	OpLe:          "le",
	OpGt:          "gt",
	OpGe:          "ge",
	OpULt:         "ult",
	OpULe:         "ule",
	OpUGt:         "ugt",
	OpUGe:         "uge",
	OpFEq:         "feq",
	OpFNe:         "fne",
	OpFLt:         "flt",
	OpFLe:         "fle",
	OpFGt:         "fgt",
	OpFGe:         "fge",
	OpFOrd:        "ford",
	OpFUno:        "funo",
	OpCast:        "cast",
	OpSelect:      "select",
	OpCall:        "call",
	OpLoadGlobal:  "load_global",
	OpStoreGlobal: "store_global",
	OpUndef:       "undef",
	OpPanic:       "panic",
}

func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// MarshalText 实现 encoding.TextMarshaler
func (op Op) MarshalText() ([]byte, error) {
	if op >= opCount {
		return nil, fmt.Errorf("invalid op %d", uint8(op))
	}
	return []byte(opNames[op]), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (op *Op) UnmarshalText(b []byte) error {
	s := string(b)
	for i, name := range opNames {
		if name == s {
			*op = Op(i)
			return nil
		}
	}
	return fmt.Errorf("unknown op %q", s)
}

// IsBinary 二元算术/位运算
func (op Op) IsBinary() bool { return op >= OpAdd && op <= OpFRem }

// IsUnary 一元运算
func (op Op) IsUnary() bool { return op >= OpNeg && op <= OpFNeg }

// IsCompare 比较运算
func (op Op) IsCompare() bool { return op >= OpEq && op <= OpFUno }

// IsFloatOp 浮点运算或浮点比较
func (op Op) IsFloatOp() bool {
	return (op >= OpFAdd && op <= OpFRem) || op == OpFNeg || (op >= OpFEq && op <= OpFUno)
}

// HasSideEffects 指令是否有副作用（不能被删除）
func (op Op) HasSideEffects() bool {
	switch op {
	case OpCall, OpStoreGlobal, OpPanic, OpDiv, OpRem:
		return true
	}
	return false
}

// ============================================================================
// 指令
// ============================================================================

// Inst MIR 指令
//
// 字段按操作码解释：
//   - const: Dest = Const
//   - copy / 一元运算: Dest = op Args[0]
//   - 二元运算 / 比较: Dest = Args[0] op Args[1]
//   - cast: Dest(Type) = cast Args[0] (From)
//   - select: Dest = Args[0] ? Args[1] : Args[2]
//   - call: Dest = Callee(Args...)，Dest 可以是 NoReg
//   - load_global / store_global: Global，store 使用 Args[0]
//   - panic: Message
type Inst struct {
	Op      Op
	Dest    Reg
	Type    Type
	Args    []Reg
	Const   Value
	From    Type
	Callee  FuncID
	Global  GlobalID
	Message string
}

// HasDest 指令是否定义寄存器
func (in *Inst) HasDest() bool {
	return in.Dest != NoReg && in.Op != OpStoreGlobal && in.Op != OpPanic
}

// Uses 返回指令读取的寄存器
func (in *Inst) Uses() []Reg { return in.Args }

// ============================================================================
// 终结指令
// ============================================================================

// TermKind 终结指令种类
type TermKind uint8

const (
	TermNone TermKind = iota
	TermBr
	TermCondBr
	TermSwitch
	TermRet
	TermUnreachable
)

var termNames = [...]string{
	TermNone:        "none",
	TermBr:          "br",
	TermCondBr:      "condbr",
	TermSwitch:      "switch",
	TermRet:         "ret",
	TermUnreachable: "unreachable",
}

func (k TermKind) String() string {
	if int(k) < len(termNames) {
		return termNames[k]
	}
	return fmt.Sprintf("term(%d)", uint8(k))
}

// MarshalText 实现 encoding.TextMarshaler
func (k TermKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *TermKind) UnmarshalText(b []byte) error {
	s := string(b)
	for i, name := range termNames {
		if name == s {
			*k = TermKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown terminator %q", s)
}

// SwitchCase switch 分支
type SwitchCase struct {
	Value  int64   `json:"value"`
	Target BlockID `json:"target"`
}

// Term 终结指令
//
//   - br: Target
//   - condbr: Cond ? Then : Else
//   - switch: Cond 与 Cases 逐个比较，否则 Default
//   - ret: Value（NoReg 表示无返回值）
type Term struct {
	Kind    TermKind
	Target  BlockID
	Cond    Reg
	Then    BlockID
	Else    BlockID
	Cases   []SwitchCase
	Default BlockID
	Value   Reg
}

// Successors 返回后继块
func (t *Term) Successors() []BlockID {
	switch t.Kind {
	case TermBr:
		return []BlockID{t.Target}
	case TermCondBr:
		return []BlockID{t.Then, t.Else}
	case TermSwitch:
		succ := make([]BlockID, 0, len(t.Cases)+1)
		for _, c := range t.Cases {
			succ = append(succ, c.Target)
		}
		return append(succ, t.Default)
	}
	return nil
}

// Uses 返回终结指令读取的寄存器
func (t *Term) Uses() []Reg {
	switch t.Kind {
	case TermCondBr, TermSwitch:
		return []Reg{t.Cond}
	case TermRet:
		if t.Value != NoReg {
			return []Reg{t.Value}
		}
	}
	return nil
}

// PhiIncoming phi 的一个输入
type PhiIncoming struct {
	Pred  BlockID `json:"pred"`
	Value Reg     `json:"value"`
}

// Phi phi 节点：按前驱块选择输入
type Phi struct {
	Dest     Reg           `json:"dest"`
	Type     Type          `json:"type"`
	Incoming []PhiIncoming `json:"incoming"`
}

// ValueFor 返回来自前驱 pred 的输入寄存器
func (p *Phi) ValueFor(pred BlockID) (Reg, bool) {
	for _, in := range p.Incoming {
		if in.Pred == pred {
			return in.Value, true
		}
	}
	return NoReg, false
}

// SetIncoming 设置来自 pred 的输入，已存在则覆盖
func (p *Phi) SetIncoming(pred BlockID, v Reg) {
	for i := range p.Incoming {
		if p.Incoming[i].Pred == pred {
			p.Incoming[i].Value = v
			return
		}
	}
	p.Incoming = append(p.Incoming, PhiIncoming{Pred: pred, Value: v})
}
