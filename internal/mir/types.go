// Package mir 定义分层执行引擎使用的中层 SSA 中间表示（MIR）。
//
// 模块由函数组成，函数由基本块组成；每个基本块包含可选的 phi 节点、
// 顺序执行的指令和唯一的终结指令。寄存器带类型标注。
package mir

import (
	"fmt"
)

// Type MIR 值类型
type Type uint8

const (
	TypeVoid Type = iota
	TypeBool
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeU8
	TypeU16
	TypeU32
	TypeU64
	TypeF32
	TypeF64
	TypePtr
)

var typeNames = [...]string{
	TypeVoid: "void",
	TypeBool: "bool",
	TypeI8:   "i8",
	TypeI16:  "i16",
	TypeI32:  "i32",
	TypeI64:  "i64",
	TypeU8:   "u8",
	TypeU16:  "u16",
	TypeU32:  "u32",
	TypeU64:  "u64",
	TypeF32:  "f32",
	TypeF64:  "f64",
	TypePtr:  "ptr",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseType 解析类型名
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	return TypeVoid, fmt.Errorf("unknown type %q", s)
}

// MarshalText 实现 encoding.TextMarshaler
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Bits 返回类型的位宽，void 为 0
func (t Type) Bits() uint {
	switch t {
	case TypeBool:
		return 1
	case TypeI8, TypeU8:
		return 8
	case TypeI16, TypeU16:
		return 16
	case TypeI32, TypeU32, TypeF32:
		return 32
	case TypeI64, TypeU64, TypeF64, TypePtr:
		return 64
	}
	return 0
}

// IsInteger 是否是整数类型（不含 bool 和指针）
func (t Type) IsInteger() bool {
	return t >= TypeI8 && t <= TypeU64
}

// IsSigned 是否是有符号整数
func (t Type) IsSigned() bool {
	return t >= TypeI8 && t <= TypeI64
}

// IsFloat 是否是浮点类型
func (t Type) IsFloat() bool {
	return t == TypeF32 || t == TypeF64
}

// IsIntLike 是否按整数寄存器传递（整数、bool、指针）
func (t Type) IsIntLike() bool {
	return t.IsInteger() || t == TypeBool || t == TypePtr
}
