package mir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
)

// Value 解释器运行时值（InterpValue）
//
// 值由类型标签和 64 位原始数据组成。原始数据总是按声明类型规范化：
// 有符号整数做符号扩展，无符号整数做零扩展，f32 保存 float32 位模式。
type Value struct {
	typ  Type
	bits uint64
}

// Normalize 将原始位按类型宽度截断并扩展
func Normalize(t Type, bits uint64) uint64 {
	switch t {
	case TypeVoid:
		return 0
	case TypeBool:
		if bits&1 != 0 {
			return 1
		}
		return 0
	case TypeI8:
		return uint64(int64(int8(bits)))
	case TypeI16:
		return uint64(int64(int16(bits)))
	case TypeI32:
		return uint64(int64(int32(bits)))
	case TypeU8:
		return bits & 0xff
	case TypeU16:
		return bits & 0xffff
	case TypeU32, TypeF32:
		return bits & 0xffffffff
	}
	return bits
}

// FromBits 由原始位构造值
func FromBits(t Type, bits uint64) Value {
	return Value{typ: t, bits: Normalize(t, bits)}
}

// NewInt 构造整数值（按类型宽度回绕）
func NewInt(t Type, v int64) Value {
	return FromBits(t, uint64(v))
}

// NewUint 构造无符号整数值
func NewUint(t Type, v uint64) Value {
	return FromBits(t, v)
}

// NewFloat 构造浮点值
func NewFloat(t Type, v float64) Value {
	if t == TypeF32 {
		return Value{typ: TypeF32, bits: uint64(math.Float32bits(float32(v)))}
	}
	return Value{typ: TypeF64, bits: math.Float64bits(v)}
}

func I8(v int8) Value     { return NewInt(TypeI8, int64(v)) }
func I16(v int16) Value   { return NewInt(TypeI16, int64(v)) }
func I32(v int32) Value   { return NewInt(TypeI32, int64(v)) }
func I64(v int64) Value   { return NewInt(TypeI64, v) }
func U8(v uint8) Value    { return NewUint(TypeU8, uint64(v)) }
func U16(v uint16) Value  { return NewUint(TypeU16, uint64(v)) }
func U32(v uint32) Value  { return NewUint(TypeU32, uint64(v)) }
func U64(v uint64) Value  { return NewUint(TypeU64, v) }
func F32(v float32) Value { return NewFloat(TypeF32, float64(v)) }
func F64(v float64) Value { return NewFloat(TypeF64, v) }
func Ptr(v uint64) Value  { return Value{typ: TypePtr, bits: v} }

// Bool 构造布尔值
func Bool(b bool) Value {
	if b {
		return Value{typ: TypeBool, bits: 1}
	}
	return Value{typ: TypeBool}
}

// Void 空值
func Void() Value { return Value{} }

// Zero 返回类型的零值
func Zero(t Type) Value { return Value{typ: t} }

// Type 返回值类型
func (v Value) Type() Type { return v.typ }

// Bits 返回原始位
func (v Value) Bits() uint64 { return v.bits }

// Int 以有符号整数读取
func (v Value) Int() int64 { return int64(v.bits) }

// Uint 以无符号整数读取（按类型宽度）
func (v Value) Uint() uint64 {
	if v.typ.IsSigned() {
		return v.bits & widthMask(v.typ.Bits())
	}
	return v.bits
}

// Float 以 float64 读取
func (v Value) Float() float64 {
	if v.typ == TypeF32 {
		return float64(math.Float32frombits(uint32(v.bits)))
	}
	return math.Float64frombits(v.bits)
}

// Float32 以 float32 读取
func (v Value) Float32() float32 {
	if v.typ == TypeF32 {
		return math.Float32frombits(uint32(v.bits))
	}
	return float32(math.Float64frombits(v.bits))
}

// Bool 以布尔读取
func (v Value) Bool() bool { return v.bits != 0 }

// IsVoid 是否为空值
func (v Value) IsVoid() bool { return v.typ == TypeVoid }

// Equal 类型和位都相同
func (v Value) Equal(o Value) bool { return v.typ == o.typ && v.bits == o.bits }

func widthMask(bits uint) uint64 {
	if bits >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << bits) - 1
}

func (v Value) literal() string {
	switch {
	case v.typ == TypeVoid:
		return ""
	case v.typ == TypeBool:
		return strconv.FormatBool(v.Bool())
	case v.typ.IsSigned():
		return strconv.FormatInt(v.Int(), 10)
	case v.typ.IsFloat():
		return strconv.FormatFloat(v.Float(), 'g', -1, v.typ.floatBits())
	case v.typ == TypePtr:
		return "0x" + strconv.FormatUint(v.bits, 16)
	}
	return strconv.FormatUint(v.bits, 10)
}

func (t Type) floatBits() int {
	if t == TypeF32 {
		return 32
	}
	return 64
}

func (v Value) String() string {
	if v.typ == TypeVoid {
		return "void"
	}
	return v.typ.String() + " " + v.literal()
}

// ParseValue 按类型解析字面量
func ParseValue(t Type, s string) (Value, error) {
	s = strings.TrimSpace(s)
	switch {
	case t == TypeVoid:
		return Void(), nil
	case t == TypeBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool literal %q", s)
		}
		return Bool(b), nil
	case t.IsSigned():
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid %s literal %q", t, s)
		}
		return NewInt(t, n), nil
	case t.IsFloat():
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid %s literal %q", t, s)
		}
		return NewFloat(t, f), nil
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid %s literal %q", t, s)
	}
	return NewUint(t, n), nil
}

type valueJSON struct {
	Type  Type            `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON 编码为 {"type":"i32","value":5}
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Type: v.typ}
	if v.typ != TypeVoid {
		lit := v.literal()
		if v.typ == TypePtr || (v.typ.IsFloat() && (math.IsNaN(v.Float()) || math.IsInf(v.Float(), 0))) {
			lit = strconv.Quote(lit)
		}
		out.Value = json.RawMessage(lit)
	}
	return json.Marshal(out)
}

// UnmarshalJSON 解码，value 可以是数字或字符串
func (v *Value) UnmarshalJSON(b []byte) error {
	var in valueJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	lit := strings.Trim(string(in.Value), `"`)
	if lit == "" {
		*v = Zero(in.Type)
		return nil
	}
	parsed, err := ParseValue(in.Type, lit)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
