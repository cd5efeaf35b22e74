package interp

import (
	"math"

	"github.com/tangzhangming/mirjit/internal/mir"
)

// ============================================================================
// 运算语义
//
// 整数运算在 64 位原始数据上进行，再按声明类型规范化，因此
// i32 加法在 32 位回绕。有符号/无符号的区别只体现在除法、取余、
// 右移、比较和类型转换上。
// ============================================================================

func mismatch(format string, args ...interface{}) *Error {
	return newError(TypeMismatch, nil, 0, format, args...)
}

// evalBinary 计算二元运算
func evalBinary(op mir.Op, t mir.Type, x, y mir.Value) (mir.Value, *Error) {
	if x.Type() != t || y.Type() != t {
		return mir.Value{}, mismatch("%s %s applied to %s and %s", op, t, x.Type(), y.Type())
	}
	if op.IsFloatOp() {
		if !t.IsFloat() {
			return mir.Value{}, mismatch("%s requires a float type, got %s", op, t)
		}
		return evalFloatBinary(op, t, x.Float(), y.Float()), nil
	}
	if !t.IsIntLike() {
		return mir.Value{}, mismatch("%s requires an integer type, got %s", op, t)
	}

	a, b := x.Bits(), y.Bits()
	switch op {
	case mir.OpAdd:
		return mir.FromBits(t, a+b), nil
	case mir.OpSub:
		return mir.FromBits(t, a-b), nil
	case mir.OpMul:
		return mir.FromBits(t, a*b), nil
	case mir.OpDiv, mir.OpRem:
		if y.Uint() == 0 {
			return mir.Value{}, newError(DivideByZero, nil, 0, "%s %s by zero", op, t)
		}
		if t.IsSigned() {
			// MinInt / -1 在 Go 中按补码回绕，不会 panic
			if op == mir.OpDiv {
				return mir.NewInt(t, int64(a)/int64(b)), nil
			}
			return mir.NewInt(t, int64(a)%int64(b)), nil
		}
		if op == mir.OpDiv {
			return mir.NewUint(t, x.Uint()/y.Uint()), nil
		}
		return mir.NewUint(t, x.Uint()%y.Uint()), nil
	case mir.OpAnd:
		return mir.FromBits(t, a&b), nil
	case mir.OpOr:
		return mir.FromBits(t, a|b), nil
	case mir.OpXor:
		return mir.FromBits(t, a^b), nil
	case mir.OpShl:
		return mir.FromBits(t, a<<shiftCount(t, y)), nil
	case mir.OpShr:
		n := shiftCount(t, y)
		if t.IsSigned() {
			return mir.NewInt(t, int64(a)>>n), nil
		}
		return mir.NewUint(t, x.Uint()>>n), nil
	}
	return mir.Value{}, mismatch("%s is not a binary operator", op)
}

// shiftCount 移位次数按宽度取模
func shiftCount(t mir.Type, y mir.Value) uint {
	w := t.Bits()
	if w == 0 {
		return 0
	}
	return uint(y.Uint() & uint64(w-1))
}

func evalFloatBinary(op mir.Op, t mir.Type, a, b float64) mir.Value {
	var r float64
	switch op {
	case mir.OpFAdd:
		r = a + b
	case mir.OpFSub:
		r = a - b
	case mir.OpFMul:
		r = a * b
	case mir.OpFDiv:
		r = a / b
	case mir.OpFRem:
		r = math.Mod(a, b)
	}
	return mir.NewFloat(t, r)
}

// evalUnary 计算一元运算
func evalUnary(op mir.Op, t mir.Type, x mir.Value) (mir.Value, *Error) {
	if x.Type() != t {
		return mir.Value{}, mismatch("%s %s applied to %s", op, t, x.Type())
	}
	switch op {
	case mir.OpNeg:
		if !t.IsIntLike() {
			return mir.Value{}, mismatch("neg requires an integer type, got %s", t)
		}
		return mir.FromBits(t, -x.Bits()), nil
	case mir.OpNot:
		if t == mir.TypeBool {
			return mir.Bool(!x.Bool()), nil
		}
		if !t.IsIntLike() {
			return mir.Value{}, mismatch("not requires an integer type, got %s", t)
		}
		return mir.FromBits(t, ^x.Bits()), nil
	case mir.OpFNeg:
		if !t.IsFloat() {
			return mir.Value{}, mismatch("fneg requires a float type, got %s", t)
		}
		return mir.NewFloat(t, -x.Float()), nil
	}
	return mir.Value{}, mismatch("%s is not a unary operator", op)
}

// evalCompare 计算比较，结果为 bool
func evalCompare(op mir.Op, x, y mir.Value) (mir.Value, *Error) {
	t := x.Type()
	if y.Type() != t {
		return mir.Value{}, mismatch("%s compares %s with %s", op, t, y.Type())
	}
	if op.IsFloatOp() {
		if !t.IsFloat() {
			return mir.Value{}, mismatch("%s requires a float type, got %s", op, t)
		}
		return mir.Bool(compareFloat(op, x.Float(), y.Float())), nil
	}
	if !t.IsIntLike() {
		return mir.Value{}, mismatch("%s requires an integer type, got %s", op, t)
	}
	a, b := int64(x.Bits()), int64(y.Bits())
	ua, ub := x.Uint(), y.Uint()
	var r bool
	switch op {
	case mir.OpEq:
		r = a == b
	case mir.OpNe:
		r = a != b
	case mir.OpLt:
		r = a < b
	case mir.OpLe:
		r = a <= b
	case mir.OpGt:
		r = a > b
	case mir.OpGe:
		r = a >= b
	case mir.OpULt:
		r = ua < ub
	case mir.OpULe:
		r = ua <= ub
	case mir.OpUGt:
		r = ua > ub
	case mir.OpUGe:
		r = ua >= ub
	default:
		return mir.Value{}, mismatch("%s is not a comparison", op)
	}
	return mir.Bool(r), nil
}

// compareFloat 有序比较遇到 NaN 为 false；FNe 为无序或不等
func compareFloat(op mir.Op, a, b float64) bool {
	switch op {
	case mir.OpFEq:
		return a == b
	case mir.OpFNe:
		return a != b
	case mir.OpFLt:
		return a < b
	case mir.OpFLe:
		return a <= b
	case mir.OpFGt:
		return a > b
	case mir.OpFGe:
		return a >= b
	case mir.OpFOrd:
		return !math.IsNaN(a) && !math.IsNaN(b)
	case mir.OpFUno:
		return math.IsNaN(a) || math.IsNaN(b)
	}
	return false
}

// evalCast 类型转换
//
// 整数之间按源类型符号扩展或零扩展后截断；转 bool 判断非零；
// 浮点转整数向零截断并饱和，NaN 转为 0。
func evalCast(to mir.Type, x mir.Value) (mir.Value, *Error) {
	from := x.Type()
	switch {
	case to == mir.TypeVoid || from == mir.TypeVoid:
		return mir.Value{}, mismatch("cannot cast %s to %s", from, to)
	case to == mir.TypeBool && from.IsFloat():
		return mir.Bool(x.Float() != 0), nil
	case to == mir.TypeBool:
		return mir.Bool(x.Bits() != 0), nil
	case from.IsIntLike() && to.IsIntLike():
		return mir.FromBits(to, x.Bits()), nil
	case from.IsIntLike() && to.IsFloat():
		return intToFloat(to, x), nil
	case from.IsFloat() && to.IsFloat():
		return mir.NewFloat(to, x.Float()), nil
	case from.IsFloat() && to.IsIntLike():
		return floatToInt(to, x.Float()), nil
	}
	return mir.Value{}, mismatch("cannot cast %s to %s", from, to)
}

func intToFloat(to mir.Type, x mir.Value) mir.Value {
	signed := x.Type().IsSigned()
	if to == mir.TypeF32 {
		if signed {
			return mir.F32(float32(x.Int()))
		}
		return mir.F32(float32(x.Bits()))
	}
	if signed {
		return mir.F64(float64(x.Int()))
	}
	return mir.F64(float64(x.Bits()))
}

func floatToInt(to mir.Type, f float64) mir.Value {
	if math.IsNaN(f) {
		return mir.Zero(to)
	}
	f = math.Trunc(f)
	w := to.Bits()
	if to.IsSigned() {
		lo := -math.Ldexp(1, int(w)-1)
		hi := math.Ldexp(1, int(w)-1)
		switch {
		case f <= lo:
			return mir.NewInt(to, int64(-1)<<(w-1))
		case f >= hi:
			return mir.NewInt(to, int64(uint64(1)<<(w-1)-1))
		}
		return mir.NewInt(to, int64(f))
	}
	hi := math.Ldexp(1, int(w))
	switch {
	case f <= 0:
		return mir.Zero(to)
	case f >= hi:
		return mir.NewUint(to, math.MaxUint64)
	}
	return mir.NewUint(to, uint64(f))
}

// Fold 在编译期对纯指令求值，语义与解释器完全一致
//
// 只处理 copy、二元运算、一元运算、比较、cast 和 select；
// 会在运行时出错的指令（例如除以零）不折叠。
func Fold(in *mir.Inst, args []mir.Value) (mir.Value, bool) {
	var (
		v   mir.Value
		err *Error
	)
	switch {
	case in.Op == mir.OpCopy && len(args) == 1:
		v = args[0]
	case in.Op.IsBinary() && len(args) == 2:
		v, err = evalBinary(in.Op, in.Type, args[0], args[1])
	case in.Op.IsUnary() && len(args) == 1:
		v, err = evalUnary(in.Op, in.Type, args[0])
	case in.Op.IsCompare() && len(args) == 2:
		v, err = evalCompare(in.Op, args[0], args[1])
	case in.Op == mir.OpCast && len(args) == 1:
		v, err = evalCast(in.Type, args[0])
	case in.Op == mir.OpSelect && len(args) == 3:
		if args[0].Type() != mir.TypeBool || args[1].Type() != args[2].Type() {
			return mir.Value{}, false
		}
		v = args[2]
		if args[0].Bool() {
			v = args[1]
		}
	default:
		return mir.Value{}, false
	}
	if err != nil || v.Type() != in.Type {
		return mir.Value{}, false
	}
	return v, true
}
