package interp

import (
	"errors"
	"fmt"

	"github.com/tangzhangming/mirjit/internal/mir"
)

// ErrorKind 解释错误类别
type ErrorKind uint8

const (
	MissingRegister   ErrorKind = iota + 1 // 引用了未定义的寄存器
	TypeMismatch                           // 操作数类型不匹配
	DivideByZero                           // 整数除零
	MissingTerminator                      // 基本块没有终结指令
	UnknownFunction                        // 调用目标不存在或外部符号未解析
	StackOverflow                          // 调用深度超过上限
	Unreachable                            // 执行到 unreachable
	Panic                                  // 执行了 panic 指令
	ArgCount                               // 实参数量与签名不符
	BadBranch                              // 跳转到不存在的基本块
)

func (k ErrorKind) String() string {
	switch k {
	case MissingRegister:
		return "missing register"
	case TypeMismatch:
		return "type mismatch"
	case DivideByZero:
		return "divide by zero"
	case MissingTerminator:
		return "missing terminator"
	case UnknownFunction:
		return "unknown function"
	case StackOverflow:
		return "stack overflow"
	case Unreachable:
		return "unreachable"
	case Panic:
		return "panic"
	case ArgCount:
		return "argument count"
	case BadBranch:
		return "bad branch"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error 解释执行期间发现的 MIR 错误
//
// 这类错误只影响当前调用，由调用方决定如何处理。
type Error struct {
	Kind   ErrorKind
	Func   string
	Block  mir.BlockID
	Detail string
}

func (e *Error) Error() string {
	if e.Func == "" {
		return fmt.Sprintf("interp: %s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("interp: %s in %s at %s: %s", e.Kind, e.Func, e.Block, e.Detail)
}

// KindOf 返回错误链中的解释错误类别，不是解释错误时返回 0
func KindOf(err error) ErrorKind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return 0
}

func newError(kind ErrorKind, f *mir.Function, b mir.BlockID, format string, args ...interface{}) *Error {
	e := &Error{Kind: kind, Block: b, Detail: fmt.Sprintf(format, args...)}
	if f != nil {
		e.Func = f.Name
	}
	return e
}
