package aot

import (
	"fmt"
	"strings"
)

// ErrorKind 工具链错误种类
type ErrorKind int

const (
	MissingEntry ErrorKind = iota
	MissingLinker
	MissingRuntime
	MissingTool
	LinkFailed
	ToolFailed
)

var errorKindNames = [...]string{
	MissingEntry:   "missing entry",
	MissingLinker:  "missing linker",
	MissingRuntime: "missing runtime",
	MissingTool:    "missing tool",
	LinkFailed:     "link failed",
	ToolFailed:     "tool failed",
}

func (k ErrorKind) String() string {
	if k >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ToolingError 查找或运行外部工具失败
type ToolingError struct {
	Kind   ErrorKind
	Tool   string
	Msg    string
	Stderr string
	Hint   string
}

func (e *ToolingError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Msg)
	if e.Stderr != "" {
		sb.WriteString(":\n")
		sb.WriteString(strings.TrimRight(e.Stderr, "\n"))
	}
	if e.Hint != "" {
		sb.WriteString("\n")
		sb.WriteString(e.Hint)
	}
	return sb.String()
}

// Is 按种类比较，errors.Is(err, &ToolingError{Kind: MissingLinker}) 可用
func (e *ToolingError) Is(target error) bool {
	t, ok := target.(*ToolingError)
	return ok && t.Kind == e.Kind
}
