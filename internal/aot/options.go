// Package aot 把 MIR 模块提前编译为 LLVM IR、目标文件或可执行文件。
//
// 流程：MIR 优化 -> 查找入口 -> 裁剪不可达代码 -> 生成 LLVM IR ->
// 调用 llc / llvm-as -> 链接运行时库。
package aot

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/tangzhangming/mirjit/internal/opt"
)

// Format 输出格式
type Format int

const (
	FormatExecutable Format = iota
	FormatObject
	FormatLLVMIR
	FormatLLVMBitcode
	FormatAssembly
)

var formatNames = [...]string{
	FormatExecutable:  "exe",
	FormatObject:      "obj",
	FormatLLVMIR:      "llvm-ir",
	FormatLLVMBitcode: "llvm-bc",
	FormatAssembly:    "asm",
}

func (f Format) String() string {
	if f >= 0 && int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat 解析格式名，接受常见别名
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exe", "executable", "bin":
		return FormatExecutable, nil
	case "obj", "object", "o":
		return FormatObject, nil
	case "llvm-ir", "ll", "ir":
		return FormatLLVMIR, nil
	case "llvm-bc", "bc", "bitcode":
		return FormatLLVMBitcode, nil
	case "asm", "assembly", "s":
		return FormatAssembly, nil
	}
	return FormatExecutable, fmt.Errorf("unknown output format %q (expected exe, obj, llvm-ir, llvm-bc or asm)", s)
}

// MarshalText 实现 encoding.TextMarshaler
func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText 实现 encoding.TextUnmarshaler
func (f *Format) UnmarshalText(b []byte) error {
	parsed, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// Extension 输出文件的默认扩展名
func (f Format) Extension(goos string) string {
	switch f {
	case FormatObject:
		if goos == "windows" {
			return ".obj"
		}
		return ".o"
	case FormatLLVMIR:
		return ".ll"
	case FormatLLVMBitcode:
		return ".bc"
	case FormatAssembly:
		return ".s"
	}
	if goos == "windows" {
		return ".exe"
	}
	return ""
}

// Tools 外部 LLVM 工具路径，空字符串表示在 PATH 中查找
type Tools struct {
	LLC    string
	LLVMAs string
}

// Options AOT 编译选项
type Options struct {
	Target       string // 目标三元组，空表示本机
	OptLevel     opt.Level
	Format       Format
	Strip        bool // 裁剪入口不可达的函数和全局变量
	Verbose      bool
	Linker       string
	RuntimeDir   string
	Sysroot      string
	StripSymbols bool // 链接时传入 -s
	Output       string
	Tools        Tools
	Logger       *zap.Logger
}

// DefaultOptions 默认选项：O2、可执行文件、开启裁剪
func DefaultOptions() Options {
	return Options{
		OptLevel: opt.O2,
		Format:   FormatExecutable,
		Strip:    true,
	}
}

// OutputPath 计算输出路径；未指定时由输入文件名加格式扩展名得到
func (o *Options) OutputPath(input string) string {
	if o.Output != "" {
		return o.Output
	}
	base := filepath.Base(input)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	if base == "" || base == "." {
		base = "a.out"
	}
	return filepath.Join(filepath.Dir(input), base+o.Format.Extension(o.targetOS()))
}

// targetOS 从目标三元组推断操作系统，未指定时为本机
func (o *Options) targetOS() string {
	t := strings.ToLower(o.Target)
	switch {
	case t == "":
		return runtime.GOOS
	case strings.Contains(t, "windows"), strings.Contains(t, "win32"):
		return "windows"
	case strings.Contains(t, "darwin"), strings.Contains(t, "apple"), strings.Contains(t, "macos"):
		return "darwin"
	}
	return "linux"
}
