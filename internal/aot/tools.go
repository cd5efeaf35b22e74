// tools.go - 外部工具发现与链接
//
// 链接器：显式路径，否则依次尝试 clang、gcc、cc（--version 成功即可用）。
// 运行时库查找顺序：
//  1. 显式目录（找不到直接报错）
//  2. 环境变量 MIRJIT_RUNTIME_DIR
//  3. 工作目录下的 target/release、target/debug
//  4. 当前可执行文件所在目录

package aot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// RuntimeEnv 运行时库目录的环境变量
const RuntimeEnv = "MIRJIT_RUNTIME_DIR"

const runtimeBuildHint = "Build the runtime with `make -C runtime` (writes target/release/libmirrt.a), " +
	"set " + RuntimeEnv + ", or pass --runtime-dir <dir>."

// linkerCandidates 未指定链接器时按顺序尝试
var linkerCandidates = []string{"clang", "gcc", "cc"}

// RuntimeLibName 目标平台上运行时静态库的文件名
func RuntimeLibName(goos string) string {
	if goos == "windows" {
		return "mirrt.lib"
	}
	return "libmirrt.a"
}

// FindLinker 查找可用的链接器
func FindLinker(ctx context.Context, explicit string) (string, error) {
	if explicit != "" {
		path, err := exec.LookPath(explicit)
		if err != nil {
			return "", &ToolingError{
				Kind: MissingLinker,
				Tool: explicit,
				Msg:  fmt.Sprintf("linker %s not found", explicit),
				Hint: "Check the --linker path.",
			}
		}
		return path, nil
	}
	for _, name := range linkerCandidates {
		path, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		if exec.CommandContext(ctx, path, "--version").Run() == nil {
			return path, nil
		}
	}
	return "", &ToolingError{
		Kind: MissingLinker,
		Msg:  "No linker found",
		Hint: "Install clang or gcc, or pass --linker <path>.",
	}
}

// FindRuntime 查找运行时静态库，返回文件路径
func FindRuntime(explicitDir, goos string) (string, error) {
	name := RuntimeLibName(goos)
	if explicitDir != "" {
		path := filepath.Join(explicitDir, name)
		if fileExists(path) {
			return path, nil
		}
		return "", &ToolingError{
			Kind: MissingRuntime,
			Tool: name,
			Msg:  fmt.Sprintf("runtime library %s not found in %s", name, explicitDir),
			Hint: runtimeBuildHint,
		}
	}

	var dirs []string
	if env := os.Getenv(RuntimeEnv); env != "" {
		dirs = append(dirs, env)
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, filepath.Join(wd, "target", "release"), filepath.Join(wd, "target", "debug"))
	}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return path, nil
		}
	}
	return "", &ToolingError{
		Kind: MissingRuntime,
		Tool: name,
		Msg:  fmt.Sprintf("runtime library %s not found (searched %s)", name, strings.Join(dirs, ", ")),
		Hint: runtimeBuildHint,
	}
}

// FindTool 查找 LLVM 工具，名字不带版本时也尝试 name-19 到 name-14
func FindTool(explicit, name string) (string, error) {
	if explicit != "" {
		path, err := exec.LookPath(explicit)
		if err != nil {
			return "", &ToolingError{
				Kind: MissingTool,
				Tool: explicit,
				Msg:  fmt.Sprintf("%s not found at %s", name, explicit),
				Hint: fmt.Sprintf("Check the --%s path.", name),
			}
		}
		return path, nil
	}
	candidates := []string{name}
	for v := 19; v >= 14; v-- {
		candidates = append(candidates, fmt.Sprintf("%s-%d", name, v))
	}
	for _, c := range candidates {
		if path, err := exec.LookPath(c); err == nil {
			return path, nil
		}
	}
	return "", &ToolingError{
		Kind: MissingTool,
		Tool: name,
		Msg:  fmt.Sprintf("%s not found in PATH", name),
		Hint: fmt.Sprintf("Install LLVM or pass --%s <path>.", name),
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// PlatformLibs 链接可执行文件需要的系统库
func PlatformLibs(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"-lSystem", "-lc", "-lm", "-lpthread"}
	case "windows":
		return []string{"kernel32.lib", "ws2_32.lib", "userenv.lib", "bcrypt.lib"}
	}
	return []string{"-lc", "-lm", "-lpthread", "-ldl"}
}

// LinkArgs 构造链接命令参数
//
//	-o out obj runtime -O<n> [--target=T] [--sysroot=S] <platform libs> [-s]
func LinkArgs(o *Options, out, obj, runtimeLib string) []string {
	args := []string{"-o", out, obj, runtimeLib, "-" + o.OptLevel.String()}
	if o.Target != "" {
		args = append(args, "--target="+o.Target)
	}
	if o.Sysroot != "" {
		args = append(args, "--sysroot="+o.Sysroot)
	}
	args = append(args, PlatformLibs(o.targetOS())...)
	if o.StripSymbols {
		args = append(args, "-s")
	}
	return args
}

// LLCArgs 构造 llc 参数
func LLCArgs(o *Options, input, out string, asm bool) []string {
	filetype := "obj"
	if asm {
		filetype = "asm"
	}
	args := []string{"-filetype=" + filetype, "-" + o.OptLevel.String(), "-relocation-model=pic"}
	if o.Target != "" {
		args = append(args, "-mtriple="+o.Target)
	}
	return append(args, "-o", out, input)
}

// runTool 运行外部命令，非零退出时返回带 stderr 的 ToolingError
func runTool(ctx context.Context, kind ErrorKind, path string, args ...string) error {
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return nil
	}
	tool := filepath.Base(path)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := fmt.Sprintf("%s failed", tool)
		if kind == LinkFailed {
			msg = "Linking failed"
		}
		return &ToolingError{Kind: kind, Tool: tool, Msg: msg, Stderr: stderr.String()}
	}
	return &ToolingError{Kind: kind, Tool: tool, Msg: fmt.Sprintf("failed to run %s: %v", tool, err)}
}
