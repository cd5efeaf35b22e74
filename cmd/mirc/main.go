// mirc - MIR 模块的提前编译器
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/ComedicChimera/olive"
	"github.com/pterm/pterm"

	"github.com/tangzhangming/mirjit/internal/aot"
	"github.com/tangzhangming/mirjit/internal/config"
	"github.com/tangzhangming/mirjit/internal/logx"
	"github.com/tangzhangming/mirjit/internal/mir"
	"github.com/tangzhangming/mirjit/internal/opt"
)

const Version = "0.1.0"

var (
	successFG = pterm.FgLightGreen
	successBG = pterm.NewStyle(pterm.BgLightGreen, pterm.FgBlack)
	warnBG    = pterm.NewStyle(pterm.BgYellow, pterm.FgBlack)
	errorFG   = pterm.FgRed
	errorBG   = pterm.NewStyle(pterm.BgRed, pterm.FgWhite)
)

// 诊断信息写到 stderr，stdout 只留给编译进度和产物摘要
var stderr io.Writer = os.Stderr

func main() {
	result, err := olive.ParseArgs(newCLI(), os.Args)
	if err != nil {
		printError("CLI Usage Error", err)
		os.Exit(2)
	}

	subcmdName, subResult, _ := result.Subcommand()
	switch subcmdName {
	case "build":
		if !execBuildCommand(subResult) {
			os.Exit(1)
		}
	case "version":
		printInfo("mirc Version", Version)
	}
}

func newCLI() *olive.Command {
	cli := olive.NewCLI("mirc", "mirc compiles MIR modules to native code ahead of time", true)

	buildCmd := cli.AddSubcommand("build", "compile a module", true)
	buildCmd.AddPrimaryArg("module-path", "the module to compile (.json)", true)
	buildCmd.AddStringArg("output", "o", "the output path", false)
	formatArg := buildCmd.AddSelectorArg("format", "f", "the artifact format", false,
		[]string{"exe", "obj", "llvm-ir", "llvm-bc", "asm"})
	formatArg.SetDefaultValue("exe")
	buildCmd.AddSelectorArg("opt", "O", "the optimization level", false, []string{"O0", "O1", "O2", "O3"})
	buildCmd.AddStringArg("target", "t", "the LLVM target triple", false)
	buildCmd.AddStringArg("linker", "l", "the linker to use", false)
	buildCmd.AddStringArg("runtime-dir", "rt", "the directory holding the runtime library", false)
	buildCmd.AddStringArg("sysroot", "sr", "the sysroot passed to the linker", false)
	buildCmd.AddStringArg("llc", "llc", "the llc binary", false)
	buildCmd.AddStringArg("llvm-as", "as", "the llvm-as binary", false)
	buildCmd.AddStringArg("config", "c", "the mirjit.toml to read", false)
	buildCmd.AddFlag("no-strip", "ns", "keep functions unreachable from the entry")
	buildCmd.AddFlag("strip-symbols", "s", "strip symbols from the executable")
	buildCmd.AddFlag("verbose", "v", "log every pipeline stage")

	cli.AddSubcommand("version", "print the mirc version", false)
	return cli
}

// execBuildCommand 执行 build 子命令，失败时已打印错误
func execBuildCommand(result *olive.ArgParseResult) bool {
	modulePath, _ := result.PrimaryArg()
	modulePath, err := filepath.Abs(modulePath)
	if err != nil {
		printError("Path Error", err)
		return false
	}

	opts, err := buildOptions(result, modulePath)
	if err != nil {
		printError("Config Error", err)
		return false
	}

	m, err := mir.LoadModule(modulePath)
	if err != nil {
		printError("Module Load Error", err)
		return false
	}

	verbosity := 0
	if opts.Verbose {
		verbosity = 1
	}
	logger := logx.New(verbosity)
	defer func() { _ = logger.Sync() }()
	opts.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pterm.Info.Println("Compiling " + m.Name + "...")
	start := time.Now()
	art, err := aot.Compile(ctx, m, opts)
	if err != nil {
		printCompileError(err)
		return false
	}
	pterm.Success.Println(fmt.Sprintf("Compiled %s (%.3fs)", m.Name, time.Since(start).Seconds()))

	printArtifact(art)
	return true
}

// buildOptions 合并配置文件和命令行参数，命令行优先
func buildOptions(result *olive.ArgParseResult, modulePath string) (aot.Options, error) {
	file := &config.File{}
	path := stringArg(result, "config")
	if path == "" {
		path = config.FindConfigFile(modulePath)
	}
	if path != "" {
		f, err := config.LoadConfig(path)
		if err != nil {
			return aot.Options{}, err
		}
		file = f
	}
	opts, err := file.AOTOptions()
	if err != nil {
		return opts, err
	}

	if s := stringArg(result, "format"); s != "" {
		if opts.Format, err = aot.ParseFormat(s); err != nil {
			return opts, err
		}
	}
	if s := stringArg(result, "opt"); s != "" {
		if opts.OptLevel, err = opt.ParseLevel(s); err != nil {
			return opts, err
		}
	}
	setString(&opts.Output, stringArg(result, "output"))
	setString(&opts.Target, stringArg(result, "target"))
	setString(&opts.Linker, stringArg(result, "linker"))
	setString(&opts.RuntimeDir, stringArg(result, "runtime-dir"))
	setString(&opts.Sysroot, stringArg(result, "sysroot"))
	setString(&opts.Tools.LLC, stringArg(result, "llc"))
	setString(&opts.Tools.LLVMAs, stringArg(result, "llvm-as"))
	if result.HasFlag("no-strip") {
		opts.Strip = false
	}
	if result.HasFlag("strip-symbols") {
		opts.StripSymbols = true
	}
	opts.Verbose = result.HasFlag("verbose")

	// 输出路径按模块文件推导，而不是模块名
	if opts.Output == "" {
		opts.Output = opts.OutputPath(modulePath)
	}
	return opts, nil
}

func stringArg(result *olive.ArgParseResult, name string) string {
	if v, ok := result.Arguments[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ============================================================================
// 输出
// ============================================================================

func printArtifact(art *aot.Artifact) {
	fmt.Println()
	successFG.Print("All done! ")
	fmt.Printf("%s (%s, %s)\n", art.Path, art.Format, art.HumanSize())
	fmt.Printf("  opt level  %s\n", art.OptLevel)
	if art.Entry != "" {
		fmt.Printf("  entry      %s\n", art.Entry)
	}
	if art.TreeShake != nil {
		fmt.Printf("  tree shake %s\n", art.TreeShake)
	}
	fmt.Printf("  blake2b    %s\n", art.Digest)
	fmt.Printf("  manifest   %s\n", art.ManifestPath())
}

func printCompileError(err error) {
	var te *aot.ToolingError
	if !errors.As(err, &te) {
		printError("Compile Error", err)
		return
	}
	switch te.Kind {
	case aot.MissingLinker, aot.MissingRuntime, aot.MissingTool:
		fmt.Fprintln(stderr, warnBG.Sprint("Toolchain")+" "+te.Error())
	default:
		printError("Compile Error", te)
	}
}

func printError(tag string, err error) {
	fmt.Fprintln(stderr, errorBG.Sprint(tag)+errorFG.Sprint(" "+err.Error()))
}

func printInfo(tag, msg string) {
	successBG.Print(tag)
	successFG.Println(" " + msg)
}
