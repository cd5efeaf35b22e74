// pipeline.go - AOT 编译流程

package aot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tangzhangming/mirjit/internal/logx"
	"github.com/tangzhangming/mirjit/internal/mir"
	"github.com/tangzhangming/mirjit/internal/opt"
)

// Compile 把模块编译为 opts.Format 指定的产物
//
// 输入模块不会被修改；优化和裁剪在副本上进行。
// 中间文件写到临时目录，结束时删除。
func Compile(ctx context.Context, m *mir.Module, opts Options) (art *Artifact, err error) {
	start := time.Now()
	log := logx.OrNop(opts.Logger).With(zap.String("module", m.Name))
	logf := log.Debug
	if opts.Verbose {
		logf = log.Info
	}

	if err := mir.Verify(m); err != nil {
		return nil, fmt.Errorf("invalid module: %w", err)
	}
	out := opts.OutputPath(m.Name)

	// 阶段 1：MIR 优化
	work := m.Clone()
	pm := opt.ForLevel(opts.OptLevel)
	pm.RunModule(work)
	logf("mir optimized",
		zap.Stringer("level", opts.OptLevel),
		zap.Strings("passes", pm.Passes()),
		zap.Int("changes", pm.Stats().TotalChanges))

	// 阶段 2：入口
	// 只输出目标文件时没有入口也可以，此时不裁剪
	var entry *mir.Function
	if opts.Strip || opts.Format == FormatExecutable {
		var lookupErr error
		entry, lookupErr = work.EntryFunction()
		switch {
		case lookupErr != nil && opts.Format == FormatExecutable:
			return nil, &ToolingError{
				Kind: MissingEntry,
				Msg:  lookupErr.Error(),
				Hint: "Define a function named main or set the module entry.",
			}
		case lookupErr != nil:
			logf("no entry function, tree shaking skipped")
		}
	}

	// 阶段 3：裁剪
	var shake *TreeShakeStats
	if opts.Strip && entry != nil {
		stats := TreeShake(work, entry.ID)
		shake = &stats
		logf("tree shaken",
			zap.String("removed", fmt.Sprintf("%d functions, %d externs, %d globals",
				stats.FunctionsRemoved, stats.ExternsRemoved, stats.GlobalsRemoved)),
			zap.String("kept", fmt.Sprintf("%d functions, %d externs", stats.FunctionsKept, stats.ExternsKept)))
	}

	// 阶段 4：LLVM IR
	llmod, err := GenerateIR(work, IRConfig{
		Target:      opts.Target,
		Entry:       entry,
		MainWrapper: opts.Format == FormatExecutable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate LLVM IR: %w", err)
	}
	text := []byte(llmod.String())

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	if opts.Format == FormatLLVMIR {
		if err := os.WriteFile(out, text, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write LLVM IR: %w", err)
		}
	} else {
		tmp, tmpErr := os.MkdirTemp("", "mirjit-aot-*")
		if tmpErr != nil {
			return nil, fmt.Errorf("failed to create temp dir: %w", tmpErr)
		}
		defer func() {
			multierr.AppendInto(&err, os.RemoveAll(tmp))
		}()
		if err = lower(ctx, &opts, text, tmp, out, logf); err != nil {
			return nil, err
		}
	}

	// 阶段 5：清单
	digest, size, err := FileDigest(out)
	if err != nil {
		return nil, err
	}
	art = &Artifact{
		Path:      out,
		Format:    opts.Format,
		Target:    opts.Target,
		OptLevel:  opts.OptLevel.String(),
		Size:      size,
		Elapsed:   time.Since(start),
		Digest:    digest,
		TreeShake: shake,
	}
	if entry != nil {
		art.Entry = entry.Name
	}
	if err := art.WriteManifest(); err != nil {
		return nil, err
	}
	log.Info("artifact written",
		zap.String("path", out),
		zap.Stringer("format", opts.Format),
		zap.String("size", art.HumanSize()),
		zap.Duration("elapsed", art.Elapsed))
	return art, nil
}

// lower 把 IR 文本交给 LLVM 工具，必要时链接
func lower(ctx context.Context, opts *Options, text []byte, tmp, out string, logf func(string, ...zap.Field)) error {
	llPath := filepath.Join(tmp, "module.ll")
	if err := os.WriteFile(llPath, text, 0o644); err != nil {
		return fmt.Errorf("failed to write LLVM IR: %w", err)
	}

	if opts.Format == FormatLLVMBitcode {
		as, err := FindTool(opts.Tools.LLVMAs, "llvm-as")
		if err != nil {
			return err
		}
		return runTool(ctx, ToolFailed, as, "-o", out, llPath)
	}

	llc, err := FindTool(opts.Tools.LLC, "llc")
	if err != nil {
		return err
	}
	switch opts.Format {
	case FormatAssembly:
		return runTool(ctx, ToolFailed, llc, LLCArgs(opts, llPath, out, true)...)
	case FormatObject:
		return runTool(ctx, ToolFailed, llc, LLCArgs(opts, llPath, out, false)...)
	}

	objPath := filepath.Join(tmp, "module.o")
	if err := runTool(ctx, ToolFailed, llc, LLCArgs(opts, llPath, objPath, false)...); err != nil {
		return err
	}
	linker, err := FindLinker(ctx, opts.Linker)
	if err != nil {
		return err
	}
	rt, err := FindRuntime(opts.RuntimeDir, opts.targetOS())
	if err != nil {
		return err
	}
	args := LinkArgs(opts, out, objPath, rt)
	logf("linking", zap.String("linker", linker), zap.Strings("args", args))
	return runTool(ctx, LinkFailed, linker, args...)
}
