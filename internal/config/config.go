// Package config 读取 mirjit.toml 配置文件
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pelletier/go-toml/v2"

	"github.com/tangzhangming/mirjit/internal/aot"
	"github.com/tangzhangming/mirjit/internal/opt"
	"github.com/tangzhangming/mirjit/internal/tiered"
)

// 常量定义
const (
	ConfigFileName = "mirjit.toml" // 配置文件名
)

// File 配置文件
type File struct {
	// Preset 预设名称，为空时使用默认配置
	Preset string        `toml:"preset"`
	Tiered TieredSection `toml:"tiered"`
	AOT    AOTSection    `toml:"aot"`
}

// TieredSection 分层执行配置，未设置的字段沿用预设
type TieredSection struct {
	Thresholds       ThresholdSection  `toml:"thresholds"`
	Background       *bool             `toml:"background"`
	CheckInterval    string            `toml:"check_interval"` // 如 "100ms"
	MaxParallel      *int              `toml:"max_parallel"`
	Verbosity        *int              `toml:"verbosity"`
	StartInterpreted *bool             `toml:"start_interpreted"`
	Bailout          string            `toml:"bailout"` // immediate / quick / normal / slow / off / custom:N
	MaxPromotions    *int              `toml:"max_promotions"`
	RegionSize       string            `toml:"region_size"` // 如 "4MiB"
	Backends         map[string]string `toml:"backends"`    // 层名 -> 后端名
}

// ThresholdSection 热度阈值覆盖
type ThresholdSection struct {
	Interpreter *uint64 `toml:"interpreter"`
	Warm        *uint64 `toml:"warm"`
	Hot         *uint64 `toml:"hot"`
	Blazing     *uint64 `toml:"blazing"`
	SampleRate  *uint64 `toml:"sample_rate"`
}

// AOTSection 提前编译的工具配置
type AOTSection struct {
	Target       string `toml:"target"`
	OptLevel     string `toml:"opt_level"`
	Linker       string `toml:"linker"`
	RuntimeDir   string `toml:"runtime_dir"`
	Sysroot      string `toml:"sysroot"`
	LLC          string `toml:"llc"`
	LLVMAs       string `toml:"llvm_as"`
	Strip        *bool  `toml:"strip"`
	StripSymbols bool   `toml:"strip_symbols"`
}

// LoadConfig 从文件加载配置
func LoadConfig(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析配置内容，未知字段视为错误
func Parse(data []byte) (*File, error) {
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &f, nil
}

// TieredConfig 在预设基础上应用覆盖项
func (f *File) TieredConfig() (tiered.Config, error) {
	cfg := tiered.DefaultConfig()
	if f.Preset != "" {
		p, err := tiered.ParsePreset(f.Preset)
		if err != nil {
			return cfg, err
		}
		cfg = p.Config()
	}

	t := f.Tiered
	th := &cfg.Thresholds
	setUint(&th.Interpreter, t.Thresholds.Interpreter)
	setUint(&th.Warm, t.Thresholds.Warm)
	setUint(&th.Hot, t.Thresholds.Hot)
	setUint(&th.Blazing, t.Thresholds.Blazing)
	setUint(&th.SampleRate, t.Thresholds.SampleRate)

	if t.Background != nil {
		cfg.EnableBackgroundOptimization = *t.Background
	}
	if t.CheckInterval != "" {
		d, err := time.ParseDuration(t.CheckInterval)
		if err != nil {
			return cfg, fmt.Errorf("invalid check_interval: %w", err)
		}
		cfg.OptimizationCheckInterval = d
	}
	setInt(&cfg.MaxParallelOptimizations, t.MaxParallel)
	setInt(&cfg.Verbosity, t.Verbosity)
	setInt(&cfg.MaxTierPromotions, t.MaxPromotions)
	if t.StartInterpreted != nil {
		cfg.StartInterpreted = *t.StartInterpreted
	}
	if t.Bailout != "" {
		if err := cfg.Bailout.UnmarshalText([]byte(t.Bailout)); err != nil {
			return cfg, err
		}
	}
	if t.RegionSize != "" {
		n, err := units.RAMInBytes(t.RegionSize)
		if err != nil {
			return cfg, fmt.Errorf("invalid region_size: %w", err)
		}
		cfg.RegionSize = int(n)
	}
	if len(t.Backends) > 0 {
		cfg.TierBackends = make(map[tiered.Tier]string, len(t.Backends))
		for name, backend := range t.Backends {
			var tier tiered.Tier
			if err := tier.UnmarshalText([]byte(name)); err != nil {
				return cfg, fmt.Errorf("invalid [tiered.backends] key: %w", err)
			}
			cfg.TierBackends[tier] = backend
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// AOTOptions 把 [aot] 段转换为编译选项，未设置的字段使用默认值
func (f *File) AOTOptions() (aot.Options, error) {
	o := aot.DefaultOptions()
	a := f.AOT
	if a.OptLevel != "" {
		l, err := opt.ParseLevel(a.OptLevel)
		if err != nil {
			return o, fmt.Errorf("invalid [aot] opt_level: %w", err)
		}
		o.OptLevel = l
	}
	if a.Strip != nil {
		o.Strip = *a.Strip
	}
	o.Target = a.Target
	o.Linker = a.Linker
	o.RuntimeDir = a.RuntimeDir
	o.Sysroot = a.Sysroot
	o.StripSymbols = a.StripSymbols
	o.Tools = aot.Tools{LLC: a.LLC, LLVMAs: a.LLVMAs}
	return o, nil
}

func setUint(dst *uint64, v *uint64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// Save 保存配置到文件
func (f *File) Save(path string) error {
	content := generateConfigWithComments(f)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateConfigWithComments 生成带注释的配置文件内容
func generateConfigWithComments(f *File) string {
	var sb strings.Builder

	sb.WriteString("# 预设：script / application / server / benchmark / development / embedded\n")
	sb.WriteString(fmt.Sprintf("preset = %q\n\n", f.Preset))

	sb.WriteString("[tiered]\n")
	sb.WriteString("# 后台编译检查间隔\n")
	sb.WriteString(fmt.Sprintf("check_interval = %q\n", f.Tiered.CheckInterval))
	sb.WriteString("# 退出解释器策略：immediate / quick / normal / slow / off / custom:N\n")
	sb.WriteString(fmt.Sprintf("bailout = %q\n", f.Tiered.Bailout))
	sb.WriteString("# JIT 代码区域大小\n")
	sb.WriteString(fmt.Sprintf("region_size = %q\n\n", f.Tiered.RegionSize))

	sb.WriteString("[aot]\n")
	sb.WriteString("# 优化级别 O0-O3\n")
	sb.WriteString(fmt.Sprintf("opt_level = %q\n", f.AOT.OptLevel))
	sb.WriteString("# 链接器路径，为空时依次查找 clang、gcc、cc\n")
	sb.WriteString(fmt.Sprintf("linker = %q\n", f.AOT.Linker))
	sb.WriteString("# 运行时库目录，为空时查找 MIRJIT_RUNTIME_DIR\n")
	sb.WriteString(fmt.Sprintf("runtime_dir = %q\n", f.AOT.RuntimeDir))

	return sb.String()
}

// GenerateDefault 生成默认配置
func GenerateDefault() *File {
	return &File{
		Preset: string(tiered.PresetApplication),
		Tiered: TieredSection{
			CheckInterval: "100ms",
			Bailout:       "quick",
			RegionSize:    units.BytesSize(4 << 20),
		},
		AOT: AOTSection{OptLevel: "O2"},
	}
}

// FindConfigFile 从指定路径向上查找配置文件
// 返回配置文件的完整路径，如果找不到则返回空字符串
func FindConfigFile(startPath string) string {
	info, err := os.Stat(startPath)
	if err != nil {
		return ""
	}

	var dir string
	if info.IsDir() {
		dir = startPath
	} else {
		dir = filepath.Dir(startPath)
	}

	dir, err = filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
