// config.go - 分层执行配置
//
// 每个函数从第 0 层（解释执行）开始，调用次数达到各级阈值后
// 提升到更高的编译层：
//
//	Interpreted  解释执行
//	Baseline     基线编译，不做优化
//	Standard     O1
//	Optimized    O2
//	Maximum      O3

package tiered

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tangzhangming/mirjit/internal/hotness"
	"github.com/tangzhangming/mirjit/internal/jit"
	"github.com/tangzhangming/mirjit/internal/opt"
)

// ============================================================================
// 执行层
// ============================================================================

// Tier 执行层，按声明顺序全序
type Tier uint8

const (
	Interpreted Tier = iota
	Baseline
	Standard
	Optimized
	Maximum
)

// NumTiers 执行层数量
const NumTiers = 5

var tierNames = [...]string{
	Interpreted: "interpreted",
	Baseline:    "baseline",
	Standard:    "standard",
	Optimized:   "optimized",
	Maximum:     "maximum",
}

func (t Tier) String() string {
	if int(t) < len(tierNames) {
		return tierNames[t]
	}
	return fmt.Sprintf("tier(%d)", uint8(t))
}

// MarshalText 实现 encoding.TextMarshaler
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText 实现 encoding.TextUnmarshaler
func (t *Tier) UnmarshalText(b []byte) error {
	s := strings.ToLower(string(b))
	for i, name := range tierNames {
		if name == s {
			*t = Tier(i)
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", string(b))
}

// TierFor 热度等级对应的目标层
func TierFor(l hotness.Level) Tier {
	switch l {
	case hotness.Cold:
		return Baseline
	case hotness.Warm:
		return Standard
	case hotness.Hot:
		return Optimized
	case hotness.Blazing:
		return Maximum
	default:
		return Interpreted
	}
}

// OptLevel 编译到该层前使用的 MIR 优化级别
func (t Tier) OptLevel() opt.Level {
	switch t {
	case Standard:
		return opt.O1
	case Optimized:
		return opt.O2
	case Maximum:
		return opt.O3
	default:
		return opt.O0
	}
}

// ============================================================================
// 退出解释器策略
// ============================================================================

// Bailout 单次解释调用执行的基本块数超过该值时，至少请求基线编译。
// 0 表示关闭。
type Bailout uint64

const (
	BailoutImmediate Bailout = 10
	BailoutQuick     Bailout = 100
	BailoutNormal    Bailout = 1000
	BailoutSlow      Bailout = 10000
)

// CustomBailout 自定义块数阈值
func CustomBailout(blocks uint64) Bailout { return Bailout(blocks) }

// Threshold 块数阈值
func (b Bailout) Threshold() uint64 { return uint64(b) }

// Exceeded 本次调用执行的块数是否超过阈值
func (b Bailout) Exceeded(blocks uint64) bool {
	return b != 0 && blocks > uint64(b)
}

func (b Bailout) String() string {
	switch b {
	case 0:
		return "off"
	case BailoutImmediate:
		return "immediate"
	case BailoutQuick:
		return "quick"
	case BailoutNormal:
		return "normal"
	case BailoutSlow:
		return "slow"
	}
	return "custom:" + strconv.FormatUint(uint64(b), 10)
}

// MarshalText 实现 encoding.TextMarshaler
func (b Bailout) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// UnmarshalText 接受 immediate、quick、normal、slow、off 和 custom:N
func (b *Bailout) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	switch s {
	case "off":
		*b = 0
	case "immediate":
		*b = BailoutImmediate
	case "quick":
		*b = BailoutQuick
	case "normal":
		*b = BailoutNormal
	case "slow":
		*b = BailoutSlow
	default:
		n, ok := strings.CutPrefix(s, "custom:")
		if !ok {
			return fmt.Errorf("unknown bailout strategy %q", s)
		}
		v, err := strconv.ParseUint(n, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid custom bailout %q: %w", n, err)
		}
		*b = Bailout(v)
	}
	return nil
}

// ============================================================================
// 配置
// ============================================================================

// Config 分层执行配置
type Config struct {
	Thresholds hotness.Thresholds

	// 后台优化：提升请求进入队列，由后台按间隔取出编译
	EnableBackgroundOptimization bool
	OptimizationCheckInterval    time.Duration
	MaxParallelOptimizations     int

	// 日志详细程度：0 警告，1 信息，2 调试
	Verbosity int

	// false 时注册模块后立即把所有函数编译到基线层
	StartInterpreted bool

	Bailout Bailout

	// 每个函数最多提升的次数，0 表示只解释执行
	MaxTierPromotions int

	// 执行层到后端名称的映射
	TierBackends map[Tier]string

	// JIT 代码区域大小，<= 0 使用默认值
	RegionSize int
}

// DefaultTierBackends 所有编译层都使用 x64 基线后端
func DefaultTierBackends() map[Tier]string {
	return map[Tier]string{
		Baseline:  jit.X64BackendName,
		Standard:  jit.X64BackendName,
		Optimized: jit.X64BackendName,
		Maximum:   jit.X64BackendName,
	}
}

// Validate 检查配置
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.MaxParallelOptimizations < 0 {
		return fmt.Errorf("max parallel optimizations must not be negative, got %d", c.MaxParallelOptimizations)
	}
	if c.MaxTierPromotions < 0 {
		return fmt.Errorf("max tier promotions must not be negative, got %d", c.MaxTierPromotions)
	}
	if c.EnableBackgroundOptimization && c.OptimizationCheckInterval <= 0 {
		return fmt.Errorf("optimization check interval must be positive, got %s", c.OptimizationCheckInterval)
	}
	for t := range c.TierBackends {
		if t == Interpreted || t > Maximum {
			return fmt.Errorf("tier %s cannot have a backend", t)
		}
	}
	return nil
}

// never 不会到达的检查间隔
const never = time.Duration(math.MaxInt64)

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Thresholds:                   hotness.DefaultThresholds(),
		EnableBackgroundOptimization: true,
		OptimizationCheckInterval:    100 * time.Millisecond,
		MaxParallelOptimizations:     4,
		StartInterpreted:             true,
		Bailout:                      BailoutQuick,
		MaxTierPromotions:            10,
		TierBackends:                 DefaultTierBackends(),
	}
}

// ProductionConfig 生产配置：更保守的阈值，更多并行编译
func ProductionConfig() Config {
	c := DefaultConfig()
	c.Thresholds = hotness.ProductionThresholds()
	c.OptimizationCheckInterval = time.Second
	c.MaxParallelOptimizations = 8
	return c
}

// JitOnlyConfig 跳过解释层，注册时直接编译
func JitOnlyConfig() Config {
	c := DefaultConfig()
	c.StartInterpreted = false
	return c
}

// ============================================================================
// 预设
// ============================================================================

// Preset 针对不同负载的预设配置
type Preset string

const (
	PresetScript      Preset = "script"
	PresetApplication Preset = "application"
	PresetServer      Preset = "server"
	PresetBenchmark   Preset = "benchmark"
	PresetDevelopment Preset = "development"
	PresetEmbedded    Preset = "embedded"
)

// Presets 所有预设
var Presets = []Preset{
	PresetScript, PresetApplication, PresetServer,
	PresetBenchmark, PresetDevelopment, PresetEmbedded,
}

// ParsePreset 解析预设名称
func ParsePreset(s string) (Preset, error) {
	p := Preset(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Presets {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown preset %q", s)
}

// Config 返回预设对应的配置
func (p Preset) Config() Config {
	c := DefaultConfig()
	switch p {
	case PresetScript:
		// 短生命周期脚本：不开后台，快速进入基线层，不追求最高层
		c.Thresholds = hotness.Thresholds{Interpreter: 5, Warm: 50, Hot: 200, Blazing: math.MaxUint64, SampleRate: 1}
		c.EnableBackgroundOptimization = false
		c.OptimizationCheckInterval = 50 * time.Millisecond
		c.MaxParallelOptimizations = 2
		c.MaxTierPromotions = 4
	case PresetApplication:
		c.Thresholds = hotness.Thresholds{Interpreter: 10, Warm: 100, Hot: 500, Blazing: 2000, SampleRate: 1}
	case PresetServer:
		c.Thresholds = hotness.Thresholds{Interpreter: 5, Warm: 50, Hot: 200, Blazing: 500, SampleRate: 1}
		c.OptimizationCheckInterval = 50 * time.Millisecond
		c.MaxParallelOptimizations = 8
		c.Bailout = BailoutImmediate
		c.MaxTierPromotions = 15
	case PresetBenchmark:
		c.Thresholds = hotness.Thresholds{Interpreter: 2, Warm: 3, Hot: 5, Blazing: math.MaxUint64, SampleRate: 1}
		c.EnableBackgroundOptimization = false
		c.OptimizationCheckInterval = time.Millisecond
		c.Verbosity = 1
		c.Bailout = BailoutImmediate
		c.MaxTierPromotions = 8
	case PresetDevelopment:
		c.Thresholds = hotness.DevelopmentThresholds()
		c.OptimizationCheckInterval = 50 * time.Millisecond
		c.MaxParallelOptimizations = 2
		c.Verbosity = 2
		c.Bailout = BailoutImmediate
		c.MaxTierPromotions = 6
	case PresetEmbedded:
		// 资源受限：永远解释执行
		c.Thresholds = hotness.NeverThresholds()
		c.EnableBackgroundOptimization = false
		c.OptimizationCheckInterval = never
		c.MaxParallelOptimizations = 0
		c.Bailout = BailoutSlow
		c.MaxTierPromotions = 0
	}
	return c
}
