// tracker.go - 函数热度统计
//
// 每个函数一个原子计数器，按阈值把调用次数映射为热度等级：
//
//	Interpreted < Cold < Warm < Hot < Blazing
//
// 计数是无等待的：计数器在注册模块时按函数数量预分配（Grow），
// 调用路径上只做一次原子自增，不持有任何锁。

package hotness

import (
	"fmt"
	"math"
	"sync"

	"go.uber.org/atomic"
)

// ============================================================================
// 热度等级
// ============================================================================

// Level 热度等级，按声明顺序全序
type Level uint8

const (
	Interpreted Level = iota // 未达到任何阈值
	Cold                     // 达到解释器阈值
	Warm
	Hot
	Blazing
)

func (l Level) String() string {
	switch l {
	case Interpreted:
		return "interpreted"
	case Cold:
		return "cold"
	case Warm:
		return "warm"
	case Hot:
		return "hot"
	case Blazing:
		return "blazing"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// ============================================================================
// 阈值配置
// ============================================================================

// Thresholds 阈值配置：四个递增阈值和采样率
type Thresholds struct {
	Interpreter uint64 `toml:"interpreter"`
	Warm        uint64 `toml:"warm"`
	Hot         uint64 `toml:"hot"`
	Blazing     uint64 `toml:"blazing"`
	SampleRate  uint64 `toml:"sample_rate"`
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{Interpreter: 10, Warm: 100, Hot: 1000, Blazing: 10000, SampleRate: 1}
}

// DevelopmentThresholds 开发模式：更快进入编译层，便于观察
func DevelopmentThresholds() Thresholds {
	return Thresholds{Interpreter: 3, Warm: 10, Hot: 100, Blazing: 500, SampleRate: 1}
}

// ProductionThresholds 生产模式：更保守，并且每 10 次调用检查一次
func ProductionThresholds() Thresholds {
	return Thresholds{Interpreter: 50, Warm: 1000, Hot: 10000, Blazing: 100000, SampleRate: 10}
}

// NeverThresholds 所有阈值不可达，函数永远停留在解释层
func NeverThresholds() Thresholds {
	return Thresholds{
		Interpreter: math.MaxUint64,
		Warm:        math.MaxUint64,
		Hot:         math.MaxUint64,
		Blazing:     math.MaxUint64,
		SampleRate:  math.MaxUint64,
	}
}

// Validate 检查阈值递增
func (t Thresholds) Validate() error {
	if t.Interpreter > t.Warm || t.Warm > t.Hot || t.Hot > t.Blazing {
		return fmt.Errorf("thresholds must be ascending: interpreter=%d warm=%d hot=%d blazing=%d",
			t.Interpreter, t.Warm, t.Hot, t.Blazing)
	}
	return nil
}

// Classify 根据调用次数计算热度等级
//
// 比较使用 count >= threshold，恰好落在边界上的计数属于更高的等级。
// 计数为 0 时总是 Interpreted，即使阈值为 0。
func Classify(count uint64, t Thresholds) Level {
	switch {
	case count == 0:
		return Interpreted
	case count >= t.Blazing:
		return Blazing
	case count >= t.Hot:
		return Hot
	case count >= t.Warm:
		return Warm
	case count >= t.Interpreter:
		return Cold
	default:
		return Interpreted
	}
}

// ============================================================================
// 计数器
// ============================================================================

// Tracker 每个函数一个原子计数器
type Tracker struct {
	thresholds Thresholds

	// table 保存 []*atomic.Uint64，扩容时整体替换，旧计数器指针保留
	table atomic.Value
	mu    sync.Mutex

	total atomic.Uint64
}

// NewTracker 创建热度统计器
func NewTracker(t Thresholds) *Tracker {
	tr := &Tracker{thresholds: t}
	tr.table.Store([]*atomic.Uint64(nil))
	return tr
}

// Thresholds 返回当前阈值配置
func (t *Tracker) Thresholds() Thresholds { return t.thresholds }

func (t *Tracker) counters() []*atomic.Uint64 {
	return t.table.Load().([]*atomic.Uint64)
}

// Grow 确保至少有 n 个计数器
func (t *Tracker) Grow(n int) {
	if n <= len(t.counters()) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.counters()
	if n <= len(old) {
		return
	}
	next := make([]*atomic.Uint64, n)
	copy(next, old)
	for i := len(old); i < n; i++ {
		next[i] = atomic.NewUint64(0)
	}
	t.table.Store(next)
}

func (t *Tracker) counter(id uint32) *atomic.Uint64 {
	c := t.counters()
	if int(id) < len(c) {
		return c[id]
	}
	t.Grow(int(id) + 1)
	return t.counters()[id]
}

// RecordCall 记录一次调用，返回自增后的计数
func (t *Tracker) RecordCall(id uint32) uint64 {
	t.total.Inc()
	return t.counter(id).Inc()
}

// Count 返回当前计数
func (t *Tracker) Count(id uint32) uint64 {
	c := t.counters()
	if int(id) < len(c) {
		return c[id].Load()
	}
	return 0
}

// TotalCalls 所有函数的调用总数
func (t *Tracker) TotalCalls() uint64 { return t.total.Load() }

// LevelOf 返回函数当前的热度等级，不修改计数
func (t *Tracker) LevelOf(id uint32) Level {
	return Classify(t.Count(id), t.thresholds)
}

// ShouldPromote 当前等级是否严格高于 from
func (t *Tracker) ShouldPromote(id uint32, from Level) bool {
	return t.LevelOf(id) > from
}

// ShouldSample 给定计数是否需要做晋升检查
//
// 采样率为 0 视为 1；采样率为 MaxUint64 时永不检查。
func (t *Tracker) ShouldSample(count uint64) bool {
	rate := t.thresholds.SampleRate
	switch rate {
	case 0, 1:
		return true
	case math.MaxUint64:
		return false
	}
	return count%rate == 0
}

// Snapshot 返回所有非零计数
func (t *Tracker) Snapshot() map[uint32]uint64 {
	out := make(map[uint32]uint64)
	for i, c := range t.counters() {
		if n := c.Load(); n > 0 {
			out[uint32(i)] = n
		}
	}
	return out
}

// Reset 清空所有计数
//
// 只用于测试隔离，调用期间不能有并发的 RecordCall。
func (t *Tracker) Reset() {
	for _, c := range t.counters() {
		c.Store(0)
	}
	t.total.Store(0)
}
