package tiered

import (
	"fmt"

	"github.com/tangzhangming/mirjit/internal/jit"
)

// Statistics 会话统计，外部声明不计入各层函数数
type Statistics struct {
	SessionID   string          `json:"session"`
	Interpreted int             `json:"interpreted"`
	Baseline    int             `json:"baseline"`
	Standard    int             `json:"standard"`
	Optimized   int             `json:"optimized"`
	Maximum     int             `json:"maximum"`
	Queued      int             `json:"queued"`
	Optimizing  int             `json:"optimizing"`
	Promotions  uint64          `json:"promotions"`
	Failures    uint64          `json:"failures"`
	Calls       uint64          `json:"calls"`
	Memory      jit.MemoryStats `json:"memory"`
}

// PerTier 按层返回函数数
func (st Statistics) PerTier() [NumTiers]int {
	return [NumTiers]int{st.Interpreted, st.Baseline, st.Standard, st.Optimized, st.Maximum}
}

// Format 两行文本摘要
func (st Statistics) Format() string {
	return fmt.Sprintf("Tiered Compilation: %d Interpreted (P0), %d Baseline (P1), %d Standard (P2), %d Optimized (P3), %d Maximum (P4)\nQueue: %d waiting, %d optimizing",
		st.Interpreted, st.Baseline, st.Standard, st.Optimized, st.Maximum, st.Queued, st.Optimizing)
}

// GetStatistics 返回当前统计
func (s *Session) GetStatistics() Statistics {
	st := Statistics{
		SessionID:  s.id.String(),
		Optimizing: int(s.optimizing.Load()),
		Promotions: s.promotions.Load(),
		Failures:   s.failures.Load(),
		Calls:      s.tracker.TotalCalls(),
		Memory:     s.mem.Stats(),
	}
	s.qmu.Lock()
	st.Queued = len(s.queue)
	s.qmu.Unlock()

	p := s.prog.Load()
	if p == nil {
		return st
	}
	for _, fs := range p.funcs {
		if fs.fn.IsExtern() {
			continue
		}
		switch fs.cur.Load().tier {
		case Interpreted:
			st.Interpreted++
		case Baseline:
			st.Baseline++
		case Standard:
			st.Standard++
		case Optimized:
			st.Optimized++
		case Maximum:
			st.Maximum++
		}
	}
	return st
}
