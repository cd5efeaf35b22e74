package hotness

import (
	"math"
	"sync"
	"testing"
)

func boundaryThresholds() Thresholds {
	return Thresholds{Interpreter: 3, Warm: 5, Hot: 10, Blazing: 100, SampleRate: 1}
}

// TestClassifyBoundaries 边界上的计数属于更高等级
func TestClassifyBoundaries(t *testing.T) {
	th := boundaryThresholds()
	tests := []struct {
		count uint64
		want  Level
	}{
		{0, Interpreted},
		{2, Interpreted},
		{3, Cold},
		{4, Cold},
		{5, Warm},
		{9, Warm},
		{10, Hot},
		{99, Hot},
		{100, Blazing},
		{math.MaxUint64 - 1, Blazing},
	}
	for _, tt := range tests {
		if got := Classify(tt.count, th); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.count, got, tt.want)
		}
	}
}

// TestClassifyZeroThresholds 计数为 0 时与阈值无关
func TestClassifyZeroThresholds(t *testing.T) {
	if got := Classify(0, Thresholds{}); got != Interpreted {
		t.Errorf("Classify(0, zero thresholds) = %s", got)
	}
	if got := Classify(1, Thresholds{}); got != Blazing {
		t.Errorf("Classify(1, zero thresholds) = %s", got)
	}
}

// TestTrackerScenario 3 次调用为 Cold，2 次为 Interpreted，10 次为 Hot
func TestTrackerScenario(t *testing.T) {
	tr := NewTracker(boundaryThresholds())
	tr.Grow(1)

	tr.RecordCall(0)
	tr.RecordCall(0)
	if got := tr.LevelOf(0); got != Interpreted {
		t.Fatalf("after 2 calls level = %s", got)
	}
	if tr.ShouldPromote(0, Interpreted) {
		t.Fatal("2 calls should not be promotable")
	}
	tr.RecordCall(0)
	if got := tr.LevelOf(0); got != Cold {
		t.Fatalf("after 3 calls level = %s", got)
	}
	if !tr.ShouldPromote(0, Interpreted) {
		t.Fatal("3 calls should be promotable from Interpreted")
	}
	for tr.Count(0) < 10 {
		tr.RecordCall(0)
	}
	if got := tr.LevelOf(0); got != Hot {
		t.Fatalf("after 10 calls level = %s", got)
	}
	if tr.ShouldPromote(0, Hot) {
		t.Fatal("Hot should not promote from Hot")
	}
}

// TestConcurrentCounting 并发调用后计数准确
func TestConcurrentCounting(t *testing.T) {
	tr := NewTracker(DefaultThresholds())
	const goroutines = 16
	const perG = 1000

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perG; i++ {
				// 计数器没有预分配，同时覆盖并发扩容
				tr.RecordCall(uint32(i % 8))
			}
		}(g)
	}
	wg.Wait()

	var sum uint64
	for id := uint32(0); id < 8; id++ {
		sum += tr.Count(id)
	}
	if sum != goroutines*perG {
		t.Errorf("total count = %d, want %d", sum, goroutines*perG)
	}
	if tr.TotalCalls() != goroutines*perG {
		t.Errorf("TotalCalls = %d", tr.TotalCalls())
	}
	if got := tr.Count(0); got != goroutines*perG/8 {
		t.Errorf("Count(0) = %d, want %d", got, goroutines*perG/8)
	}
}

// TestLevelMonotonic 等级随计数单调不减
func TestLevelMonotonic(t *testing.T) {
	for _, th := range []Thresholds{DefaultThresholds(), DevelopmentThresholds(), ProductionThresholds()} {
		prev := Interpreted
		for c := uint64(0); c <= th.Blazing+10; c++ {
			l := Classify(c, th)
			if l < prev {
				t.Fatalf("level decreased at count %d: %s -> %s", c, prev, l)
			}
			prev = l
		}
		if prev != Blazing {
			t.Fatalf("never reached Blazing with %+v", th)
		}
	}
}

// TestShouldSample 测试采样率
func TestShouldSample(t *testing.T) {
	tr := NewTracker(ProductionThresholds())
	if tr.ShouldSample(9) || !tr.ShouldSample(10) || !tr.ShouldSample(20) {
		t.Error("sample rate 10 not honoured")
	}
	if !NewTracker(Thresholds{}).ShouldSample(7) {
		t.Error("sample rate 0 should sample every call")
	}
	if NewTracker(NeverThresholds()).ShouldSample(math.MaxUint64) {
		t.Error("MaxUint64 sample rate should never sample")
	}
}

// TestResetAndSnapshot 测试重置和快照
func TestResetAndSnapshot(t *testing.T) {
	tr := NewTracker(DefaultThresholds())
	tr.Grow(4)
	tr.RecordCall(1)
	tr.RecordCall(1)
	tr.RecordCall(3)
	snap := tr.Snapshot()
	if len(snap) != 2 || snap[1] != 2 || snap[3] != 1 {
		t.Fatalf("unexpected snapshot %v", snap)
	}
	tr.Reset()
	if tr.Count(1) != 0 || tr.TotalCalls() != 0 || len(tr.Snapshot()) != 0 {
		t.Error("reset did not clear counters")
	}
}

// TestValidate 测试阈值检查
func TestValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Errorf("default thresholds invalid: %v", err)
	}
	if err := (Thresholds{Interpreter: 10, Warm: 5, Hot: 20, Blazing: 30}).Validate(); err == nil {
		t.Error("expected error for descending thresholds")
	}
}
