// promote.go - 层级提升
//
// 提升请求先通过 acquire 获得函数的独占标记，然后同步执行，
// 或者放入队列由后台 goroutine 按检查间隔取出，并发数受信号量限制。
// 从 acquire 成功到 release 之间的提升都计入 inflight，Drain 以此等待。

package tiered

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tangzhangming/mirjit/internal/jit"
	"github.com/tangzhangming/mirjit/internal/opt"
)

type job struct {
	p      *program
	fs     *funcState
	target Tier
}

// acquire 检查提升条件并取得独占标记；返回 false 表示不需要提升
func (s *Session) acquire(fs *funcState, target Tier) bool {
	if s.disabled.Load() || s.closed.Load() || fs.fn.IsExtern() {
		return false
	}
	if s.invoker == nil || len(s.backends) == 0 {
		return false
	}
	if s.cfg.MaxTierPromotions <= 0 || int(fs.promotions.Load()) >= s.cfg.MaxTierPromotions {
		return false
	}
	if uint32(target) <= fs.failed.Load() || target <= fs.cur.Load().tier {
		return false
	}
	if !fs.promoting.CAS(false, true) {
		return false
	}
	// 标记取得之前可能刚完成一次提升
	if target <= fs.cur.Load().tier {
		fs.promoting.Store(false)
		return false
	}
	s.inflight.Inc()
	return true
}

// release 归还 acquire 取得的独占标记
func (s *Session) release(fs *funcState) {
	fs.promoting.Store(false)
	s.inflight.Dec()
}

// runJob 执行一个已经 acquire 的提升，丢弃错误前先记录
func (s *Session) runJob(j job, how string) {
	if err := s.promote(j.p, j.fs, j.target); err != nil {
		s.log.Error("promotion aborted",
			zap.String("func", j.fs.fn.Name),
			zap.Stringer("tier", j.target),
			zap.String("mode", how),
			zap.Error(err))
	}
}

// requestPromotion 请求把函数提升到 target 层，重复的请求被忽略
func (s *Session) requestPromotion(p *program, fs *funcState, target Tier) {
	if !s.acquire(fs, target) {
		return
	}
	if !s.cfg.EnableBackgroundOptimization {
		s.runJob(job{p: p, fs: fs, target: target}, "sync")
		return
	}
	s.qmu.Lock()
	if s.closed.Load() {
		s.qmu.Unlock()
		s.release(fs)
		return
	}
	s.queue = append(s.queue, job{p: p, fs: fs, target: target})
	s.qmu.Unlock()
	s.log.Debug("promotion queued", zap.String("func", fs.fn.Name), zap.Stringer("tier", target))
}

func (s *Session) dequeue() (job, bool) {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return job{}, false
	}
	j := s.queue[0]
	s.queue[0] = job{}
	s.queue = s.queue[1:]
	return j, true
}

// poll 后台轮询队列
func (s *Session) poll() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.OptimizationCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.launch()
		}
	}
}

// launch 在并发上限内为队列中的任务启动编译
func (s *Session) launch() {
	for {
		if !s.sem.TryAcquire(1) {
			return
		}
		j, ok := s.dequeue()
		if !ok {
			s.sem.Release(1)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.runJob(j, "background")
		}()
	}
}

// Drain 在调用方 goroutine 上处理完队列，并等待所有已请求的提升结束，
// 包括已被后台取出但尚未开始编译的任务
func (s *Session) Drain(ctx context.Context) error {
	if !s.enter() {
		return ErrSessionClosed
	}
	defer s.exit()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if j, ok := s.dequeue(); ok {
			s.runJob(j, "drain")
			continue
		}
		if s.inflight.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

// backendFor 选择 (current, target] 中配置了后端的最高层
func (s *Session) backendFor(current, target Tier) (Tier, jit.Backend) {
	for t := target; t > current; t-- {
		name, ok := s.cfg.TierBackends[t]
		if !ok {
			continue
		}
		if b, ok := s.backends[name]; ok {
			return t, b
		}
	}
	return Interpreted, nil
}

// promote 编译函数并替换分派表项，调用前必须已经 acquire。
// 只有内存错误会返回。
func (s *Session) promote(p *program, fs *funcState, target Tier) error {
	defer s.release(fs)
	s.optimizing.Inc()
	defer s.optimizing.Dec()

	log := s.log.With(zap.String("func", fs.fn.Name))
	cur := fs.cur.Load()
	tier, backend := s.backendFor(cur.tier, target)
	if backend == nil {
		log.Debug("no backend for tier", zap.Stringer("tier", target))
		s.markFailed(fs, target)
		return nil
	}
	log = log.With(zap.Stringer("tier", tier), zap.String("backend", backend.Name()))

	start := time.Now()
	f := fs.fn.Clone()
	opt.ForLevel(tier.OptLevel()).RunFunction(f)
	code, err := backend.Compile(f, p.module, s.syms)
	if err != nil {
		s.failures.Inc()
		s.markFailed(fs, tier)
		var cerr *jit.CodegenError
		if errors.As(err, &cerr) {
			log.Info("function stays on current tier", zap.String("reason", cerr.Reason))
		} else {
			log.Warn("compilation failed", zap.Error(err))
		}
		return nil
	}
	conv := code.Conv
	if conv == nil {
		if conv, err = jit.ConvFor(fs.fn.Sig); err != nil {
			s.failures.Inc()
			s.markFailed(fs, tier)
			log.Warn("unsupported signature", zap.Error(err))
			return nil
		}
	}

	addr, err := s.install(fmt.Sprintf("%s@%s", fs.fn.Name, tier), code.Code)
	if err != nil {
		s.failures.Inc()
		s.disable(err)
		log.Error("jit memory failure, promotions disabled", zap.Error(err))
		return err
	}
	fs.cur.Store(&entry{tier: tier, addr: addr, conv: conv, backend: backend.Name()})
	fs.promotions.Inc()
	s.promotions.Inc()

	log.Info("promoted",
		zap.Int("bytes", len(code.Code)),
		zap.Duration("elapsed", time.Since(start)))
	if ce := log.Check(zapcore.DebugLevel, "machine code"); ce != nil && backend.Name() == jit.X64BackendName {
		ce.Write(zap.String("asm", jit.DisassembleX64(code.Code)))
	}
	return nil
}

// install 在一个写批次中放置机器码
func (s *Session) install(name string, code []byte) (uintptr, error) {
	batch, err := s.mem.BeginWrite()
	if err != nil {
		return 0, err
	}
	addr, err := batch.AllocateFunction(name, code)
	if err != nil {
		_ = batch.EndWrite()
		return 0, err
	}
	if err := batch.Finalize(); err != nil {
		return 0, err
	}
	return addr, nil
}

func (s *Session) markFailed(fs *funcState, t Tier) {
	for {
		old := fs.failed.Load()
		if uint32(t) <= old || fs.failed.CAS(old, uint32(t)) {
			return
		}
	}
}

// disable 停止本会话后续的所有提升
func (s *Session) disable(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.disabled.Store(true)
}
