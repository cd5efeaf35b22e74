// session.go - 分层执行会话
//
// Session 持有一个模块的全部执行状态：热度计数、分派表、解释器、
// JIT 内存和后台编译队列。所有调用都经过 ExecuteFunction，
// 调用方不知道被调函数当前在哪一层执行。

package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	uatomic "go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tangzhangming/mirjit/internal/hotness"
	"github.com/tangzhangming/mirjit/internal/interp"
	"github.com/tangzhangming/mirjit/internal/jit"
	"github.com/tangzhangming/mirjit/internal/logx"
	"github.com/tangzhangming/mirjit/internal/mir"
)

var (
	// ErrNoModule 尚未注册模块
	ErrNoModule = errors.New("no module registered")
	// ErrModuleRegistered 每个会话只能注册一个模块
	ErrModuleRegistered = errors.New("session already has a module")
	// ErrUnknownFunction 函数编号不存在
	ErrUnknownFunction = errors.New("unknown function")
	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("session is closed")
)

// ============================================================================
// 分派表
// ============================================================================

// entry 函数当前的执行方式，发布后不再修改
type entry struct {
	tier    Tier
	addr    uintptr
	conv    *jit.CallConv
	backend string
}

var interpretedEntry = &entry{tier: Interpreted}

type funcState struct {
	fn  *mir.Function
	cur atomic.Pointer[entry]

	promoting  uatomic.Bool   // 同一时间最多一个提升在进行
	failed     uatomic.Uint32 // 编译失败过的最高层
	promotions uatomic.Int32
}

type program struct {
	module *mir.Module
	funcs  []*funcState
	interp *interp.Interpreter
}

func (p *program) state(id mir.FuncID) *funcState {
	if int(id) < len(p.funcs) {
		return p.funcs[id]
	}
	return nil
}

// ============================================================================
// 会话
// ============================================================================

// Session 分层执行会话
type Session struct {
	id  uuid.UUID
	cfg Config
	log *zap.Logger

	tracker  *hotness.Tracker
	mem      *jit.Manager
	invoker  jit.NativeInvoker
	syms     jit.SymbolResolver
	backends map[string]jit.Backend
	hosts    map[string]interp.HostFunc

	regMu sync.Mutex
	prog  atomic.Pointer[program]

	// 后台编译
	qmu   sync.Mutex
	queue []job
	sem   *semaphore.Weighted
	stop  chan struct{}
	wg    sync.WaitGroup

	closed     uatomic.Bool
	disabled   uatomic.Bool
	errMu      sync.Mutex
	err        error
	optimizing uatomic.Int32 // 正在编译
	inflight   uatomic.Int32 // 已 acquire 未 release 的提升
	active     uatomic.Int32 // 进行中的调用、注册和 Drain
	promotions uatomic.Uint64
	failures   uatomic.Uint64

	// 选项
	memory      jit.CodeMemory
	backendsSet bool
	invokerSet  bool
}

// Option 会话选项
type Option func(*Session)

// WithBackends 设置可用的代码生成后端，覆盖平台默认值
func WithBackends(bs ...jit.Backend) Option {
	return func(s *Session) {
		s.backendsSet = true
		for _, b := range bs {
			s.backends[b.Name()] = b
		}
	}
}

// WithCodeMemory 设置 JIT 代码内存
func WithCodeMemory(mem jit.CodeMemory) Option {
	return func(s *Session) { s.memory = mem }
}

// WithInvoker 设置原生调用方式
func WithInvoker(inv jit.NativeInvoker) Option {
	return func(s *Session) {
		s.invoker = inv
		s.invokerSet = true
	}
}

// WithSymbols 设置外部符号解析
func WithSymbols(r jit.SymbolResolver) Option {
	return func(s *Session) { s.syms = r }
}

// WithHostFuncs 注册外部函数的 Go 实现
func WithHostFuncs(hosts map[string]interp.HostFunc) Option {
	return func(s *Session) {
		for name, fn := range hosts {
			s.hosts[name] = fn
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

// NewSession 创建会话
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tiered config: %w", err)
	}
	if cfg.TierBackends == nil {
		cfg.TierBackends = DefaultTierBackends()
	}
	s := &Session{
		id:       uuid.New(),
		cfg:      cfg,
		tracker:  hotness.NewTracker(cfg.Thresholds),
		backends: make(map[string]jit.Backend),
		hosts:    make(map[string]interp.HostFunc),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		if cfg.Verbosity > 0 {
			s.log = logx.New(cfg.Verbosity)
		} else {
			s.log = zap.NewNop()
		}
	}
	s.log = s.log.With(zap.String("session", s.id.String()))

	if s.memory == nil {
		s.memory = jit.NewNativeMemory()
	}
	s.mem = jit.NewManager(s.memory, cfg.RegionSize)
	if !s.invokerSet && s.memory.Executable() {
		s.invoker = jit.TrampolineInvoker{}
	}
	if !s.backendsSet && s.memory.Executable() {
		for _, b := range jit.HostBackends() {
			s.backends[b.Name()] = b
		}
	}
	if s.syms == nil {
		s.syms = jit.NewSymbolTable()
	}

	parallel := int64(cfg.MaxParallelOptimizations)
	if parallel < 1 {
		parallel = 1
	}
	s.sem = semaphore.NewWeighted(parallel)
	if cfg.EnableBackgroundOptimization && cfg.MaxTierPromotions > 0 {
		s.wg.Add(1)
		go s.poll()
	}
	s.log.Debug("session created",
		zap.Int("backends", len(s.backends)),
		zap.Bool("native", s.invoker != nil),
		zap.Bool("background", cfg.EnableBackgroundOptimization))
	return s, nil
}

// ID 会话编号
func (s *Session) ID() uuid.UUID { return s.id }

// Config 会话配置
func (s *Session) Config() Config { return s.cfg }

// Tracker 热度计数器
func (s *Session) Tracker() *hotness.Tracker { return s.tracker }

// Memory JIT 代码内存管理器
func (s *Session) Memory() *jit.Manager { return s.mem }

// Module 已注册的模块
func (s *Session) Module() *mir.Module {
	if p := s.prog.Load(); p != nil {
		return p.module
	}
	return nil
}

// Err 导致提升被停用的内存错误
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// enter 登记一个进行中的操作，会话已关闭时返回 false
//
// 先计数再检查 closed，与 Close 先置 closed 再等待计数归零配对，
// Close 返回后不会再有操作使用 JIT 内存。
func (s *Session) enter() bool {
	s.active.Inc()
	if s.closed.Load() {
		s.active.Dec()
		return false
	}
	return true
}

func (s *Session) exit() { s.active.Dec() }

// RegisterModule 注册模块，所有函数从解释层开始；
// StartInterpreted 为 false 时立即编译到基线层。
// 注册后模块只读。
func (s *Session) RegisterModule(ctx context.Context, m *mir.Module) error {
	if !s.enter() {
		return ErrSessionClosed
	}
	defer s.exit()
	if err := mir.Verify(m); err != nil {
		return fmt.Errorf("invalid module %s: %w", m.Name, err)
	}
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if s.prog.Load() != nil {
		return ErrModuleRegistered
	}

	p := &program{module: m, funcs: make([]*funcState, len(m.Functions))}
	p.interp = interp.New(
		interp.WithDispatcher(s),
		interp.WithGlobals(interp.NewGlobals(m)),
		interp.WithHostFuncs(s.hosts),
	)
	for i, f := range m.Functions {
		fs := &funcState{fn: f}
		fs.cur.Store(interpretedEntry)
		p.funcs[i] = fs
	}
	s.tracker.Grow(len(m.Functions))
	s.prog.Store(p)
	s.log.Info("module registered",
		zap.String("module", m.Name),
		zap.Int("functions", len(m.Functions)))

	if s.cfg.StartInterpreted {
		return nil
	}
	return s.compileAll(ctx, p)
}

// compileAll 并行把所有函数编译到基线层
func (s *Session) compileAll(ctx context.Context, p *program) error {
	g, ctx := errgroup.WithContext(ctx)
	limit := s.cfg.MaxParallelOptimizations
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, fs := range p.funcs {
		fs := fs
		if fs.fn.IsExtern() {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !s.acquire(fs, Baseline) {
				return nil
			}
			return s.promote(p, fs, Baseline)
		})
	}
	return g.Wait()
}

// Call 实现 interp.Dispatcher
func (s *Session) Call(ctx context.Context, id mir.FuncID, args []mir.Value) (mir.Value, error) {
	return s.ExecuteFunction(ctx, id, args)
}

// ExecuteFunction 按函数当前所在的层执行调用
func (s *Session) ExecuteFunction(ctx context.Context, id mir.FuncID, args []mir.Value) (mir.Value, error) {
	if !s.enter() {
		return mir.Value{}, ErrSessionClosed
	}
	defer s.exit()
	p := s.prog.Load()
	if p == nil {
		return mir.Value{}, ErrNoModule
	}
	fs := p.state(id)
	if fs == nil {
		return mir.Value{}, fmt.Errorf("%w: f%d", ErrUnknownFunction, id)
	}
	count := s.tracker.RecordCall(uint32(id))
	e := fs.cur.Load()

	var (
		v      mir.Value
		err    error
		target Tier
	)
	if e.tier == Interpreted {
		var st interp.RunStats
		v, st, err = p.interp.Run(ctx, p.module, id, args)
		if err == nil && s.cfg.Bailout.Exceeded(st.Blocks) {
			target = Baseline
		}
	} else {
		v, err = s.invoker.Invoke(e.addr, e.conv, args)
		if err != nil {
			err = fmt.Errorf("native call to %s@%s: %w", fs.fn.Name, e.tier, err)
		}
	}
	if err != nil {
		return mir.Value{}, err
	}

	if s.tracker.ShouldSample(count) {
		if t := TierFor(hotness.Classify(count, s.cfg.Thresholds)); t > target {
			target = t
		}
	}
	if target > e.tier {
		s.requestPromotion(p, fs, target)
	}
	return v, nil
}

// CallMain 以无参数调用模块入口函数
func (s *Session) CallMain(ctx context.Context) (mir.Value, error) {
	p := s.prog.Load()
	if p == nil {
		return mir.Value{}, ErrNoModule
	}
	f, err := p.module.EntryFunction()
	if err != nil {
		return mir.Value{}, err
	}
	if len(f.Sig.Params) != 0 {
		return mir.Value{}, fmt.Errorf("entry function %s takes %d parameters", f.Name, len(f.Sig.Params))
	}
	return s.ExecuteFunction(ctx, f.ID, nil)
}

// TierOf 函数当前所在的层
func (s *Session) TierOf(id mir.FuncID) Tier {
	p := s.prog.Load()
	if p == nil {
		return Interpreted
	}
	if fs := p.state(id); fs != nil {
		return fs.cur.Load().tier
	}
	return Interpreted
}

// Close 停止后台编译，等待进行中的调用和提升完成，然后释放 JIT 内存。
// 之后所有原生代码地址失效。不能在会话的调用内部（如外部函数中）调用。
func (s *Session) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	close(s.stop)
	s.wg.Wait()
	for s.active.Load() > 0 {
		time.Sleep(time.Millisecond)
	}

	s.qmu.Lock()
	for _, j := range s.queue {
		s.release(j.fs)
	}
	s.queue = nil
	s.qmu.Unlock()

	if err := s.Err(); err != nil {
		s.log.Warn("promotions were disabled", zap.Error(err))
	}
	return s.mem.Close()
}
