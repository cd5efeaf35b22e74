// repl.go - mirrun 交互模式
//
// 每行输入是一次函数调用：函数名后跟空格分隔的参数，参数按函数签名解析。
// 以 ':' 开头的是特殊命令（:help, :quit, :funcs, :stats, :tier, :drain, :history）。

package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tangzhangming/mirjit/internal/mir"
	"github.com/tangzhangming/mirjit/internal/tiered"
)

// ErrQuit 用户请求退出
var ErrQuit = errors.New("quit")

// REPL 交互式调用器
type REPL struct {
	sess          *tiered.Session
	writer        io.Writer
	history       []string
	promptPrimary string
	historyFile   string
	stdin         io.ReadCloser
}

// Config REPL 配置
type Config struct {
	PromptPrimary string
	HistoryFile   string
	Stdin         io.ReadCloser // 为空时使用终端
	Stdout        io.Writer
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		PromptPrimary: "mir> ",
		HistoryFile:   ".mirrun-history",
	}
}

// New 创建 REPL，会话必须已注册模块
func New(sess *tiered.Session, config Config) *REPL {
	r := &REPL{
		sess:          sess,
		writer:        config.Stdout,
		promptPrimary: config.PromptPrimary,
		historyFile:   config.HistoryFile,
		stdin:         config.Stdin,
	}
	if r.writer == nil {
		r.writer = readline.Stdout
	}
	return r
}

// Run 运行 REPL，直到 EOF 或 :quit
func (r *REPL) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            r.promptPrimary,
		HistoryFile:       r.historyFile,
		AutoComplete:      r.completer(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             r.stdin,
		Stdout:            r.writer,
	})
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer rl.Close()

	r.printWelcome()
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				return nil
			}
			continue
		} else if err == io.EOF {
			fmt.Fprintln(r.writer, "Bye!")
			return nil
		} else if err != nil {
			return err
		}

		if err := r.Eval(ctx, line); errors.Is(err, ErrQuit) {
			fmt.Fprintln(r.writer, "Bye!")
			return nil
		}
	}
}

// Eval 处理一行输入，只有 :quit 返回错误
func (r *REPL) Eval(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	r.addHistory(line)
	if strings.HasPrefix(line, ":") {
		return r.handleCommand(ctx, line)
	}
	r.execute(ctx, line)
	return nil
}

// printWelcome 打印欢迎信息
func (r *REPL) printWelcome() {
	m := r.sess.Module()
	fmt.Fprintf(r.writer, "mirrun REPL: module %s, %d functions\n", m.Name, len(m.Functions))
	fmt.Fprintln(r.writer, "Type :help for help, :quit to exit")
	fmt.Fprintln(r.writer)
}

// handleCommand 处理特殊命令
func (r *REPL) handleCommand(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case ":help", ":h", ":?":
		r.printHelp()
	case ":quit", ":q", ":exit":
		return ErrQuit
	case ":funcs", ":f":
		r.printFuncs()
	case ":stats", ":s":
		fmt.Fprintln(r.writer, r.sess.GetStatistics().Format())
	case ":tier", ":t":
		if len(args) < 1 {
			fmt.Fprintln(r.writer, "Usage: :tier <function>")
			return nil
		}
		f, ok := r.sess.Module().Lookup(args[0])
		if !ok {
			fmt.Fprintf(r.writer, "Unknown function: %s\n", args[0])
			return nil
		}
		fmt.Fprintf(r.writer, "%s: %s (%d calls)\n", f.Name, r.sess.TierOf(f.ID), r.sess.Tracker().Count(uint32(f.ID)))
	case ":drain", ":d":
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := r.sess.Drain(dctx); err != nil {
			fmt.Fprintf(r.writer, "Error: %v\n", err)
			return nil
		}
		fmt.Fprintln(r.writer, "Promotion queue drained.")
	case ":history", ":hist":
		r.printHistory()
	default:
		fmt.Fprintf(r.writer, "Unknown command: %s\n", cmd)
		fmt.Fprintln(r.writer, "Type :help for available commands.")
	}
	return nil
}

// printHelp 打印帮助信息
func (r *REPL) printHelp() {
	fmt.Fprintln(r.writer, "Available commands:")
	fmt.Fprintln(r.writer, "  :help, :h, :?     Show this help message")
	fmt.Fprintln(r.writer, "  :quit, :q, :exit  Exit the REPL")
	fmt.Fprintln(r.writer, "  :funcs, :f        List functions with their tiers")
	fmt.Fprintln(r.writer, "  :stats, :s        Show tiered compilation statistics")
	fmt.Fprintln(r.writer, "  :tier <func>      Show the tier of one function")
	fmt.Fprintln(r.writer, "  :drain, :d        Wait for queued promotions")
	fmt.Fprintln(r.writer, "  :history, :hist   Show command history")
	fmt.Fprintln(r.writer)
	fmt.Fprintln(r.writer, "Calls:")
	fmt.Fprintln(r.writer, "  mir> add 40 2")
	fmt.Fprintln(r.writer, "  = i32 42 [interpreted]")
}

func (r *REPL) printFuncs() {
	m := r.sess.Module()
	fns := make([]*mir.Function, 0, len(m.Functions))
	fns = append(fns, m.Functions...)
	sort.Slice(fns, func(i, j int) bool { return fns[i].Name < fns[j].Name })
	for _, f := range fns {
		if f.IsExtern() {
			fmt.Fprintf(r.writer, "  %-16s %s  extern\n", f.Name, f.Sig)
			continue
		}
		fmt.Fprintf(r.writer, "  %-16s %s  %s\n", f.Name, f.Sig, r.sess.TierOf(f.ID))
	}
}

// printHistory 打印历史记录
func (r *REPL) printHistory() {
	for i, cmd := range r.history {
		fmt.Fprintf(r.writer, "%4d  %s\n", i+1, cmd)
	}
}

// addHistory 添加到历史记录
func (r *REPL) addHistory(input string) {
	// 不添加重复的历史记录
	if len(r.history) > 0 && r.history[len(r.history)-1] == input {
		return
	}
	r.history = append(r.history, input)
	if len(r.history) > 1000 {
		r.history = r.history[len(r.history)-1000:]
	}
}

// ParseCall 解析 "name arg..."，参数按签名类型解析
func ParseCall(m *mir.Module, line string) (*mir.Function, []mir.Value, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil, errors.New("empty call")
	}
	f, ok := m.Lookup(fields[0])
	if !ok {
		return nil, nil, fmt.Errorf("unknown function %s", fields[0])
	}
	raw := fields[1:]
	if len(raw) != len(f.Sig.Params) {
		return nil, nil, fmt.Errorf("%s takes %d arguments %s, got %d", f.Name, len(f.Sig.Params), f.Sig, len(raw))
	}
	args := make([]mir.Value, len(raw))
	for i, s := range raw {
		v, err := mir.ParseValue(f.Sig.Params[i], s)
		if err != nil {
			return nil, nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = v
	}
	return f, args, nil
}

// execute 执行一次调用
func (r *REPL) execute(ctx context.Context, line string) {
	f, args, err := ParseCall(r.sess.Module(), line)
	if err != nil {
		fmt.Fprintf(r.writer, "Error: %v\n", err)
		return
	}
	v, err := r.sess.Call(ctx, f.ID, args)
	if err != nil {
		fmt.Fprintf(r.writer, "Error: %v\n", err)
		return
	}
	if v.IsVoid() {
		fmt.Fprintf(r.writer, "= () [%s]\n", r.sess.TierOf(f.ID))
		return
	}
	fmt.Fprintf(r.writer, "= %s [%s]\n", v, r.sess.TierOf(f.ID))
}

// completer 命令和函数名补全
func (r *REPL) completer() readline.AutoCompleter {
	funcs := func(string) []string {
		var names []string
		for _, f := range r.sess.Module().Functions {
			names = append(names, f.Name)
		}
		return names
	}
	return readline.NewPrefixCompleter(
		readline.PcItem(":help"),
		readline.PcItem(":quit"),
		readline.PcItem(":funcs"),
		readline.PcItem(":stats"),
		readline.PcItem(":tier", readline.PcItemDynamic(funcs)),
		readline.PcItem(":drain"),
		readline.PcItem(":history"),
		readline.PcItemDynamic(funcs),
	)
}
