// mirrun - 通过分层执行引擎运行 MIR 模块
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/tangzhangming/mirjit/internal/config"
	"github.com/tangzhangming/mirjit/internal/mir"
	"github.com/tangzhangming/mirjit/internal/repl"
	"github.com/tangzhangming/mirjit/internal/tiered"
)

const Version = "0.1.0"

var (
	configPath  = flag.String("config", "", "Path to mirjit.toml (default: search upwards from the module)")
	presetName  = flag.String("preset", "", "Tiered preset: script, application, server, benchmark, development, embedded")
	funcName    = flag.String("func", "", "Function to call (default: module entry)")
	repeat      = flag.Int("n", 1, "Call the function n times")
	showStats   = flag.Bool("stats", false, "Print tiered compilation statistics as JSON")
	interactive = flag.Bool("repl", false, "Start an interactive session")
	verbosity   = flag.Int("v", -1, "Log verbosity (0 warn, 1 info, 2 debug)")
	useSamples  = flag.Bool("samples", false, "Use the built-in sample module")
	dumpModule  = flag.Bool("dump", false, "Print the module and exit")
	initConfig  = flag.Bool("init", false, "Write a default mirjit.toml to the current directory")
	showVersion = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("mirrun version %s\n", Version)
		return
	}
	if *initConfig {
		if err := config.GenerateDefault().Save(config.ConfigFileName); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Wrote %s\n", config.ConfigFileName)
		return
	}

	m, source, err := loadModule()
	if err != nil {
		fatalf("%v", err)
	}
	if *dumpModule {
		fmt.Print(m.String())
		return
	}

	cfg, err := loadConfig(source)
	if err != nil {
		fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, m, cfg); err != nil {
		fatalf("%v", err)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "mirrun - run MIR modules on the tiered execution engine")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage: mirrun [options] <module.json> [args...]")
	fmt.Fprintln(os.Stderr, "       mirrun -samples -func sum_to 100")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Options:")
	flag.PrintDefaults()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// loadModule 返回模块和用于查找配置文件的起始路径
func loadModule() (*mir.Module, string, error) {
	if *useSamples {
		return mir.SampleModule(), ".", nil
	}
	if flag.NArg() < 1 {
		printUsage()
		os.Exit(2)
	}
	path := flag.Arg(0)
	m, err := mir.LoadModule(path)
	if err != nil {
		return nil, "", err
	}
	return m, path, nil
}

// callArgs 位置参数中函数参数的部分
func callArgs() []string {
	if *useSamples {
		return flag.Args()
	}
	return flag.Args()[1:]
}

func loadConfig(source string) (tiered.Config, error) {
	file := &config.File{}
	path := *configPath
	if path == "" {
		path = config.FindConfigFile(source)
	}
	if path != "" {
		f, err := config.LoadConfig(path)
		if err != nil {
			return tiered.Config{}, err
		}
		file = f
	}
	if *presetName != "" {
		file.Preset = *presetName
	}
	if *verbosity >= 0 {
		v := *verbosity
		file.Tiered.Verbosity = &v
	}
	return file.TieredConfig()
}

func run(ctx context.Context, m *mir.Module, cfg tiered.Config) (err error) {
	sess, err := tiered.NewSession(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if err := sess.RegisterModule(ctx, m); err != nil {
		return err
	}

	if *interactive {
		return repl.New(sess, repl.DefaultConfig()).Run(ctx)
	}

	f, err := target(m)
	if err != nil {
		return err
	}
	args, err := parseArgs(m, f, callArgs())
	if err != nil {
		return err
	}

	var result mir.Value
	for i := 0; i < *repeat; i++ {
		result, err = sess.Call(ctx, f.ID, args)
		if err != nil {
			return err
		}
	}
	if result.IsVoid() {
		fmt.Println("()")
	} else {
		fmt.Println(result)
	}

	if *showStats {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := sess.Drain(dctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		data, err := json.MarshalIndent(sess.GetStatistics(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	}
	return nil
}

func target(m *mir.Module) (*mir.Function, error) {
	if *funcName == "" {
		return m.EntryFunction()
	}
	f, ok := m.Lookup(*funcName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", tiered.ErrUnknownFunction, *funcName)
	}
	return f, nil
}

func parseArgs(m *mir.Module, f *mir.Function, raw []string) ([]mir.Value, error) {
	_, args, err := repl.ParseCall(m, strings.Join(append([]string{f.Name}, raw...), " "))
	return args, err
}
