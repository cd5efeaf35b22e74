package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tangzhangming/mirjit/internal/aot"
	"github.com/tangzhangming/mirjit/internal/opt"
	"github.com/tangzhangming/mirjit/internal/tiered"
)

const sample = `
preset = "server"

[tiered]
check_interval = "250ms"
max_parallel = 3
bailout = "custom:64"
region_size = "1MiB"
start_interpreted = false

[tiered.thresholds]
interpreter = 7
sample_rate = 2

[tiered.backends]
baseline = "x64-baseline"

[aot]
opt_level = "O3"
linker = "/usr/bin/clang"
`

func TestTieredConfig(t *testing.T) {
	f, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := f.TieredConfig()
	if err != nil {
		t.Fatalf("TieredConfig: %v", err)
	}
	if cfg.Thresholds.Interpreter != 7 || cfg.Thresholds.Warm != 50 || cfg.Thresholds.SampleRate != 2 {
		t.Errorf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.OptimizationCheckInterval != 250*time.Millisecond || cfg.MaxParallelOptimizations != 3 {
		t.Errorf("pool = %s / %d", cfg.OptimizationCheckInterval, cfg.MaxParallelOptimizations)
	}
	if cfg.Bailout != tiered.CustomBailout(64) || cfg.StartInterpreted {
		t.Errorf("bailout = %s, start interpreted = %v", cfg.Bailout, cfg.StartInterpreted)
	}
	if cfg.RegionSize != 1<<20 {
		t.Errorf("region size = %d", cfg.RegionSize)
	}
	if len(cfg.TierBackends) != 1 || cfg.TierBackends[tiered.Baseline] != "x64-baseline" {
		t.Errorf("backends = %v", cfg.TierBackends)
	}
	// 未覆盖的字段来自 server 预设
	if cfg.MaxTierPromotions != 15 || !cfg.EnableBackgroundOptimization {
		t.Errorf("preset fields lost: %+v", cfg)
	}
	if f.AOT.OptLevel != "O3" || f.AOT.Linker != "/usr/bin/clang" {
		t.Errorf("aot = %+v", f.AOT)
	}
}

func TestAOTOptions(t *testing.T) {
	f, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	o, err := f.AOTOptions()
	if err != nil {
		t.Fatal(err)
	}
	if o.OptLevel != opt.O3 || o.Linker != "/usr/bin/clang" || !o.Strip || o.Format != aot.FormatExecutable {
		t.Errorf("options = %+v", o)
	}

	f.AOT.OptLevel = "O9"
	if _, err := f.AOTOptions(); err == nil {
		t.Error("O9 accepted")
	}
}

func TestEmptyConfigIsDefault(t *testing.T) {
	f, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := f.TieredConfig()
	if err != nil {
		t.Fatal(err)
	}
	def := tiered.DefaultConfig()
	if cfg.Thresholds != def.Thresholds || cfg.Bailout != def.Bailout || cfg.MaxTierPromotions != def.MaxTierPromotions {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestConfigErrors(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "speed = 3\n",
		"bad preset":     "preset = \"turbo\"\n",
		"bad bailout":    "[tiered]\nbailout = \"sometimes\"\n",
		"bad interval":   "[tiered]\ncheck_interval = \"soon\"\n",
		"bad region":     "[tiered]\nregion_size = \"lots\"\n",
		"bad tier":       "[tiered.backends]\nllvm = \"x\"\n",
		"descending":     "[tiered.thresholds]\nwarm = 1\n",
		"negative limit": "[tiered]\nmax_parallel = -1\n",
	}
	for name, text := range cases {
		f, err := Parse([]byte(text))
		if err == nil {
			_, err = f.TieredConfig()
		}
		if err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	if err := GenerateDefault().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	f, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if f.Preset != "application" || f.Tiered.RegionSize != "4MiB" || f.AOT.OptLevel != "O2" {
		t.Errorf("loaded = %+v", f)
	}
	cfg, err := f.TieredConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RegionSize != 4<<20 {
		t.Errorf("region size = %d", cfg.RegionSize)
	}
}

func TestFindConfigFile(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	if got := FindConfigFile(nested); got != "" {
		// 临时目录的上层可能恰好有配置文件
		if filepath.Dir(got) == root {
			t.Fatalf("unexpected config %s", got)
		}
	}
	path := filepath.Join(root, ConfigFileName)
	if err := os.WriteFile(path, []byte("preset = \"script\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.Abs(path)
	if got := FindConfigFile(nested); got != want {
		t.Errorf("FindConfigFile = %q, want %q", got, want)
	}
}
