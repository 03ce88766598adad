package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func noEnv(string) (string, bool) { return "", false }

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	if !cfg.IsHandlerEnabled("javascript") {
		t.Error("javascript should be enabled by default")
	}
	if cfg.IsHandlerEnabled("asset") {
		t.Error("asset is a fallback, not a default handler")
	}
	if cfg.IsDebug() {
		t.Error("debug should be off by default")
	}
	if cfg.Build.CacheDir != DefaultCacheDir {
		t.Errorf("cache dir = %q, want %q", cfg.Build.CacheDir, DefaultCacheDir)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.Debounce() != 200*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Debounce())
	}
	if !cfg.NativeWatch() {
		t.Error("native watch should be on by default")
	}
	if cfg.Linker.Analyzer != "auto" || cfg.LinkerCacheSize() != 4096 {
		t.Errorf("linker defaults = %+v", cfg.Linker)
	}
	if len(cfg.Build.Arch) != 2 {
		t.Errorf("default arches = %v", cfg.Build.Arch)
	}
}

func TestGetEnabledHandlers(t *testing.T) {
	cfg := NewConfig()
	cfg.Handlers.Enabled = []string{"html", "javascript", "html", "css"}
	cfg.Handlers.Disabled = []string{"css"}

	if diff := cmp.Diff([]string{"html", "javascript"}, cfg.GetEnabledHandlers()); diff != "" {
		t.Errorf("GetEnabledHandlers mismatch (-want +got):\n%s", diff)
	}
}

func TestZeroConfigAccessors(t *testing.T) {
	var cfg Config
	if cfg.GetParallelism() != 1 {
		t.Errorf("parallelism = %d", cfg.GetParallelism())
	}
	if cfg.PollInterval() != 5*time.Second || !cfg.NativeWatch() {
		t.Error("zero config does not fall back to defaults")
	}
}

func TestMerge(t *testing.T) {
	base := NewConfig()
	other := &Config{
		Build:    BuildConfig{Arch: []string{"os"}, Parallelism: ptr(0)},
		Watch:    WatchConfig{Native: ptr(false)},
		Linker:   LinkerConfig{Analyzer: "heuristic"},
		Handlers: HandlersConfig{Disabled: []string{"html"}},
	}

	base.Merge(other)

	if diff := cmp.Diff([]string{"os"}, base.Build.Arch); diff != "" {
		t.Errorf("arch mismatch (-want +got):\n%s", diff)
	}
	if base.GetParallelism() != 1 {
		t.Errorf("parallelism 0 should clamp to 1, got %d", base.GetParallelism())
	}
	if base.NativeWatch() {
		t.Error("native should be off after merge")
	}
	if base.IsDebug() {
		t.Error("unset debug overrode the default")
	}
	if base.Linker.Analyzer != "heuristic" {
		t.Errorf("analyzer = %q", base.Linker.Analyzer)
	}
	if base.IsHandlerEnabled("html") {
		t.Error("html should be disabled after merge")
	}
	if base.Watch.PollIntervalMS == nil || *base.Watch.PollIntervalMS != 5000 {
		t.Error("unset poll interval overrode the default")
	}
}

func TestLoadConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[build]
arch = ["os", "web.browser"]
debug = true
parallelism = 2

[watch]
poll_interval_ms = 250

[handlers]
enabled = ["javascript"]
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg := loadConfigFile(configPath)
	if cfg == nil {
		t.Fatal("loadConfigFile returned nil")
	}
	if !cfg.IsDebug() || cfg.GetParallelism() != 2 {
		t.Errorf("build = %+v", cfg.Build)
	}
	if cfg.PollInterval() != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if diff := cmp.Diff([]string{"javascript"}, cfg.Handlers.Enabled); diff != "" {
		t.Errorf("handlers mismatch (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(configPath, []byte("[build\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if loadConfigFile(configPath) != nil {
		t.Error("invalid TOML should be ignored")
	}
}

func TestApplyEnvironmentVariables(t *testing.T) {
	env := map[string]string{
		"FORGE_BUILD_ARCH":             "os, web.browser",
		"FORGE_BUILD_DEBUG":            "yes",
		"FORGE_WATCH_POLL_INTERVAL_MS": "100",
		"FORGE_WATCH_DEBOUNCE_MS":      "-5",
		"FORGE_LINKER_ANALYZER":        "heuristic",
		"FORGE_HANDLERS_DISABLED":      "css",
	}
	cfg := NewConfig()
	applyEnvironmentVariables(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	if diff := cmp.Diff([]string{"os", "web.browser"}, cfg.Build.Arch); diff != "" {
		t.Errorf("arch mismatch (-want +got):\n%s", diff)
	}
	if !cfg.IsDebug() {
		t.Error("debug should be enabled via env var")
	}
	if cfg.PollInterval() != 100*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.Debounce() != 200*time.Millisecond {
		t.Errorf("negative debounce was applied: %v", cfg.Debounce())
	}
	if cfg.Linker.Analyzer != "heuristic" {
		t.Errorf("analyzer = %q", cfg.Linker.Analyzer)
	}
	if cfg.IsHandlerEnabled("css") {
		t.Error("css should be disabled via env var")
	}
}

func TestSplitAndTrim(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"os,web.browser", []string{"os", "web.browser"}},
		{" os , web.browser ", []string{"os", "web.browser"}},
		{"os", []string{"os"}},
		{"", []string{}},
		{" , , ", []string{}},
	}

	for _, tt := range tests {
		if diff := cmp.Diff(tt.expected, splitAndTrim(tt.input)); diff != "" {
			t.Errorf("splitAndTrim(%q) mismatch (-want +got):\n%s", tt.input, diff)
		}
	}
}

func TestLayering(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	root := t.TempDir()
	sub := filepath.Join(root, "packages", "util")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	project := "[build]\ncache_dir = \"build-cache\"\nparallelism = 8\n[linker]\nanalyzer = \"treesitter\"\n"
	if err := os.WriteFile(filepath.Join(root, ConfigFileName), []byte(project), 0o644); err != nil {
		t.Fatal(err)
	}
	dotenv := "FORGE_BUILD_PARALLELISM=3\nFORGE_LINKER_ANALYZER=heuristic\n"
	if err := os.WriteFile(filepath.Join(root, EnvFileName), []byte(dotenv), 0o644); err != nil {
		t.Fatal(err)
	}
	// The process environment beats .env.
	t.Setenv("FORGE_LINKER_ANALYZER", "auto")

	cfg := LoadFrom(sub)

	if cfg.Build.CacheDir != "build-cache" {
		t.Errorf("project layer: cache dir = %q", cfg.Build.CacheDir)
	}
	if cfg.GetParallelism() != 3 {
		t.Errorf(".env layer: parallelism = %d, want 3", cfg.GetParallelism())
	}
	if cfg.Linker.Analyzer != "auto" {
		t.Errorf("env layer: analyzer = %q, want auto", cfg.Linker.Analyzer)
	}
	if got := ProjectRoot(sub); got != root {
		t.Errorf("ProjectRoot = %q, want %q", got, root)
	}
}

func TestProjectConfigSearch(t *testing.T) {
	tmpDir := t.TempDir()
	projectDir := filepath.Join(tmpDir, "project", "subdir")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("failed to create project dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(tmpDir, "project", ConfigDirName), 0o755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(tmpDir, "project", ConfigDirName, "config.toml")
	if err := os.WriteFile(configPath, []byte("[handlers]\nenabled = [\"css\", \"html\"]\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, root := loadProjectConfigFrom(projectDir)
	if cfg == nil {
		t.Fatal("loadProjectConfigFrom returned nil")
	}
	if root != filepath.Join(tmpDir, "project") {
		t.Errorf("root = %q", root)
	}
	if len(cfg.Handlers.Enabled) != 2 {
		t.Errorf("expected 2 enabled handlers, got %d", len(cfg.Handlers.Enabled))
	}
}

func TestWorkspaceRootDetection(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".git"), 0o755); err != nil {
		t.Fatalf("failed to create .git dir: %v", err)
	}
	if !isWorkspaceRoot(tmpDir) {
		t.Error("directory with .git should be workspace root")
	}

	tmpDir2 := t.TempDir()
	if isWorkspaceRoot(tmpDir2) {
		t.Error("empty directory should not be a workspace root")
	}
}

func TestNoEnvLookup(t *testing.T) {
	cfg := NewConfig()
	applyEnvironmentVariables(cfg, noEnv)
	if diff := cmp.Diff(NewConfig(), cfg); diff != "" {
		t.Errorf("empty environment changed config (-want +got):\n%s", diff)
	}
}
