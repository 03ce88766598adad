// Package config provides configuration management for forge.
// It supports multi-layer configuration with precedence:
//  1. Built-in defaults (lowest priority)
//  2. Global user config (~/.config/forge/config.toml)
//  3. Project config (.forge/config.toml or forge.toml)
//  4. .env file next to the project config
//  5. Environment variables (FORGE_*)
//  6. CLI flags (highest priority)
package config

import (
	"slices"
	"time"

	"github.com/albertocavalcante/forge/pkg/archinfo"
)

// Config is the main configuration struct for forge.
type Config struct {
	// Build configures package builds.
	Build BuildConfig `toml:"build"`

	// Watch configures change detection.
	Watch WatchConfig `toml:"watch"`

	// Linker configures the JavaScript linker.
	Linker LinkerConfig `toml:"linker"`

	// Handlers configures which built-in handlers are active.
	Handlers HandlersConfig `toml:"handlers"`
}

// BuildConfig holds build settings.
type BuildConfig struct {
	// Arch is the list of bundle architectures to build for.
	Arch []string `toml:"arch"`

	// Debug includes debug-only exports.
	Debug *bool `toml:"debug"`

	// CacheDir is where built packages are stored, relative to the
	// project root unless absolute.
	CacheDir string `toml:"cache_dir"`

	// Parallelism bounds how many root packages build at once.
	Parallelism *int `toml:"parallelism"`
}

// WatchConfig holds watcher settings.
type WatchConfig struct {
	// PollIntervalMS is the re-check interval in milliseconds.
	PollIntervalMS *int `toml:"poll_interval_ms"`

	// Native enables filesystem notifications as an accelerator.
	Native *bool `toml:"native"`

	// DebounceMS coalesces native events, in milliseconds.
	DebounceMS *int `toml:"debounce_ms"`
}

// LinkerConfig holds linker settings.
type LinkerConfig struct {
	// Analyzer is the free-variable analyzer ("auto", "treesitter", "heuristic").
	Analyzer string `toml:"analyzer"`

	// CacheSize is the number of cached analysis results.
	CacheSize *int `toml:"cache_size"`
}

// HandlersConfig specifies which built-in handlers to enable/disable.
type HandlersConfig struct {
	// Enabled is the list of handlers to enable (e.g., ["javascript", "css"]).
	Enabled []string `toml:"enabled"`

	// Disabled is the list of handlers to explicitly disable.
	// Takes precedence over Enabled.
	Disabled []string `toml:"disabled"`
}

// NewConfig creates a new Config with built-in defaults.
func NewConfig() *Config {
	return &Config{
		Build: BuildConfig{
			Arch:        []string{archinfo.Host(), archinfo.Browser},
			Debug:       ptr(false),
			CacheDir:    DefaultCacheDir,
			Parallelism: ptr(4),
		},
		Watch: WatchConfig{
			PollIntervalMS: ptr(5000),
			Native:         ptr(true),
			DebounceMS:     ptr(200),
		},
		Linker: LinkerConfig{
			Analyzer:  "auto",
			CacheSize: ptr(4096),
		},
		Handlers: HandlersConfig{
			Enabled:  []string{"javascript", "css", "html"},
			Disabled: []string{},
		},
	}
}

// DefaultCacheDir is the default build cache location.
const DefaultCacheDir = ".forge/cache"

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// IsHandlerEnabled checks if a built-in handler is enabled.
func (c *Config) IsHandlerEnabled(name string) bool {
	if slices.Contains(c.Handlers.Disabled, name) {
		return false
	}
	return slices.Contains(c.Handlers.Enabled, name)
}

// GetEnabledHandlers returns the enabled handler names in configured order.
func (c *Config) GetEnabledHandlers() []string {
	var enabled []string
	for _, name := range c.Handlers.Enabled {
		if c.IsHandlerEnabled(name) && !slices.Contains(enabled, name) {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// IsDebug reports whether debug-only exports are included.
func (c *Config) IsDebug() bool { return deref(c.Build.Debug, false) }

// GetParallelism returns the root build parallelism, at least 1.
func (c *Config) GetParallelism() int { return max(1, deref(c.Build.Parallelism, 1)) }

// PollInterval returns the watcher re-check interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(deref(c.Watch.PollIntervalMS, 5000)) * time.Millisecond
}

// Debounce returns the native event coalescing window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(deref(c.Watch.DebounceMS, 200)) * time.Millisecond
}

// NativeWatch reports whether filesystem notifications are used.
func (c *Config) NativeWatch() bool { return deref(c.Watch.Native, true) }

// LinkerCacheSize returns the analysis cache size.
func (c *Config) LinkerCacheSize() int { return deref(c.Linker.CacheSize, 4096) }

// Merge merges another config into this one (other takes precedence).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Merge build config
	if len(other.Build.Arch) > 0 {
		c.Build.Arch = other.Build.Arch
	}
	if other.Build.Debug != nil {
		c.Build.Debug = other.Build.Debug
	}
	if other.Build.CacheDir != "" {
		c.Build.CacheDir = other.Build.CacheDir
	}
	if other.Build.Parallelism != nil {
		c.Build.Parallelism = other.Build.Parallelism
	}

	// Merge watch config
	if other.Watch.PollIntervalMS != nil {
		c.Watch.PollIntervalMS = other.Watch.PollIntervalMS
	}
	if other.Watch.Native != nil {
		c.Watch.Native = other.Watch.Native
	}
	if other.Watch.DebounceMS != nil {
		c.Watch.DebounceMS = other.Watch.DebounceMS
	}

	// Merge linker config
	if other.Linker.Analyzer != "" {
		c.Linker.Analyzer = other.Linker.Analyzer
	}
	if other.Linker.CacheSize != nil {
		c.Linker.CacheSize = other.Linker.CacheSize
	}

	// Merge handlers config
	if len(other.Handlers.Enabled) > 0 {
		c.Handlers.Enabled = other.Handlers.Enabled
	}
	if len(other.Handlers.Disabled) > 0 {
		c.Handlers.Disabled = append(c.Handlers.Disabled, other.Handlers.Disabled...)
	}
}
