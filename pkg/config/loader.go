package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/albertocavalcante/forge/internal/log"
)

// ConfigFileName is the name of the project-level config file.
const ConfigFileName = "forge.toml"

// ConfigDirName is the name of the project-level config directory.
const ConfigDirName = ".forge"

// GlobalConfigDir is the name of the global config directory inside user's config.
const GlobalConfigDir = "forge"

// EnvFileName is the dotenv file read from the project root.
const EnvFileName = ".env"

// Load loads configuration from all layers, starting the project search
// in the current directory.
//
// CLI flags are applied separately after Load() returns.
func Load() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return LoadFrom(wd)
}

// LoadFrom loads configuration starting from a specific directory.
func LoadFrom(dir string) *Config {
	cfg := NewConfig()

	// Layer 2: Global user config
	if globalCfg := loadGlobalConfig(); globalCfg != nil {
		cfg.Merge(globalCfg)
	}

	// Layer 3: Project config from specified directory
	root := dir
	if projectCfg, projectRoot := loadProjectConfigFrom(dir); projectCfg != nil {
		cfg.Merge(projectCfg)
		root = projectRoot
	}

	// Layers 4 and 5: .env, then the process environment
	applyEnvironmentVariables(cfg, envLookup(filepath.Join(root, EnvFileName)))

	return cfg
}

// loadGlobalConfig loads the global user configuration from ~/.config/forge/config.toml.
func loadGlobalConfig() *Config {
	path := GetGlobalConfigPath()
	if path == "" {
		return nil
	}
	return loadConfigFile(path)
}

// loadProjectConfigFrom looks for project configuration starting from the
// given directory and returns it with the directory it was found in.
func loadProjectConfigFrom(dir string) (*Config, string) {
	// Search up the directory tree for config files
	current := dir
	for {
		for _, path := range GetProjectConfigPaths(current) {
			if cfg := loadConfigFile(path); cfg != nil {
				return cfg, current
			}
		}

		// Stop at filesystem root or workspace root
		if isWorkspaceRoot(current) {
			break
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	return nil, ""
}

// isWorkspaceRoot checks if the directory is a workspace root (has .git or .forge).
func isWorkspaceRoot(dir string) bool {
	markers := []string{".git", ConfigDirName}
	for _, marker := range markers {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

// loadConfigFile loads a configuration from a TOML file. A file that does
// not parse is logged and skipped.
func loadConfigFile(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		log.Component("config").Warn("ignoring invalid config file", "path", path, "error", err)
		return nil
	}

	return &cfg
}

// envLookup returns a lookup that prefers the process environment over
// the dotenv file at path.
func envLookup(path string) func(string) (string, bool) {
	dotenv, err := godotenv.Read(path)
	if err != nil && !os.IsNotExist(err) {
		log.Component("config").Warn("ignoring invalid env file", "path", path, "error", err)
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

// applyEnvironmentVariables applies FORGE_* variables to the config.
func applyEnvironmentVariables(cfg *Config, lookup func(string) (string, bool)) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	// FORGE_BUILD_ARCH: comma-separated list of bundle architectures
	if v := get("FORGE_BUILD_ARCH"); v != "" {
		cfg.Build.Arch = splitAndTrim(v)
	}
	applyBoolEnv(get("FORGE_BUILD_DEBUG"), &cfg.Build.Debug)
	if v := get("FORGE_BUILD_CACHE_DIR"); v != "" {
		cfg.Build.CacheDir = v
	}
	applyIntEnv(get("FORGE_BUILD_PARALLELISM"), &cfg.Build.Parallelism)

	applyIntEnv(get("FORGE_WATCH_POLL_INTERVAL_MS"), &cfg.Watch.PollIntervalMS)
	applyBoolEnv(get("FORGE_WATCH_NATIVE"), &cfg.Watch.Native)
	applyIntEnv(get("FORGE_WATCH_DEBOUNCE_MS"), &cfg.Watch.DebounceMS)

	if v := get("FORGE_LINKER_ANALYZER"); v != "" {
		cfg.Linker.Analyzer = v
	}
	applyIntEnv(get("FORGE_LINKER_CACHE_SIZE"), &cfg.Linker.CacheSize)

	if v := get("FORGE_HANDLERS_ENABLED"); v != "" {
		cfg.Handlers.Enabled = splitAndTrim(v)
	}
	if v := get("FORGE_HANDLERS_DISABLED"); v != "" {
		cfg.Handlers.Disabled = splitAndTrim(v)
	}
}

// splitAndTrim splits a comma-separated string and trims whitespace.
func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// applyBoolEnv applies a boolean environment value to a pointer.
func applyBoolEnv(v string, target **bool) {
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		*target = ptr(true)
	case "false", "0", "no":
		*target = ptr(false)
	}
}

// applyIntEnv applies a non-negative integer environment value to a pointer.
func applyIntEnv(v string, target **int) {
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Component("config").Warn("ignoring invalid integer", "value", v)
		return
	}
	*target = ptr(n)
}

// GetGlobalConfigPath returns the path to the global config file.
func GetGlobalConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, GlobalConfigDir, "config.toml")
}

// GetProjectConfigPaths returns potential project config paths for a given directory.
func GetProjectConfigPaths(dir string) []string {
	return []string{
		filepath.Join(dir, ConfigDirName, "config.toml"),
		filepath.Join(dir, ConfigFileName),
	}
}

// ProjectRoot returns the directory holding the nearest project config
// at or above dir, or dir itself when there is none.
func ProjectRoot(dir string) string {
	if _, root := loadProjectConfigFrom(dir); root != "" {
		return root
	}
	return dir
}
