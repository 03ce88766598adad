package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/albertocavalcante/forge/pkg/buildcache"
	"github.com/albertocavalcante/forge/pkg/compiler"
	"github.com/albertocavalcante/forge/pkg/config"
)

// workspace is the resolved project every command operates on.
type workspace struct {
	root    string
	cfg     *config.Config
	catalog *compiler.DirCatalog
	cache   *buildcache.Cache

	// app is the package name of the project root when it is an app.
	app string
}

// AppPackageName is the catalog name of a project root built as an app.
const AppPackageName = "app"

// openWorkspace loads configuration and scans the package roots.
func openWorkspace() (*workspace, error) {
	dir := globalFlags.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	cfg := config.LoadFrom(dir)
	root := config.ProjectRoot(dir)
	log.SetRoot(root)

	roots := globalFlags.packages
	if len(roots) == 0 {
		roots = []string{filepath.Join(root, "packages"), root}
	}
	catalog, err := compiler.ScanDirs(roots...)
	if err != nil {
		return nil, err
	}

	ws := &workspace{root: root, cfg: cfg, catalog: catalog}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(compiler.AppPackagesFile))); err == nil {
		catalog.Add(AppPackageName, root)
		ws.app = AppPackageName
	}

	c, err := compiler.NewFromConfig(catalog, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create compiler: %w", err)
	}

	cacheDir := cfg.Build.CacheDir
	if cacheDir == "" {
		cacheDir = config.DefaultCacheDir
	}
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(root, cacheDir)
	}
	ws.cache, err = buildcache.New(c, cacheDir)
	if err != nil {
		return nil, err
	}

	log.Component("cli").Debug("opened workspace", "root", root, "packages", len(catalog.Names()), "cache", cacheDir)
	return ws, nil
}

// targets returns args, or the app, or every known package.
func (w *workspace) targets(args []string) []string {
	if len(args) > 0 {
		return args
	}
	if w.app != "" {
		return []string{w.app}
	}
	return w.catalog.Names()
}
