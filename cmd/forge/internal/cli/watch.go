package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	watchlog "github.com/albertocavalcante/forge/cmd/forge/internal/watch"
	"github.com/albertocavalcante/forge/pkg/archinfo"
	"github.com/albertocavalcante/forge/pkg/bundle"
	"github.com/albertocavalcante/forge/pkg/changeset"
	"github.com/albertocavalcante/forge/pkg/watch"
	"github.com/spf13/cobra"
)

var watchFlags struct {
	arch    string
	tests   bool
	verbose bool
	json    bool
	noColor bool
}

var watchCmd = &cobra.Command{
	Use:   "watch [package...]",
	Short: "Rebuild packages whenever their sources change",
	Long: `Builds and links the named packages, then watches every file and
directory the build read. When any of them changes, the packages are
rebuilt and linked again.

Example output:

  $ forge watch myapp

  forge: watching 42 files for web.browser
  forge: packages: myapp
  forge: ready

  [14:32:15] rebuilding myapp...
  [14:32:15] ✓ 5 units, 9 resources (84ms)

Press Ctrl+C to stop watching.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchFlags.arch, "arch", "",
		"Bundle architecture (default: first of build.arch)")
	watchCmd.Flags().BoolVar(&watchFlags.tests, "tests", false,
		"Bundle the test units of the packages")
	watchCmd.Flags().BoolVar(&watchFlags.verbose, "verbose", false,
		"Report every detected change")
	watchCmd.Flags().BoolVar(&watchFlags.json, "json", false,
		"Stream JSON events (for tooling integration)")
	watchCmd.Flags().BoolVar(&watchFlags.noColor, "no-color", false,
		"Disable colored output")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	names := ws.targets(args)
	if len(names) == 0 {
		return errors.New("no packages to watch")
	}

	arch := watchFlags.arch
	if arch == "" {
		arch = archinfo.Host()
		if len(ws.cfg.Build.Arch) > 0 {
			arch = ws.cfg.Build.Arch[0]
		}
	}
	opts := bundle.Options{Arch: arch, Tests: watchFlags.tests, Debug: ws.cfg.IsDebug()}

	logger := watchlog.NewLogger(watchlog.LoggerConfig{
		Writer:  cmd.OutOrStdout(),
		Verbose: watchFlags.verbose,
		NoColor: watchFlags.noColor,
		JSON:    watchFlags.json,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	cs, err := rebuild(ws, names, opts, logger)
	if err != nil {
		return err
	}
	logger.Ready(names, len(cs.FilePaths()), arch)

	for {
		changed := make(chan struct{}, 1)
		w, err := watch.New(watch.Options{
			ChangeSet:    cs,
			OnChange:     func() { changed <- struct{}{} },
			PollInterval: ws.cfg.PollInterval(),
			Native:       ws.cfg.NativeWatch(),
			Debounce:     ws.cfg.Debounce(),
		})
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			w.Stop()
			logger.Shutdown()
			return nil
		case <-changed:
		}

		logger.Changed()
		for {
			if refreshed, err := ws.catalog.Refresh(); err != nil {
				logger.Error(err)
			} else if refreshed && len(args) == 0 {
				names = ws.targets(nil)
			}
			logger.Rebuilding(names)
			next, err := rebuild(ws, names, opts, logger)
			if err == nil {
				cs = next
				break
			}
			// Nothing was read, so there is nothing to watch; retry later.
			select {
			case <-ctx.Done():
				logger.Shutdown()
				return nil
			case <-time.After(ws.cfg.PollInterval()):
			}
		}
	}
}

// rebuild plans the bundle and returns the ChangeSet to watch next, which
// includes the package catalog. When planning fails the ChangeSets of
// whichever roots still build are returned so that fixing the sources
// triggers another attempt.
func rebuild(ws *workspace, names []string, opts bundle.Options, logger *watchlog.Logger) (*changeset.ChangeSet, error) {
	start := time.Now()
	plan, err := bundle.New(ws.cache, names, opts)
	if err == nil {
		if plan.Messages.HasMessages() {
			logger.Error(plan.Messages.Err())
		} else {
			resources := 0
			for _, u := range plan.Units {
				resources += len(u.Resources)
			}
			logger.Rebuilt(len(plan.Units), resources, time.Since(start))
		}
		cs := plan.ChangeSet.Clone()
		cs.Merge(ws.catalog.ChangeSet())
		return cs, nil
	}

	logger.Error(err)
	cs := ws.catalog.ChangeSet()
	built := false
	for _, name := range names {
		res, berr := ws.cache.Build(name)
		if berr != nil {
			continue
		}
		cs.Merge(res.ChangeSet)
		built = true
	}
	if !built {
		return nil, err
	}
	return cs, nil
}
