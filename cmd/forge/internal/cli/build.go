package cli

import (
	"errors"
	"fmt"

	"github.com/albertocavalcante/forge/pkg/buildcache"
	"github.com/albertocavalcante/forge/pkg/buildmsg"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var buildFlags struct {
	force bool
	jobs  int
}

var buildCmd = &cobra.Command{
	Use:   "build [package...]",
	Short: "Build packages into the cache",
	Long: `Builds the named packages, or every package when none are named.

Packages whose cached artifact is still valid are loaded from the cache.
Build errors are collected per package and printed together; the command
fails if any package reported one.`,
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().BoolVar(&buildFlags.force, "force", false,
		"Rebuild even when the cached artifact is up to date")
	buildCmd.Flags().IntVarP(&buildFlags.jobs, "jobs", "j", 0,
		"Packages to build at once (default: build.parallelism)")

	rootCmd.AddCommand(buildCmd)
}

// errBuildFailed is returned after build messages have been printed.
var errBuildFailed = errors.New("build failed")

func runBuild(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	if buildFlags.force {
		if err := ws.cache.Clean(); err != nil {
			return err
		}
	}

	names := ws.targets(args)
	if len(names) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No packages found.")
		return nil
	}

	results, err := buildAll(ws.cache, names, buildFlags.jobs, ws.cfg.GetParallelism())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	msgs := buildmsg.New("")
	for i, res := range results {
		fmt.Fprintf(out, "%s: %d units (%s)\n", names[i], len(res.Package.Units()), res.Origin)
		msgs.Merge(res.Messages)
	}
	if msgs.HasMessages() {
		fmt.Fprint(cmd.ErrOrStderr(), msgs.Format())
		return errBuildFailed
	}
	return nil
}

// buildAll builds names concurrently with at most jobs (or fallback) in
// flight. Results are in the order of names.
func buildAll(cache *buildcache.Cache, names []string, jobs, fallback int) ([]*buildcache.Result, error) {
	if jobs <= 0 {
		jobs = fallback
	}
	results := make([]*buildcache.Result, len(names))

	var g errgroup.Group
	g.SetLimit(max(jobs, 1))
	for i, name := range names {
		g.Go(func() error {
			res, err := cache.Build(name)
			if err != nil {
				return fmt.Errorf("failed to build %s: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
