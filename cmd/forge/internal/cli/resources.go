package cli

import (
	"fmt"

	"github.com/albertocavalcante/forge/pkg/archinfo"
	"github.com/albertocavalcante/forge/pkg/bundle"
	"github.com/spf13/cobra"
)

var resourcesFlags struct {
	arch  string
	tests bool
	debug bool
	json  bool
}

var resourcesCmd = &cobra.Command{
	Use:   "resources <package...>",
	Short: "Link packages for an architecture and list the resources",
	Long: `Builds the named packages and everything they use, links every unit
for the bundle architecture and prints the resulting resources in load
order.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResources,
}

func init() {
	resourcesCmd.Flags().StringVar(&resourcesFlags.arch, "arch", "",
		"Bundle architecture (default: first of build.arch)")
	resourcesCmd.Flags().BoolVar(&resourcesFlags.tests, "tests", false,
		"Bundle the test units of the packages")
	resourcesCmd.Flags().BoolVar(&resourcesFlags.debug, "debug", false,
		"Keep debug-only exports (default: build.debug)")
	resourcesCmd.Flags().BoolVar(&resourcesFlags.json, "json", false,
		"Output as JSON")

	rootCmd.AddCommand(resourcesCmd)
}

// ResourceOutput describes one resource without its contents.
type ResourceOutput struct {
	Unit      string `json:"unit"`
	Type      string `json:"type"`
	ServePath string `json:"servePath,omitempty"`
	Path      string `json:"path,omitempty"`
	Size      int    `json:"size"`
	SourceMap bool   `json:"sourceMap,omitempty"`
}

// ResourcesOutput is the JSON output format for forge resources.
type ResourcesOutput struct {
	Arch      string           `json:"arch"`
	Resources []ResourceOutput `json:"resources"`
}

func runResources(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	arch := resourcesFlags.arch
	if arch == "" {
		arch = archinfo.Host()
		if len(ws.cfg.Build.Arch) > 0 {
			arch = ws.cfg.Build.Arch[0]
		}
	}

	plan, err := bundle.New(ws.cache, args, bundle.Options{
		Arch:  arch,
		Tests: resourcesFlags.tests,
		Debug: resourcesFlags.debug || ws.cfg.IsDebug(),
	})
	if err != nil {
		return err
	}
	if plan.Messages.HasMessages() {
		fmt.Fprint(cmd.ErrOrStderr(), plan.Messages.Format())
		return errBuildFailed
	}

	output := ResourcesOutput{Arch: plan.Arch, Resources: []ResourceOutput{}}
	for _, u := range plan.Units {
		for _, r := range u.Resources {
			output.Resources = append(output.Resources, ResourceOutput{
				Unit:      u.ID,
				Type:      string(r.Type),
				ServePath: r.ServePath,
				Path:      r.Path,
				Size:      len(r.Data),
				SourceMap: r.SourceMap != "",
			})
		}
	}

	if resourcesFlags.json {
		return outputJSON(cmd, output)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Resources for %s (%d):\n", output.Arch, len(output.Resources))
	for _, r := range output.Resources {
		target := r.ServePath
		if target == "" {
			target = r.Path
		}
		fmt.Fprintf(out, "  %-6s %-40s %8d  %s\n", r.Type, target, r.Size, r.Unit)
	}
	return nil
}
