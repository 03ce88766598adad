package cli

import (
	"fmt"

	"github.com/albertocavalcante/forge/pkg/buildcache"
	"github.com/spf13/cobra"
)

var statusFlags struct {
	json bool
}

var statusCmd = &cobra.Command{
	Use:   "status [package...]",
	Short: "Show which cached packages are stale",
	Long: `Shows, for each package, whether its cached artifact is still valid
for the current sources. Nothing is built.

The --json flag outputs the result as JSON for scripting.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusFlags.json, "json", false,
		"Output as JSON")

	rootCmd.AddCommand(statusCmd)
}

// StatusOutput is the JSON output format for forge status.
type StatusOutput struct {
	Stale    bool                `json:"stale"`
	Packages []buildcache.Status `json:"packages"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	output := StatusOutput{Packages: []buildcache.Status{}}
	for _, name := range ws.targets(args) {
		st, err := ws.cache.Status(name)
		if err != nil {
			return err
		}
		output.Packages = append(output.Packages, st)
		if !st.UpToDate {
			output.Stale = true
		}
	}

	if statusFlags.json {
		return outputJSON(cmd, output)
	}

	out := cmd.OutOrStdout()
	if len(output.Packages) == 0 {
		fmt.Fprintln(out, "No packages found.")
		return nil
	}
	if !output.Stale {
		fmt.Fprintln(out, "All packages are up to date")
		return nil
	}
	for _, st := range output.Packages {
		if st.UpToDate {
			fmt.Fprintf(out, "  ok     %s\n", st.Name)
			continue
		}
		fmt.Fprintf(out, "  stale  %s (%s)\n", st.Name, st.Reason)
	}
	return nil
}
