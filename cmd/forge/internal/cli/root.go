// Package cli implements the forge command-line interface.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/albertocavalcante/forge/internal/log"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// globalFlags holds persistent flags that apply to all commands
var globalFlags struct {
	verbosity int
	logFormat string
	dir       string
	packages  []string
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "Package build engine",
	Long: `Forge compiles packages of JavaScript, CSS, HTML and static assets
into linked units, caches the results on disk and rebuilds them when their
sources change.

Packages are the subdirectories of the package roots that contain a
package.toml or package.yaml manifest. A project root with a .forge/packages
file is built as an app.`,
	// Default behavior: show help
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
	SilenceUsage: true,
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "forge %s (%s)\n", Version, GitCommit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)

	// Global flags (persistent across all commands)
	rootCmd.PersistentFlags().IntVarP(&globalFlags.verbosity, "verbosity", "v", 1,
		"Verbosity level (0=error, 1=warn, 2=info, 3=debug, 4=trace)")
	rootCmd.PersistentFlags().StringVar(&globalFlags.logFormat, "log-format", "text",
		"Log format (text, json)")
	rootCmd.PersistentFlags().StringVarP(&globalFlags.dir, "dir", "C", "",
		"Run as if started in this directory")
	rootCmd.PersistentFlags().StringSliceVar(&globalFlags.packages, "packages", nil,
		"Package roots to scan, in priority order (default: <project>/packages, <project>)")

	// Hook to apply flags before command runs
	cobra.OnInitialize(initLogging)
}

// initLogging applies CLI flags to the logger.
// This runs after flags are parsed but before command execution.
func initLogging() {
	log.SetVerbosity(globalFlags.verbosity)
	if globalFlags.logFormat != "" {
		log.Init(globalFlags.verbosity, globalFlags.logFormat)
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// RootCmd returns the root command for testing.
func RootCmd() *cobra.Command {
	return rootCmd
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
