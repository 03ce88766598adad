package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove the build cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ws, err := openWorkspace()
		if err != nil {
			return err
		}
		if err := ws.cache.Clean(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", ws.cache.Dir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
