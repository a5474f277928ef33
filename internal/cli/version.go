package cli

import (
	"fmt"

	"github.com/iamgatling/mxxc/internal/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mxxc %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
