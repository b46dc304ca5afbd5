package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convertworks/convertd/internal/version"
)

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		if versionJSON {
			fmt.Fprintln(cmd.OutOrStdout(), version.JSON())
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print as JSON")
}
