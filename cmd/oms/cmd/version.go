package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// set via -ldflags at build time
var (
	version     = "1.0.0"
	buildCommit = "dev"
	buildDate   = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "oms v%s\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "Build: %s (%s)\n", buildCommit, buildDate)
		fmt.Fprintf(cmd.OutOrStdout(), "Go: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
