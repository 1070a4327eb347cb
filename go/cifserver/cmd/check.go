package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// checkCmd prints the build version, confirming the binary starts at all.
// Deployments use it as a container smoke test.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Print the build version and exit.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}

func checkInit() {
	rootCmd.AddCommand(checkCmd)
}
