// Package main provides the bwmt command: the Bad Weather Mount Tester
// control service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "bwmt",
		Short:        "Simulated star for testing mount tracking indoors",
		SilenceUsage: true,
		RunE:         runServeCmd,
	}
	addServeFlags(rootCmd)

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "bwmt", version)
		},
	}
}
