package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version is injected via ldflags at build time
	Version = "dev"
	// Commit is injected via ldflags at build time
	Commit = "none"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the sharedctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sharedctl %s (%s) %s/%s\n", Version, Commit, runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
