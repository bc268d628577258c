// Package main is the entry point for the location privacy daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags.
var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "privacyd",
		Short:         "Location privacy daemon",
		Long:          "privacyd enforces location sharing settings and applies history retention.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
		newCleanupCmd(&configPath),
		newAnonymizeCmd(&configPath),
		newSettingsCmd(&configPath),
		newDiscloseCmd(&configPath),
		newUnsealCmd(&configPath),
	)
	return root
}
