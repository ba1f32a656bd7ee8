// Package main provides the quarry binary entry point. Quarry resolves,
// installs, and builds package environments through a coalescing command
// dispatcher; source packages are built by external backends speaking a
// JSON-line protocol.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
	appName = "quarry"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type appFlags struct {
	configPath string
	logLevel   string
	channels   []string
	platform   string
	monitor    bool
}

func rootCmd() *cobra.Command {
	flags := &appFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Package environment dispatcher",
		Long: `Quarry resolves, installs, and builds package environments.

Identical in-flight requests coalesce onto one computation, successful
results are cached for the life of the process, and source packages are
built through discovered backends.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "quarry.config.yaml", "Config file path")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	cmd.PersistentFlags().StringSliceVar(&flags.channels, "channel", nil, "Channel directory or URL (overrides config, repeatable)")
	cmd.PersistentFlags().StringVar(&flags.platform, "platform", "", "Target platform override, e.g. linux-64")
	cmd.PersistentFlags().BoolVar(&flags.monitor, "monitor", false, "Show a live task monitor while running")

	cmd.AddCommand(
		solveCmd(flags),
		installCmd(flags),
		buildCmd(flags),
		infoCmd(flags),
		doctorCmd(flags),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	}
}
