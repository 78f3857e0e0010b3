package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"plexus/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	logLevel  string
	logFormat string
}

var rootCmd = &cobra.Command{
	Use:   "plexus",
	Short: "Trace-compiled Q-learning agents",
	Long: "Plexus assembles a reinforcement-learning agent as a component graph:\n" +
		"policy, target network, replay memory, loss and optimizer are traced once\n" +
		"into executable plans, and every update round, target sync and action\n" +
		"request replays those plans through a single executor.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return logging.Setup(rootFlags.logLevel, rootFlags.logFormat)
	},
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&rootFlags.logFormat, "log-format", "text", "Log format: text or json")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(actCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.Version = version
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
