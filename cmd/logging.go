// Package cmd holds the omnicapture subcommands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/smazurov/omnicapture/internal/logging"
)

// initLogging replaces the service setup humacli runs for the root command.
func initLogging(cmd *cobra.Command, _ []string) {
	level, _ := cmd.Flags().GetString("log-level")
	format := "text"
	if asJSON, _ := cmd.Flags().GetBool("log-json"); asJSON {
		format = "json"
	}
	logging.Initialize(logging.Config{Level: level, Format: format})
}

func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().String("log-level", "warn", "Logging level (debug, info, warn, error)")
	cmd.Flags().Bool("log-json", false, "Log as JSON")
	cmd.PersistentPreRun = initLogging
}
