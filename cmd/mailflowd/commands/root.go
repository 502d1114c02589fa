// Package commands implements the mailflowd command line interface.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// dbPath is the path to the SQLite database.
	dbPath string

	// logLevel controls log verbosity (debug, info, warn, error).
	logLevel string

	// logDir, when set, mirrors logs to a rotating file in that
	// directory in addition to stderr.
	logDir string
)

// rootCmd is the base command for the daemon.
var rootCmd = &cobra.Command{
	Use:   "mailflowd",
	Short: "Mailflow workflow automation daemon",
	Long: `Mailflowd runs the email workflow automation engine.

It watches connected Gmail and Outlook mailboxes for trigger events,
matches them against the workspace pipeline, and dispatches AI-assisted
actions such as drafting replies. The HTTP API serves workflow control,
provider webhooks, the OAuth connect flow, and a WebSocket status feed.`,
}

// Execute runs the daemon CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(
		&dbPath, "db", "",
		"Path to SQLite database (default: ~/.mailflow/mailflow.db)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info",
		"Log level: debug, info, warn, error",
	)
	rootCmd.PersistentFlags().StringVar(
		&logDir, "log-dir", "",
		"Directory for rotating log files (empty to log to stderr "+
			"only)",
	)

	// Add subcommands.
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
}
