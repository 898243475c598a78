package main

import (
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
// All configuration comes from the environment (and an optional .env file).
var rootCmd = &cobra.Command{
	Use:   "birthday-scheduler",
	Short: "Sends birthday messages at a fixed local time in each user's timezone",
	Long: `birthday-scheduler finds users whose birthday starts today in their own
timezone, records one ledger entry per user and year, and delivers the
message through a retrying job queue.

Run "serve" for the long-running service. The other commands are one-shot
operational helpers sharing the same configuration.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, triggerCmd, seedCmd)
}
