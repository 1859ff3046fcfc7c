// cmd/server/main.go
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "companion",
		Short: "Voice companion backend",
		Long: `Companion backend: turns voice recordings into a spoken reply and a
WhatsApp follow-up, and answers inbound WhatsApp messages.

Examples:
  companion serve
  companion serve --config ./config.yaml
  companion process <jobId>
  companion migrate`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newProcessCmd(),
		newMigrateCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")
	return rootCmd
}
