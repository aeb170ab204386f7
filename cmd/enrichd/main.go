package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/outfield/enrichd/cmd/enrichd/commands"
	"github.com/outfield/enrichd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "enrichd",
	Short: "enrichd - company enrichment job queue",
	Long: `enrichd - asynchronous company enrichment for outbound prospecting.

enrichd accepts enrichment job submissions, processes them in the
background against the mail provider API, and streams progress to
connected clients over WebSocket.

Available commands:
  serve   - Start the HTTP/WebSocket server and worker pool
  jobs    - Inspect and manage enrichment jobs
  version - Print version information

Examples:
  enrichd serve                 # Start the server
  enrichd jobs ls               # List recent jobs
  enrichd jobs show <job-id>    # Show one job with per-item outcomes
  enrichd jobs cleanup --days 7 # Remove old terminal jobs`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON instead of console format")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (default: enrichd.toml)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
