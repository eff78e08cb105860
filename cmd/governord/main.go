package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/contentplane/governor/cmd/governord/commands"
	"github.com/contentplane/governor/logger"
)

var rootCmd = &cobra.Command{
	Use:   "governord",
	Short: "governord - content job scheduling and action-execution governance",
	Long: `governord - content job scheduling and action-execution governance.

governord runs the scheduler that produces at most one unit of content per
tick, and governs risky state-changing actions through an explicit
propose / approve / execute pipeline with audit records.

Available commands:
  tick    - Run a single scheduler tick
  daemon  - Run the scheduler ticker loop in foreground
  job     - Manage content jobs and their keyword backlogs
  action  - Propose, decide, and execute governed actions
  summary - Show the explainability report for an action
  db      - Database operations

Examples:
  governord tick --dry-run       # Verify scheduling logic without side effects
  governord daemon               # Start the ticker loop
  governord job create --mode evergreen --quota 5
  governord action execute act_xxx --as admin
  governord summary act_xxx`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")
	rootCmd.PersistentFlags().String("config", "", "Path to governor.toml (default: search working directory)")

	rootCmd.AddCommand(commands.TickCmd)
	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.ActionCmd)
	rootCmd.AddCommand(commands.SummaryCmd)
	rootCmd.AddCommand(commands.DbCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
