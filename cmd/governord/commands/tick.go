package commands

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/generate"
	"github.com/contentplane/governor/job"
	"github.com/contentplane/governor/logger"
	"github.com/contentplane/governor/scheduler"
)

var tickDryRunFlag bool

// TickCmd runs a single scheduler tick.
var TickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single scheduler tick",
	Long: `Run one scheduler tick: at most one unit of generation work.

The tick evaluates, in order: scheduler enabled, time window, daily quota,
and the run lock. When all gates pass it claims the next backlog keyword
(or a rotation topic) and calls the content generator.

Examples:
  governord tick            # One real tick
  governord tick --dry-run  # Evaluate gates and topic selection only`,
	RunE: runTick,
}

func init() {
	TickCmd.Flags().BoolVar(&tickDryRunFlag, "dry-run", false, "Skip the generation call; mark the run done with a dryRun log flag")
}

func runTick(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if tickDryRunFlag {
		cfg.Scheduler.DryRun = true
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	runner, err := buildRunner(cfg, config.NewSafetySource(cfg.Safety), database)
	if err != nil {
		return err
	}

	outcome, err := runner.Tick(cmd.Context(), time.Now())
	if err != nil {
		return err
	}

	if outcome.Skipped {
		fmt.Printf("Tick skipped: %s\n", outcome.SkipReason)
		return nil
	}

	fmt.Printf("Run %s finished: %s\n", outcome.RunID, outcome.Status)
	fmt.Printf("  Mode:  %s\n", outcome.Mode)
	fmt.Printf("  Topic: %s\n", outcome.Topic)
	if outcome.DryRun {
		fmt.Println("  Dry run: no generation call was made")
	}
	if outcome.ContentID != "" {
		fmt.Printf("  Content: %s\n", outcome.ContentID)
	}
	if outcome.ErrorMsg != "" {
		fmt.Printf("  Error: %s\n", outcome.ErrorMsg)
	}
	return nil
}

// buildRunner wires the scheduler runner and the generator client from
// configuration. Shared with the daemon command, which passes a watched
// safety source so file edits freeze ticks without restart.
func buildRunner(cfg *config.Config, safety *config.SafetySource, database *sql.DB) (*scheduler.Runner, error) {
	timeout := 120 * time.Second
	if cfg.Generator.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Generator.TimeoutSeconds) * time.Second
	}

	gen := generate.NewClient(
		cfg.Generator.BaseURL,
		cfg.Generator.Token,
		timeout,
		cfg.Generator.MaxCallsPerMinute,
	)

	return scheduler.NewRunner(
		cfg.Scheduler,
		safety,
		scheduler.NewRunStore(database),
		job.NewStore(database),
		gen,
		timeout,
		logger.Logger,
	)
}
