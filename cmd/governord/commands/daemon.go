package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/logger"
	"github.com/contentplane/governor/scheduler"
)

// DaemonCmd runs the scheduler ticker loop in foreground.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scheduler ticker loop in foreground",
	Long: `Run the scheduler ticker loop until interrupted.

Each interval the daemon invokes one tick; the tick's own gates (enabled,
window, quota, run lock) decide whether work happens. The safety flags in
the config file are watched, so flipping safe_mode takes effect without a
restart.

Example:
  governord daemon`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Keep the safety flags live while the daemon runs; the runner reads the
	// source at the start of every tick
	safety := config.NewSafetySource(cfg.Safety)
	path, _ := cmd.Flags().GetString("config")
	watchSafety(ctx, path, safety)

	runner, err := buildRunner(cfg, safety, database)
	if err != nil {
		return err
	}

	tickerCfg := scheduler.DefaultTickerConfig()
	if cfg.Scheduler.IntervalSeconds > 0 {
		tickerCfg.Interval = time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	}

	ticker := scheduler.NewTickerWithContext(ctx, runner, tickerCfg, logger.Logger)
	ticker.Start()

	fmt.Println("Scheduler daemon started")
	fmt.Printf("  Interval:    %v\n", tickerCfg.Interval)
	fmt.Printf("  Daily quota: %d\n", cfg.Scheduler.DailyQuota)
	fmt.Printf("  Windows:     %v\n", cfg.Scheduler.Windows)
	if cfg.Scheduler.DryRun {
		fmt.Println("  Dry run:     enabled")
	}
	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nStopping scheduler daemon...")
	ticker.Stop()

	stats := ticker.Stats()
	fmt.Printf("Scheduler daemon stopped after %v tick(s)\n", stats["ticks_since_start"])
	if status, ok := stats["last_status"]; ok {
		fmt.Printf("  Last run status: %v\n", status)
	}
	return nil
}

// watchSafety keeps source in sync with the config file until ctx ends.
// config.Watch blocks, so it runs in its own goroutine; daemon startup must
// never wait on the watcher.
func watchSafety(ctx context.Context, path string, source *config.SafetySource) {
	if path == "" {
		logger.Warnw("No --config path; safety flags are frozen at startup values")
		return
	}
	go func() {
		if err := config.Watch(ctx, path, source, logger.Logger); err != nil {
			logger.Warnw("Safety flag watch unavailable, flags are frozen at startup values", "error", err)
		}
	}()
}
