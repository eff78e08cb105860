package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Ticker drives the Runner on a fixed interval. One tick is dispatched at a
// time; a tick still in flight when the next interval fires simply loses
// the run lock and becomes a no-op, so the loop never stacks work.
type Ticker struct {
	runner   *Runner
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	log      *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	lastOutcome     *TickOutcome
}

// TickerConfig contains configuration for the scheduler ticker.
type TickerConfig struct {
	Interval time.Duration // How often to invoke the runner (default: 15 minutes)
}

// DefaultTickerConfig returns sensible defaults.
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval: 15 * time.Minute,
	}
}

// NewTicker creates a ticker driving the given runner.
func NewTicker(runner *Runner, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), runner, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context.
func NewTickerWithContext(ctx context.Context, runner *Runner, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		runner:   runner,
		interval: cfg.Interval,
		ctx:      tickerCtx,
		cancel:   cancel,
		log:      log,
	}
}

// Start begins the ticker loop.
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.log.Infow("Scheduler ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker. The tick in flight, if any, finishes
// before Stop returns; a pause or cancel issued meanwhile takes effect on
// the next tick's gating check.
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.log.Infow("Scheduler ticker stopped")
}

// run is the main ticker loop.
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = tickTime
			t.ticksSinceStart++
			t.mu.Unlock()

			outcome, err := t.runner.Tick(t.ctx, tickTime)
			if err != nil {
				// Don't spam logs - the next tick re-evaluates from scratch
				t.log.Warnw("Tick error", "error", err)
				continue
			}

			t.mu.Lock()
			t.lastOutcome = outcome
			t.mu.Unlock()

			if outcome.Skipped {
				t.log.Debugw("Tick skipped", "reason", outcome.SkipReason)
			}
		}
	}
}

// Stats returns ticker statistics.
func (t *Ticker) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.interval,
	}
	if t.lastOutcome != nil {
		stats["last_skipped"] = t.lastOutcome.Skipped
		stats["last_status"] = t.lastOutcome.Status
	}
	return stats
}
