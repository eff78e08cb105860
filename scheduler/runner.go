package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/errors"
	"github.com/contentplane/governor/generate"
	"github.com/contentplane/governor/job"
)

// Generator produces one piece of content. Implemented by generate.Client;
// tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) (*generate.Result, error)
}

// TickOutcome describes what a single tick did. Every tick returns one; a
// skipped tick carries the gating reason instead of a run.
type TickOutcome struct {
	Skipped    bool
	SkipReason string

	RunID     string
	Status    string // done | failed
	DryRun    bool
	Mode      string
	Topic     string
	ContentID string
	ErrorMsg  string
}

// Runner executes at most one unit of generation work per tick. It is
// entirely deterministic given current state plus the injected random
// source, and it never propagates a generation failure out of the tick: the
// failure is recorded on the run and the next tick re-evaluates from
// scratch.
type Runner struct {
	cfg     config.SchedulerConfig
	windows []config.Window
	safety  *config.SafetySource
	runs    *RunStore
	jobs    *job.Store
	gen     Generator
	timeout time.Duration
	log     *zap.SugaredLogger

	// Injectable for deterministic tests
	randIntn func(int) int
}

// NewRunner creates a runner. Returns an error when the configured windows
// do not parse; a bad window must fail at startup, not mid-tick. safety is
// read at the start of every tick, so a watched source freezes a running
// daemon without restart.
func NewRunner(cfg config.SchedulerConfig, safety *config.SafetySource, runs *RunStore, jobs *job.Store, gen Generator, timeout time.Duration, log *zap.SugaredLogger) (*Runner, error) {
	windows, err := cfg.ParsedWindows()
	if err != nil {
		return nil, err
	}
	if safety == nil {
		safety = config.NewSafetySource(config.Safety{})
	}
	return &Runner{
		cfg:      cfg,
		windows:  windows,
		safety:   safety,
		runs:     runs,
		jobs:     jobs,
		gen:      gen,
		timeout:  timeout,
		log:      log,
		randIntn: rand.Intn,
	}, nil
}

// Tick performs one scheduler invocation at the given wall-clock time.
// Gating order: safe mode, enabled flag, time window, daily quota,
// run-in-progress lock. A tick that passes all gates creates exactly one
// Run and dispatches exactly one unit of work. All time math runs in UTC:
// windows are minutes-of-day UTC and run dates are UTC calendar dates, so
// the two gates can never disagree on a non-UTC host.
func (r *Runner) Tick(ctx context.Context, now time.Time) (*TickOutcome, error) {
	now = now.UTC()

	if r.safety.Current().SafeMode {
		return r.skip("safe mode engaged"), nil
	}
	if !r.cfg.Enabled {
		return r.skip("scheduler disabled"), nil
	}

	minute := now.Hour()*60 + now.Minute()
	if !r.inWindow(minute) {
		return r.skip(fmt.Sprintf("outside execution window at minute %d", minute)), nil
	}

	date := now.Format("2006-01-02")
	executed, err := r.runs.ExecutedCountForDate(date)
	if err != nil {
		return nil, err
	}
	if executed >= r.cfg.DailyQuota {
		return r.skip(fmt.Sprintf("daily quota exhausted (%d/%d)", executed, r.cfg.DailyQuota)), nil
	}

	// plannedCount is min(remainingQuota, 1): one unit per tick by design
	run, err := r.runs.BeginRun(now, 1)
	if errors.IsConflictingState(err) {
		return r.skip("a run is already in progress"), nil
	}
	if err != nil {
		return nil, err
	}

	outcome := &TickOutcome{RunID: run.ID, DryRun: r.cfg.DryRun}
	r.executeRun(ctx, run, now, executed, outcome)
	return outcome, nil
}

// executeRun does the work half of the tick: content-mix draw, topic
// resolution, generation, finalize. All failure paths finalize the run as
// failed; nothing escapes.
func (r *Runner) executeRun(ctx context.Context, run *Run, now time.Time, executedToday int, outcome *TickOutcome) {
	outcome.Mode = r.drawMode()

	item, topic, err := r.resolveTopic(executedToday)
	if err != nil {
		r.finalize(run, RunStatusFailed, 0, mustLog(map[string]interface{}{"error": err.Error()}), now)
		outcome.Status = RunStatusFailed
		outcome.ErrorMsg = err.Error()
		return
	}
	outcome.Topic = topic

	if r.cfg.DryRun {
		// Simulate-only: step 8 skipped, quota untouched
		log := mustLog(map[string]interface{}{
			"dryRun": true,
			"type":   outcome.Mode,
			"topic":  topic,
		})
		r.finalize(run, RunStatusDone, 0, log, now)
		outcome.Status = RunStatusDone
		r.log.Infow("Tick dry run complete", "run_id", run.ID, "type", outcome.Mode, "topic", topic)
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.gen.Generate(genCtx, generate.Request{
		Type:     outcome.Mode,
		Topic:    topic,
		Language: r.cfg.Language,
		RunID:    run.ID,
	})
	if err != nil {
		if item != nil {
			if markErr := r.jobs.MarkItem(item.ID, job.ItemFailed, err.Error()); markErr != nil {
				r.log.Warnw("Failed to mark work item failed", "item_id", item.ID, "error", markErr)
			}
		}
		r.finalize(run, RunStatusFailed, 0, mustLog(map[string]interface{}{
			"type":  outcome.Mode,
			"topic": topic,
			"error": err.Error(),
		}), now)
		outcome.Status = RunStatusFailed
		outcome.ErrorMsg = err.Error()
		r.log.Errorw("Tick generation failed",
			"run_id", run.ID,
			"type", outcome.Mode,
			"topic", topic,
			"error", err)
		return
	}

	if item != nil {
		r.settleWorkItem(item, now)
	}

	r.finalize(run, RunStatusDone, 1, mustLog(map[string]interface{}{
		"type":      outcome.Mode,
		"topic":     topic,
		"contentId": result.ContentID,
	}), now)
	outcome.Status = RunStatusDone
	outcome.ContentID = result.ContentID
	r.log.Infow("Tick complete",
		"run_id", run.ID,
		"type", outcome.Mode,
		"topic", topic,
		"content_id", result.ContentID)
}

// settleWorkItem marks the claimed item DONE, stamps the owning job's run
// timestamps, and walks the job through the lifecycle: SCHEDULED jobs whose
// work just started become RUNNING, RUNNING jobs with a drained backlog
// become COMPLETED.
func (r *Runner) settleWorkItem(item *job.WorkItem, now time.Time) {
	if err := r.jobs.MarkItem(item.ID, job.ItemDone, ""); err != nil {
		r.log.Warnw("Failed to mark work item done", "item_id", item.ID, "error", err)
	}

	nextRun := now.Add(time.Duration(r.cfg.IntervalSeconds) * time.Second)
	if err := r.jobs.UpdateJobAfterRun(item.JobID, now, nextRun); err != nil {
		r.log.Warnw("Failed to stamp job run times", "job_id", item.JobID, "error", err)
	}

	owner, err := r.jobs.GetJob(item.JobID)
	if err != nil {
		r.log.Warnw("Failed to load job after run", "job_id", item.JobID, "error", err)
		return
	}

	if owner.Status == job.StatusScheduled {
		if err := r.jobs.UpdateStatus(owner.ID, job.StatusRunning); err != nil {
			r.log.Warnw("Failed to promote job to RUNNING", "job_id", owner.ID, "error", err)
		}
		owner.Status = job.StatusRunning
	}

	if owner.Status == job.StatusRunning {
		open, err := r.jobs.HasOpenItems(owner.ID)
		if err != nil {
			r.log.Warnw("Failed to check job backlog", "job_id", owner.ID, "error", err)
			return
		}
		if !open {
			if err := r.jobs.UpdateStatus(owner.ID, job.StatusCompleted); err != nil {
				r.log.Warnw("Failed to complete job", "job_id", owner.ID, "error", err)
			}
		}
	}
}

// drawMode picks the content category by weighted ratio using a uniform
// draw against the cumulative weight.
func (r *Runner) drawMode() string {
	total := r.cfg.EvergreenWeight + r.cfg.SeasonalWeight
	if total <= 0 {
		return job.ModeEvergreen
	}
	if r.randIntn(total) < r.cfg.EvergreenWeight {
		return job.ModeEvergreen
	}
	return job.ModeSeasonal
}

// resolveTopic pulls the next keyword from the backlog, falling back to the
// static rotation pool when the backlog is empty. Dry runs peek instead of
// claiming so no item gets stuck in PROCESSING without work happening.
func (r *Runner) resolveTopic(executedToday int) (*job.WorkItem, string, error) {
	if r.cfg.DryRun {
		item, err := r.jobs.PeekNextPending()
		if err != nil {
			return nil, "", err
		}
		if item != nil {
			return nil, item.Keyword, nil
		}
	} else {
		item, err := r.jobs.ClaimNextPending()
		if err != nil {
			return nil, "", err
		}
		if item != nil {
			return item, item.Keyword, nil
		}
	}

	if len(r.cfg.RotationPool) == 0 {
		return nil, "", errors.New("keyword backlog empty and no rotation pool configured")
	}
	// Deterministic round-robin keyed on today's executed count
	return nil, r.cfg.RotationPool[executedToday%len(r.cfg.RotationPool)], nil
}

func (r *Runner) inWindow(minute int) bool {
	for _, w := range r.windows {
		// inclusive start, exclusive end
		if minute >= w.StartMin && minute < w.EndMin {
			return true
		}
	}
	return false
}

func (r *Runner) finalize(run *Run, status string, executed int, log string, now time.Time) {
	if err := r.runs.FinalizeRun(run.ID, status, executed, log, now.UTC()); err != nil {
		r.log.Errorw("Failed to finalize run", "run_id", run.ID, "status", status, "error", err)
	}
}

func (r *Runner) skip(reason string) *TickOutcome {
	r.log.Debugw("Tick skipped", "reason", reason)
	return &TickOutcome{Skipped: true, SkipReason: reason}
}

func mustLog(fields map[string]interface{}) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to encode log: %v"}`, err)
	}
	return string(b)
}
