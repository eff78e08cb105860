// Package summary derives the explainability report for a proposed action:
// the WHY (trace records captured at proposal time), the WHAT-IF (simulated
// impact, when available), and a deterministic confidence verdict. The
// builder performs no writes; it can be called repeatedly over the same
// action and always derives the same answer from the same rows.
package summary

import (
	"time"

	"go.uber.org/zap"

	"github.com/contentplane/governor/approval"
)

// Confidence levels, in ascending order of trust.
const (
	ConfidenceLow    = "LOW"
	ConfidenceMedium = "MEDIUM"
	ConfidenceHigh   = "HIGH"
)

// Standing disclaimers attached to every summary.
const (
	DisclaimerNotAuthoritative = "advisory output is not authoritative; a human approver remains responsible for the decision"
	DisclaimerEstimatesOnly    = "when no simulation result is present, all impact figures are estimates only"
)

// Impact is one (metric, delta) estimate from the simulator.
type Impact struct {
	MetricKey string  `json:"metricKey"`
	Delta     float64 `json:"delta"`
}

// Simulation is the WHAT-IF result for an approved action.
type Simulation struct {
	AffectedEntities int      `json:"affectedEntities"`
	Impacts          []Impact `json:"impacts"`
	Risks            []string `json:"risks"`
	CanExecute       bool     `json:"canExecute"`
}

// Simulator produces an impact estimate for an action. The actual simulation
// engine lives outside this module; the builder only defines the seam.
type Simulator interface {
	Simulate(action *approval.Action) (*Simulation, error)
}

// Summary is the full explainability report for one action.
type Summary struct {
	ActionID   string           `json:"actionId"`
	ActionName string           `json:"actionName"`
	TargetRef  string           `json:"targetRef"`
	Status     string           `json:"status"`
	Why        []approval.Trace `json:"why"`
	WhatIf     *Simulation      `json:"whatIf,omitempty"`
	Score      int              `json:"score"`
	Confidence string           `json:"confidence"`
	Disclaimer []string         `json:"disclaimers"`
	BuiltAt    time.Time        `json:"builtAt"`
}

// Builder assembles summaries from the approval store. A nil simulator is
// valid; summaries then carry no WHAT-IF section.
type Builder struct {
	store *approval.Store
	sim   Simulator
	log   *zap.SugaredLogger
}

// NewBuilder creates a summary builder.
func NewBuilder(store *approval.Store, sim Simulator, log *zap.SugaredLogger) *Builder {
	return &Builder{store: store, sim: sim, log: log}
}

// Build derives the summary for an action. Simulation runs only for APPROVED
// actions: it is a pre-execution safety check, not a proposal aid. A failing
// simulator degrades to a summary without WHAT-IF rather than failing the
// whole report.
func (b *Builder) Build(actionID string) (*Summary, error) {
	action, err := b.store.GetAction(actionID)
	if err != nil {
		return nil, err
	}

	traces, err := b.store.ListTraces(actionID)
	if err != nil {
		return nil, err
	}

	var sim *Simulation
	if action.Status == approval.StatusApproved && b.sim != nil {
		sim, err = b.sim.Simulate(action)
		if err != nil {
			b.log.Warnw("Simulation failed, summary degrades to estimates only",
				"action_id", actionID,
				"error", err)
			sim = nil
		}
	}

	score := Score(traces, sim)
	return &Summary{
		ActionID:   action.ID,
		ActionName: action.ActionName,
		TargetRef:  action.TargetRef,
		Status:     action.Status,
		Why:        traces,
		WhatIf:     sim,
		Score:      score,
		Confidence: Level(score),
		Disclaimer: []string{DisclaimerNotAuthoritative, DisclaimerEstimatesOnly},
		BuiltAt:    time.Now().UTC(),
	}, nil
}

// Score is the deterministic point heuristic behind the confidence verdict.
// It starts from a neutral baseline, rewards strong evidence and narrow
// blast radius, and penalizes missing evidence and risky simulations. A nil
// simulation contributes nothing either way.
func Score(traces []approval.Trace, sim *Simulation) int {
	score := 10

	if len(traces) >= 3 {
		score += 10
	}
	if len(traces) == 0 {
		score -= 15
	}

	if sim != nil {
		if sim.AffectedEntities == 1 {
			score += 5
		}
		if len(sim.Risks) == 0 {
			score += 5
		}
		if len(sim.Risks) > 2 {
			score -= 10
		}
		for _, impact := range sim.Impacts {
			if impact.Delta < 0 {
				score -= 5
			}
		}
		if !sim.CanExecute {
			score -= 20
		}
	}

	return score
}

// Level maps a score to its confidence band.
func Level(score int) string {
	switch {
	case score >= 20:
		return ConfidenceHigh
	case score >= 0:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
