package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contentplane/governor/approval"
	"github.com/contentplane/governor/logger"
	"github.com/contentplane/governor/summary"
)

var summaryJSONFlag bool

// SummaryCmd shows the explainability report for an action.
var SummaryCmd = &cobra.Command{
	Use:   "summary <action-id>",
	Short: "Show the explainability report for an action",
	Long: `Derive the WHY / WHAT-IF / confidence report for an action.

WHY lists the trace records captured at proposal time. WHAT-IF holds a
simulation result when a simulator is configured and the action is already
APPROVED. The confidence verdict is a deterministic point score, not a model.

Example:
  governord summary act_xxx
  governord summary act_xxx --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSummary,
}

func init() {
	SummaryCmd.Flags().BoolVar(&summaryJSONFlag, "json", false, "Emit the full summary as JSON")
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	// No simulator is wired into the CLI; summaries carry estimates only.
	builder := summary.NewBuilder(approval.NewStore(database), nil, logger.Logger)
	s, err := builder.Build(args[0])
	if err != nil {
		return err
	}

	if summaryJSONFlag {
		out, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Action %s (%s on %s) is %s\n", s.ActionID, s.ActionName, s.TargetRef, s.Status)
	fmt.Printf("Confidence: %s (score %d)\n\n", s.Confidence, s.Score)

	if len(s.Why) == 0 {
		fmt.Println("Why: no trace records were attached at proposal time")
	} else {
		fmt.Println("Why:")
		for _, tr := range s.Why {
			fmt.Printf("  [%d] %s %s=%.2f  %s\n", tr.Ordinal, tr.InsightKey, tr.MetricKey, tr.MetricValue, tr.Explanation)
		}
	}

	if s.WhatIf != nil {
		fmt.Printf("\nWhat-if: %d entities affected, canExecute=%v\n", s.WhatIf.AffectedEntities, s.WhatIf.CanExecute)
		for _, impact := range s.WhatIf.Impacts {
			fmt.Printf("  %s: %+.2f\n", impact.MetricKey, impact.Delta)
		}
		for _, risk := range s.WhatIf.Risks {
			fmt.Printf("  risk: %s\n", risk)
		}
	}

	fmt.Println()
	for _, d := range s.Disclaimer {
		fmt.Printf("Note: %s\n", d)
	}
	return nil
}
