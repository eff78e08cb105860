package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/contentplane/governor/approval"
	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/logger"
	"github.com/contentplane/governor/ratelimit"
)

// ActionCmd groups the action governance subcommands.
var ActionCmd = &cobra.Command{
	Use:   "action",
	Short: "Propose, decide, and execute governed actions",
	Long: `Govern risky state-changing actions.

An action moves PENDING -> APPROVED|REJECTED -> EXECUTED. Execution needs
the admin role, an APPROVED status, and SAFE_MODE off; re-sending the same
idempotency key shortly after a successful execute replays the prior result
instead of executing twice.

Examples:
  governord action propose --type content --name refresh-post --target post_17 --as editor --actor bob \
      --trace "stale_content:days_since_update:412:not touched in a year"
  governord action approve act_xxx --as approver --actor alice --reason "evidence is solid"
  governord action execute act_xxx --as admin --actor root --idempotency-key deploy-42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var (
	actionTypeFlag   string
	actionNameFlag   string
	actionTargetFlag string
	actionTraceFlags []string
	actorFlag        string
	roleFlag         string
	reasonFlag       string
	idemKeyFlag      string
)

var actionProposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose a new action with its evidentiary traces",
	RunE:  runActionPropose,
}

var actionApproveCmd = &cobra.Command{
	Use:   "approve <action-id>",
	Short: "Approve a pending action",
	Args:  cobra.ExactArgs(1),
	RunE:  runActionDecide(approval.DecisionApprove),
}

var actionRejectCmd = &cobra.Command{
	Use:   "reject <action-id>",
	Short: "Reject a pending action (terminal)",
	Args:  cobra.ExactArgs(1),
	RunE:  runActionDecide(approval.DecisionReject),
}

var actionExecuteCmd = &cobra.Command{
	Use:   "execute <action-id>",
	Short: "Execute an approved action",
	Args:  cobra.ExactArgs(1),
	RunE:  runActionExecute,
}

func init() {
	actionProposeCmd.Flags().StringVar(&actionTypeFlag, "type", "content", "Action category")
	actionProposeCmd.Flags().StringVar(&actionNameFlag, "name", "", "Action name (required)")
	actionProposeCmd.Flags().StringVar(&actionTargetFlag, "target", "", "Target entity reference (required)")
	actionProposeCmd.Flags().StringArrayVar(&actionTraceFlags, "trace", nil,
		"Trace record insight:metric:value:explanation (repeatable)")
	actionProposeCmd.MarkFlagRequired("name")
	actionProposeCmd.MarkFlagRequired("target")

	for _, c := range []*cobra.Command{actionProposeCmd, actionApproveCmd, actionRejectCmd, actionExecuteCmd} {
		c.Flags().StringVar(&actorFlag, "actor", "", "Acting user (required)")
		c.Flags().StringVar(&roleFlag, "as", "", "Acting role: viewer | editor | approver | admin (required)")
		c.MarkFlagRequired("actor")
		c.MarkFlagRequired("as")
	}
	actionApproveCmd.Flags().StringVar(&reasonFlag, "reason", "", "Decision reason")
	actionRejectCmd.Flags().StringVar(&reasonFlag, "reason", "", "Decision reason")
	actionExecuteCmd.Flags().StringVar(&idemKeyFlag, "idempotency-key", "", "Replay shield for retried execute calls")

	ActionCmd.AddCommand(actionProposeCmd)
	ActionCmd.AddCommand(actionApproveCmd)
	ActionCmd.AddCommand(actionRejectCmd)
	ActionCmd.AddCommand(actionExecuteCmd)
}

// actionEngine wires the approval engine plus the admin-scope rate limiter
// the action surface shares with every other admin entry point.
func actionEngine(cmd *cobra.Command) (*approval.Engine, *ratelimit.Limiter, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	engine := approval.NewEngine(
		approval.NewStore(database),
		config.NewSafetySource(cfg.Safety),
		logger.Logger,
	)
	limiter := ratelimit.NewLimiter(cfg.RateLimit, ratelimit.NewSQLStore(database), logger.Logger)
	return engine, limiter, func() { database.Close() }, nil
}

func runActionPropose(cmd *cobra.Command, args []string) error {
	engine, limiter, closeDB, err := actionEngine(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	if _, err := limiter.Allow(ratelimit.ScopeAdmin, actorFlag, ""); err != nil {
		return err
	}

	traces, err := parseTraceFlags(actionTraceFlags)
	if err != nil {
		return err
	}

	action, err := engine.Propose(actionTypeFlag, actionNameFlag, actionTargetFlag, actorFlag, roleFlag, traces)
	if err != nil {
		return err
	}
	fmt.Printf("Proposed action %s (%s on %s) with %d trace(s)\n",
		action.ID, action.ActionName, action.TargetRef, len(traces))
	return nil
}

func runActionDecide(decision string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		engine, limiter, closeDB, err := actionEngine(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		if _, err := limiter.Allow(ratelimit.ScopeAdmin, actorFlag, ""); err != nil {
			return err
		}

		action, err := engine.Decide(args[0], actorFlag, roleFlag, decision, reasonFlag)
		if err != nil {
			return err
		}
		fmt.Printf("Action %s is now %s\n", action.ID, action.Status)
		return nil
	}
}

func runActionExecute(cmd *cobra.Command, args []string) error {
	engine, limiter, closeDB, err := actionEngine(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	if _, err := limiter.Allow(ratelimit.ScopeAdmin, actorFlag, ""); err != nil {
		return err
	}

	result, err := engine.Execute(args[0], actorFlag, roleFlag, idemKeyFlag)
	if err != nil {
		return err
	}

	if result.Replayed {
		fmt.Printf("Action %s already executed at %s, prior result replayed\n",
			result.ActionID, result.ExecutedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Printf("Action %s executed\n", result.ActionID)
	}
	fmt.Printf("  Result: %s\n", result.Result)
	return nil
}

// parseTraceFlags parses repeated insight:metric:value:explanation flags.
// The explanation may itself contain colons.
func parseTraceFlags(flags []string) ([]approval.Trace, error) {
	var traces []approval.Trace
	for _, raw := range flags {
		parts := strings.SplitN(raw, ":", 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid trace %q: want insight:metric:value:explanation", raw)
		}
		value, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid trace metric value %q: %w", parts[2], err)
		}
		traces = append(traces, approval.Trace{
			InsightKey:  parts[0],
			MetricKey:   parts[1],
			MetricValue: value,
			Explanation: parts[3],
		})
	}
	return traces, nil
}
