package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/contentplane/governor/config"
	"github.com/contentplane/governor/job"
)

// JobCmd groups the job management subcommands.
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage content jobs and their keyword backlogs",
	Long: `Manage content jobs.

A job is a scheduled content-production unit with a daily quota, a time
window, and a keyword backlog. The scheduler claims one backlog keyword per
tick.

Examples:
  governord job create --mode evergreen --quota 5 --window 09:00-21:00
  governord job ls
  governord job pause job_xxx
  governord job items job_xxx
  governord job add-items job_xxx "pour over guide" "grind size chart"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var (
	jobModeFlag    string
	jobQuotaFlag   int
	jobWindowFlag  string
	jobPolicyFlag  string
	jobStartFlag   string
	jobEndFlag     string
	itemRetryFlag  string
	itemSkipFlag   string
)

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new content job",
	RunE:  runJobCreate,
}

var jobUpdateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Edit a job's quota, window, dates, or publish policy",
	Long:  "Edit a job's schedule. Legal only while the job is SCHEDULED or PAUSED.",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobUpdate,
}

var jobLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all jobs",
	RunE:  runJobLs,
}

var jobPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Pause a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatusChange(func(s *job.Store, id string) error { return s.Pause(id) }, "paused"),
}

var jobResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatusChange(func(s *job.Store, id string) error { return s.Resume(id) }, "resumed"),
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job (soft delete)",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobStatusChange(func(s *job.Store, id string) error { return s.Cancel(id) }, "cancelled"),
}

var jobDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Hard-delete a job and its work items",
	Long:  "Hard-delete a job. Rejected while the job is RUNNING or any work item is PROCESSING; cancel first.",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobDelete,
}

var jobItemsCmd = &cobra.Command{
	Use:   "items <job-id>",
	Short: "List a job's work items",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobItems,
}

var jobAddItemsCmd = &cobra.Command{
	Use:   "add-items <job-id> <keyword>...",
	Short: "Append keywords to a job's backlog",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runJobAddItems,
}

func init() {
	jobCreateCmd.Flags().StringVar(&jobModeFlag, "mode", job.ModeEvergreen, "Content mode: evergreen | seasonal")
	jobCreateCmd.Flags().IntVar(&jobQuotaFlag, "quota", 5, "Daily production quota")
	jobCreateCmd.Flags().StringVar(&jobWindowFlag, "window", "09:00-21:00", "Daily time window HH:MM-HH:MM, end exclusive")
	jobCreateCmd.Flags().StringVar(&jobPolicyFlag, "policy", job.PublishDraft, "Publish policy: auto | draft | quality_gate")
	jobCreateCmd.Flags().StringVar(&jobStartFlag, "start", "", "Start date YYYY-MM-DD (empty: immediately)")
	jobCreateCmd.Flags().StringVar(&jobEndFlag, "end", "", "End date YYYY-MM-DD (empty: open-ended)")

	jobItemsCmd.Flags().StringVar(&itemRetryFlag, "retry", "", "Reset a FAILED or SKIPPED item back to PENDING")
	jobItemsCmd.Flags().StringVar(&itemSkipFlag, "skip", "", "Mark a PENDING or FAILED item SKIPPED")

	jobUpdateCmd.Flags().IntVar(&jobQuotaFlag, "quota", 5, "Daily production quota")
	jobUpdateCmd.Flags().StringVar(&jobWindowFlag, "window", "09:00-21:00", "Daily time window HH:MM-HH:MM, end exclusive")
	jobUpdateCmd.Flags().StringVar(&jobPolicyFlag, "policy", job.PublishDraft, "Publish policy: auto | draft | quality_gate")
	jobUpdateCmd.Flags().StringVar(&jobStartFlag, "start", "", "Start date YYYY-MM-DD")
	jobUpdateCmd.Flags().StringVar(&jobEndFlag, "end", "", "End date YYYY-MM-DD")

	JobCmd.AddCommand(jobCreateCmd)
	JobCmd.AddCommand(jobUpdateCmd)
	JobCmd.AddCommand(jobLsCmd)
	JobCmd.AddCommand(jobPauseCmd)
	JobCmd.AddCommand(jobResumeCmd)
	JobCmd.AddCommand(jobCancelCmd)
	JobCmd.AddCommand(jobDeleteCmd)
	JobCmd.AddCommand(jobItemsCmd)
	JobCmd.AddCommand(jobAddItemsCmd)
}

// jobStore opens the database and returns a job store plus a closer.
func jobStore(cmd *cobra.Command) (*job.Store, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return job.NewStore(database), func() { database.Close() }, nil
}

func runJobCreate(cmd *cobra.Command, args []string) error {
	store, closeDB, err := jobStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	window, err := config.ParseWindow(jobWindowFlag)
	if err != nil {
		return err
	}

	j := &job.Job{
		Mode:          jobModeFlag,
		DailyQuota:    jobQuotaFlag,
		StartDate:     jobStartFlag,
		EndDate:       jobEndFlag,
		WindowStart:   window.StartMin,
		WindowEnd:     window.EndMin,
		PublishPolicy: jobPolicyFlag,
	}
	if err := store.CreateJob(j); err != nil {
		return err
	}

	fmt.Printf("Created job %s (%s, quota %d/day)\n", j.ID, j.Mode, j.DailyQuota)
	return nil
}

func runJobUpdate(cmd *cobra.Command, args []string) error {
	store, closeDB, err := jobStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	window, err := config.ParseWindow(jobWindowFlag)
	if err != nil {
		return err
	}

	if err := store.UpdateSchedule(args[0], jobQuotaFlag, window.StartMin, window.EndMin,
		jobStartFlag, jobEndFlag, jobPolicyFlag); err != nil {
		return err
	}
	fmt.Printf("Job %s schedule updated\n", args[0])
	return nil
}

func runJobLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := jobStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	jobs, err := store.ListJobs()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}

	for _, j := range jobs {
		last := "never"
		if j.LastRunAt != nil {
			last = j.LastRunAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("%s  %-10s %-9s quota=%d window=%s last_run=%s\n",
			j.ID, j.Status, j.Mode, j.DailyQuota, formatWindow(j.WindowStart, j.WindowEnd), last)
	}
	return nil
}

func runJobStatusChange(change func(*job.Store, string) error, verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		store, closeDB, err := jobStore(cmd)
		if err != nil {
			return err
		}
		defer closeDB()

		if err := change(store, args[0]); err != nil {
			return err
		}
		fmt.Printf("Job %s %s\n", args[0], verb)
		return nil
	}
}

func runJobDelete(cmd *cobra.Command, args []string) error {
	store, closeDB, err := jobStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := store.HardDelete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Job %s deleted\n", args[0])
	return nil
}

func runJobItems(cmd *cobra.Command, args []string) error {
	store, closeDB, err := jobStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	if itemRetryFlag != "" {
		if err := store.RetryItem(itemRetryFlag); err != nil {
			return err
		}
		fmt.Printf("Item %s reset to PENDING\n", itemRetryFlag)
	}
	if itemSkipFlag != "" {
		if err := store.SkipItem(itemSkipFlag); err != nil {
			return err
		}
		fmt.Printf("Item %s skipped\n", itemSkipFlag)
	}

	items, err := store.ListWorkItems(args[0])
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No work items")
		return nil
	}

	for _, item := range items {
		line := fmt.Sprintf("%s  %-10s attempts=%d  %q", item.ID, item.Status, item.Attempts, item.Keyword)
		if item.LastError != "" {
			line += "  error: " + item.LastError
		}
		fmt.Println(line)
	}
	return nil
}

func runJobAddItems(cmd *cobra.Command, args []string) error {
	store, closeDB, err := jobStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	items, err := store.AddWorkItems(args[0], args[1:])
	if err != nil {
		return err
	}
	fmt.Printf("Added %d work item(s) to job %s\n", len(items), args[0])
	return nil
}

func formatWindow(startMin, endMin int) string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", startMin/60, startMin%60, endMin/60, endMin%60)
}
