package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/outfield/enrichd/db"
	"github.com/outfield/enrichd/errors"
	"github.com/outfield/enrichd/job"
	"github.com/outfield/enrichd/logger"
)

// JobsCmd groups job inspection subcommands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage enrichment jobs",
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recent jobs",
	RunE:  runJobsLs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job with its per-item outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove completed and failed jobs older than the retention window",
	RunE:  runJobsCleanup,
}

func init() {
	jobsLsCmd.Flags().String("status", "", "Filter by status (pending, processing, completed, failed)")
	jobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to list")
	jobsCleanupCmd.Flags().Int("days", 30, "Remove terminal jobs older than this many days")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsCleanupCmd)
}

// openStore opens the configured database for one-shot CLI use
func openStore(cmd *cobra.Command) (*job.Store, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	conn, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open database %s", cfg.Database.Path)
	}

	return job.NewStore(conn), func() { conn.Close() }, nil
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	limit, _ := cmd.Flags().GetInt("limit")

	var status *job.Status
	if v, _ := cmd.Flags().GetString("status"); v != "" {
		if !job.IsValidStatus(v) {
			return errors.Newf("invalid status %q", v)
		}
		st := job.Status(v)
		status = &st
	}

	jobs, err := store.ListJobs(status, limit)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s  %-10s  %-8s  %-11s  %s\n", "ID", "STATUS", "PROGRESS", "OWNER", "CREATED")
	for _, j := range jobs {
		fmt.Printf("%-36s  %-10s  %3d/%-4d  %-11s  %s\n",
			j.ID, j.Status, j.ProcessedCount, j.TotalCount, j.OwnerID,
			j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}

	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	j, err := store.GetJob(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Job:      %s\n", j.ID)
	fmt.Printf("Owner:    %s\n", j.OwnerID)
	fmt.Printf("Kind:     %s\n", j.Kind)
	fmt.Printf("Status:   %s\n", j.Status)
	if j.IsPremiumPriority {
		fmt.Printf("Priority: %d (premium)\n", j.Priority)
	} else {
		fmt.Printf("Priority: %d\n", j.Priority)
	}
	fmt.Printf("Progress: %d/%d (%d ok, %d errors, %d skipped)\n",
		j.ProcessedCount, j.TotalCount, j.SuccessCount, j.ErrorCount, j.SkippedCount)
	fmt.Printf("Created:  %s\n", j.CreatedAt.Local().Format(time.RFC3339))
	if j.StartedAt != nil {
		fmt.Printf("Started:  %s\n", j.StartedAt.Local().Format(time.RFC3339))
	}
	if j.CompletedAt != nil {
		fmt.Printf("Finished: %s\n", j.CompletedAt.Local().Format(time.RFC3339))
	}
	if j.FailureCause != "" {
		fmt.Printf("Failure:  %s\n", j.FailureCause)
	}

	if len(j.Results) > 0 {
		fmt.Println("\nResults:")
		for _, r := range j.Results {
			if r.Outcome == job.OutcomeSkipped {
				fmt.Printf("  [%3d] %-10s skip     %s\n", r.Index, r.CompanyID, r.Detail)
				continue
			}
			fmt.Printf("  [%3d] %-10s success  %s  %s\n", r.Index, r.CompanyID, r.ContactEmail, r.Detail)
		}
	}

	if len(j.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range j.Errors {
			fmt.Printf("  [%3d] %-10s %-12s %s\n", e.Index, e.CompanyID, e.Stage, e.Message)
		}
	}

	return nil
}

func runJobsCleanup(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	days, _ := cmd.Flags().GetInt("days")
	removed, err := store.CleanupOldJobs(time.Duration(days) * 24 * time.Hour)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d terminal jobs older than %d days\n", removed, days)
	return nil
}
