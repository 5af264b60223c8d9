package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/geoplex/procjobs/internal/config"
	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/jobstore"
	"github.com/geoplex/procjobs/pkg/lifecycle"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage job records",
	Long: `Inspect and manage job records in the local store.

This command group is designed to be agent-friendly:

- stable job ids
- predictable exit codes
- optional JSON output for machine parsing`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show logs for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

var jobsDismissCmd = &cobra.Command{
	Use:   "dismiss <job_id>",
	Short: "Dismiss a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDismiss,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsLogsCmd)
	jobsCmd.AddCommand(jobsDismissCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().String("status", "", "Filter by status or category (comma-separated)")
	jobsListCmd.Flags().String("process", "", "Filter by process id")
	jobsListCmd.Flags().Int("limit", 50, "Maximum number of jobs to show")
	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func openStore(ctx context.Context) (jobstore.Store, error) {
	cfg, err := config.Load(ctx, cfgFile)
	if err != nil {
		return nil, err
	}
	return jobstore.Open(ctx, jobstore.Config{Path: cfg.Store.Path})
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	statusArg, _ := cmd.Flags().GetString("status")
	processID, _ := cmd.Flags().GetString("process")
	limit, _ := cmd.Flags().GetInt("limit")

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	filter := jobstore.Filter{
		ProcessID: processID,
		Sort:      jobstore.SortCreated,
		Limit:     limit,
	}
	for _, tok := range strings.Split(statusArg, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if expanded, ok := job.ExpandCategory(tok); ok {
			filter.Statuses = append(filter.Statuses, expanded...)
			continue
		}
		s, err := job.ParseStatus(tok)
		if err != nil {
			return err
		}
		filter.Statuses = append(filter.Statuses, s)
	}

	jobs, _, err := store.Query(ctx, filter)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "No jobs found")
		return nil
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tPROCESS\tSTATUS\tPROGRESS\tCREATED\tFINISHED\tDURATION")
	for i := range jobs {
		j := &jobs[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%3.0f%%\t%s\t%s\t%s\n",
			shortJobID(j.ID),
			j.ProcessID,
			j.Status,
			j.Progress,
			j.Created.UTC().Format(time.RFC3339),
			formatOptionalTime(j.Finished),
			j.DurationString(time.Now().UTC()),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	jobID := strings.TrimSpace(args[0])
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	j, err := store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(j)
	}

	_, _ = fmt.Fprintf(os.Stdout, "job_id=%s\n", j.ID)
	_, _ = fmt.Fprintf(os.Stdout, "process_id=%s\n", j.ProcessID)
	if j.ServiceID != "" {
		_, _ = fmt.Fprintf(os.Stdout, "provider_id=%s\n", j.ServiceID)
	}
	_, _ = fmt.Fprintf(os.Stdout, "status=%s\n", j.Status)
	_, _ = fmt.Fprintf(os.Stdout, "progress=%.0f\n", j.Progress)
	if j.Message != "" {
		_, _ = fmt.Fprintf(os.Stdout, "message=%s\n", j.Message)
	}
	_, _ = fmt.Fprintf(os.Stdout, "created=%s\n", j.Created.UTC().Format(time.RFC3339))
	if j.Started != nil {
		_, _ = fmt.Fprintf(os.Stdout, "started=%s\n", j.Started.UTC().Format(time.RFC3339))
	}
	if j.Finished != nil {
		_, _ = fmt.Fprintf(os.Stdout, "finished=%s\n", j.Finished.UTC().Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(os.Stdout, "duration=%s\n", j.DurationString(time.Now().UTC()))
	if len(j.Tags) > 0 {
		_, _ = fmt.Fprintf(os.Stdout, "tags=%s\n", strings.Join(j.Tags, ","))
	}
	return nil
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobID := strings.TrimSpace(args[0])
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	j, err := store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	for _, line := range j.Logs {
		_, _ = fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

func runJobsDismiss(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jobID := strings.TrimSpace(args[0])
	if jobID == "" {
		return fmt.Errorf("job_id is required")
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	controller := lifecycle.New(store, lifecycle.Options{Logger: zap.NewNop()})
	j, err := controller.Dismiss(ctx, jobID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "job %s is %s\n", j.ID, j.Status)
	return nil
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
