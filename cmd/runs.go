package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verifymyprovider/vmp/internal/model"
	"github.com/verifymyprovider/vmp/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect maintenance and import run history",
	Long:  "Commands for listing, viewing, and summarizing job runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List job runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		job, _ := cmd.Flags().GetString("job")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := e.Runs.ListRuns(ctx, store.RunFilter{
			Job:    job,
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		run, err := e.Runs.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-job run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.RunFilter{Limit: 10000}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		runs, err := e.Runs.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(cmd.OutOrStdout(), computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("job", "", "filter by job name (e.g. dedup-locations, import-plans)")
	runsListCmd.Flags().String("status", "", "filter by run status (running, complete, failed)")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// jobStats aggregates the runs of one job.
type jobStats struct {
	Job        string
	Total      int
	Complete   int
	Failed     int
	Running    int
	DryRuns    int
	Affected   int
	AvgDurSecs float64
	LastRun    time.Time
}

// computeRunStats groups runs by job, ordered by job name.
func computeRunStats(runs []model.JobRun) []jobStats {
	byJob := map[string]*jobStats{}
	durs := map[string]time.Duration{}
	for _, r := range runs {
		s, ok := byJob[r.Job]
		if !ok {
			s = &jobStats{Job: r.Job}
			byJob[r.Job] = s
		}
		s.Total++
		if r.DryRun {
			s.DryRuns++
		}
		if r.CreatedAt.After(s.LastRun) {
			s.LastRun = r.CreatedAt
		}
		switch r.Status {
		case model.JobStatusComplete:
			s.Complete++
			durs[r.Job] += r.UpdatedAt.Sub(r.CreatedAt)
			if r.Result != nil && !r.DryRun {
				s.Affected += r.Result.Affected
			}
		case model.JobStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
	}

	out := make([]jobStats, 0, len(byJob))
	for job, s := range byJob {
		if s.Complete > 0 {
			s.AvgDurSecs = durs[job].Seconds() / float64(s.Complete)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.JobRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tJOB\tMODE\tSTATUS\tAFFECTED\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---\t----\t------\t--------\t-------\t--------")

	for _, r := range runs {
		dur := r.UpdatedAt.Sub(r.CreatedAt).Round(time.Second).String()

		mode := "apply"
		if r.DryRun {
			mode = "dry-run"
		}
		affected := "-"
		if r.Result != nil {
			affected = fmt.Sprintf("%d", r.Result.Affected)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Job,
			mode,
			r.Status,
			affected,
			r.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes per-job stats to w.
func formatRunStats(out io.Writer, stats []jobStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "JOB\tTOTAL\tCOMPLETE\tFAILED\tRUNNING\tDRY-RUNS\tAFFECTED\tAVG\tLAST")
	for _, s := range stats {
		avg := "-"
		if s.AvgDurSecs > 0 {
			avg = fmt.Sprintf("%.1fs", s.AvgDurSecs)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Job, s.Total, s.Complete, s.Failed, s.Running, s.DryRuns, s.Affected, avg,
			s.LastRun.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
