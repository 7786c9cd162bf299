package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verifymyprovider/vmp/internal/freshness"
	"github.com/verifymyprovider/vmp/internal/monitoring"
)

var (
	monitorJSON   bool
	monitorNoSend bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Data quality and job health checks",
}

var monitorCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Collect metrics once and raise any alerts",
	Long:  "Collects a data quality snapshot, evaluates alert thresholds and sends triggered alerts to the webhook. Exits non-zero when any alert fires.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		collector := monitoring.NewCollector(e.Directory, e.Runs, e.Freshness)
		alerter := monitoring.NewAlerter(cfg.Monitoring)

		var (
			alerts []monitoring.Alert
			snap   *monitoring.MetricsSnapshot
		)
		if monitorNoSend || cfg.Monitoring.WebhookURL == "" {
			snap, err = collector.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
			if err == nil {
				alerts = alerter.Evaluate(snap)
			}
		} else {
			alerts, snap, err = monitoring.NewChecker(collector, alerter, cfg.Monitoring).CheckOnce(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "monitor check")
		}

		out := cmd.OutOrStdout()
		if monitorJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"snapshot": snap, "alerts": alerts}); err != nil {
				return err
			}
		} else {
			formatSnapshot(out, snap, alerts)
		}

		if len(alerts) > 0 {
			return eris.Errorf("monitor check: %d alert(s) triggered", len(alerts))
		}
		return nil
	},
}

func init() {
	monitorCheckCmd.Flags().BoolVar(&monitorJSON, "json", false, "print the snapshot and alerts as JSON")
	monitorCheckCmd.Flags().BoolVar(&monitorNoSend, "no-send", false, "evaluate alerts without calling the webhook")

	monitorCmd.AddCommand(monitorCheckCmd)
	rootCmd.AddCommand(monitorCmd)
}

// formatSnapshot writes a snapshot and its alerts to w.
func formatSnapshot(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Acceptances:\t%d\n", snap.Acceptances)

	for _, l := range []freshness.Level{freshness.LevelFresh, freshness.LevelWarning, freshness.LevelStale} {
		_, _ = fmt.Fprintf(w, "  %s:\t%d\n", l, snap.ByFreshness[l])
	}
	_, _ = fmt.Fprintf(w, "Stale ratio:\t%.1f%%\n", snap.StaleRatio*100)
	_, _ = fmt.Fprintf(w, "Low confidence ratio:\t%.1f%%\n", snap.LowConfidenceRatio*100)
	_, _ = fmt.Fprintf(w, "Pending verifications:\t%d\n", snap.PendingVerifications)
	_, _ = fmt.Fprintf(w, "Job runs (%dh):\t%d total, %d failed\n", snap.LookbackHours, snap.JobRunsTotal, snap.JobRunsFailed)
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "No alerts.")
		return
	}
	_, _ = fmt.Fprintln(out)
	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "[%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}
