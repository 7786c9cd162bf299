package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/verifymyprovider/vmp/internal/directory"
	"github.com/verifymyprovider/vmp/internal/maintenance"
	"github.com/verifymyprovider/vmp/internal/model"
	"github.com/verifymyprovider/vmp/internal/store"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Batch maintenance jobs for the directory",
	Long:  "Location dedup and enrichment, provider count refresh, confidence recalculation and export. Jobs are dry runs unless --apply is given.",
}

// jobFunc runs one maintenance job.
type jobFunc func(ctx context.Context, r *maintenance.Runner, opts maintenance.Options) (*model.JobResult, error)

// newJobCmd builds a maintain subcommand that runs fn under the run log.
func newJobCmd(use, short string, fn jobFunc) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			opts := jobOptions(cmd)

			e, err := initEnv(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			r := maintenance.NewRunner(e.Directory, e.Scorer, e.Freshness)
			params := jobParams(cmd)
			res, err := store.Track(ctx, e.Runs, use, !opts.Apply, params,
				func(ctx context.Context) (*model.JobResult, error) {
					return fn(ctx, r, opts)
				})
			printResult(cmd.OutOrStdout(), use, res)
			return err
		},
	}
	c.Flags().Bool("apply", false, "write changes (default is a dry run)")
	c.Flags().Int("batch", 0, "rows per batch (default from config)")
	return c
}

func jobOptions(cmd *cobra.Command) maintenance.Options {
	apply, _ := cmd.Flags().GetBool("apply")
	batch, _ := cmd.Flags().GetInt("batch")
	if batch <= 0 {
		batch = cfg.Maintenance.BatchSize
	}
	return maintenance.Options{Apply: apply, BatchSize: batch}
}

// jobParams records every flag the user set.
func jobParams(cmd *cobra.Command) map[string]any {
	params := map[string]any{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		params[f.Name] = f.Value.String()
	})
	return params
}

// printResult writes a job summary to out. Details are sorted by key.
func printResult(out io.Writer, job string, res *model.JobResult) {
	if res == nil {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Job:\t%s\n", job)
	_, _ = fmt.Fprintf(w, "Examined:\t%d\n", res.Examined)
	_, _ = fmt.Fprintf(w, "Affected:\t%d\n", res.Affected)
	_, _ = fmt.Fprintf(w, "Batches:\t%d\n", res.Batches)
	_, _ = fmt.Fprintf(w, "Residual:\t%d\n", res.Residual)

	keys := make([]string, 0, len(res.Details))
	for k := range res.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := res.Details[k].(type) {
		case []string:
			_, _ = fmt.Fprintf(w, "%s:\t%d\n", k, len(v))
			for _, line := range v {
				_, _ = fmt.Fprintf(w, "  \t%s\n", line)
			}
		default:
			_, _ = fmt.Fprintf(w, "%s:\t%v\n", k, v)
		}
	}
	_ = w.Flush()
}

var (
	enrichAll        bool
	enrichMinMembers int

	exportOut      string
	exportFormat   string
	exportState    string
	exportMinScore float64
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export acceptances with confidence and freshness to CSV or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format := strings.ToLower(exportFormat)
		if format == "" && strings.HasSuffix(strings.ToLower(exportOut), ".xlsx") {
			format = maintenance.FormatXLSX
		}
		if format == "" {
			format = maintenance.FormatCSV
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrap(err, "export: create file")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		r := maintenance.NewRunner(e.Directory, e.Scorer, e.Freshness)
		_, err = store.Track(ctx, e.Runs, "export", false, jobParams(cmd),
			func(ctx context.Context) (*model.JobResult, error) {
				n, err := r.Export(ctx, w, maintenance.ExportOptions{
					Format:    format,
					Filter:    directory.ExportFilter{State: strings.ToUpper(exportState), MinConfidence: exportMinScore},
					BatchSize: cfg.Maintenance.BatchSize,
				})
				return &model.JobResult{Examined: n, Affected: n, Details: map[string]any{"format": format}}, err
			})
		return err
	},
}

func init() {
	dedup := newJobCmd("dedup-locations", "Merge locations that share a normalized address",
		func(ctx context.Context, r *maintenance.Runner, opts maintenance.Options) (*model.JobResult, error) {
			return r.DedupLocations(ctx, opts)
		})
	verify := newJobCmd("verify-dedup", "Report remaining duplicate locations and stale provider counts",
		func(ctx context.Context, r *maintenance.Runner, opts maintenance.Options) (*model.JobResult, error) {
			return r.VerifyDedup(ctx, opts)
		})
	refresh := newJobCmd("refresh-counts", "Recompute stale location provider counts",
		func(ctx context.Context, r *maintenance.Runner, opts maintenance.Options) (*model.JobResult, error) {
			return r.RefreshCounts(ctx, opts)
		})
	recalc := newJobCmd("recalc-confidence", "Recompute confidence scores for every acceptance",
		func(ctx context.Context, r *maintenance.Runner, opts maintenance.Options) (*model.JobResult, error) {
			return r.RecalcConfidence(ctx, opts)
		})
	enrich := newJobCmd("enrich-locations", "Name locations and tag health system and facility type",
		func(ctx context.Context, r *maintenance.Runner, opts maintenance.Options) (*model.JobResult, error) {
			minMembers := enrichMinMembers
			if minMembers <= 0 {
				minMembers = cfg.Maintenance.EnrichMinMembers
			}
			return r.EnrichLocations(ctx, maintenance.EnrichOptions{
				Options:      opts,
				All:          enrichAll,
				MinProviders: minMembers,
			})
		})
	enrich.Flags().BoolVar(&enrichAll, "all", false, "relabel locations that already have labels")
	enrich.Flags().IntVar(&enrichMinMembers, "min", 0, "minimum providers at an address (default from config)")

	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "csv or xlsx (default from --out extension, else csv)")
	exportCmd.Flags().StringVar(&exportState, "state", "", "only providers in this state")
	exportCmd.Flags().Float64Var(&exportMinScore, "min-confidence", 0, "only acceptances scoring at least this")

	maintainCmd.AddCommand(dedup, verify, refresh, recalc, enrich, exportCmd)
	rootCmd.AddCommand(maintainCmd)
}
