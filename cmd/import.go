package main

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verifymyprovider/vmp/internal/ingest"
	"github.com/verifymyprovider/vmp/internal/model"
	"github.com/verifymyprovider/vmp/internal/store"
)

var (
	importFile      string
	importDryRun    bool
	importBatchSize int
)

var importCmd = &cobra.Command{
	Use:       "import <" + strings.Join(ingest.Kinds, "|") + ">",
	Short:     "Import a CSV of providers, plans, acceptances or verifications",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: ingest.Kinds,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		kind := args[0]

		f, err := os.Open(importFile)
		if err != nil {
			return eris.Wrap(err, "import: open file")
		}
		defer f.Close() //nolint:errcheck

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		im := ingest.NewImporter(e.Directory, e.Scorer)
		opts := ingest.Options{DryRun: importDryRun, BatchSize: importBatchSize}
		params := map[string]any{"kind": kind, "file": importFile}

		res, err := store.Track(ctx, e.Runs, "import-"+kind, importDryRun, params,
			func(ctx context.Context) (*model.JobResult, error) {
				return im.Import(ctx, kind, f, opts)
			})
		printResult(cmd.OutOrStdout(), "import "+kind, res)
		return err
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to CSV file (required)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse and validate without writing")
	importCmd.Flags().IntVar(&importBatchSize, "batch-size", ingest.DefaultBatchSize, "rows per write batch")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}
