package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/directory"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply directory schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		// initEnv migrates the run log as it opens it.
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := directory.Migrate(ctx, e.Pool); err != nil {
			return eris.Wrap(err, "migrate directory")
		}
		zap.L().Info("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
