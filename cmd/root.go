package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verifymyprovider/vmp/internal/config"
	"github.com/verifymyprovider/vmp/internal/confidence"
)

var (
	cfg        *config.Config
	policyPath string
)

var rootCmd = &cobra.Command{
	Use:   "vmp",
	Short: "Provider insurance acceptance directory",
	Long:  "Serves crowdsourced provider/plan acceptance data with confidence and freshness scoring, and runs the maintenance jobs that keep the directory consistent.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.ApplyPolicyFile(c, policyPath); err != nil {
			return fmt.Errorf("load policy: %w", err)
		}
		if err := confidence.ValidateConfig(c.Confidence); err != nil {
			return fmt.Errorf("confidence policy: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "YAML file overriding confidence and freshness policy")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
