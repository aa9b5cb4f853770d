package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scoutline/leadharvest/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leadharvest",
	Short: "Seed-driven lead collection pipeline",
	Long:  "Expands seed terms into content, harvests engagement, enriches contributor profiles, and qualifies them into a durable lead set. Jobs are checkpointed and resumable.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
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

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
