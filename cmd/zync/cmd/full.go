// Copyright © 2024 Zyncio

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zyncio/zync/pkg/core"
	"github.com/zyncio/zync/pkg/model"
)

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Run one complete cycle: take, send, clean",
	Long: `Runs all three phases over the configured datasets. Fresh snapshots
replicate before pruning so an incremental base is never destroyed ahead
of its transfer.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadTargets()
		if err != nil {
			wrapFatalln("full", err)
			return
		}
		runTask("full", cfg, func(ctx context.Context, orch *core.Orchestrator) (model.RunReport, error) {
			return orch.Full(ctx)
		})
	},
}

func init() {
	rootCmd.AddCommand(fullCmd)
}
