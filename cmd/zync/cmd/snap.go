// Copyright © 2024 Zyncio

package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/zyncio/zync/pkg/core"
	"github.com/zyncio/zync/pkg/model"
)

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Take and prune snapshots on the configured datasets",
	Long: `Takes a snapshot for every retention bucket that is due and prunes
snapshots that fall outside the retention policy. With --take or --clean
only that half runs; the default is both, taking before pruning.`,
	Example: `% zync snap --take
% zync snap --clean
% zync snap`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadTargets()
		if err != nil {
			wrapFatalln("snap", err)
			return
		}
		take := zyncFlags.snap.take
		clean := zyncFlags.snap.clean
		if zyncFlags.snap.full || (!take && !clean) {
			take, clean = true, true
		}
		runTask("snap", cfg, func(ctx context.Context, orch *core.Orchestrator) (model.RunReport, error) {
			var report model.RunReport
			var errs error
			if take {
				r, err := orch.Take(ctx)
				report.Merge(r)
				errs = multierr.Append(errs, err)
			}
			if clean && ctx.Err() == nil {
				r, err := orch.Clean(ctx)
				report.Merge(r)
				errs = multierr.Append(errs, err)
			}
			return report, errs
		})
	},
}

func init() {
	addSnapTakeFlag(snapCmd)
	addSnapCleanFlag(snapCmd)
	addSnapFullFlag(snapCmd)
	rootCmd.AddCommand(snapCmd)
}
