// Copyright © 2024 Zyncio

package cmd

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zyncio/zync/pkg/core"
	"github.com/zyncio/zync/pkg/model"
)

// statusOut is patched over during test
var statusOut io.Writer = os.Stdout

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the snapshot inventory of every configured dataset",
	Long: `Reports each managed dataset with its settings, snapshot counts per
retention bucket and the time of the newest managed snapshot. The default
is a table; --raw emits one JSON object per dataset instead.`,
	Example: `% zync status
% zync status --raw --values name,hourly,daily
% zync status --filter-send=false`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadTargets()
		if err != nil {
			wrapFatalln("status", err)
			return
		}
		opts := core.StatusOptions{
			Raw:    zyncFlags.status.raw,
			Values: zyncFlags.status.values,
			Snap:   boolFilter(cmd.Flags(), "filter-snap", zyncFlags.status.filterSnap),
			Clean:  boolFilter(cmd.Flags(), "filter-clean", zyncFlags.status.filterClean),
			Send:   boolFilter(cmd.Flags(), "filter-send", zyncFlags.status.filterSend),
		}
		runTask("status", cfg, func(ctx context.Context, orch *core.Orchestrator) (model.RunReport, error) {
			return orch.Status(ctx, statusOut, opts)
		})
	},
}

func init() {
	addStatusRawFlag(statusCmd)
	addStatusValuesFlag(statusCmd)
	addStatusFilterSnapFlag(statusCmd)
	addStatusFilterCleanFlag(statusCmd)
	addStatusFilterSendFlag(statusCmd)
	rootCmd.AddCommand(statusCmd)
}
