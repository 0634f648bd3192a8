// Copyright © 2024 Zyncio

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/core"
	"github.com/zyncio/zync/pkg/model"
)

var fixCmd = &cobra.Command{
	Use:   "fix [flags] DATASET...",
	Short: "Rename snapshots left behind by other snapshot tools",
	Long: `Renames snapshots whose names follow another tool's labeling scheme
so they count against the retention buckets here. Two registries are
built in, @zfs-auto-snap and @zfsnap; anything else is treated as a
regular expression with named groups (year, month, day, hour, minute,
second, type). Date fields the expression does not capture default to
the current time, and --type classifies labels the format cannot.`,
	Example: `% zync fix --format @zfs-auto-snap tank/data
% zync fix --format '^backup-(?P<year>\d{4})(?P<month>\d{2})(?P<day>\d{2})$' --type daily --recurse tank`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var typ model.SnapshotType
		if zyncFlags.fix.typeName != "" {
			for _, t := range model.SnapshotTypes {
				if string(t) == zyncFlags.fix.typeName {
					typ = t
					break
				}
			}
			if typ == "" {
				wrapFatalln(fmt.Sprintf("fix: unknown bucket type %q", zyncFlags.fix.typeName), nil)
				return
			}
		}
		req := core.FixRequest{
			Datasets: args,
			Format:   zyncFlags.fix.format,
			Type:     typ,
			Recurse:  zyncFlags.fix.recurse,
		}
		runTask("fix", &config.Config{}, func(ctx context.Context, orch *core.Orchestrator) (model.RunReport, error) {
			return orch.Fix(ctx, req)
		})
	},
}

func init() {
	requireFlags(fixCmd,
		addFixFormatFlag(fixCmd),
	)
	addFixTypeFlag(fixCmd)
	addFixRecurseFlag(fixCmd)
	rootCmd.AddCommand(fixCmd)
}
