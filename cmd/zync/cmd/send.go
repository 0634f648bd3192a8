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

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Replicate snapshots to the configured destinations",
	Long: `Replicates the newest snapshots to every destination of every
configured target. With --source and --dest a single ad-hoc target is
sent instead, leaving the configuration file out of it entirely.

A destination that already shares a snapshot with the source receives an
incremental stream from the newest common base; anything else receives a
full stream. Interrupted transfers resume from receive tokens when
--resume is set and the pool supports them.`,
	Example: `% zync send
% zync send -s tank/data -d backup/data -d ssh:22:root@vault:pool/data -k none -k /root/.ssh/id_rsa`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, name, err := sendConfig()
		if err != nil {
			wrapFatalln("send", err)
			return
		}
		runTask(name, cfg, func(ctx context.Context, orch *core.Orchestrator) (model.RunReport, error) {
			return orch.Send(ctx)
		})
	},
}

// sendConfig picks between the configured targets and the single target
// described on the command line.
func sendConfig() (*config.Config, string, error) {
	adHoc := zyncFlags.send.source != "" || len(zyncFlags.send.dests) > 0
	if !adHoc {
		cfg, err := loadTargets()
		return cfg, "send", err
	}
	if zyncFlags.send.source == "" || len(zyncFlags.send.dests) == 0 {
		return nil, "", fmt.Errorf("an ad-hoc send needs both --source and --dest: %w", model.ErrConfiguration)
	}
	t, err := adHocTarget(zyncFlags)
	if err != nil {
		return nil, "", err
	}
	return &config.Config{Targets: []config.Target{t}}, "send " + t.Name, nil
}

func init() {
	addSendSourceFlag(sendCmd)
	addSendDestFlag(sendCmd)
	addSendKeyFlag(sendCmd)
	addSendSourceKeyFlag(sendCmd)
	addSendDestKeyFlag(sendCmd)
	addSendCompressFlag(sendCmd)
	addSendExcludeFlag(sendCmd)
	addSendRawFlag(sendCmd)
	addSendResumeFlag(sendCmd)
	addSendAutoCreateFlag(sendCmd)
	addSendRetriesFlag(sendCmd)
	addSendRetryIntervalFlag(sendCmd)
	rootCmd.AddCommand(sendCmd)
}
