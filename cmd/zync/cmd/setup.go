// Copyright © 2024 Zyncio

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zyncio/zync/pkg/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write a commented sample configuration",
	Long: `Writes a commented sample configuration. An existing configuration
is never overwritten.`,
	Example: `% zync setup -p /etc/zync/zync.conf`,
	Run: func(cmd *cobra.Command, args []string) {
		written, err := config.WriteSample(cliFs, zyncFlags.setup.path)
		if err != nil {
			wrapFatalln("setup", err)
			return
		}
		if !written {
			infoLogger.Println("Leaving existing configuration alone:", zyncFlags.setup.path)
			return
		}
		infoLogger.Println("Wrote sample configuration:", zyncFlags.setup.path)
	},
}

func init() {
	addSetupPathFlag(setupCmd)
	rootCmd.AddCommand(setupCmd)
}
