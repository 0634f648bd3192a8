// Copyright © 2024 Zyncio

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/core"
	"github.com/zyncio/zync/pkg/dlogger"
	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/pidfile"
	"github.com/zyncio/zync/pkg/transport"
)

// defaultPidfile guards against two instances mutating the same pools.
const defaultPidfile = "/var/run/zync.pid"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "zync",
	Short: "zync manages ZFS snapshots and their replication",
	Long: `zync takes periodic ZFS snapshots, prunes them against per-dataset
retention policies and replicates them to local or remote pools.

Datasets are configured in an INI file (one section per source dataset,
with an optional [defaults] section). Remote endpoints are reached over
SSH; interrupted transfers resume from receive tokens where the pool
supports them.
`,
	Run: func(cmd *cobra.Command, args []string) {
		if zyncFlags.root.version {
			logStdOut(NewVersionInfo().String())
			return
		}
		_ = cmd.Usage()
	},
}

// cliConfig carries the tool-level settings resolved by viper.
var cliConfig *CLIConfig

// globals used to patch over filesystem and store access during test
var (
	cliFs afero.Fs = afero.NewOsFs()

	pidProber pidfile.Prober = pidfile.UnixProber{}

	// extraCoreOptions is appended after the flag-derived options
	extraCoreOptions []core.Option
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)

	addConfigFlag(rootCmd)
	addPidfileFlag(rootCmd)
	addQuietFlag(rootCmd)
	addVerboseFlag(rootCmd)
	addTraceFlag(rootCmd)
	addDryRunFlag(rootCmd)
	addSyslogFlag(rootCmd)
	addConcurrentFlag(rootCmd)
	addVersionFlag(rootCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetDefault("config", config.DefaultPath)
	viper.SetDefault("pidfile", defaultPidfile)
	viper.SetDefault("loglevel", dlogger.LogLevelInfo)
	viper.SetDefault("max_concurrent", 0)
	viper.SetDefault("ssh_dial_timeout", "0s")
	if os.Getenv("ZYNC_TOOL_CONFIG") != "" {
		// Use config file from the flag.
		viper.SetConfigFile(os.Getenv("ZYNC_TOOL_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.zync")
		viper.AddConfigPath("/etc/zync")
		viper.SetConfigName("zync")
	}

	viper.SetEnvPrefix("zync")
	viper.AutomaticEnv() // read in environment variables that match
	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		infoLogger.Println("Using tool config file:", viper.ConfigFileUsed())
	}
	var err error
	cliConfig, err = newCLIConfig()
	if err != nil {
		logFatalln(err)
	}
	cliConfig.setRunParams(&zyncFlags)
}

func logLevel() string {
	switch {
	case zyncFlags.root.quiet:
		return dlogger.LogLevelError
	case zyncFlags.root.trace:
		return dlogger.LogLevelTrace
	case zyncFlags.root.verbose:
		return dlogger.LogLevelDebug
	}
	if cliConfig != nil && cliConfig.LogLevel != "" {
		return cliConfig.LogLevel
	}
	return dlogger.LogLevelInfo
}

func runLogger() (*zap.Logger, error) {
	var opts []dlogger.Option
	if zyncFlags.root.syslog {
		opts = append(opts, dlogger.WithSyslog("zync"))
	}
	return dlogger.GetLogger(logLevel(), opts...)
}

func loadTargets() (*config.Config, error) {
	return config.LoadFile(cliFs, zyncFlags.root.configPath)
}

func coreOptions(logger *zap.Logger) []core.Option {
	opts := []core.Option{
		core.WithLogger(logger),
		core.WithDryRun(zyncFlags.root.dryRun),
		core.WithConcurrency(zyncFlags.root.concurrent),
	}
	if cliConfig != nil && cliConfig.SSHDialTimeout > 0 {
		opts = append(opts, core.WithSSHOptions(
			transport.SSHWithDialTimeout(cliConfig.SSHDialTimeout),
			transport.SSHWithLogger(logger),
		))
	} else {
		opts = append(opts, core.WithSSHOptions(transport.SSHWithLogger(logger)))
	}
	return append(opts, extraCoreOptions...)
}

// runTask is the shared scaffolding of every command that touches
// datasets: build the logger, take the host-wide lock, run the task and
// fold its report into the exit code.
func runTask(name string, cfg *config.Config, task func(context.Context, *core.Orchestrator) (model.RunReport, error)) {
	logger, err := runLogger()
	if err != nil {
		wrapFatalln("setup logging", err)
		return
	}
	defer func() { _ = logger.Sync() }()

	lock, err := pidfile.Acquire(zyncFlags.root.pidfile,
		pidfile.WithFs(cliFs),
		pidfile.WithProber(pidProber),
		pidfile.WithLogger(logger),
	)
	if err != nil {
		wrapFatalln(name, err)
		return
	}
	defer func() { _ = lock.Release() }()

	orch := core.New(cfg, coreOptions(logger)...)
	report, err := task(context.Background(), orch)
	report.Log(logger)
	if err != nil {
		_ = lock.Release()
		wrapFatalln(name, err)
		return
	}
	if report.Failed() {
		_ = lock.Release()
		_ = logger.Sync()
		wrapFatalWithCodef(1, "%s: %d target(s) failed", name, report.TargetErrors)
		return
	}
}
