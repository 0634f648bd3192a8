// Copyright © 2024 Zyncio

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/model"
)

type flagsT struct {
	root struct {
		configPath string
		pidfile    string
		quiet      bool
		verbose    bool
		trace      bool
		dryRun     bool
		syslog     bool
		concurrent int
		version    bool
	}
	setup struct {
		path string
	}
	snap struct {
		take  bool
		clean bool
		full  bool
	}
	send struct {
		source        string
		dests         []string
		key           string
		sourceKey     string
		destKeys      []string
		compress      string
		exclude       []string
		raw           bool
		resume        bool
		autoCreate    bool
		retries       int
		retryInterval int
	}
	status struct {
		raw         bool
		values      []string
		filterSnap  bool
		filterClean bool
		filterSend  bool
	}
	fix struct {
		format   string
		typeName string
		recurse  bool
	}
}

var zyncFlags = flagsT{}

func addConfigFlag(cmd *cobra.Command) string {
	c := "config"
	cmd.PersistentFlags().StringVar(&zyncFlags.root.configPath, c, "",
		"Path to the configuration file (default "+config.DefaultPath+", env ZYNC_CONFIG)")
	return c
}

func addPidfileFlag(cmd *cobra.Command) string {
	c := "pidfile"
	cmd.PersistentFlags().StringVar(&zyncFlags.root.pidfile, c, "",
		"Path to the lock file guarding against concurrent runs (default "+defaultPidfile+")")
	return c
}

func addQuietFlag(cmd *cobra.Command) string {
	c := "quiet"
	cmd.PersistentFlags().BoolVarP(&zyncFlags.root.quiet, c, "q", false, "Only log errors")
	return c
}

func addVerboseFlag(cmd *cobra.Command) string {
	c := "verbose"
	cmd.PersistentFlags().BoolVarP(&zyncFlags.root.verbose, c, "v", false, "Log debug output")
	return c
}

func addTraceFlag(cmd *cobra.Command) string {
	c := "trace"
	cmd.PersistentFlags().BoolVarP(&zyncFlags.root.trace, c, "t", false, "Log debug output with caller annotations")
	return c
}

func addDryRunFlag(cmd *cobra.Command) string {
	c := "dry-run"
	cmd.PersistentFlags().BoolVarP(&zyncFlags.root.dryRun, c, "n", false,
		"Log every create, destroy, rename and transfer instead of performing it")
	return c
}

func addSyslogFlag(cmd *cobra.Command) string {
	c := "syslog"
	cmd.PersistentFlags().BoolVar(&zyncFlags.root.syslog, c, false, "Also log to syslog (facility daemon)")
	return c
}

func addConcurrentFlag(cmd *cobra.Command) string {
	c := "max-concurrent"
	cmd.PersistentFlags().IntVar(&zyncFlags.root.concurrent, c, 0,
		"Number of targets worked on at once (defaults to 1, targets run sequentially)")
	return c
}

func addVersionFlag(cmd *cobra.Command) string {
	c := "version"
	cmd.Flags().BoolVarP(&zyncFlags.root.version, c, "V", false, "Print version information and exit")
	return c
}

func addSetupPathFlag(cmd *cobra.Command) string {
	c := "path"
	cmd.Flags().StringVarP(&zyncFlags.setup.path, c, "p", config.DefaultPath, "Where to write the sample configuration")
	return c
}

func addSnapTakeFlag(cmd *cobra.Command) string {
	c := "take"
	cmd.Flags().BoolVar(&zyncFlags.snap.take, c, false, "Only take new snapshots")
	return c
}

func addSnapCleanFlag(cmd *cobra.Command) string {
	c := "clean"
	cmd.Flags().BoolVar(&zyncFlags.snap.clean, c, false, "Only prune snapshots outside the retention policy")
	return c
}

func addSnapFullFlag(cmd *cobra.Command) string {
	c := "full"
	cmd.Flags().BoolVar(&zyncFlags.snap.full, c, false, "Take new snapshots, then prune (the default)")
	return c
}

func addSendSourceFlag(cmd *cobra.Command) string {
	c := "source"
	cmd.Flags().StringVarP(&zyncFlags.send.source, c, "s", "",
		"Source dataset locator (pool/fs or ssh:port:user@host:pool/fs) for an ad-hoc send")
	return c
}

func addSendDestFlag(cmd *cobra.Command) string {
	c := "dest"
	cmd.Flags().StringArrayVarP(&zyncFlags.send.dests, c, "d", nil,
		"Destination dataset locator, repeatable for multiple destinations")
	return c
}

func addSendKeyFlag(cmd *cobra.Command) string {
	c := "key"
	cmd.Flags().StringVarP(&zyncFlags.send.key, c, "i", "",
		"SSH private key for whichever single side is remote")
	return c
}

func addSendSourceKeyFlag(cmd *cobra.Command) string {
	c := "source-key"
	cmd.Flags().StringVarP(&zyncFlags.send.sourceKey, c, "j", "", "SSH private key for the source endpoint")
	return c
}

func addSendDestKeyFlag(cmd *cobra.Command) string {
	c := "dest-key"
	cmd.Flags().StringArrayVarP(&zyncFlags.send.destKeys, c, "k", nil,
		"SSH private key per destination, parallel to --dest ('none' skips one)")
	return c
}

func addSendCompressFlag(cmd *cobra.Command) string {
	c := "compress"
	cmd.Flags().StringVarP(&zyncFlags.send.compress, c, "c", "",
		"Compress the stream over remote hops (yes/no, legacy compressor names accepted)")
	return c
}

func addSendExcludeFlag(cmd *cobra.Command) string {
	c := "exclude"
	cmd.Flags().StringArrayVarP(&zyncFlags.send.exclude, c, "e", nil,
		"Glob of child datasets to leave out of the send, repeatable")
	return c
}

func addSendRawFlag(cmd *cobra.Command) string {
	c := "raw"
	cmd.Flags().BoolVarP(&zyncFlags.send.raw, c, "w", false, "Send raw encrypted streams")
	return c
}

func addSendResumeFlag(cmd *cobra.Command) string {
	c := "resume"
	cmd.Flags().BoolVarP(&zyncFlags.send.resume, c, "r", false, "Resume interrupted transfers from saved tokens")
	return c
}

func addSendAutoCreateFlag(cmd *cobra.Command) string {
	c := "dest-auto-create"
	cmd.Flags().BoolVar(&zyncFlags.send.autoCreate, c, false, "Create missing destination datasets")
	return c
}

func addSendRetriesFlag(cmd *cobra.Command) string {
	c := "retries"
	cmd.Flags().IntVar(&zyncFlags.send.retries, c, 0, "Number of times a failed transfer is retried")
	return c
}

func addSendRetryIntervalFlag(cmd *cobra.Command) string {
	c := "retry-interval"
	cmd.Flags().IntVar(&zyncFlags.send.retryInterval, c, 10, "Seconds to wait between transfer retries")
	return c
}

func addStatusRawFlag(cmd *cobra.Command) string {
	c := "raw"
	cmd.Flags().BoolVar(&zyncFlags.status.raw, c, false, "Emit one JSON object per dataset instead of the table")
	return c
}

func addStatusValuesFlag(cmd *cobra.Command) string {
	c := "values"
	cmd.Flags().StringSliceVar(&zyncFlags.status.values, c, nil,
		"Columns to report, comma separated (name, snap, clean, send, dest, snapshots, managed, last, frequent, hourly, daily, weekly, monthly, yearly)")
	return c
}

func addStatusFilterSnapFlag(cmd *cobra.Command) string {
	c := "filter-snap"
	cmd.Flags().BoolVar(&zyncFlags.status.filterSnap, c, false, "Keep only datasets whose snap setting matches")
	return c
}

func addStatusFilterCleanFlag(cmd *cobra.Command) string {
	c := "filter-clean"
	cmd.Flags().BoolVar(&zyncFlags.status.filterClean, c, false, "Keep only datasets whose clean setting matches")
	return c
}

func addStatusFilterSendFlag(cmd *cobra.Command) string {
	c := "filter-send"
	cmd.Flags().BoolVar(&zyncFlags.status.filterSend, c, false, "Keep only datasets whose send setting matches")
	return c
}

func addFixFormatFlag(cmd *cobra.Command) string {
	c := "format"
	cmd.Flags().StringVar(&zyncFlags.fix.format, c, "",
		"Label format to convert from: @zfs-auto-snap, @zfsnap, or a regular expression with named groups")
	return c
}

func addFixTypeFlag(cmd *cobra.Command) string {
	c := "type"
	cmd.Flags().StringVar(&zyncFlags.fix.typeName, c, "",
		"Bucket type for labels the format cannot classify (frequent, hourly, daily, weekly, monthly, yearly)")
	return c
}

func addFixRecurseFlag(cmd *cobra.Command) string {
	c := "recurse"
	cmd.Flags().BoolVar(&zyncFlags.fix.recurse, c, false, "Also convert labels on descendant datasets")
	return c
}

// boolFilter converts a tri-state filter flag into the pointer form the
// status report expects: nil when the flag was never set.
func boolFilter(fs *pflag.FlagSet, name string, value bool) *bool {
	if !fs.Changed(name) {
		return nil
	}
	return &value
}

// adHocTarget builds the single replication target described by the send
// flags, bypassing the configuration file.
func adHocTarget(f flagsT) (config.Target, error) {
	source, err := model.ParseLocator(f.send.source)
	if err != nil {
		return config.Target{}, err
	}
	if f.send.sourceKey != "" {
		source.KeyFile = f.send.sourceKey
	}

	if len(f.send.destKeys) > 0 && len(f.send.destKeys) != len(f.send.dests) {
		return config.Target{}, fmt.Errorf("%d dest keys for %d destinations: %w",
			len(f.send.destKeys), len(f.send.dests), model.ErrConfiguration)
	}
	compress, err := config.Compression(f.send.compress)
	if err != nil {
		return config.Target{}, fmt.Errorf("compress %q: %v: %w", f.send.compress, err, model.ErrConfiguration)
	}

	t := config.Target{
		Name:          f.send.source,
		Source:        source,
		Key:           f.send.key,
		Compress:      compress,
		Exclude:       f.send.exclude,
		Raw:           f.send.raw,
		Resume:        f.send.resume,
		AutoCreate:    f.send.autoCreate,
		Retries:       f.send.retries,
		RetryInterval: time.Duration(f.send.retryInterval) * time.Second,
	}
	for i, d := range f.send.dests {
		ds, err := model.ParseLocator(d)
		if err != nil {
			return config.Target{}, err
		}
		if len(f.send.destKeys) > 0 && f.send.destKeys[i] != "none" {
			ds.KeyFile = f.send.destKeys[i]
		}
		t.Destinations = append(t.Destinations, ds)
	}
	return t, nil
}

// requireFlags sets a flag (local to the command or inherited) as required
func requireFlags(cmd *cobra.Command, flags ...string) {
	for _, flag := range flags {
		err := cmd.MarkFlagRequired(flag)
		if err != nil {
			err = cmd.MarkPersistentFlagRequired(flag)
		}
		if err != nil {
			wrapFatalln(fmt.Sprintf("error attempting to mark the required flag %q", flag), err)
			return
		}
	}
}
