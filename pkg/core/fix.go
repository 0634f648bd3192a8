// Copyright © 2024 Zyncio

package core

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/zfs"
)

// FixRequest asks for foreign snapshot labels to be renamed into the native
// format so retention can manage them.
type FixRequest struct {
	// Datasets are locators of the datasets to fix.
	Datasets []string

	// Format selects a registry entry when it starts with "@", otherwise
	// it is compiled as a regular expression with named groups (year,
	// month, day, hour, minute, second, type).
	Format string

	// Type is the bucket type used when a label yields none.
	Type model.SnapshotType

	// Recurse fixes all descendants too.
	Recurse bool
	_       struct{}
}

// fixFormat pairs a label pattern with an optional translation of its type
// token into a native bucket type.
type fixFormat struct {
	pattern *regexp.Regexp
	types   map[string]model.SnapshotType
}

var fixFormats = map[string]fixFormat{
	"@zfs-auto-snap": {
		pattern: regexp.MustCompile(
			`^zfs-auto-snap_(?P<type>[a-z]+)-(?P<year>\d{2,4})-(?P<month>\d{2})-(?P<day>\d{2})-(?P<hour>\d{2})(?P<minute>\d{2})$`),
	},
	"@zfsnap": {
		pattern: regexp.MustCompile(
			`^(?P<year>\d{2,4})-(?P<month>\d{2})-(?P<day>\d{2})_(?P<hour>\d{2})\.(?P<minute>\d{2})\.(?P<second>\d{2})--(?P<type>\d+[a-z])$`),
		types: map[string]model.SnapshotType{
			"4d":  model.SnapFrequent,
			"10d": model.SnapHourly,
			"14d": model.SnapHourly,
			"2w":  model.SnapHourly,
			"3w":  model.SnapDaily,
			"5w":  model.SnapDaily,
			"8w":  model.SnapDaily,
			"2m":  model.SnapDaily,
			"90d": model.SnapWeekly,
			"7m":  model.SnapWeekly,
			"12m": model.SnapMonthly,
			"18m": model.SnapMonthly,
			"24m": model.SnapMonthly,
			"4y":  model.SnapYearly,
		},
	},
}

// Fix renames foreign snapshots matching the requested format into native
// labels. Snapshots already carrying a managed label are left alone.
func (o *Orchestrator) Fix(ctx context.Context, req FixRequest) (model.RunReport, error) {
	format, err := resolveFormat(req.Format)
	if err != nil {
		return model.RunReport{}, err
	}

	var report model.RunReport
	var errs error
	for _, locator := range req.Datasets {
		if ctx.Err() != nil {
			return report, multierr.Append(errs, ctx.Err())
		}
		ds, err := model.ParseLocator(locator)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		r, err := o.fixDataset(ctx, ds, format, req)
		report.Merge(r)
		if err != nil {
			report.TargetErrors++
			errs = multierr.Append(errs, err)
			o.s.log.Error("fix failed",
				zap.String("dataset", ds.String()), zap.Error(err))
		}
	}
	return report, errs
}

func (o *Orchestrator) fixDataset(ctx context.Context, root model.Dataset, format fixFormat, req FixRequest) (model.RunReport, error) {
	var report model.RunReport

	store, closer, err := o.s.openStore(root, "")
	if err != nil {
		return report, err
	}
	defer closer.Close()

	datasets := []model.Dataset{root}
	if req.Recurse {
		names, err := store.Children(ctx, root)
		if err != nil {
			return report, err
		}
		datasets = datasets[:0]
		for _, name := range names {
			datasets = append(datasets, root.Child(name))
		}
	}

	var errs error
	for _, ds := range datasets {
		if ctx.Err() != nil {
			return report, multierr.Append(errs, ctx.Err())
		}
		report.DatasetsChecked++
		renamed, err := o.fixLabels(ctx, store, ds, format, req.Type)
		report.SnapshotsRenamed += renamed
		errs = multierr.Append(errs, err)
	}
	return report, errs
}

func (o *Orchestrator) fixLabels(ctx context.Context, store zfs.Store, ds model.Dataset, format fixFormat, fallback model.SnapshotType) (int, error) {
	unlock := o.lockDataset(ds)
	defer unlock()

	o.s.log.Info("fixing snapshot labels", zap.String("dataset", ds.String()))
	snaps, err := store.List(ctx, ds)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", ds.String(), err)
	}

	now := o.s.clk.Now()
	var renamed int
	var errs error
	for _, snap := range snaps {
		if model.Managed(snap.Label) {
			continue
		}
		m := format.pattern.FindStringSubmatch(snap.Label)
		if m == nil {
			continue
		}

		st := fixType(format, m, fallback)
		if st == "" {
			o.s.log.Error("cannot determine bucket type",
				zap.String("snapshot", snap.String()))
			errs = multierr.Append(errs,
				fmt.Errorf("no bucket type for %s: %w", snap.String(), model.ErrConfiguration))
			continue
		}

		label := model.SnapshotLabel(labelTime(format.pattern, m, now), st)
		o.s.log.Info("renaming snapshot",
			zap.String("snapshot", snap.String()),
			zap.String("label", label))
		if err := store.Rename(ctx, snap, label); err != nil {
			o.s.log.Error("rename failed",
				zap.String("snapshot", snap.String()), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("rename %s: %w", snap.String(), err))
			continue
		}
		renamed++
	}
	return renamed, errs
}

func resolveFormat(name string) (fixFormat, error) {
	if name == "" {
		return fixFormat{}, fmt.Errorf("a label format is required: %w", model.ErrConfiguration)
	}
	if name[0] == '@' {
		format, ok := fixFormats[name]
		if !ok {
			return fixFormat{}, fmt.Errorf("unknown label format %q: %w", name, model.ErrConfiguration)
		}
		return format, nil
	}
	pattern, err := regexp.Compile(name)
	if err != nil {
		return fixFormat{}, fmt.Errorf("label format %q: %v: %w", name, err, model.ErrConfiguration)
	}
	return fixFormat{pattern: pattern}, nil
}

func fixType(format fixFormat, m []string, fallback model.SnapshotType) model.SnapshotType {
	token := group(format.pattern, m, "type")
	if format.types != nil {
		if st, ok := format.types[token]; ok {
			return st
		}
	}
	for _, st := range model.SnapshotTypes {
		if token == string(st) {
			return st
		}
	}
	return fallback
}

// labelTime rebuilds the snapshot time from the matched groups, defaulting
// missing fields to the current time and expanding two-digit years into the
// current century.
func labelTime(re *regexp.Regexp, m []string, now time.Time) time.Time {
	year := groupInt(re, m, "year", now.Year())
	if year < 100 {
		year += now.Year() / 100 * 100
	}
	return time.Date(
		year,
		time.Month(groupInt(re, m, "month", int(now.Month()))),
		groupInt(re, m, "day", now.Day()),
		groupInt(re, m, "hour", now.Hour()),
		groupInt(re, m, "minute", now.Minute()),
		groupInt(re, m, "second", now.Second()),
		0, now.Location(),
	)
}

func group(re *regexp.Regexp, m []string, name string) string {
	if i := re.SubexpIndex(name); i > 0 && i < len(m) {
		return m[i]
	}
	return ""
}

func groupInt(re *regexp.Regexp, m []string, name string, def int) int {
	s := group(re, m, name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
