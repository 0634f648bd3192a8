// Copyright © 2024 Zyncio

package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/gosuri/uitable"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/zfs"
)

// StatusOptions controls what the status report covers and how it renders.
type StatusOptions struct {
	// Raw emits one JSON object per dataset instead of the table.
	Raw bool

	// Values projects the output to these keys, in the given order.
	Values []string

	// Filters keep only datasets whose effective setting matches. Nil
	// means no filtering on that setting.
	Snap  *bool
	Clean *bool
	Send  *bool
	_     struct{}
}

// statusKeys is the canonical column order.
var statusKeys = []string{
	"name", "snap", "clean", "send", "dest", "snapshots", "managed", "last",
	"frequent", "hourly", "daily", "weekly", "monthly", "yearly",
}

type statusRow map[string]interface{}

// Status reports the configuration and snapshot inventory of every managed
// dataset. Targets are walked sequentially so the output order is stable.
func (o *Orchestrator) Status(ctx context.Context, w io.Writer, opts StatusOptions) (model.RunReport, error) {
	o.s.log.Info("checking snapshots")

	keys, err := statusColumns(opts.Values)
	if err != nil {
		return model.RunReport{}, err
	}

	var report model.RunReport
	var errs error
	var rows []statusRow
	for _, t := range o.cfg.Targets {
		if ctx.Err() != nil {
			return report, multierr.Append(errs, ctx.Err())
		}
		r, targetRows, err := o.statusTarget(ctx, t, opts)
		report.Merge(r)
		rows = append(rows, targetRows...)
		if err != nil {
			report.TargetErrors++
			errs = multierr.Append(errs, err)
			o.s.log.Error("target failed",
				zap.String("target", t.Name), zap.Error(err))
		}
	}

	if opts.Raw {
		enc := json.NewEncoder(w)
		for _, row := range rows {
			if err := enc.Encode(project(row, keys)); err != nil {
				return report, multierr.Append(errs, err)
			}
		}
		return report, errs
	}

	table := uitable.New()
	table.MaxColWidth = 60
	header := make([]interface{}, len(keys))
	for i, k := range keys {
		header[i] = strings.ToUpper(k)
	}
	table.AddRow(header...)
	for _, row := range rows {
		cells := make([]interface{}, len(keys))
		for i, k := range keys {
			cells[i] = renderCell(k, row[k])
		}
		table.AddRow(cells...)
	}
	if _, err := fmt.Fprintln(w, table); err != nil {
		errs = multierr.Append(errs, err)
	}
	return report, errs
}

func (o *Orchestrator) statusTarget(ctx context.Context, t config.Target, opts StatusOptions) (model.RunReport, []statusRow, error) {
	var report model.RunReport

	store, closer, err := o.s.openStore(t.Source, t.Key)
	if err != nil {
		return report, nil, err
	}
	defer closer.Close()

	children, err := o.managedChildren(ctx, store, t, nil)
	if err != nil {
		return report, nil, o.missingSource(t, err)
	}

	var rows []statusRow
	var errs error
	for _, ds := range children {
		report.DatasetsChecked++

		send := t.Sends() && !excludedFrom(ds.Name, t.Source.Name, t.Exclude)
		if skip(opts.Snap, t.Snap) || skip(opts.Clean, t.Clean) || skip(opts.Send, send) {
			continue
		}

		row, err := o.statusDataset(ctx, store, t, ds, send)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		rows = append(rows, row)
	}
	return report, rows, errs
}

func (o *Orchestrator) statusDataset(ctx context.Context, store zfs.Store, t config.Target, ds model.Dataset, send bool) (statusRow, error) {
	snaps, err := store.List(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ds.String(), err)
	}

	byType := make(map[model.SnapshotType]int)
	managed := 0
	var last string
	for _, s := range snaps {
		if !model.Managed(s.Label) {
			continue
		}
		managed++
		last = s.CreatedAt.Format("2006-01-02 15:04:05")
		if st := model.LabelType(s.Label); st != "" {
			byType[st]++
		}
	}

	dest := make([]string, 0, len(t.Destinations))
	for _, d := range t.Destinations {
		dest = append(dest, d.String())
	}

	row := statusRow{
		"name":      ds.String(),
		"snap":      t.Snap,
		"clean":     t.Clean,
		"send":      send,
		"dest":      dest,
		"snapshots": len(snaps),
		"managed":   managed,
		"last":      last,
	}
	for _, st := range model.SnapshotTypes {
		row[string(st)] = counter{Have: byType[st], Want: t.Policy.Keep(st)}
	}
	return row, nil
}

// counter is a have/want pair for one bucket type.
type counter struct {
	Have int
	Want int
}

func (c counter) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%d/%d", c.Have, c.Want))
}

func statusColumns(values []string) ([]string, error) {
	if len(values) == 0 {
		return statusKeys, nil
	}
	known := make(map[string]bool, len(statusKeys))
	for _, k := range statusKeys {
		known[k] = true
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if !known[v] {
			return nil, fmt.Errorf("unknown status value %q: %w", v, model.ErrConfiguration)
		}
		out = append(out, v)
	}
	return out, nil
}

func project(row statusRow, keys []string) statusRow {
	out := make(statusRow, len(keys))
	for _, k := range keys {
		out[k] = row[k]
	}
	return out
}

func renderCell(key string, v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "-"
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case string:
		if val == "" {
			return "-"
		}
		return val
	case []string:
		if len(val) == 0 {
			return "-"
		}
		return strings.Join(val, ", ")
	case counter:
		s := fmt.Sprintf("%d/%d", val.Have, val.Want)
		if val.Have < val.Want {
			return color.YellowString(s)
		}
		return s
	default:
		return fmt.Sprint(val)
	}
}

func skip(filter *bool, value bool) bool {
	return filter != nil && *filter != value
}

// excludedFrom reports whether name or any of its ancestors up to root
// matches one of the exclusion globs, mirroring how send prunes subtrees.
func excludedFrom(name, root string, globs []string) bool {
	for n := name; len(n) >= len(root); {
		if matchesAny(n, globs) {
			return true
		}
		i := strings.LastIndex(n, "/")
		if i < 0 {
			return false
		}
		n = n[:i]
	}
	return false
}
