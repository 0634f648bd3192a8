// Copyright © 2024 Zyncio

package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/zfs"
)

// Take creates the snapshots that are due under each snapping target's
// policy: one per bucket type whose newest managed snapshot of that type is
// at least one period old or missing entirely.
func (o *Orchestrator) Take(ctx context.Context) (model.RunReport, error) {
	o.s.log.Info("taking snapshots")

	var targets []config.Target
	for _, t := range o.cfg.Targets {
		if !t.Snap {
			o.s.log.Debug("target does not snapshot", zap.String("target", t.Name))
			continue
		}
		targets = append(targets, t)
	}
	return o.eachTarget(ctx, targets, o.takeTarget)
}

func (o *Orchestrator) takeTarget(ctx context.Context, t config.Target) (model.RunReport, error) {
	var report model.RunReport

	store, closer, err := o.s.openStore(t.Source, t.Key)
	if err != nil {
		return report, err
	}
	defer closer.Close()

	children, err := o.managedChildren(ctx, store, t, nil)
	if err != nil {
		return report, o.missingSource(t, err)
	}

	var errs error
	for _, ds := range children {
		if ctx.Err() != nil {
			return report, multierr.Append(errs, ctx.Err())
		}
		report.DatasetsChecked++
		taken, err := o.takeDataset(ctx, store, ds, t.Policy)
		report.SnapshotsTaken += taken
		errs = multierr.Append(errs, err)
	}
	return report, errs
}

// takeDataset snapshots one dataset, longest periods first so a timestamp
// shared by several due buckets reads naturally in zfs list output.
func (o *Orchestrator) takeDataset(ctx context.Context, store zfs.Store, ds model.Dataset, pol model.RetentionPolicy) (int, error) {
	unlock := o.lockDataset(ds)
	defer unlock()

	snaps, err := store.List(ctx, ds)
	if err != nil {
		o.s.log.Error("cannot list snapshots",
			zap.String("dataset", ds.String()), zap.Error(err))
		return 0, fmt.Errorf("list %s: %w", ds.String(), err)
	}

	newest := make(map[model.SnapshotType]time.Time)
	for _, s := range snaps {
		if !model.Managed(s.Label) {
			continue
		}
		st := model.LabelType(s.Label)
		if st == "" {
			continue
		}
		if s.CreatedAt.After(newest[st]) {
			newest[st] = s.CreatedAt
		}
	}

	now := o.s.clk.Now()
	buckets := pol.Buckets()

	var taken int
	var errs error
	for i := len(buckets) - 1; i >= 0; i-- {
		b := buckets[i]
		if last, ok := newest[b.Type]; ok && now.Sub(last) < b.Period {
			continue
		}
		label := model.SnapshotLabel(now, b.Type)
		o.s.log.Info("taking snapshot",
			zap.String("snapshot", ds.String()+"@"+label))
		if _, err := store.Create(ctx, ds, label); err != nil {
			o.s.log.Error("snapshot failed",
				zap.String("snapshot", ds.String()+"@"+label), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("snapshot %s@%s: %w", ds.String(), label, err))
			continue
		}
		taken++
	}
	return taken, errs
}
