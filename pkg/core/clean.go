// Copyright © 2024 Zyncio

package core

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/policy"
	"github.com/zyncio/zync/pkg/zfs"
)

// Clean prunes managed snapshots that fall outside each cleaning target's
// retention policy. Foreign snapshots are never touched, and neither are
// snapshots currently guarded as in-flight send bases.
func (o *Orchestrator) Clean(ctx context.Context) (model.RunReport, error) {
	o.s.log.Info("cleaning snapshots")

	var targets []config.Target
	for _, t := range o.cfg.Targets {
		if !t.Clean {
			o.s.log.Debug("target does not clean", zap.String("target", t.Name))
			continue
		}
		targets = append(targets, t)
	}
	return o.eachTarget(ctx, targets, o.cleanTarget)
}

func (o *Orchestrator) cleanTarget(ctx context.Context, t config.Target) (model.RunReport, error) {
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
		destroyed, err := o.cleanDataset(ctx, store, ds, t.Policy)
		report.SnapshotsDestroyed += destroyed
		errs = multierr.Append(errs, err)
	}
	return report, errs
}

func (o *Orchestrator) cleanDataset(ctx context.Context, store zfs.Store, ds model.Dataset, pol model.RetentionPolicy) (int, error) {
	unlock := o.lockDataset(ds)
	defer unlock()

	snaps, err := store.List(ctx, ds)
	if err != nil {
		o.s.log.Error("cannot list snapshots",
			zap.String("dataset", ds.String()), zap.Error(err))
		return 0, fmt.Errorf("list %s: %w", ds.String(), err)
	}

	managed := make(model.Snapshots, 0, len(snaps))
	for _, s := range snaps {
		if model.Managed(s.Label) {
			managed = append(managed, s)
		}
	}

	plan := policy.Evaluate(managed, pol)

	var destroyed int
	var errs error
	for _, snap := range plan.Destroy {
		if ctx.Err() != nil {
			return destroyed, multierr.Append(errs, ctx.Err())
		}
		if o.guard.Held(snap) {
			o.s.log.Info("snapshot in use as a send base, keeping",
				zap.String("snapshot", snap.String()))
			continue
		}
		o.s.log.Info("deleting snapshot", zap.String("snapshot", snap.String()))
		if err := store.Destroy(ctx, snap); err != nil {
			o.s.log.Error("delete failed",
				zap.String("snapshot", snap.String()), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("destroy %s: %w", snap.String(), err))
			continue
		}
		destroyed++
	}
	return destroyed, errs
}
