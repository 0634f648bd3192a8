// Copyright © 2024 Zyncio

package core

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/replicate"
	"github.com/zyncio/zync/pkg/transport"
)

// Send replicates every sending target to each of its destinations, one
// pipeline per child dataset. Destinations of one target run sequentially;
// distinct targets go through the worker pool.
func (o *Orchestrator) Send(ctx context.Context) (model.RunReport, error) {
	o.s.log.Info("sending snapshots")

	var targets []config.Target
	for _, t := range o.cfg.Targets {
		if !t.Sends() {
			o.s.log.Debug("target has no destinations", zap.String("target", t.Name))
			continue
		}
		targets = append(targets, t)
	}
	return o.eachTarget(ctx, targets, o.sendTarget)
}

func (o *Orchestrator) sendTarget(ctx context.Context, t config.Target) (model.RunReport, error) {
	var report model.RunReport
	var errs error
	for _, dst := range t.Destinations {
		if ctx.Err() != nil {
			return report, multierr.Append(errs, ctx.Err())
		}
		r, err := o.sendDest(ctx, t, dst)
		report.Merge(r)
		errs = multierr.Append(errs, err)
	}
	return report, errs
}

func (o *Orchestrator) sendDest(ctx context.Context, t config.Target, dst model.Dataset) (model.RunReport, error) {
	var report model.RunReport

	keys := transport.Keys{Generic: t.Key, Source: t.Source.KeyFile, Dest: dst.KeyFile}
	pair, err := o.s.openPair(t.Source, dst, keys)
	if err != nil {
		return report, err
	}
	defer pair.Close()

	children, err := o.managedChildren(ctx, pair.Source, t, t.Exclude)
	if err != nil {
		return report, o.missingSource(t, err)
	}

	exists, err := pair.Dest.Exists(ctx, dst)
	if err != nil {
		return report, fmt.Errorf("check %s: %w", dst.String(), err)
	}
	if !exists {
		if !t.AutoCreate {
			return report, fmt.Errorf(
				"destination %s does not exist, set dest_auto_create to create it: %w",
				dst.String(), model.ErrNotFound)
		}
		o.s.log.Info("creating destination dataset", zap.String("dataset", dst.String()))
		if err := pair.Dest.CreateDataset(ctx, dst); err != nil {
			return report, fmt.Errorf("create %s: %w", dst.String(), err)
		}
	}

	var errs error
	for _, src := range children {
		if ctx.Err() != nil {
			return report, multierr.Append(errs, ctx.Err())
		}
		name, err := model.RebaseName(src.Name, t.Source.Name, dst.Name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		dstChild := dst.Child(name)

		o.s.log.Debug("replicating dataset",
			zap.String("source", src.String()),
			zap.String("destination", dstChild.String()))

		unlock := o.lockPair(src, dstChild)
		res := replicate.New(pair.Source, pair.Dest, src, dstChild,
			replicate.WithLogger(o.s.log),
			replicate.WithClock(o.s.clk),
			replicate.WithBaseGuard(o.guard),
			replicate.WithTarget(t.Replication()),
			replicate.WithCompression(t.Compress && pair.RemoteHop),
			replicate.WithDryRun(o.s.dryRun),
		).Run(ctx)
		unlock()

		report.DatasetsChecked++
		report.AddTransfer(res)
		if res.Failed() && res.Err != nil {
			errs = multierr.Append(errs,
				fmt.Errorf("%s to %s: %w", src.String(), dstChild.String(), res.Err))
		}
	}
	return report, errs
}
