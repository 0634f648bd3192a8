// Copyright © 2024 Zyncio

package core

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/im7mortal/kmutex"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/transport"
	"github.com/zyncio/zync/pkg/zfs"
)

// Orchestrator runs the snapshot, clean, send, status and fix phases over
// the configured targets.
type Orchestrator struct {
	cfg   *config.Config
	s     *settings
	guard *Guard
	locks *kmutex.Kmutex
}

// New builds an orchestrator for cfg.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:   cfg,
		s:     defaultSettings(opts),
		guard: NewGuard(),
		locks: kmutex.New(),
	}
	if o.s.openStore == nil {
		o.s.openStore = o.defaultOpenStore
	}
	if o.s.openPair == nil {
		o.s.openPair = o.defaultOpenPair
	}
	return o
}

// Guard exposes the in-flight base set shared between the send and clean
// phases.
func (o *Orchestrator) Guard() *Guard { return o.guard }

// Full runs one complete cycle: take, send, clean. Fresh snapshots
// replicate before pruning removes potential bases.
func (o *Orchestrator) Full(ctx context.Context) (model.RunReport, error) {
	var report model.RunReport
	var errs error
	for _, phase := range []func(context.Context) (model.RunReport, error){
		o.Take, o.Send, o.Clean,
	} {
		r, err := phase(ctx)
		report.Merge(r)
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			return report, multierr.Append(errs, ctx.Err())
		}
	}
	return report, errs
}

func (o *Orchestrator) defaultOpenStore(ds model.Dataset, generic string) (zfs.Store, io.Closer, error) {
	r := transport.Connect(ds, generic, o.s.sshOpts...)
	store := zfs.New(r, zfs.WithLogger(o.s.log))
	if o.s.dryRun {
		store = zfs.NewDryRun(store, o.s.log, o.s.clk)
	}
	return store, r, nil
}

func (o *Orchestrator) defaultOpenPair(src, dst model.Dataset, keys transport.Keys) (*Pair, error) {
	plan, err := transport.Resolve(src, dst, keys, o.s.sshOpts...)
	if err != nil {
		return nil, err
	}
	source := zfs.New(plan.Source, zfs.WithLogger(o.s.log))
	dest := zfs.New(plan.Dest, zfs.WithLogger(o.s.log))
	if o.s.dryRun {
		source = zfs.NewDryRun(source, o.s.log, o.s.clk)
		dest = zfs.NewDryRun(dest, o.s.log, o.s.clk)
	}
	return &Pair{
		Source:    source,
		Dest:      dest,
		RemoteHop: plan.RemoteHop(),
		close:     plan.Close,
	}, nil
}

// eachTarget runs fn once per target through the bounded worker pool. A
// failing target never stops its siblings; failures are aggregated and
// counted on the merged report.
func (o *Orchestrator) eachTarget(
	ctx context.Context,
	targets []config.Target,
	fn func(ctx context.Context, t config.Target) (model.RunReport, error),
) (model.RunReport, error) {
	reports := make([]model.RunReport, len(targets))
	failures := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.s.concurrency)
	for i, t := range targets {
		i, t := i, t
		g.Go(func() error {
			reports[i], failures[i] = fn(gctx, t)
			if failures[i] != nil {
				o.s.log.Error("target failed",
					zap.String("target", t.Name),
					zap.Error(failures[i]))
			}
			return nil
		})
	}
	_ = g.Wait()

	var report model.RunReport
	var errs error
	for i := range targets {
		report.Merge(reports[i])
		if failures[i] != nil {
			report.TargetErrors++
			errs = multierr.Append(errs, failures[i])
		}
	}
	return report, errs
}

// managedChildren lists the target dataset and its descendants, pruning
// subtrees that belong to another configuration entry and subtrees matching
// one of the extra exclusion globs.
func (o *Orchestrator) managedChildren(
	ctx context.Context,
	store zfs.Store,
	t config.Target,
	exclude []string,
) ([]model.Dataset, error) {
	names, err := store.Children(ctx, t.Source)
	if err != nil {
		return nil, err
	}

	owned := o.cfg.SourceNames()
	var out []model.Dataset
	var pruned []string
	for _, name := range names {
		ds := t.Source.Child(name)
		if underAny(name, pruned) {
			continue
		}
		if name != t.Source.Name && owned[ds.String()] {
			o.s.log.Debug("child has its own target entry",
				zap.String("dataset", ds.String()))
			pruned = append(pruned, name)
			continue
		}
		if matchesAny(name, exclude) {
			o.s.log.Debug("dataset excluded",
				zap.String("dataset", ds.String()))
			pruned = append(pruned, name)
			continue
		}
		out = append(out, ds)
	}
	return out, nil
}

func underAny(name string, roots []string) bool {
	for _, root := range roots {
		if strings.HasPrefix(name, root+"/") {
			return true
		}
	}
	return false
}

func matchesAny(name string, globs []string) bool {
	for _, glob := range globs {
		if ok, _ := path.Match(glob, name); ok {
			return true
		}
	}
	return false
}

// lockDataset serializes work on one dataset across phases and pipelines.
func (o *Orchestrator) lockDataset(ds model.Dataset) func() {
	key := ds.String()
	o.locks.Lock(key)
	return func() { o.locks.Unlock(key) }
}

// lockPair serializes a replication pair. Keys lock in sorted order so two
// pipelines sharing a dataset cannot deadlock.
func (o *Orchestrator) lockPair(src, dst model.Dataset) func() {
	a, b := src.String(), dst.String()
	if a > b {
		a, b = b, a
	}
	o.locks.Lock(a)
	if b != a {
		o.locks.Lock(b)
	}
	return func() {
		if b != a {
			o.locks.Unlock(b)
		}
		o.locks.Unlock(a)
	}
}

// missingSource maps a failed source enumeration onto the target's
// ignore_not_existing setting: nil when the miss is tolerated.
func (o *Orchestrator) missingSource(t config.Target, err error) error {
	if err == nil {
		return nil
	}
	if t.IgnoreMissing && errors.Is(err, model.ErrNotFound) {
		o.s.log.Warn("source dataset does not exist",
			zap.String("target", t.Name))
		return nil
	}
	return err
}
