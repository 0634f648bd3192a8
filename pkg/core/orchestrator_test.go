// Copyright © 2024 Zyncio

package core

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/transport"
	"github.com/zyncio/zync/pkg/zfs"
	"github.com/zyncio/zync/pkg/zfs/zfstest"
)

// coreNow sits well after the fake store's internal creation clock so every
// seeded or created snapshot reads as at least one period old.
var coreNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

// seedTime is safely older than anything the fake store creates itself.
var seedTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openFake(s zfs.Store) StoreOpener {
	return func(model.Dataset, string) (zfs.Store, io.Closer, error) {
		return s, nopCloser{}, nil
	}
}

func openFakePair(src, dst zfs.Store) PairOpener {
	return func(model.Dataset, model.Dataset, transport.Keys) (*Pair, error) {
		return &Pair{Source: src, Dest: dst}, nil
	}
}

func testOrch(cfg *config.Config, store *zfstest.Store, opts ...Option) *Orchestrator {
	base := []Option{
		WithClock(testclock.NewClock(coreNow)),
		WithStoreOpener(openFake(store)),
		WithPairOpener(openFakePair(store, store)),
	}
	return New(cfg, append(base, opts...)...)
}

func snapTarget(name string, pol model.RetentionPolicy) config.Target {
	return config.Target{
		Name:   name,
		Source: model.Dataset{Name: name},
		Snap:   true,
		Policy: pol,
	}
}

func managedLabel(at time.Time, st model.SnapshotType) string {
	return model.SnapshotLabel(at, st)
}

func TestEachTargetIsolatesFailures(t *testing.T) {
	store := zfstest.New()
	store.AddDataset("tank/good")

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/missing", model.RetentionPolicy{Hourly: 1}),
		snapTarget("tank/good", model.RetentionPolicy{Hourly: 1}),
	}}

	report, err := testOrch(cfg, store).Take(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 1, report.TargetErrors)
	assert.Equal(t, 1, report.SnapshotsTaken, "the healthy target still snapshots")

	snaps, lerr := store.List(context.Background(), model.Dataset{Name: "tank/good"})
	require.NoError(t, lerr)
	assert.Len(t, snaps, 1)
}

func TestEachTargetBoundedConcurrency(t *testing.T) {
	store := zfstest.New()
	names := []string{"tank/a", "tank/b", "tank/c", "tank/d"}
	cfg := &config.Config{}
	for _, name := range names {
		store.AddDataset(name)
		cfg.Targets = append(cfg.Targets, snapTarget(name, model.RetentionPolicy{Daily: 1}))
	}

	report, err := testOrch(cfg, store, WithConcurrency(4)).Take(context.Background())

	require.NoError(t, err)
	assert.Equal(t, len(names), report.SnapshotsTaken)
	assert.Equal(t, len(names), report.DatasetsChecked)
	assert.Zero(t, report.TargetErrors)
}

func TestManagedChildrenPrunesOwnedSubtrees(t *testing.T) {
	store := zfstest.New()
	for _, name := range []string{
		"tank/data", "tank/data/db", "tank/data/www", "tank/data/www/logs",
	} {
		store.AddDataset(name)
	}

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 1}),
		snapTarget("tank/data/www", model.RetentionPolicy{Hourly: 4}),
	}}
	o := testOrch(cfg, store)

	children, err := o.managedChildren(context.Background(), store, cfg.Targets[0], nil)
	require.NoError(t, err)

	names := datasetNames(children)
	assert.Equal(t, []string{"tank/data", "tank/data/db"}, names,
		"a child with its own entry keeps its whole subtree")
}

func TestManagedChildrenPrunesExcludedSubtrees(t *testing.T) {
	store := zfstest.New()
	for _, name := range []string{
		"tank/data", "tank/data/db", "tank/data/tmp", "tank/data/tmp/scratch",
	} {
		store.AddDataset(name)
	}

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 1}),
	}}
	o := testOrch(cfg, store)

	children, err := o.managedChildren(
		context.Background(), store, cfg.Targets[0], []string{"tank/data/tmp"})
	require.NoError(t, err)

	assert.Equal(t, []string{"tank/data", "tank/data/db"}, datasetNames(children))
}

func TestManagedChildrenExcludedRootEmptiesTarget(t *testing.T) {
	store := zfstest.New()
	store.AddDataset("tank/data")
	store.AddDataset("tank/data/db")

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 1}),
	}}
	o := testOrch(cfg, store)

	children, err := o.managedChildren(
		context.Background(), store, cfg.Targets[0], []string{"tank/*"})
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestMissingSourceTolerated(t *testing.T) {
	store := zfstest.New()

	target := snapTarget("tank/gone", model.RetentionPolicy{Hourly: 1})
	target.IgnoreMissing = true
	cfg := &config.Config{Targets: []config.Target{target}}

	report, err := testOrch(cfg, store).Take(context.Background())

	require.NoError(t, err)
	assert.Zero(t, report.TargetErrors)
	assert.Zero(t, report.SnapshotsTaken)
}

func TestFullCycleTakesSendsThenCleans(t *testing.T) {
	ctx := context.Background()
	store := zfstest.New()
	stale := store.AddSnapshot("tank/data", managedLabel(seedTime, model.SnapHourly), seedTime)

	target := snapTarget("tank/data", model.RetentionPolicy{Hourly: 1})
	target.Clean = true
	target.Destinations = []model.Dataset{{Name: "backup/data"}}
	target.AutoCreate = true
	cfg := &config.Config{Targets: []config.Target{target}}

	report, err := testOrch(cfg, store).Full(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.SnapshotsTaken)
	assert.Equal(t, 1, report.SnapshotsDestroyed, "the stale seed is pruned after the send")
	require.Len(t, report.Transfers, 1)
	assert.Equal(t, model.TransferDone, report.Transfers[0].Status)
	assert.Equal(t, model.SendFull, report.Transfers[0].Mode)

	src, err := store.List(ctx, model.Dataset{Name: "tank/data"})
	require.NoError(t, err)
	require.Len(t, src, 1)
	assert.NotEqual(t, stale.Guid, src[0].Guid)

	dst, err := store.List(ctx, model.Dataset{Name: "backup/data"})
	require.NoError(t, err)
	require.Len(t, dst, 1)
	assert.Equal(t, src[0].Guid, dst[0].Guid, "the fresh snapshot reached the destination")
}

func TestTakeDryRunCreatesNothing(t *testing.T) {
	ctx := context.Background()
	store := zfstest.New()
	store.AddDataset("tank/data")

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 1, Daily: 1}),
	}}
	dry := zfs.NewDryRun(store, zap.NewNop(), testclock.NewClock(coreNow))
	o := New(cfg,
		WithClock(testclock.NewClock(coreNow)),
		WithStoreOpener(openFake(dry)),
	)

	report, err := o.Take(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.SnapshotsTaken, "dry run still reports the plan")

	snaps, err := store.List(ctx, model.Dataset{Name: "tank/data"})
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestLockPairSameDataset(t *testing.T) {
	o := testOrch(&config.Config{}, zfstest.New())
	ds := model.Dataset{Name: "tank/data"}

	unlock := o.lockPair(ds, ds)
	unlock()
	unlock = o.lockPair(ds, ds)
	unlock()
}

func TestLockPairOrderIndependent(t *testing.T) {
	o := testOrch(&config.Config{}, zfstest.New())
	a := model.Dataset{Name: "tank/a"}
	b := model.Dataset{Name: "tank/b"}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			unlock := o.lockPair(b, a)
			unlock()
		}
	}()
	for i := 0; i < 100; i++ {
		unlock := o.lockPair(a, b)
		unlock()
	}
	<-done
}

func datasetNames(datasets []model.Dataset) []string {
	names := make([]string, 0, len(datasets))
	for _, ds := range datasets {
		names = append(names, ds.Name)
	}
	return names
}
