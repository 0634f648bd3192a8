// Copyright © 2024 Zyncio

package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/transport"
	"github.com/zyncio/zync/pkg/zfs/zfstest"
)

func sendingTarget(name string, dests ...string) config.Target {
	t := config.Target{
		Name:       name,
		Source:     model.Dataset{Name: name},
		AutoCreate: true,
	}
	for _, d := range dests {
		t.Destinations = append(t.Destinations, model.Dataset{Name: d})
	}
	return t
}

func TestSendReplicatesWholeSubtree(t *testing.T) {
	ctx := context.Background()
	store := zfstest.New()
	store.AddSnapshot("tank/data", managedLabel(seedTime, model.SnapHourly), seedTime)
	store.AddSnapshot("tank/data/db", managedLabel(seedTime, model.SnapHourly), seedTime)

	cfg := &config.Config{Targets: []config.Target{
		sendingTarget("tank/data", "backup/data"),
	}}

	report, err := testOrch(cfg, store).Send(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transfers, 2)
	for _, tr := range report.Transfers {
		assert.Equal(t, model.TransferDone, tr.Status)
		assert.Equal(t, model.SendFull, tr.Mode)
	}
	assert.Equal(t, "backup/data", report.Transfers[0].Destination)
	assert.Equal(t, "backup/data/db", report.Transfers[1].Destination)
	assert.Greater(t, report.BytesSent(), int64(0))

	for _, name := range []string{"backup/data", "backup/data/db"} {
		snaps, err := store.List(ctx, model.Dataset{Name: name})
		require.NoError(t, err)
		assert.Len(t, snaps, 1, name)
	}
}

func TestSendMissingDestinationWithoutAutoCreate(t *testing.T) {
	store := zfstest.New()
	store.AddSnapshot("tank/data", managedLabel(seedTime, model.SnapHourly), seedTime)

	target := sendingTarget("tank/data", "backup/data")
	target.AutoCreate = false
	cfg := &config.Config{Targets: []config.Target{target}}

	report, err := testOrch(cfg, store).Send(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "dest_auto_create")
	assert.Equal(t, 1, report.TargetErrors)
	assert.Empty(t, report.Transfers)
}

func TestSendSkipsExcludedSubtrees(t *testing.T) {
	ctx := context.Background()
	store := zfstest.New()
	for _, name := range []string{"tank/data", "tank/data/db", "tank/data/tmp", "tank/data/tmp/cache"} {
		store.AddSnapshot(name, managedLabel(seedTime, model.SnapHourly), seedTime)
	}

	target := sendingTarget("tank/data", "backup/data")
	target.Exclude = []string{"tank/data/tmp"}
	cfg := &config.Config{Targets: []config.Target{target}}

	report, err := testOrch(cfg, store).Send(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transfers, 2)

	ok, err := store.Exists(ctx, model.Dataset{Name: "backup/data/tmp"})
	require.NoError(t, err)
	assert.False(t, ok, "excluded subtrees never reach the destination")
}

func TestSendLeavesOwnedSubtreesToTheirTarget(t *testing.T) {
	ctx := context.Background()
	store := zfstest.New()
	store.AddSnapshot("tank/data", managedLabel(seedTime, model.SnapHourly), seedTime)
	store.AddSnapshot("tank/data/www", managedLabel(seedTime, model.SnapHourly), seedTime)

	www := snapTarget("tank/data/www", model.RetentionPolicy{Hourly: 4})
	cfg := &config.Config{Targets: []config.Target{
		sendingTarget("tank/data", "backup/data"),
		www,
	}}

	report, err := testOrch(cfg, store).Send(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transfers, 1)
	assert.Equal(t, "backup/data", report.Transfers[0].Destination)

	ok, err := store.Exists(ctx, model.Dataset{Name: "backup/data/www"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendSecondDestinationSurvivesFirstFailing(t *testing.T) {
	ctx := context.Background()
	store := zfstest.New()
	store.AddSnapshot("tank/data", managedLabel(seedTime, model.SnapHourly), seedTime)
	store.AddDataset("mirror/data")

	target := sendingTarget("tank/data", "backup/data", "mirror/data")
	target.AutoCreate = false
	cfg := &config.Config{Targets: []config.Target{target}}

	report, err := testOrch(cfg, store).Send(ctx)

	require.Error(t, err, "the missing first destination is reported")
	assert.Equal(t, 1, report.TargetErrors)
	require.Len(t, report.Transfers, 1)
	assert.Equal(t, "mirror/data", report.Transfers[0].Destination)
	assert.Equal(t, model.TransferDone, report.Transfers[0].Status)
}

func TestSendIsIncrementalOnceSeeded(t *testing.T) {
	ctx := context.Background()
	store := zfstest.New()
	store.AddSnapshot("tank/data", managedLabel(seedTime, model.SnapHourly), seedTime)

	cfg := &config.Config{Targets: []config.Target{
		sendingTarget("tank/data", "backup/data"),
	}}
	o := testOrch(cfg, store)

	report, err := o.Send(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transfers, 1)
	assert.Equal(t, model.SendFull, report.Transfers[0].Mode)

	report, err = o.Send(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transfers, 1)
	assert.Equal(t, model.TransferDone, report.Transfers[0].Status)
	assert.Zero(t, report.Transfers[0].Bytes, "an up to date destination moves nothing")

	at := seedTime.Add(time.Hour)
	store.AddSnapshot("tank/data", managedLabel(at, model.SnapHourly), at)
	report, err = o.Send(ctx)
	require.NoError(t, err)
	require.Len(t, report.Transfers, 1)
	assert.Equal(t, model.SendIncremental, report.Transfers[0].Mode)
}

func TestSendCompressesRemoteHopsOnly(t *testing.T) {
	ctx := context.Background()

	run := func(remoteHop bool) int64 {
		store := zfstest.New()
		store.AddSnapshot("tank/data", managedLabel(seedTime, model.SnapHourly), seedTime)

		target := sendingTarget("tank/data", "backup/data")
		target.Compress = true
		cfg := &config.Config{Targets: []config.Target{target}}

		opener := func(model.Dataset, model.Dataset, transport.Keys) (*Pair, error) {
			return &Pair{Source: store, Dest: store, RemoteHop: remoteHop}, nil
		}
		report, err := New(cfg, WithPairOpener(opener)).Send(ctx)
		require.NoError(t, err)
		require.Len(t, report.Transfers, 1)
		require.Equal(t, model.TransferDone, report.Transfers[0].Status)
		return report.Transfers[0].Bytes
	}

	local := run(false)
	remote := run(true)
	assert.Greater(t, local, zfstest.DefaultStreamSize, "local hops move the stream untouched")
	assert.Less(t, remote, local, "remote hops compress the stream")
}

func TestSendSkipsTargetsWithoutDestinations(t *testing.T) {
	store := zfstest.New()
	store.AddSnapshot("tank/data", managedLabel(seedTime, model.SnapHourly), seedTime)

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 1}),
	}}

	report, err := testOrch(cfg, store).Send(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Transfers)
	assert.Zero(t, report.DatasetsChecked)
}

func TestSendToleratesMissingSource(t *testing.T) {
	store := zfstest.New()

	target := sendingTarget("tank/gone", "backup/gone")
	target.IgnoreMissing = true
	cfg := &config.Config{Targets: []config.Target{target}}

	report, err := testOrch(cfg, store).Send(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.TargetErrors)
	assert.Empty(t, report.Transfers)
}
