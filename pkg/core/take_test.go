// Copyright © 2024 Zyncio

package core

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zyncio/zync/pkg/config"
	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/zfs/zfstest"
)

func labelsOf(t *testing.T, store *zfstest.Store, name string) []string {
	t.Helper()
	snaps, err := store.List(context.Background(), model.Dataset{Name: name})
	require.NoError(t, err)
	labels := make([]string, 0, len(snaps))
	for _, s := range snaps {
		labels = append(labels, s.Label)
	}
	return labels
}

func TestTakeCreatesEveryDueBucket(t *testing.T) {
	store := zfstest.New()
	store.AddDataset("tank/data")

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Frequent: 4, Hourly: 24, Daily: 7}),
	}}

	report, err := testOrch(cfg, store).Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.SnapshotsTaken)
	assert.Equal(t, 1, report.DatasetsChecked)

	want := []string{
		model.SnapshotLabel(coreNow, model.SnapFrequent),
		model.SnapshotLabel(coreNow, model.SnapHourly),
		model.SnapshotLabel(coreNow, model.SnapDaily),
	}
	assert.ElementsMatch(t, want, labelsOf(t, store, "tank/data"))
}

func TestTakeSkipsFreshBuckets(t *testing.T) {
	store := zfstest.New()
	fresh := coreNow.Add(-30 * time.Minute)
	stale := coreNow.Add(-25 * time.Hour)
	store.AddSnapshot("tank/data", managedLabel(fresh, model.SnapHourly), fresh)
	store.AddSnapshot("tank/data", managedLabel(stale, model.SnapDaily), stale)

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 24, Daily: 7}),
	}}

	report, err := testOrch(cfg, store).Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SnapshotsTaken, "only the daily bucket is due")

	labels := labelsOf(t, store, "tank/data")
	assert.Contains(t, labels, model.SnapshotLabel(coreNow, model.SnapDaily))
	assert.NotContains(t, labels, model.SnapshotLabel(coreNow, model.SnapHourly))
}

func TestTakeBucketDueExactlyAtPeriod(t *testing.T) {
	store := zfstest.New()
	onPeriod := coreNow.Add(-time.Hour)
	store.AddSnapshot("tank/data", managedLabel(onPeriod, model.SnapHourly), onPeriod)

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 24}),
	}}

	report, err := testOrch(cfg, store).Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SnapshotsTaken, "a snapshot exactly one period old is due")
}

func TestTakeForeignSnapshotsDoNotSatisfyBuckets(t *testing.T) {
	store := zfstest.New()
	fresh := coreNow.Add(-5 * time.Minute)
	store.AddSnapshot("tank/data", "manual_backup", fresh)
	store.AddSnapshot("tank/data", "before-upgrade", fresh)

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 24}),
	}}

	report, err := testOrch(cfg, store).Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SnapshotsTaken, "foreign snapshots never count toward a bucket")
}

func TestTakeHonorsCompatibleManagedPrefixes(t *testing.T) {
	store := zfstest.New()
	fresh := coreNow.Add(-10 * time.Minute)
	store.AddSnapshot("tank/data", "autosnap_2024-06-10_11:50:00_hourly", fresh)

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 24}),
	}}

	report, err := testOrch(cfg, store).Take(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.SnapshotsTaken, "a fresh compatible snapshot satisfies the bucket")
}

func TestTakeRecursesIntoChildren(t *testing.T) {
	store := zfstest.New()
	store.AddDataset("tank/data")
	store.AddDataset("tank/data/db")
	store.AddDataset("tank/data/www")

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 1}),
	}}

	report, err := testOrch(cfg, store).Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.DatasetsChecked)
	assert.Equal(t, 3, report.SnapshotsTaken)

	for _, name := range []string{"tank/data", "tank/data/db", "tank/data/www"} {
		assert.Len(t, labelsOf(t, store, name), 1, name)
	}
}

func TestTakeLeavesOwnedSubtreesToTheirTarget(t *testing.T) {
	store := zfstest.New()
	store.AddDataset("tank/data")
	store.AddDataset("tank/data/www")
	store.AddDataset("tank/data/www/logs")

	www := snapTarget("tank/data/www", model.RetentionPolicy{Hourly: 4})
	www.Snap = false
	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 1}),
		www,
	}}

	report, err := testOrch(cfg, store).Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.SnapshotsTaken, "www opted out of snapshotting entirely")

	assert.Len(t, labelsOf(t, store, "tank/data"), 1)
	assert.Empty(t, labelsOf(t, store, "tank/data/www"))
	assert.Empty(t, labelsOf(t, store, "tank/data/www/logs"))
}

func TestTakeContinuesPastCreateFailure(t *testing.T) {
	store := zfstest.New()
	store.AddDataset("tank/data")
	store.FailNext("Create", fmt.Errorf("pool suspended: %w", model.ErrPermission))

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 24, Daily: 7}),
	}}

	report, err := testOrch(cfg, store).Take(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPermission)
	assert.Equal(t, 1, report.TargetErrors)
	assert.Equal(t, 1, report.SnapshotsTaken, "the second bucket still gets its snapshot")
}

func TestTakeSkipsNonSnappingTargets(t *testing.T) {
	store := zfstest.New()
	store.AddDataset("tank/data")

	target := snapTarget("tank/data", model.RetentionPolicy{Hourly: 1})
	target.Snap = false
	cfg := &config.Config{Targets: []config.Target{target}}

	report, err := testOrch(cfg, store).Take(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.SnapshotsTaken)
	assert.Zero(t, report.DatasetsChecked)
}

func TestTakeLabelsShareOneTimestamp(t *testing.T) {
	store := zfstest.New()
	store.AddDataset("tank/data")

	cfg := &config.Config{Targets: []config.Target{
		snapTarget("tank/data", model.RetentionPolicy{Hourly: 24, Daily: 7, Monthly: 6}),
	}}

	_, err := testOrch(cfg, store).Take(context.Background())
	require.NoError(t, err)

	stamp := ""
	for _, label := range labelsOf(t, store, "tank/data") {
		parts := strings.Split(label, "_")
		require.Len(t, parts, 4)
		if stamp == "" {
			stamp = parts[1] + "_" + parts[2]
			continue
		}
		assert.Equal(t, stamp, parts[1]+"_"+parts[2])
	}
}
