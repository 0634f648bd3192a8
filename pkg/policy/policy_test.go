package policy

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zyncio/zync/pkg/model"
)

var testDataset = model.Dataset{Name: "pool/data"}

func hourlySnaps(n int) model.Snapshots {
	base := time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC)
	snaps := make(model.Snapshots, 0, n)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		snaps = append(snaps, model.Snapshot{
			Dataset:   testDataset,
			Label:     model.SnapshotLabel(at, model.SnapHourly),
			CreatedAt: at,
			Guid:      uint64(i + 1),
		})
	}
	return snaps
}

func labels(sn model.Snapshots) []string {
	out := make([]string, 0, len(sn))
	for _, s := range sn {
		out = append(out, s.Label)
	}
	return out
}

func TestEvaluateHourlyKeepThree(t *testing.T) {
	// h1..h5 with {hourly: 3} keeps h3,h4,h5 and destroys h1,h2
	snaps := hourlySnaps(5)
	plan := Evaluate(snaps, model.RetentionPolicy{Hourly: 3})

	require.Len(t, plan.Keep, 3)
	require.Len(t, plan.Destroy, 2)
	assert.Equal(t, labels(snaps[2:]), labels(plan.Keep))
	assert.Equal(t, labels(snaps[:2]), labels(plan.Destroy))
}

func TestEvaluateNeverDestroysMostRecent(t *testing.T) {
	for n := 1; n <= 8; n++ {
		snaps := hourlySnaps(n)
		latest := snaps[len(snaps)-1]
		for _, pol := range []model.RetentionPolicy{
			{},
			{Hourly: 1},
			{Frequent: 2, Daily: 1},
			{Yearly: 4},
		} {
			plan := Evaluate(snaps, pol)
			for _, s := range plan.Destroy {
				assert.NotEqualf(t, latest.Guid, s.Guid, "n=%d pol=%+v", n, pol)
			}
		}
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	pols := []model.RetentionPolicy{
		{Hourly: 3},
		{Hourly: 2, Daily: 3, Weekly: 1},
		{},
		{Frequent: 10},
	}
	for i, pol := range pols {
		plan := Evaluate(hourlySnaps(30), pol)
		again := Evaluate(plan.Keep, pol)
		assert.Emptyf(t, again.Destroy, "policy %d must be idempotent", i)
		assert.Equal(t, labels(plan.Keep), labels(again.Keep))
	}
}

func TestEvaluateEmptyPolicyKeepsOnlyLatest(t *testing.T) {
	snaps := hourlySnaps(4)
	plan := Evaluate(snaps, model.RetentionPolicy{})
	require.Len(t, plan.Keep, 1)
	assert.Equal(t, snaps[3].Guid, plan.Keep[0].Guid)
	assert.Len(t, plan.Destroy, 3)
}

func TestEvaluateEmptyInput(t *testing.T) {
	plan := Evaluate(nil, model.RetentionPolicy{Hourly: 3})
	assert.Empty(t, plan.Keep)
	assert.Empty(t, plan.Destroy)
}

func TestEvaluateSameWindowKeepsLater(t *testing.T) {
	// two snapshots within the same hour window: only the later survives
	base := time.Date(2024, 6, 1, 10, 5, 0, 0, time.UTC)
	snaps := model.Snapshots{
		{Dataset: testDataset, Label: "early", CreatedAt: base, Guid: 1},
		{Dataset: testDataset, Label: "late", CreatedAt: base.Add(20 * time.Minute), Guid: 2},
	}
	plan := Evaluate(snaps, model.RetentionPolicy{Hourly: 1})
	require.Len(t, plan.Keep, 1)
	assert.Equal(t, "late", plan.Keep[0].Label)
	require.Len(t, plan.Destroy, 1)
	assert.Equal(t, "early", plan.Destroy[0].Label)
}

func TestEvaluateUnionAcrossBuckets(t *testing.T) {
	// daily snapshots over 10 days; hourly:2 keeps the 2 newest, daily:5
	// keeps one per day for 5 days; union is 5 (the newest two share days
	// with the daily picks)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	snaps := make(model.Snapshots, 0, 10)
	for i := 0; i < 10; i++ {
		at := base.Add(time.Duration(i) * 24 * time.Hour)
		snaps = append(snaps, model.Snapshot{Dataset: testDataset, Label: fmt.Sprintf("d%d", i+1), CreatedAt: at, Guid: uint64(i + 1)})
	}
	plan := Evaluate(snaps, model.RetentionPolicy{Hourly: 2, Daily: 5})
	assert.Equal(t, []string{"d6", "d7", "d8", "d9", "d10"}, labels(plan.Keep))
	assert.Len(t, plan.Destroy, 5)
}

func TestEvaluateSkipsEmptyWindows(t *testing.T) {
	// gaps between snapshots: windows count only where snapshots exist
	base := time.Date(2024, 6, 1, 0, 30, 0, 0, time.UTC)
	mk := func(offset time.Duration, guid uint64) model.Snapshot {
		return model.Snapshot{Dataset: testDataset, Label: fmt.Sprintf("s%d", guid), CreatedAt: base.Add(offset), Guid: guid}
	}
	snaps := model.Snapshots{
		mk(0, 1),
		mk(1*time.Hour, 2),
		mk(9*time.Hour, 3), // 7 empty hour windows in between
	}
	plan := Evaluate(snaps, model.RetentionPolicy{Hourly: 3})
	assert.Len(t, plan.Keep, 3)
	assert.Empty(t, plan.Destroy)
}

func TestEvaluateInputOrderIndependence(t *testing.T) {
	snaps := hourlySnaps(6)
	shuffled := model.Snapshots{snaps[3], snaps[0], snaps[5], snaps[1], snaps[4], snaps[2]}
	a := Evaluate(snaps, model.RetentionPolicy{Hourly: 2, Daily: 1})
	b := Evaluate(shuffled, model.RetentionPolicy{Hourly: 2, Daily: 1})
	assert.Equal(t, labels(a.Keep), labels(b.Keep))
	assert.Equal(t, labels(a.Destroy), labels(b.Destroy))
}
