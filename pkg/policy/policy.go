// Copyright © 2024 Zyncio

// Package policy implements retention evaluation over a dataset's snapshot
// list. Evaluation is a pure function: no clock, no store access, no state.
package policy

import (
	"github.com/zyncio/zync/pkg/model"
)

// Plan is the outcome of evaluating a retention policy: every input
// snapshot lands in exactly one of the two sets, both ordered oldest first.
type Plan struct {
	Keep    model.Snapshots
	Destroy model.Snapshots
}

// Evaluate partitions snaps into keep and destroy sets under pol.
//
// For every bucket definition, snapshots are partitioned into adjacent
// windows of the bucket period (window index = creation unix time divided by
// the period). Within the N most recent non-empty windows, the most recent
// snapshot of each window is kept. Keep sets union across bucket
// definitions, and the most recent snapshot overall is always kept, whatever
// the policy says. Everything else is destroyed.
//
// Evaluation is deterministic and idempotent: re-evaluating the kept set
// with the same policy destroys nothing further.
func Evaluate(snaps model.Snapshots, pol model.RetentionPolicy) Plan {
	if len(snaps) == 0 {
		return Plan{}
	}

	ordered := make(model.Snapshots, len(snaps))
	copy(ordered, snaps)
	ordered.Sort()

	keep := make(map[uint64]bool, len(ordered))
	keep[ordered[len(ordered)-1].Guid] = true

	for _, bucket := range pol.Buckets() {
		period := int64(bucket.Period.Seconds())
		if period <= 0 {
			continue
		}
		windows := 0
		var lastWindow int64
		// newest first: the first snapshot seen in a window is the most
		// recent one of that window
		for i := len(ordered) - 1; i >= 0; i-- {
			w := ordered[i].CreatedAt.Unix() / period
			if windows > 0 && w == lastWindow {
				continue
			}
			if windows == bucket.Keep {
				break
			}
			lastWindow = w
			windows++
			keep[ordered[i].Guid] = true
		}
	}

	plan := Plan{
		Keep:    make(model.Snapshots, 0, len(keep)),
		Destroy: make(model.Snapshots, 0, len(ordered)-len(keep)),
	}
	for _, s := range ordered {
		if keep[s.Guid] {
			plan.Keep = append(plan.Keep, s)
		} else {
			plan.Destroy = append(plan.Destroy, s)
		}
	}
	return plan
}
