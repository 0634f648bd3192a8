// Copyright © 2024 Zyncio

package model

import "time"

// SnapshotType names a retention period bucket.
type SnapshotType string

const (
	SnapFrequent SnapshotType = "frequent"
	SnapHourly   SnapshotType = "hourly"
	SnapDaily    SnapshotType = "daily"
	SnapWeekly   SnapshotType = "weekly"
	SnapMonthly  SnapshotType = "monthly"
	SnapYearly   SnapshotType = "yearly"
)

// SnapshotTypes lists all bucket types, shortest period first.
var SnapshotTypes = []SnapshotType{
	SnapFrequent, SnapHourly, SnapDaily, SnapWeekly, SnapMonthly, SnapYearly,
}

// Period returns the bucket width of a snapshot type.
func (t SnapshotType) Period() time.Duration {
	switch t {
	case SnapFrequent:
		return 15 * time.Minute
	case SnapHourly:
		return time.Hour
	case SnapDaily:
		return 24 * time.Hour
	case SnapWeekly:
		return 7 * 24 * time.Hour
	case SnapMonthly:
		return 30 * 24 * time.Hour
	case SnapYearly:
		return 365 * 24 * time.Hour
	}
	return 0
}

// RetentionPolicy holds keep counts per period bucket. A zero count disables
// the bucket. Evaluation semantics live in pkg/policy.
type RetentionPolicy struct {
	Frequent int `json:"frequent,omitempty" yaml:"frequent,omitempty"`
	Hourly   int `json:"hourly,omitempty" yaml:"hourly,omitempty"`
	Daily    int `json:"daily,omitempty" yaml:"daily,omitempty"`
	Weekly   int `json:"weekly,omitempty" yaml:"weekly,omitempty"`
	Monthly  int `json:"monthly,omitempty" yaml:"monthly,omitempty"`
	Yearly   int `json:"yearly,omitempty" yaml:"yearly,omitempty"`
	_        struct{}
}

// Keep returns the configured keep count for a bucket type.
func (p RetentionPolicy) Keep(t SnapshotType) int {
	switch t {
	case SnapFrequent:
		return p.Frequent
	case SnapHourly:
		return p.Hourly
	case SnapDaily:
		return p.Daily
	case SnapWeekly:
		return p.Weekly
	case SnapMonthly:
		return p.Monthly
	case SnapYearly:
		return p.Yearly
	}
	return 0
}

// Bucket is one evaluated period bucket definition.
type Bucket struct {
	Type   SnapshotType
	Period time.Duration
	Keep   int
}

// Buckets expands the policy into its active bucket definitions, shortest
// period first.
func (p RetentionPolicy) Buckets() []Bucket {
	out := make([]Bucket, 0, len(SnapshotTypes))
	for _, t := range SnapshotTypes {
		if n := p.Keep(t); n > 0 {
			out = append(out, Bucket{Type: t, Period: t.Period(), Keep: n})
		}
	}
	return out
}

// Empty reports whether no bucket keeps anything.
func (p RetentionPolicy) Empty() bool {
	return len(p.Buckets()) == 0
}
