// Copyright © 2024 Zyncio

package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// LabelPrefix marks snapshots created and managed by this tool.
const LabelPrefix = "zync"

// managedPrefixes are label prefixes the clean phase is allowed to touch.
// autosnap is accepted for sanoid compatibility.
var managedPrefixes = []string{LabelPrefix, "autosnap"}

const labelTimeLayout = "2006-01-02_15:04:05"

// Snapshot is a read-only view of one snapshot as reported by the store.
type Snapshot struct {
	Dataset   Dataset   `json:"dataset" yaml:"dataset"`
	Label     string    `json:"label" yaml:"label"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Guid      uint64    `json:"guid" yaml:"guid"`
	_         struct{}
}

// FullName returns the zfs name of the snapshot, dataset@label.
func (s Snapshot) FullName() string {
	return s.Dataset.Name + "@" + s.Label
}

func (s Snapshot) String() string {
	if s.Dataset.Remote() {
		return s.Dataset.String() + "@" + s.Label
	}
	return s.FullName()
}

// SnapshotLabel formats the label for a new managed snapshot.
func SnapshotLabel(t time.Time, st SnapshotType) string {
	return fmt.Sprintf("%s_%s_%s", LabelPrefix, t.Format(labelTimeLayout), st)
}

// Managed reports whether a label belongs to a snapshot this tool may
// destroy during clean. Foreign snapshots are never touched.
func Managed(label string) bool {
	for _, p := range managedPrefixes {
		if strings.HasPrefix(label, p) {
			return true
		}
	}
	return false
}

// LabelType extracts the snapshot type suffix of a managed label, or "" when
// the label carries none.
func LabelType(label string) SnapshotType {
	i := strings.LastIndex(label, "_")
	if i < 0 {
		return ""
	}
	st := SnapshotType(label[i+1:])
	for _, t := range SnapshotTypes {
		if st == t {
			return st
		}
	}
	return ""
}

// Snapshots is a collection of snapshots of one dataset, ordered oldest
// first. Creation times are unique within a dataset; the guid tie-break only
// keeps the comparator total.
type Snapshots []Snapshot

func (sn Snapshots) Len() int      { return len(sn) }
func (sn Snapshots) Swap(i, j int) { sn[i], sn[j] = sn[j], sn[i] }

func (sn Snapshots) Less(i, j int) bool {
	if sn[i].CreatedAt.Equal(sn[j].CreatedAt) {
		return sn[i].Guid < sn[j].Guid
	}
	return sn[i].CreatedAt.Before(sn[j].CreatedAt)
}

// Sort orders the collection oldest first.
func (sn Snapshots) Sort() {
	sort.Sort(sn)
}

// Latest returns the most recent snapshot, or false when empty.
func (sn Snapshots) Latest() (Snapshot, bool) {
	if len(sn) == 0 {
		return Snapshot{}, false
	}
	return sn[len(sn)-1], true
}

// ByGuid returns the snapshot carrying guid, or false.
func (sn Snapshots) ByGuid(guid uint64) (Snapshot, bool) {
	for _, s := range sn {
		if s.Guid == guid {
			return s, true
		}
	}
	return Snapshot{}, false
}
