// Copyright © 2024 Zyncio

package model

import (
	"time"

	"github.com/docker/go-units"
	"go.uber.org/zap"
)

// SendMode says how the pipeline produced the stream for a transfer.
type SendMode string

const (
	SendFull        SendMode = "full"
	SendIncremental SendMode = "incremental"
	SendResume      SendMode = "resume"
)

// TransferStatus is the terminal state of one pipeline run.
type TransferStatus string

const (
	TransferDone   TransferStatus = "done"
	TransferFailed TransferStatus = "failed"
)

// TransferResult is the outcome of one source→destination pipeline run.
// Pipelines return it by value; nothing here is shared or global.
type TransferResult struct {
	Source      string         `json:"source" yaml:"source"`
	Destination string         `json:"destination" yaml:"destination"`
	Status      TransferStatus `json:"status" yaml:"status"`
	Mode        SendMode       `json:"mode,omitempty" yaml:"mode,omitempty"`
	Bytes       int64          `json:"bytes" yaml:"bytes"`
	Attempts    int            `json:"attempts" yaml:"attempts"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	Duration    time.Duration  `json:"duration" yaml:"duration"`
	Err         error          `json:"-" yaml:"-"`
	_           struct{}
}

// Failed reports a terminal FAILED state.
func (r TransferResult) Failed() bool {
	return r.Status == TransferFailed
}

// RunReport folds the outcomes of every phase of a run. Each phase returns
// its own report and the orchestrator merges them; there is no shared
// mutable counter anywhere.
type RunReport struct {
	SnapshotsTaken     int              `json:"snapshots_taken" yaml:"snapshots_taken"`
	SnapshotsDestroyed int              `json:"snapshots_destroyed" yaml:"snapshots_destroyed"`
	SnapshotsRenamed   int              `json:"snapshots_renamed" yaml:"snapshots_renamed"`
	DatasetsChecked    int              `json:"datasets_checked" yaml:"datasets_checked"`
	Transfers          []TransferResult `json:"transfers,omitempty" yaml:"transfers,omitempty"`
	TargetErrors       int              `json:"target_errors" yaml:"target_errors"`
	_                  struct{}
}

// Merge folds another report into this one.
func (r *RunReport) Merge(other RunReport) {
	r.SnapshotsTaken += other.SnapshotsTaken
	r.SnapshotsDestroyed += other.SnapshotsDestroyed
	r.SnapshotsRenamed += other.SnapshotsRenamed
	r.DatasetsChecked += other.DatasetsChecked
	r.Transfers = append(r.Transfers, other.Transfers...)
	r.TargetErrors += other.TargetErrors
}

// AddTransfer records one pipeline outcome.
func (r *RunReport) AddTransfer(t TransferResult) {
	r.Transfers = append(r.Transfers, t)
}

// BytesSent totals the bytes moved by all transfers, including failed ones.
func (r RunReport) BytesSent() int64 {
	var n int64
	for _, t := range r.Transfers {
		n += t.Bytes
	}
	return n
}

// Failed reports whether any part of the run failed. The process exit code
// follows this.
func (r RunReport) Failed() bool {
	if r.TargetErrors > 0 {
		return true
	}
	for _, t := range r.Transfers {
		if t.Failed() {
			return true
		}
	}
	return false
}

// Log writes the run summary as a single stats line.
func (r RunReport) Log(l *zap.Logger) {
	done, failed := 0, 0
	for _, t := range r.Transfers {
		if t.Failed() {
			failed++
		} else {
			done++
		}
	}
	l.Info("run summary",
		zap.Int("snapshots_taken", r.SnapshotsTaken),
		zap.Int("snapshots_destroyed", r.SnapshotsDestroyed),
		zap.Int("snapshots_renamed", r.SnapshotsRenamed),
		zap.Int("datasets_checked", r.DatasetsChecked),
		zap.Int("transfers_done", done),
		zap.Int("transfers_failed", failed),
		zap.String("bytes_sent", units.BytesSize(float64(r.BytesSent()))),
		zap.Int("target_errors", r.TargetErrors),
	)
}
