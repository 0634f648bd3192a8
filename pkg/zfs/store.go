// Copyright © 2024 Zyncio

package zfs

import (
	"context"
	"io"

	"github.com/zyncio/zync/pkg/model"
)

// SendOptions controls how a replication stream is generated.
type SendOptions struct {
	// Raw sends the blocks exactly as stored (zfs send -w), required for
	// encrypted datasets replicated without keys. Raw streams must reach
	// the destination byte for byte unmodified.
	Raw bool
	_   struct{}
}

// RecvOptions controls how a replication stream is applied.
type RecvOptions struct {
	// Resumable asks the destination to keep partial state on failure so
	// the transfer can continue from a resume token.
	Resumable bool
	_         struct{}
}

// Store is the snapshot primitive every phase works against.
//
// Dataset arguments carry the endpoint only for error reporting; the store
// is already bound to one endpoint through its runner and operates on the
// dataset name.
type Store interface {
	// List returns the snapshots of a dataset, oldest first.
	List(ctx context.Context, ds model.Dataset) (model.Snapshots, error)

	// Children returns the names of the dataset and all its descendants,
	// the dataset itself first.
	Children(ctx context.Context, ds model.Dataset) ([]string, error)

	// Create takes a snapshot named ds@label.
	Create(ctx context.Context, ds model.Dataset, label string) (model.Snapshot, error)

	// Destroy removes a single snapshot.
	Destroy(ctx context.Context, snap model.Snapshot) error

	// Rename changes a snapshot label in place.
	Rename(ctx context.Context, snap model.Snapshot, newLabel string) error

	// Exists reports whether the dataset exists on the endpoint.
	Exists(ctx context.Context, ds model.Dataset) (bool, error)

	// CreateDataset creates the dataset and any missing ancestors.
	CreateDataset(ctx context.Context, ds model.Dataset) error

	// ResumeToken returns the receive_resume_token of a dataset, empty
	// when no interrupted receive is pending.
	ResumeToken(ctx context.Context, ds model.Dataset) (string, error)

	// Send opens a replication stream for snap. A nil base produces a full
	// stream, otherwise an incremental stream from base to snap. The
	// returned reader must be closed; Close reports how stream generation
	// ended.
	Send(ctx context.Context, base *model.Snapshot, snap model.Snapshot, opts SendOptions) (io.ReadCloser, error)

	// SendResume opens a stream continuing an interrupted transfer from a
	// resume token previously returned by the destination.
	SendResume(ctx context.Context, token string) (io.ReadCloser, error)

	// Receive applies a replication stream to a dataset.
	Receive(ctx context.Context, ds model.Dataset, r io.Reader, opts RecvOptions) error

	// Guid returns the stream identity of a snapshot.
	Guid(ctx context.Context, snap model.Snapshot) (uint64, error)
}
