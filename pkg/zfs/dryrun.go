// Copyright © 2024 Zyncio

package zfs

import (
	"context"
	"io"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/model"
)

// dryRun decorates a store so that reads hit the pool and mutations only
// log what would happen. There is no global dry-run state: callers compose
// the decorator where they need it.
type dryRun struct {
	Store
	log *zap.Logger
	clk clock.Clock
}

// NewDryRun wraps s. clk stamps the synthetic snapshots handed out by
// Create; pass clock.WallClock outside tests.
func NewDryRun(s Store, log *zap.Logger, clk clock.Clock) Store {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &dryRun{Store: s, log: log, clk: clk}
}

func (d *dryRun) Create(ctx context.Context, ds model.Dataset, label string) (model.Snapshot, error) {
	d.log.Info("dry run: would take snapshot", zap.String("snapshot", ds.Name+"@"+label))
	return model.Snapshot{
		Dataset:   ds,
		Label:     label,
		CreatedAt: d.clk.Now().UTC(),
	}, nil
}

func (d *dryRun) Destroy(ctx context.Context, snap model.Snapshot) error {
	d.log.Info("dry run: would destroy snapshot", zap.String("snapshot", snap.FullName()))
	return nil
}

func (d *dryRun) Rename(ctx context.Context, snap model.Snapshot, newLabel string) error {
	d.log.Info("dry run: would rename snapshot",
		zap.String("snapshot", snap.FullName()),
		zap.String("to", newLabel),
	)
	return nil
}

func (d *dryRun) CreateDataset(ctx context.Context, ds model.Dataset) error {
	d.log.Info("dry run: would create dataset", zap.String("dataset", ds.Name))
	return nil
}

func (d *dryRun) Receive(ctx context.Context, ds model.Dataset, r io.Reader, opts RecvOptions) error {
	d.log.Info("dry run: would receive stream", zap.String("dataset", ds.Name))
	return nil
}
