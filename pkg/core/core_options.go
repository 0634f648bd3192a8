// Copyright © 2024 Zyncio

package core

import (
	"io"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/transport"
	"github.com/zyncio/zync/pkg/zfs"
)

// StoreOpener connects a snapshot store to a single endpoint. The generic
// key is consulted when the dataset carries none of its own. The returned
// closer tears down the transport behind the store.
type StoreOpener func(ds model.Dataset, generic string) (zfs.Store, io.Closer, error)

// Pair is the connected source/destination topology for one replication
// destination.
type Pair struct {
	Source zfs.Store
	Dest   zfs.Store

	// RemoteHop is true when the stream crosses a network, which is when
	// compressing it pays off.
	RemoteHop bool

	close func() error
	_     struct{}
}

// Close releases both sides.
func (p *Pair) Close() error {
	if p.close == nil {
		return nil
	}
	return p.close()
}

// PairOpener connects both ends of a replication pair under the target's
// credential rules.
type PairOpener func(src, dst model.Dataset, keys transport.Keys) (*Pair, error)

// Option modifies how the orchestrator runs.
type Option func(*settings)

type settings struct {
	log         *zap.Logger
	clk         clock.Clock
	dryRun      bool
	concurrency int
	sshOpts     []transport.SSHOption
	openStore   StoreOpener
	openPair    PairOpener
}

func defaultSettings(opts []Option) *settings {
	s := &settings{
		log:         zap.NewNop(),
		clk:         clock.WallClock,
		concurrency: 1,
	}
	for _, apply := range opts {
		apply(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

// WithLogger provides the run logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock injects the clock used for snapshot due checks and retry waits.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithDryRun logs every mutation instead of performing it.
func WithDryRun(dryRun bool) Option {
	return func(s *settings) { s.dryRun = dryRun }
}

// WithConcurrency bounds how many targets run at once. The default of 1
// keeps targets strictly sequential.
func WithConcurrency(n int) Option {
	return func(s *settings) { s.concurrency = n }
}

// WithSSHOptions forwards options to every SSH runner the run opens.
func WithSSHOptions(opts ...transport.SSHOption) Option {
	return func(s *settings) { s.sshOpts = opts }
}

// WithStoreOpener replaces how single-endpoint stores are opened.
func WithStoreOpener(open StoreOpener) Option {
	return func(s *settings) {
		if open != nil {
			s.openStore = open
		}
	}
}

// WithPairOpener replaces how replication pairs are opened.
func WithPairOpener(open PairOpener) Option {
	return func(s *settings) {
		if open != nil {
			s.openPair = open
		}
	}
}
