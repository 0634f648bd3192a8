// Copyright © 2024 Zyncio

package replicate

import (
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/model"
)

// Option modifies how a pipeline runs.
type Option func(*settings)

type settings struct {
	log           *zap.Logger
	clk           clock.Clock
	guard         BaseGuard
	raw           bool
	resume        bool
	compress      bool
	dryRun        bool
	attempts      int
	retryInterval time.Duration
}

func defaultSettings(opts []Option) *settings {
	s := &settings{
		log:           zap.NewNop(),
		clk:           clock.WallClock,
		guard:         nopGuard{},
		attempts:      1,
		retryInterval: 10 * time.Second,
	}
	for _, apply := range opts {
		apply(s)
	}
	if s.attempts < 1 {
		s.attempts = 1
	}
	if s.retryInterval <= 0 {
		s.retryInterval = time.Millisecond
	}
	return s
}

// WithLogger provides a logger for state transitions and attempt outcomes.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock injects the clock used for retry waits and timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *settings) {
		if c != nil {
			s.clk = c
		}
	}
}

// WithBaseGuard registers in-flight incremental bases with g for the
// duration of each transfer.
func WithBaseGuard(g BaseGuard) Option {
	return func(s *settings) {
		if g != nil {
			s.guard = g
		}
	}
}

// WithRaw sends streams exactly as stored. Raw streams are never
// recompressed on the wire.
func WithRaw(raw bool) Option {
	return func(s *settings) { s.raw = raw }
}

// WithResume makes receives resumable and lets the pipeline continue
// interrupted transfers from the destination's resume token.
func WithResume(resume bool) Option {
	return func(s *settings) { s.resume = resume }
}

// WithCompression compresses the stream across the hop. Ignored for raw
// sends.
func WithCompression(compress bool) Option {
	return func(s *settings) { s.compress = compress }
}

// WithDryRun stops each attempt after planning: the pipeline reports what
// it would transfer and moves nothing.
func WithDryRun(dryRun bool) Option {
	return func(s *settings) { s.dryRun = dryRun }
}

// WithRetry configures how often a failed transfer is reattempted and the
// pause between attempts.
func WithRetry(retries int, interval time.Duration) Option {
	return func(s *settings) {
		s.attempts = retries + 1
		if interval > 0 {
			s.retryInterval = interval
		}
	}
}

// WithTarget applies the per-target replication knobs in one go.
func WithTarget(t model.ReplicationTarget) Option {
	return func(s *settings) {
		s.raw = t.Raw
		s.resume = t.Resume
		s.compress = t.Compress
		s.attempts = t.Attempts()
		if t.RetryInterval > 0 {
			s.retryInterval = t.RetryInterval
		}
	}
}
