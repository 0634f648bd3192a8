// Copyright © 2024 Zyncio

// Package replicate moves snapshots from one dataset to another through an
// explicit per-pair state machine:
//
//	INIT → PRECHECK → {FULL|INCREMENTAL|RESUME}_SEND → TRANSPORT → RECEIVE
//	     → VERIFY → DONE
//
// with RETRY_WAIT looping back to PRECHECK on retryable failures and FAILED
// terminal. Each attempt re-plans from current store state, so an
// interrupted transfer picks up from the destination's resume token and a
// snapshot taken between attempts changes the incremental base naturally.
package replicate

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/juju/retry"
	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/zfs"
)

// State names one phase of the pipeline.
type State string

const (
	StateInit            State = "INIT"
	StatePrecheck        State = "PRECHECK"
	StateFullSend        State = "FULL_SEND"
	StateIncrementalSend State = "INCREMENTAL_SEND"
	StateResumeSend      State = "RESUME_SEND"
	StateTransport       State = "TRANSPORT"
	StateReceive         State = "RECEIVE"
	StateVerify          State = "VERIFY"
	StateRetryWait       State = "RETRY_WAIT"
	StateDone            State = "DONE"
	StateFailed          State = "FAILED"
)

// BaseGuard tracks snapshots currently serving as incremental bases so the
// clean phase does not destroy them mid-transfer.
type BaseGuard interface {
	// Hold marks snap as in flight until the returned release runs.
	Hold(snap model.Snapshot) (release func())
}

type nopGuard struct{}

func (nopGuard) Hold(model.Snapshot) func() { return func() {} }

// Pipeline replicates the newest snapshot of one source dataset onto one
// destination dataset. A pipeline runs once; build a fresh one per pair.
type Pipeline struct {
	source zfs.Store
	dest   zfs.Store
	src    model.Dataset
	dst    model.Dataset
	opts   *settings

	state  State
	states []State
	bytes  int64
	mode   model.SendMode
}

// New builds a pipeline reading from src on source and writing to dst on
// dest.
func New(source, dest zfs.Store, src, dst model.Dataset, opts ...Option) *Pipeline {
	p := &Pipeline{
		source: source,
		dest:   dest,
		src:    src,
		dst:    dst,
		opts:   defaultSettings(opts),
	}
	p.setState(StateInit)
	return p
}

// Run drives the state machine to a terminal state and reports the outcome.
// It never panics across store boundaries and never returns a partial
// result: FAILED outcomes carry the final error and the bytes moved so far.
func (p *Pipeline) Run(ctx context.Context) model.TransferResult {
	started := p.opts.clk.Now()
	res := model.TransferResult{
		Source:      p.src.String(),
		Destination: p.dst.String(),
		StartedAt:   started,
	}

	attempts := 0
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			return p.attempt(ctx)
		},
		Attempts:     p.opts.attempts,
		Delay:        p.opts.retryInterval,
		Clock:        p.opts.clk,
		Stop:         ctx.Done(),
		IsFatalError: func(err error) bool { return !model.Retryable(err) },
		NotifyFunc: func(lastErr error, attempt int) {
			p.setState(StateRetryWait)
			p.opts.log.Warn("transfer attempt failed, retrying",
				zap.String("source", res.Source),
				zap.String("destination", res.Destination),
				zap.Int("attempt", attempt),
				zap.Duration("delay", p.opts.retryInterval),
				zap.Error(lastErr),
			)
		},
	})

	res.Attempts = attempts
	res.Bytes = p.bytes
	res.Mode = p.mode
	res.Duration = p.opts.clk.Now().Sub(started)

	if err != nil {
		if retry.IsAttemptsExceeded(err) || retry.IsRetryStopped(err) {
			err = fmt.Errorf("giving up after %d attempts: %w", attempts, retry.LastError(err))
		}
		p.setState(StateFailed)
		res.Status = model.TransferFailed
		res.Err = err
		p.opts.log.Error("transfer failed",
			zap.String("source", res.Source),
			zap.String("destination", res.Destination),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return res
	}

	p.setState(StateDone)
	res.Status = model.TransferDone
	p.opts.log.Info("transfer done",
		zap.String("source", res.Source),
		zap.String("destination", res.Destination),
		zap.String("mode", string(res.Mode)),
		zap.Int64("bytes", res.Bytes),
		zap.Int("attempts", attempts),
	)
	return res
}

// sendPlan is the outcome of PRECHECK: what to stream and from where.
type sendPlan struct {
	mode   model.SendMode
	base   *model.Snapshot
	target model.Snapshot
	token  string
	// stable view of the source snapshots taken at PRECHECK
	source model.Snapshots
}

// attempt runs PRECHECK through VERIFY once. A resume transfer only brings
// the destination up to the tokened snapshot, so the loop re-plans until
// the destination holds the newest source snapshot.
func (p *Pipeline) attempt(ctx context.Context) error {
	for {
		p.setState(StatePrecheck)
		plan, err := p.precheck(ctx)
		if err != nil {
			return err
		}
		if plan == nil {
			return nil
		}
		// the last executed transfer names the run: a resumed transfer
		// followed by a catch-up increment reports as incremental
		p.mode = plan.mode
		if p.opts.dryRun {
			p.logPlan(plan)
			return nil
		}
		if err := p.transfer(ctx, plan); err != nil {
			return err
		}
		if plan.mode == model.SendResume {
			continue
		}
		return nil
	}
}

func (p *Pipeline) precheck(ctx context.Context) (*sendPlan, error) {
	snaps, err := p.source.List(ctx, p.src)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", p.src, err)
	}
	if len(snaps) == 0 {
		p.opts.log.Info("source has no snapshots, nothing to transfer",
			zap.String("source", p.src.String()))
		return nil, nil
	}
	target := snaps[len(snaps)-1]

	exists, err := p.dest.Exists(ctx, p.dst)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %w", p.dst, err)
	}
	if !exists {
		return &sendPlan{mode: model.SendFull, target: target, source: snaps}, nil
	}

	if p.opts.resume {
		token, err := p.dest.ResumeToken(ctx, p.dst)
		if err != nil {
			return nil, fmt.Errorf("destination %s: %w", p.dst, err)
		}
		if token != "" {
			return &sendPlan{mode: model.SendResume, token: token, target: target, source: snaps}, nil
		}
	}

	destSnaps, err := p.dest.List(ctx, p.dst)
	if err != nil {
		return nil, fmt.Errorf("destination %s: %w", p.dst, err)
	}
	if len(destSnaps) == 0 {
		return &sendPlan{mode: model.SendFull, target: target, source: snaps}, nil
	}
	if _, ok := destSnaps.ByGuid(target.Guid); ok {
		p.opts.log.Info("destination is up to date",
			zap.String("source", p.src.String()),
			zap.String("destination", p.dst.String()),
		)
		return nil, nil
	}

	// newest snapshot both sides know is the incremental base
	for i := len(snaps) - 1; i >= 0; i-- {
		if _, ok := destSnaps.ByGuid(snaps[i].Guid); ok {
			base := snaps[i]
			return &sendPlan{mode: model.SendIncremental, base: &base, target: target, source: snaps}, nil
		}
	}
	return nil, fmt.Errorf("destination %s has snapshots but shares none with %s: %w",
		p.dst, p.src, model.ErrIntegrity)
}

func (p *Pipeline) transfer(ctx context.Context, plan *sendPlan) error {
	var (
		stream io.ReadCloser
		err    error
	)
	switch plan.mode {
	case model.SendResume:
		p.setState(StateResumeSend)
		stream, err = p.source.SendResume(ctx, plan.token)
	case model.SendIncremental:
		p.setState(StateIncrementalSend)
		stream, err = p.source.Send(ctx, plan.base, plan.target, zfs.SendOptions{Raw: p.opts.raw})
	default:
		p.setState(StateFullSend)
		stream, err = p.source.Send(ctx, nil, plan.target, zfs.SendOptions{Raw: p.opts.raw})
	}
	if err != nil {
		return err
	}

	release := func() {}
	if plan.base != nil {
		release = p.opts.guard.Hold(*plan.base)
	}
	defer release()

	p.setState(StateTransport)
	var wire io.Reader = stream
	var wireCloser io.Closer
	if p.compressing() {
		gz := gzipStream(stream)
		wire, wireCloser = gz, gz
	}
	counted := &countingReader{r: wire}
	var recv io.Reader = counted
	if p.compressing() {
		recv = newGunzipReader(counted)
	}

	p.setState(StateReceive)
	recvErr := p.dest.Receive(ctx, p.dst, recv, zfs.RecvOptions{Resumable: p.opts.resume})
	if wireCloser != nil {
		_ = wireCloser.Close()
	}
	sendErr := stream.Close()
	p.bytes += counted.n

	// closing the reader aborts the producer; that cancellation is ours,
	// not a send failure
	if errors.Is(sendErr, context.Canceled) || errors.Is(sendErr, context.DeadlineExceeded) {
		sendErr = nil
	}
	if err := pickError(sendErr, recvErr); err != nil {
		return err
	}

	p.setState(StateVerify)
	return p.verify(ctx, plan)
}

// verify confirms the destination really holds what the stream promised.
// Mismatches are integrity failures and permanent.
func (p *Pipeline) verify(ctx context.Context, plan *sendPlan) error {
	if plan.mode == model.SendResume {
		// the token named its own snapshot, all we know is that the
		// destination head must now be a snapshot the source has
		destSnaps, err := p.dest.List(ctx, p.dst)
		if err != nil {
			return fmt.Errorf("verify %s: %w", p.dst, err)
		}
		latest, ok := destSnaps.Latest()
		if !ok {
			return fmt.Errorf("verify %s: no snapshot after resumed receive: %w", p.dst, model.ErrIntegrity)
		}
		if _, ok := plan.source.ByGuid(latest.Guid); !ok {
			return fmt.Errorf("verify %s: snapshot %q is unknown to the source: %w",
				p.dst, latest.Label, model.ErrIntegrity)
		}
		return nil
	}

	guid, err := p.dest.Guid(ctx, model.Snapshot{Dataset: p.dst, Label: plan.target.Label})
	if err != nil {
		return fmt.Errorf("verify %s@%s: %v: %w", p.dst.Name, plan.target.Label, err, model.ErrIntegrity)
	}
	if guid != plan.target.Guid {
		return fmt.Errorf("verify %s@%s: guid %d does not match source %d: %w",
			p.dst.Name, plan.target.Label, guid, plan.target.Guid, model.ErrIntegrity)
	}
	return nil
}

func (p *Pipeline) logPlan(plan *sendPlan) {
	fields := []zap.Field{
		zap.String("source", p.src.String()),
		zap.String("destination", p.dst.String()),
		zap.String("mode", string(plan.mode)),
		zap.String("snapshot", plan.target.Label),
	}
	if plan.base != nil {
		fields = append(fields, zap.String("base", plan.base.Label))
	}
	p.opts.log.Info("dry run: would transfer", fields...)
}

func (p *Pipeline) compressing() bool {
	return p.opts.compress && !p.opts.raw
}

func (p *Pipeline) setState(s State) {
	p.state = s
	p.states = append(p.states, s)
	p.opts.log.Debug("pipeline state",
		zap.String("source", p.src.String()),
		zap.String("destination", p.dst.String()),
		zap.String("state", string(s)),
	)
}

// pickError chooses the error to report when both halves of a transfer
// failed: a permanent failure on either side beats a retryable one, the
// receive side wins ties.
func pickError(sendErr, recvErr error) error {
	if sendErr == nil {
		return recvErr
	}
	if recvErr == nil {
		return sendErr
	}
	if !model.Retryable(sendErr) && model.Retryable(recvErr) {
		return sendErr
	}
	return recvErr
}
