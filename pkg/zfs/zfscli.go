// Copyright © 2024 Zyncio

package zfs

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/transport"
)

const noToken = "-"

// Option tunes a CLI-backed store.
type Option func(*cli)

// WithBinary points the store at a specific zfs binary instead of relying
// on PATH lookup.
func WithBinary(path string) Option {
	return func(c *cli) {
		if path != "" {
			c.binary = path
		}
	}
}

// WithLogger provides a logger for command tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *cli) {
		if l != nil {
			c.log = l
		}
	}
}

type cli struct {
	run    transport.Runner
	binary string
	log    *zap.Logger
}

// New returns a Store executing zfs commands through r.
func New(r transport.Runner, opts ...Option) Store {
	c := &cli{
		run:    r,
		binary: "zfs",
		log:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

func (c *cli) List(ctx context.Context, ds model.Dataset) (model.Snapshots, error) {
	out, err := c.output(ctx,
		"list", "-H", "-p", "-t", "snapshot",
		"-o", "name,creation,guid", "-s", "creation", "-d", "1",
		ds.Name)
	if err != nil {
		return nil, classify(err)
	}

	var snaps model.Snapshots
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("unexpected zfs list line %q", line)
		}
		name, at := fields[0], strings.IndexByte(fields[0], '@')
		if at < 0 {
			return nil, fmt.Errorf("snapshot name %q has no label", name)
		}
		created, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("creation time of %q: %v", name, err)
		}
		guid, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("guid of %q: %v", name, err)
		}
		snaps = append(snaps, model.Snapshot{
			Dataset:   ds.Child(name[:at]),
			Label:     name[at+1:],
			CreatedAt: time.Unix(created, 0).UTC(),
			Guid:      guid,
		})
	}
	snaps.Sort()
	return snaps, nil
}

func (c *cli) Children(ctx context.Context, ds model.Dataset) ([]string, error) {
	out, err := c.output(ctx,
		"list", "-H", "-o", "name", "-r", "-s", "name",
		"-t", "filesystem,volume",
		ds.Name)
	if err != nil {
		return nil, classify(err)
	}
	return splitLines(out), nil
}

func (c *cli) Create(ctx context.Context, ds model.Dataset, label string) (model.Snapshot, error) {
	name := ds.Name + "@" + label
	c.log.Debug("taking snapshot", zap.String("snapshot", name))
	if err := c.exec(ctx, "snapshot", name); err != nil {
		return model.Snapshot{}, classify(err)
	}
	props, err := c.getProps(ctx, name, "creation", "guid")
	if err != nil {
		return model.Snapshot{}, classify(err)
	}
	created, err := strconv.ParseInt(props["creation"], 10, 64)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("creation time of %q: %v", name, err)
	}
	guid, err := strconv.ParseUint(props["guid"], 10, 64)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("guid of %q: %v", name, err)
	}
	return model.Snapshot{
		Dataset:   ds,
		Label:     label,
		CreatedAt: time.Unix(created, 0).UTC(),
		Guid:      guid,
	}, nil
}

func (c *cli) Destroy(ctx context.Context, snap model.Snapshot) error {
	// an empty label would turn this into a dataset destroy
	if snap.Label == "" {
		return fmt.Errorf("refusing to destroy %q: empty snapshot label", snap.Dataset.Name)
	}
	c.log.Debug("destroying snapshot", zap.String("snapshot", snap.FullName()))
	return classify(c.exec(ctx, "destroy", snap.FullName()))
}

func (c *cli) Rename(ctx context.Context, snap model.Snapshot, newLabel string) error {
	if snap.Label == "" || newLabel == "" {
		return fmt.Errorf("refusing to rename %q: empty snapshot label", snap.Dataset.Name)
	}
	c.log.Debug("renaming snapshot",
		zap.String("snapshot", snap.FullName()),
		zap.String("to", newLabel),
	)
	return classify(c.exec(ctx, "rename", snap.FullName(), snap.Dataset.Name+"@"+newLabel))
}

func (c *cli) Exists(ctx context.Context, ds model.Dataset) (bool, error) {
	err := classify(c.exec(ctx, "list", "-H", "-o", "name", ds.Name))
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (c *cli) CreateDataset(ctx context.Context, ds model.Dataset) error {
	c.log.Debug("creating dataset", zap.String("dataset", ds.Name))
	return classify(c.exec(ctx, "create", "-p", ds.Name))
}

func (c *cli) ResumeToken(ctx context.Context, ds model.Dataset) (string, error) {
	props, err := c.getProps(ctx, ds.Name, "receive_resume_token")
	if err != nil {
		return "", classify(err)
	}
	token := props["receive_resume_token"]
	if token == noToken {
		return "", nil
	}
	return token, nil
}

func (c *cli) Send(ctx context.Context, base *model.Snapshot, snap model.Snapshot, opts SendOptions) (io.ReadCloser, error) {
	args := []string{"send"}
	if opts.Raw {
		args = append(args, "-w")
	}
	if base != nil {
		args = append(args, "-i", base.FullName())
	}
	args = append(args, snap.FullName())
	return c.stream(ctx, args)
}

func (c *cli) SendResume(ctx context.Context, token string) (io.ReadCloser, error) {
	if token == "" {
		return nil, fmt.Errorf("empty resume token")
	}
	return c.stream(ctx, []string{"send", "-t", token})
}

func (c *cli) Receive(ctx context.Context, ds model.Dataset, r io.Reader, opts RecvOptions) error {
	args := []string{"receive", "-F", "-u"}
	if opts.Resumable {
		args = append(args, "-s")
	}
	args = append(args, ds.Name)

	err := c.run.Run(ctx, transport.Command{
		Path:  c.binary,
		Args:  args,
		Stdin: r,
	})
	return classifyStream(err)
}

func (c *cli) Guid(ctx context.Context, snap model.Snapshot) (uint64, error) {
	props, err := c.getProps(ctx, snap.FullName(), "guid")
	if err != nil {
		return 0, classify(err)
	}
	guid, err := strconv.ParseUint(props["guid"], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("guid of %q: %v", snap.FullName(), err)
	}
	return guid, nil
}

// stream starts a long-running send in the background and hands back the
// read side. Closing the reader tears the command down and reports how it
// exited.
func (c *cli) stream(ctx context.Context, args []string) (io.ReadCloser, error) {
	c.log.Debug("starting stream", zap.String("cmd", c.binary+" "+strings.Join(args, " ")))

	sctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := classifyStream(c.run.Run(sctx, transport.Command{
			Path:   c.binary,
			Args:   args,
			Stdout: pw,
		}))
		pw.CloseWithError(err)
		done <- err
	}()
	return &sendStream{pr: pr, cancel: cancel, done: done}, nil
}

type sendStream struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
	done   chan error

	once sync.Once
	err  error
}

func (s *sendStream) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Close unblocks and stops the producing command, then reports its exit
// error. Returns nil when the stream was generated completely.
func (s *sendStream) Close() error {
	s.once.Do(func() {
		_ = s.pr.Close()
		s.cancel()
		s.err = <-s.done
	})
	return s.err
}

func (c *cli) getProps(ctx context.Context, name string, props ...string) (map[string]string, error) {
	out, err := c.output(ctx,
		"get", "-H", "-p", "-o", "property,value",
		strings.Join(props, ","),
		name)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(props))
	for _, line := range splitLines(out) {
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("unexpected zfs get line %q", line)
		}
		values[fields[0]] = fields[1]
	}
	for _, p := range props {
		if _, ok := values[p]; !ok {
			return nil, fmt.Errorf("zfs get %s on %q returned no value", p, name)
		}
	}
	return values, nil
}

func (c *cli) exec(ctx context.Context, args ...string) error {
	return c.run.Run(ctx, transport.Command{Path: c.binary, Args: args})
}

func (c *cli) output(ctx context.Context, args ...string) (string, error) {
	out, err := transport.Output(ctx, c.run, c.binary, args...)
	return string(out), err
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
