// Copyright © 2024 Zyncio

package transport

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Command is one process to execute on an endpoint. Stdin, Stdout and
// Stderr may be nil, in which case the stream is discarded.
type Command struct {
	Path   string
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// Runner executes commands on a single endpoint.
//
// Run blocks until the command exits. A non-zero exit status is reported
// as an *ExitError so callers can tell a failing command apart from a
// failure to reach the endpoint at all.
type Runner interface {
	Run(ctx context.Context, cmd Command) error

	// Endpoint names where commands execute, e.g. "local" or
	// "backup@vault:22".
	Endpoint() string

	io.Closer
}

// ExitError reports a command that ran to completion with a non-zero
// status. Stderr holds whatever the command printed, trimmed.
type ExitError struct {
	Cmd    string
	Status int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: exit status %d", e.Cmd, e.Status)
	}
	return e.Cmd + ": " + e.Stderr
}

// Local runs commands on the host zync itself runs on.
type Local struct{}

// NewLocal returns a runner executing commands in-process via exec.
func NewLocal() *Local { return &Local{} }

func (l *Local) Run(ctx context.Context, cmd Command) error {
	var stderr strings.Builder
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	if c.Stderr == nil {
		c.Stderr = &stderr
	}
	err := c.Run()
	if err == nil {
		return nil
	}
	var xe *exec.ExitError
	if errors.As(err, &xe) {
		return &ExitError{
			Cmd:    cmd.String(),
			Status: xe.ExitCode(),
			Stderr: strings.TrimSpace(stderr.String()),
		}
	}
	return errors.Wrapf(err, "exec %s", cmd.Path)
}

func (l *Local) Endpoint() string { return "local" }

func (l *Local) Close() error { return nil }

// Output runs cmd on r, collecting stdout. Stderr is captured into the
// returned error on failure.
func Output(ctx context.Context, r Runner, path string, args ...string) ([]byte, error) {
	var out strings.Builder
	err := r.Run(ctx, Command{Path: path, Args: args, Stdout: &out})
	if err != nil {
		return nil, err
	}
	return []byte(out.String()), nil
}
