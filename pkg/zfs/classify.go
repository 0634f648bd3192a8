// Copyright © 2024 Zyncio

package zfs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zyncio/zync/pkg/model"
	"github.com/zyncio/zync/pkg/transport"
)

// sentinelFor matches the messages the zfs tool prints against the error
// taxonomy. Returns nil when the message is not recognized.
func sentinelFor(stderr string) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "no such pool"):
		return model.ErrNotFound
	case strings.Contains(msg, "dataset is busy"),
		strings.Contains(msg, "pool is busy"),
		strings.Contains(msg, "currently modified"):
		return model.ErrBusy
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "insufficient privileges"):
		return model.ErrPermission
	case strings.Contains(msg, "already exists"):
		return model.ErrExists
	default:
		return nil
	}
}

// classify maps a failed zfs invocation onto the error taxonomy. Command
// failures with unrecognized messages pass through as they are; transport
// and context errors are already typed by the runner.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var xe *transport.ExitError
	if !errors.As(err, &xe) {
		return err
	}
	if sentinel := sentinelFor(xe.Stderr); sentinel != nil {
		return fmt.Errorf("%s: %w", xe.Stderr, sentinel)
	}
	return err
}

// classifyStream is classify for send and receive invocations. Stream
// commands fail for transient reasons the taxonomy has no message for
// (truncated stream, peer went away mid transfer), so unrecognized command
// failures count as transport errors and stay retryable.
func classifyStream(err error) error {
	if err == nil {
		return nil
	}
	var xe *transport.ExitError
	if !errors.As(err, &xe) {
		return err
	}
	if sentinel := sentinelFor(xe.Stderr); sentinel != nil {
		return fmt.Errorf("%s: %w", xe.Stderr, sentinel)
	}
	return fmt.Errorf("%s: %w", xe.Error(), model.ErrTransport)
}

func isNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
