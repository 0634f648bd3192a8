// Copyright © 2024 Zyncio

// Package pidfile enforces the one-instance-per-host rule with a lock file
// holding the owning pid. Stale and malformed files are reclaimed,
// files owned by a living process abort the run before any target work
// starts.
package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/zyncio/zync/pkg/model"
)

// Prober answers whether a pid belongs to a running process.
type Prober interface {
	Alive(pid int) bool
}

// UnixProber probes with a null signal.
type UnixProber struct{}

func (UnixProber) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	// the process exists but belongs to someone else
	return err == unix.EPERM
}

// Option tunes lock acquisition.
type Option func(*Lock)

// WithFs replaces the filesystem, used by tests.
func WithFs(fs afero.Fs) Option {
	return func(l *Lock) {
		if fs != nil {
			l.fs = fs
		}
	}
}

// WithProber replaces the liveness probe.
func WithProber(p Prober) Option {
	return func(l *Lock) {
		if p != nil {
			l.probe = p
		}
	}
}

// WithLogger provides a logger for reclaim decisions.
func WithLogger(log *zap.Logger) Option {
	return func(l *Lock) {
		if log != nil {
			l.log = log
		}
	}
}

// WithPid overrides the pid written to the file, used by tests.
func WithPid(pid int) Option {
	return func(l *Lock) { l.pid = pid }
}

// Lock is a held pidfile. Release it on every exit path.
type Lock struct {
	fs    afero.Fs
	path  string
	pid   int
	probe Prober
	log   *zap.Logger
}

// Acquire takes the pidfile at path, reclaiming it when the recorded
// owner is dead or the content is garbage. A living owner returns an
// error wrapping model.ErrLock.
func Acquire(path string, opts ...Option) (*Lock, error) {
	l := &Lock{
		fs:    afero.NewOsFs(),
		path:  path,
		pid:   os.Getpid(),
		probe: UnixProber{},
		log:   zap.NewNop(),
	}
	for _, apply := range opts {
		apply(l)
	}

	data, err := afero.ReadFile(l.fs, path)
	switch {
	case os.IsNotExist(err):
		// free
	case err != nil:
		return nil, errors.Wrapf(err, "read pidfile %s", path)
	default:
		owner, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr != nil {
			l.log.Warn("removing malformed pidfile", zap.String("path", path))
		} else if l.probe.Alive(owner) {
			return nil, errors.Wrapf(model.ErrLock,
				"another instance is running (pid %d per %s)", owner, path)
		} else {
			l.log.Info("removing stale pidfile",
				zap.String("path", path),
				zap.Int("pid", owner),
			)
		}
		if rerr := l.fs.Remove(path); rerr != nil {
			return nil, errors.Wrapf(rerr, "reclaim pidfile %s", path)
		}
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create pidfile directory for %s", path)
	}
	f, err := l.fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.Wrapf(model.ErrLock, "lost the race for %s", path)
		}
		return nil, errors.Wrapf(err, "create pidfile %s", path)
	}
	_, werr := f.WriteString(strconv.Itoa(l.pid) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = l.fs.Remove(path)
		return nil, errors.Wrapf(werr, "write pidfile %s", path)
	}
	return l, nil
}

// Release removes the pidfile if this lock still owns it.
func (l *Lock) Release() error {
	data, err := afero.ReadFile(l.fs, l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "read pidfile %s", l.path)
	}
	if owner, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && owner != l.pid {
		l.log.Warn("pidfile no longer ours, leaving it",
			zap.String("path", l.path),
			zap.Int("owner", owner),
		)
		return nil
	}
	return l.fs.Remove(l.path)
}

// Path returns the location of the lock file.
func (l *Lock) Path() string { return l.path }
