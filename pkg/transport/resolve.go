// Copyright © 2024 Zyncio

package transport

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/zyncio/zync/pkg/model"
)

// Keys holds the credentials supplied for one replication target. Generic
// applies to whichever single side is remote, Source and Dest pin a key to
// one side and win over Generic.
type Keys struct {
	Generic string
	Source  string
	Dest    string
}

// Plan is the resolved execution topology for one source/destination pair:
// one runner per side, each bound to the endpoint its half of the transfer
// executes on.
type Plan struct {
	Source Runner
	Dest   Runner
}

// RemoteHop reports whether the stream crosses a network, which is when
// compressing it pays off.
func (p *Plan) RemoteHop() bool {
	_, src := p.Source.(*SSH)
	_, dst := p.Dest.(*SSH)
	return src || dst
}

// Close releases both runners.
func (p *Plan) Close() error {
	return multierr.Append(p.Source.Close(), p.Dest.Close())
}

// Resolve maps a source/destination pair onto runners, applying the
// credential rules:
//
//   - both sides local: no credentials involved
//   - one side remote: that side gets the explicit per-side key if given,
//     the generic key otherwise, falling back to the usual ~/.ssh identity
//   - both sides remote: each side needs its own explicit key, nothing is
//     inferred
func Resolve(src, dst model.Dataset, keys Keys, opts ...SSHOption) (*Plan, error) {
	switch {
	case src.Remote() && dst.Remote():
		if keys.Source == "" || keys.Dest == "" {
			return nil, errors.Wrapf(model.ErrConfiguration,
				"replication from %s to %s runs between two remote endpoints and needs an explicit key for each side",
				src, dst)
		}
		return &Plan{
			Source: NewSSH(src, keys.Source, opts...),
			Dest:   NewSSH(dst, keys.Dest, opts...),
		}, nil

	case src.Remote():
		return &Plan{
			Source: NewSSH(src, sideKey(keys.Source, keys.Generic), opts...),
			Dest:   NewLocal(),
		}, nil

	case dst.Remote():
		return &Plan{
			Source: NewLocal(),
			Dest:   NewSSH(dst, sideKey(keys.Dest, keys.Generic), opts...),
		}, nil

	default:
		return &Plan{Source: NewLocal(), Dest: NewLocal()}, nil
	}
}

// Connect returns a runner for a single endpoint outside any replication
// pair. The dataset's own key wins over the generic one, with the usual
// ~/.ssh identity as last resort.
func Connect(ds model.Dataset, generic string, opts ...SSHOption) Runner {
	if !ds.Remote() {
		return NewLocal()
	}
	return NewSSH(ds, sideKey(ds.KeyFile, generic), opts...)
}

func sideKey(specific, generic string) string {
	if specific != "" {
		return specific
	}
	if generic != "" {
		return generic
	}
	return lookupDefaultKey()
}

// lookupDefaultKey is a variable so tests can pin the fallback identity.
var lookupDefaultKey = defaultKeyFile

func defaultKeyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
