// Copyright © 2024 Zyncio

package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// DefaultPath is where the daemonless CLI looks for its configuration.
const DefaultPath = "/etc/zync/zync.conf"

const sample = `# zync configuration.
#
# Every section names a source dataset, either local (pool/dataset) or
# remote (ssh:port:user@host:pool/dataset). Values set under [defaults]
# apply to all sections that do not override them.

[defaults]
# Keep counts per bucket. A count of N keeps the newest snapshot in each
# of the N most recent non-empty windows of that length.
frequent = 4
hourly = 24
daily = 7
weekly = 4
monthly = 6
yearly = 1
# Take new snapshots / prune old ones during scheduled runs.
snap = no
clean = no

#[rpool/data]
## Snapshot and prune this dataset and all children without an own section.
#snap = yes
#clean = yes
## Replicate to one or more destinations, comma separated.
#dest = tank/backup/data, ssh:22:root@backup.example.com:pool/data
## One key per destination; "none" skips a slot for local destinations.
#dest_key = none, /root/.ssh/id_ed25519
## Children to leave out of replication (path.Match globs).
#exclude = rpool/data/tmp rpool/data/cache*
## Send raw encrypted streams and allow resumable receives.
#raw_send = no
#resume = yes
## Create the destination dataset when it does not exist yet.
#dest_auto_create = yes
## Compress the stream between hosts.
#compress = yes
## Retry failed sends: attempts after the first, and seconds between them.
#retries = 3
#retry_interval = 30

#[ssh:22:root@nas.example.com:tank/media]
## A remote source: snapshots are taken and pruned over SSH.
#key = /root/.ssh/id_ed25519
#snap = yes
#clean = yes
#hourly = 0
#daily = 14
`

// Sample returns the commented configuration template.
func Sample() []byte { return []byte(sample) }

// WriteSample installs the template at path unless a configuration already
// exists there. It reports whether a file was written.
func WriteSample(fs afero.Fs, path string) (bool, error) {
	if ok, err := afero.Exists(fs, path); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	} else if ok {
		return false, nil
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := afero.WriteFile(fs, path, Sample(), 0644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
