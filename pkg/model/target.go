// Copyright © 2024 Zyncio

package model

import "time"

// ReplicationTarget describes one source to replicate and where to. Flags
// and exclusions apply uniformly to every destination of the target;
// credentials are carried per endpoint on the Dataset values.
type ReplicationTarget struct {
	Source       Dataset   `json:"source" yaml:"source"`
	Destinations []Dataset `json:"destinations" yaml:"destinations"`

	// Exclude holds path.Match globs of child dataset names to skip.
	// A matching child is pruned together with all of its descendants.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	Raw        bool `json:"raw_send,omitempty" yaml:"raw_send,omitempty"`
	Resume     bool `json:"resume,omitempty" yaml:"resume,omitempty"`
	Compress   bool `json:"compress,omitempty" yaml:"compress,omitempty"`
	AutoCreate bool `json:"dest_auto_create,omitempty" yaml:"dest_auto_create,omitempty"`

	// Retries is the number of additional attempts after a failed one.
	// RetryInterval is the fixed wait between attempts.
	Retries       int           `json:"retries,omitempty" yaml:"retries,omitempty"`
	RetryInterval time.Duration `json:"retry_interval,omitempty" yaml:"retry_interval,omitempty"`
	_             struct{}
}

// Attempts returns the total attempt budget of the target.
func (t ReplicationTarget) Attempts() int {
	if t.Retries < 0 {
		return 1
	}
	return t.Retries + 1
}
