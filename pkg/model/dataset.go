// Copyright © 2024 Zyncio

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultSSHPort is used when a remote locator omits the port field.
const DefaultSSHPort = 22

// Dataset identifies a ZFS dataset together with the endpoint it lives on.
// A dataset is local when Host is empty. Once resolved for a run a Dataset
// value is never mutated.
type Dataset struct {
	Name    string `json:"name" yaml:"name"`
	User    string `json:"user,omitempty" yaml:"user,omitempty"`
	Host    string `json:"host,omitempty" yaml:"host,omitempty"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty"`
	KeyFile string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	_       struct{}
}

// Remote reports whether the dataset lives behind an SSH endpoint.
func (d Dataset) Remote() bool {
	return d.Host != ""
}

// Endpoint returns the user@host:port triple of a remote dataset, empty for
// local datasets. Two datasets with the same Endpoint share SSH connections.
func (d Dataset) Endpoint() string {
	if !d.Remote() {
		return ""
	}
	return fmt.Sprintf("%s@%s:%d", d.User, d.Host, d.Port)
}

func (d Dataset) String() string {
	if !d.Remote() {
		return d.Name
	}
	return fmt.Sprintf("%s@%s:%s", d.User, d.Host, d.Name)
}

// Child returns the dataset for a descendant zfs name on the same endpoint.
func (d Dataset) Child(name string) Dataset {
	c := d
	c.Name = name
	return c
}

// ParseLocator parses a dataset locator. Two forms are accepted:
//
//	pool/fs                          local dataset
//	ssh:port:user@host:pool/fs       remote dataset, port and user optional
//
// The remote form tolerates an empty port field (ssh::user@host:pool/fs)
// and defaults the user to root.
func ParseLocator(s string) (Dataset, error) {
	if s == "" {
		return Dataset{}, fmt.Errorf("empty dataset locator: %w", ErrConfiguration)
	}
	if !strings.HasPrefix(s, "ssh:") {
		if strings.Contains(s, "@") {
			return Dataset{}, fmt.Errorf("locator %q: snapshot names are not valid here: %w", s, ErrConfiguration)
		}
		return Dataset{Name: s}, nil
	}

	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return Dataset{}, fmt.Errorf("locator %q: want ssh:port:user@host:dataset: %w", s, ErrConfiguration)
	}
	port := DefaultSSHPort
	if parts[1] != "" {
		p, err := strconv.Atoi(parts[1])
		if err != nil || p <= 0 || p > 65535 {
			return Dataset{}, fmt.Errorf("locator %q: invalid port %q: %w", s, parts[1], ErrConfiguration)
		}
		port = p
	}
	user, host := "root", parts[2]
	if at := strings.LastIndex(parts[2], "@"); at >= 0 {
		user, host = parts[2][:at], parts[2][at+1:]
		if user == "" {
			user = "root"
		}
	}
	if host == "" {
		return Dataset{}, fmt.Errorf("locator %q: missing host: %w", s, ErrConfiguration)
	}
	if parts[3] == "" {
		return Dataset{}, fmt.Errorf("locator %q: missing dataset name: %w", s, ErrConfiguration)
	}
	return Dataset{Name: parts[3], User: user, Host: host, Port: port}, nil
}

// RebaseName maps a name in the source hierarchy onto the destination
// hierarchy: RebaseName("pool/data/www", "pool/data", "backup/data") is
// "backup/data/www". The name must equal fromRoot or be a descendant of it.
func RebaseName(name, fromRoot, toRoot string) (string, error) {
	if name == fromRoot {
		return toRoot, nil
	}
	if !strings.HasPrefix(name, fromRoot+"/") {
		return "", fmt.Errorf("dataset %q is not below %q: %w", name, fromRoot, ErrConfiguration)
	}
	return toRoot + strings.TrimPrefix(name, fromRoot), nil
}
