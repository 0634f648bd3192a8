// Copyright © 2024 Zyncio

// Package config reads the INI target configuration. Every section names a
// source dataset locator; the special [defaults] section supplies values
// for keys a target leaves unset. Precedence is target value, then
// [defaults] value, then built-in default.
package config

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	ini "github.com/go-ini/ini"
	"github.com/spf13/afero"
	"github.com/spf13/cast"

	"github.com/zyncio/zync/pkg/model"
)

// DefaultsSection is the reserved section name holding shared values.
const DefaultsSection = "defaults"

const builtinRetryInterval = 10 * time.Second

// Target is one fully resolved configuration entry.
type Target struct {
	// Name is the raw section heading, kept for logs and status output.
	Name   string
	Source model.Dataset

	Snap   bool
	Clean  bool
	Policy model.RetentionPolicy

	// Destinations carry their per-side key in KeyFile; Key is the
	// generic credential for whichever single side is remote.
	Destinations []model.Dataset
	Key          string

	Compress      bool
	Exclude       []string
	Raw           bool
	Resume        bool
	AutoCreate    bool
	Retries       int
	RetryInterval time.Duration
	IgnoreMissing bool
	_             struct{}
}

// Sends reports whether the target replicates anywhere.
func (t Target) Sends() bool { return len(t.Destinations) > 0 }

// Replication converts the entry into the replication plan consumed by the
// send phase.
func (t Target) Replication() model.ReplicationTarget {
	return model.ReplicationTarget{
		Source:        t.Source,
		Destinations:  t.Destinations,
		Exclude:       t.Exclude,
		Raw:           t.Raw,
		Resume:        t.Resume,
		Compress:      t.Compress,
		AutoCreate:    t.AutoCreate,
		Retries:       t.Retries,
		RetryInterval: t.RetryInterval,
	}
}

// Config is the parsed configuration file.
type Config struct {
	Targets []Target
	_       struct{}
}

// SourceNames indexes the sources of all configured targets by their
// endpoint-qualified name (model.Dataset String form). Recursion into
// children stops at datasets that have their own entry.
func (c *Config) SourceNames() map[string]bool {
	names := make(map[string]bool, len(c.Targets))
	for _, t := range c.Targets {
		names[t.Source.String()] = true
	}
	return names
}

// LoadFile reads and parses the configuration at path.
func LoadFile(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %v: %w", path, err, model.ErrConfiguration)
	}
	cfg, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Load parses configuration data.
func Load(data []byte) (*Config, error) {
	file, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("parse: %v: %w", err, model.ErrConfiguration)
	}

	var defaults *ini.Section
	if sec, err := file.GetSection(DefaultsSection); err == nil {
		defaults = sec
	}

	cfg := &Config{}
	for _, sec := range file.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection || name == DefaultsSection {
			continue
		}
		target, err := buildTarget(name, scope{sec: sec, def: defaults})
		if err != nil {
			return nil, err
		}
		cfg.Targets = append(cfg.Targets, target)
	}
	return cfg, nil
}

func buildTarget(name string, sc scope) (Target, error) {
	source, err := model.ParseLocator(name)
	if err != nil {
		return Target{}, fmt.Errorf("section [%s]: %w", name, err)
	}

	t := Target{
		Name:          name,
		Source:        source,
		RetryInterval: builtinRetryInterval,
	}

	if t.Snap, err = sc.boolean("snap", false); err != nil {
		return Target{}, keyErr(name, "snap", err)
	}
	if t.Clean, err = sc.boolean("clean", false); err != nil {
		return Target{}, keyErr(name, "clean", err)
	}
	if t.Raw, err = sc.boolean("raw_send", false); err != nil {
		return Target{}, keyErr(name, "raw_send", err)
	}
	if t.Resume, err = sc.boolean("resume", false); err != nil {
		return Target{}, keyErr(name, "resume", err)
	}
	if t.AutoCreate, err = sc.boolean("dest_auto_create", false); err != nil {
		return Target{}, keyErr(name, "dest_auto_create", err)
	}
	if t.IgnoreMissing, err = sc.boolean("ignore_not_existing", false); err != nil {
		return Target{}, keyErr(name, "ignore_not_existing", err)
	}
	if t.Compress, err = sc.compress("compress"); err != nil {
		return Target{}, keyErr(name, "compress", err)
	}

	counts := []struct {
		key  string
		into *int
	}{
		{"frequent", &t.Policy.Frequent},
		{"hourly", &t.Policy.Hourly},
		{"daily", &t.Policy.Daily},
		{"weekly", &t.Policy.Weekly},
		{"monthly", &t.Policy.Monthly},
		{"yearly", &t.Policy.Yearly},
	}
	for _, c := range counts {
		n, err := sc.count(c.key, 0)
		if err != nil {
			return Target{}, keyErr(name, c.key, err)
		}
		if n < 0 {
			return Target{}, keyErr(name, c.key, fmt.Errorf("negative keep count %d", n))
		}
		*c.into = n
	}

	if t.Retries, err = sc.count("retries", 0); err != nil {
		return Target{}, keyErr(name, "retries", err)
	}
	if t.Retries < 0 {
		return Target{}, keyErr(name, "retries", fmt.Errorf("negative retry count %d", t.Retries))
	}
	seconds, err := sc.count("retry_interval", int(builtinRetryInterval/time.Second))
	if err != nil {
		return Target{}, keyErr(name, "retry_interval", err)
	}
	if seconds < 0 {
		return Target{}, keyErr(name, "retry_interval", fmt.Errorf("negative interval %d", seconds))
	}
	t.RetryInterval = time.Duration(seconds) * time.Second

	t.Key, _ = sc.str("key")
	if sourceKey, ok := sc.str("source_key"); ok {
		t.Source.KeyFile = sourceKey
	}

	dests := sc.list("dest")
	destKeys := sc.list("dest_key")
	if len(destKeys) > 0 && len(destKeys) != len(dests) {
		return Target{}, keyErr(name, "dest_key",
			fmt.Errorf("%d keys for %d destinations", len(destKeys), len(dests)))
	}
	for i, d := range dests {
		ds, err := model.ParseLocator(d)
		if err != nil {
			return Target{}, keyErr(name, "dest", err)
		}
		if len(destKeys) > 0 && !strings.EqualFold(destKeys[i], "none") {
			ds.KeyFile = destKeys[i]
		}
		t.Destinations = append(t.Destinations, ds)
	}

	t.Exclude = sc.list("exclude")
	for _, glob := range t.Exclude {
		if _, err := path.Match(glob, "probe"); err != nil {
			return Target{}, keyErr(name, "exclude", fmt.Errorf("bad pattern %q", glob))
		}
	}
	return t, nil
}

func keyErr(section, key string, err error) error {
	if errors.Is(err, model.ErrConfiguration) {
		return fmt.Errorf("section [%s] key %s: %w", section, key, err)
	}
	return fmt.Errorf("section [%s] key %s: %v: %w", section, key, err, model.ErrConfiguration)
}

// scope looks a key up in the target section first and in [defaults]
// second.
type scope struct {
	sec *ini.Section
	def *ini.Section
}

func (s scope) str(key string) (string, bool) {
	if s.sec.HasKey(key) {
		return strings.TrimSpace(s.sec.Key(key).String()), true
	}
	if s.def != nil && s.def.HasKey(key) {
		return strings.TrimSpace(s.def.Key(key).String()), true
	}
	return "", false
}

// list splits a multi-value key on commas and whitespace.
func (s scope) list(key string) []string {
	raw, ok := s.str(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	}) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s scope) boolean(key string, builtin bool) (bool, error) {
	raw, ok := s.str(key)
	if !ok {
		return builtin, nil
	}
	switch strings.ToLower(raw) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return cast.ToBoolE(raw)
}

func (s scope) count(key string, builtin int) (int, error) {
	raw, ok := s.str(key)
	if !ok {
		return builtin, nil
	}
	return cast.ToIntE(raw)
}

func (s scope) compress(key string) (bool, error) {
	raw, ok := s.str(key)
	if !ok {
		return false, nil
	}
	return Compression(raw)
}

// Compression maps a compress setting to the stream compression toggle.
// It accepts booleans plus the legacy compressor names: anything besides
// "none" and "lzop" turns compression on.
func Compression(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "gzip", "pigz", "bzip2", "xz", "lz4", "zstd":
		return true, nil
	case "none", "lzop", "":
		return false, nil
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	return cast.ToBoolE(raw)
}
