// Copyright © 2024 Zyncio

package cmd

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CLIConfig describes the tool-level configuration read by viper. The
// dataset targets live in the INI file this points at, not here.
type CLIConfig struct {
	// Config is the path of the INI file holding the dataset targets.
	Config string `json:"config" yaml:"config" mapstructure:"config"`
	// Pidfile is where the run lock lives.
	Pidfile string `json:"pidfile" yaml:"pidfile" mapstructure:"pidfile"`
	// LogLevel applies when no verbosity flag is given.
	LogLevel string `json:"loglevel" yaml:"loglevel" mapstructure:"loglevel"`
	// MaxConcurrent bounds how many targets run at once.
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent" mapstructure:"max_concurrent"`
	// SSHDialTimeout bounds connection establishment to remote endpoints.
	SSHDialTimeout time.Duration `json:"ssh_dial_timeout" yaml:"ssh_dial_timeout" mapstructure:"ssh_dial_timeout"`
}

func newCLIConfig() (*CLIConfig, error) {
	var c CLIConfig
	err := viper.Unmarshal(&c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *CLIConfig) setRunParams(flags *flagsT) {
	if flags.root.configPath == "" {
		flags.root.configPath = c.Config
	}
	if flags.root.pidfile == "" {
		flags.root.pidfile = c.Pidfile
	}
	if flags.root.concurrent == 0 {
		flags.root.concurrent = c.MaxConcurrent
	}
}
