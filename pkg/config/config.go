// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package config loads the write probe settings from a YAML file, the environment
// and command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/DataDog/viper"
	"github.com/spf13/pflag"

	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

const (
	// EnvPrefix prefixes every environment variable, WRITE_PROBE_PROBE_MODE sets probe.mode
	EnvPrefix = "WRITE_PROBE"
	// DefaultConfigPath is read when no config file is given
	DefaultConfigPath = "/etc/write-probe/write-probe.yaml"
)

// Config keys
const (
	LogLevel              = "log_level"
	LogFile               = "log_file"
	ProbeAttachPoint      = "probe.attach_point"
	ProbeMode             = "probe.mode"
	RegistryMaxEntries    = "registry.max_entries"
	RegistryPinDir        = "registry.pin_dir"
	PolicyFile            = "policy.file"
	PolicyResyncInterval  = "policy.resync_interval"
	TracePipePath         = "trace.pipe_path"
	TelemetryEnabled      = "telemetry.enabled"
	TelemetryAddress      = "telemetry.address"
	defaultPinDir         = "/sys/fs/bpf/write_probe"
	defaultPolicyFile     = "/etc/write-probe/protected.yaml"
	defaultTelemetryAddr  = "localhost:5090"
	defaultResyncInterval = 30 * time.Second
)

// Config wraps a viper instance with the write probe defaults
type Config struct {
	*viper.Viper
}

// Settings is the validated configuration
type Settings struct {
	LogLevel string
	LogFile  string

	AttachPoint string
	Mode        writeprobe.Mode

	MaxEntries uint32
	PinDir     string

	PolicyFile     string
	ResyncInterval time.Duration

	TracePipePath string

	TelemetryEnabled bool
	TelemetryAddress string
}

// New returns a configuration holding the defaults and reading the environment
func New() *Config {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(LogLevel, "info")
	v.SetDefault(LogFile, "")
	v.SetDefault(ProbeAttachPoint, "vfs_write")
	v.SetDefault(ProbeMode, writeprobe.ModeFiltered.String())
	v.SetDefault(RegistryMaxEntries, writeprobe.DefaultMaxEntries)
	v.SetDefault(RegistryPinDir, defaultPinDir)
	v.SetDefault(PolicyFile, defaultPolicyFile)
	v.SetDefault(PolicyResyncInterval, defaultResyncInterval)
	v.SetDefault(TracePipePath, "")
	v.SetDefault(TelemetryEnabled, false)
	v.SetDefault(TelemetryAddress, defaultTelemetryAddr)

	return &Config{Viper: v}
}

// Load returns the configuration read from path. A missing file is only an error
// when the path was given explicitly.
func Load(path string) (*Config, error) {
	c := New()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}
	c.SetConfigFile(path)
	if err := c.ReadInConfig(); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return c, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return c, nil
}

// BindFlags lets flags override the keys they are mapped to. Unchanged flags keep
// the lower precedence sources.
func (c *Config) BindFlags(flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q for %s", name, key)
		}
		if err := c.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %q: %w", name, err)
		}
	}
	return nil
}

// Settings returns the validated configuration
func (c *Config) Settings() (Settings, error) {
	mode, err := writeprobe.ParseMode(c.GetString(ProbeMode))
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", ProbeMode, err)
	}

	maxEntries := c.GetInt(RegistryMaxEntries)
	if maxEntries <= 0 || maxEntries > 1<<20 {
		return Settings{}, fmt.Errorf("%s: %d out of range", RegistryMaxEntries, maxEntries)
	}

	interval := c.GetDuration(PolicyResyncInterval)
	if interval <= 0 {
		return Settings{}, fmt.Errorf("%s: must be positive, got %s", PolicyResyncInterval, interval)
	}

	attach := c.GetString(ProbeAttachPoint)
	if attach == "" {
		return Settings{}, fmt.Errorf("%s: must not be empty", ProbeAttachPoint)
	}

	return Settings{
		LogLevel:         strings.ToLower(c.GetString(LogLevel)),
		LogFile:          c.GetString(LogFile),
		AttachPoint:      attach,
		Mode:             mode,
		MaxEntries:       uint32(maxEntries),
		PinDir:           c.GetString(RegistryPinDir),
		PolicyFile:       c.GetString(PolicyFile),
		ResyncInterval:   interval,
		TracePipePath:    c.GetString(TracePipePath),
		TelemetryEnabled: c.GetBool(TelemetryEnabled),
		TelemetryAddress: c.GetString(TelemetryAddress),
	}, nil
}
