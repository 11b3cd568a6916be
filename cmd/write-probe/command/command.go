// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package command holds the top-level write-probe command
package command

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/DataDog/vfs-write-probe/pkg/config"
)

// GlobalParams contains the values of the global flags.
//
// A pointer to this type is passed to SubcommandFactory's, but its contents
// are not valid until Cobra calls the subcommand's Run or RunE function.
type GlobalParams struct {
	// ConfFilePath is the configuration file, DefaultConfigPath when empty
	ConfFilePath string

	// NoColor disables color output
	NoColor bool

	// flags holds --log-level and --pin-dir, bound to the configuration by Setup
	flags *pflag.FlagSet
}

// globalFlagKeys maps the global flags to the configuration keys they override
var globalFlagKeys = map[string]string{
	"log-level": config.LogLevel,
	"pin-dir":   config.RegistryPinDir,
}

// SubcommandFactory returns a sub-command factory
type SubcommandFactory func(globalParams *GlobalParams) []*cobra.Command

// MakeCommand makes the top-level Cobra command for this command.
func MakeCommand(subcommandFactories []SubcommandFactory) *cobra.Command {
	var globalParams GlobalParams

	writeProbeCmd := &cobra.Command{
		Use:   "write-probe [command]",
		Short: "Report writes to protected files from the kernel.",
		Long: `
write-probe attaches an eBPF kprobe to vfs_write and reports every write to a file
listed in the protected file registry. Writes are observed, never blocked.`,
		SilenceUsage: true,
	}

	writeProbeCmd.PersistentFlags().StringVarP(&globalParams.ConfFilePath, "cfgpath", "c", "", "path to write-probe.yaml (default "+config.DefaultConfigPath+")")
	writeProbeCmd.PersistentFlags().StringP("log-level", "l", "", "log level, overrides log_level")
	writeProbeCmd.PersistentFlags().String("pin-dir", "", "bpffs directory of the registry, overrides registry.pin_dir")
	writeProbeCmd.PersistentFlags().BoolVarP(&globalParams.NoColor, "no-color", "n", false, "disable color output")
	globalParams.flags = writeProbeCmd.PersistentFlags()

	writeProbeCmd.PersistentPreRun = func(*cobra.Command, []string) {
		if globalParams.NoColor {
			color.NoColor = true
		}
	}

	for _, factory := range subcommandFactories {
		for _, subcmd := range factory(&globalParams) {
			writeProbeCmd.AddCommand(subcmd)
		}
	}

	return writeProbeCmd
}

// Setup loads the configuration, applies the global flags and sets up logging.
// One-shot commands pass the level they log at unless --log-level is given, the
// daemon passes an empty level to use log_level.
func (p *GlobalParams) Setup(oneShotLogLevel string) (*config.Config, config.Settings, error) {
	return p.SetupWithFlags(oneShotLogLevel, nil, nil)
}

// SetupWithFlags is Setup for commands with flags of their own: each flag of
// cmdFlags named in keys overrides the configuration key it maps to when given.
func (p *GlobalParams) SetupWithFlags(oneShotLogLevel string, cmdFlags *pflag.FlagSet, keys map[string]string) (*config.Config, config.Settings, error) {
	cfg, err := config.Load(p.ConfFilePath)
	if err != nil {
		return nil, config.Settings{}, err
	}

	logLevelGiven := false
	if p.flags != nil {
		if err := cfg.BindFlags(p.flags, globalFlagKeys); err != nil {
			return nil, config.Settings{}, err
		}
		logLevelGiven = p.flags.Changed("log-level")
	}
	if cmdFlags != nil {
		if err := cfg.BindFlags(cmdFlags, keys); err != nil {
			return nil, config.Settings{}, err
		}
	}
	if oneShotLogLevel != "" && !logLevelGiven {
		cfg.Set(config.LogLevel, oneShotLogLevel)
	}

	settings, err := cfg.Settings()
	if err != nil {
		return nil, config.Settings{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.SetupLogger(settings.LogLevel, settings.LogFile); err != nil {
		return nil, config.Settings{}, fmt.Errorf("setting up logger: %w", err)
	}
	return cfg, settings, nil
}
