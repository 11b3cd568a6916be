// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/vfs-write-probe/pkg/config"
)

// setupCommand runs Setup from a subcommand as the real ones do
func setupCommand(t *testing.T, oneShotLogLevel string, args ...string) (config.Settings, error) {
	t.Helper()
	var (
		settings config.Settings
		setupErr error
		ran      bool
	)
	factory := func(gp *GlobalParams) []*cobra.Command {
		return []*cobra.Command{{
			Use: "noop",
			RunE: func(*cobra.Command, []string) error {
				ran = true
				_, settings, setupErr = gp.Setup(oneShotLogLevel)
				return nil
			},
		}}
	}

	cmd := MakeCommand([]SubcommandFactory{factory})
	cmd.SetArgs(append([]string{"noop"}, args...))
	require.NoError(t, cmd.Execute())
	require.True(t, ran)
	return settings, setupErr
}

func TestMakeCommand(t *testing.T) {
	var got *GlobalParams
	factory := func(gp *GlobalParams) []*cobra.Command {
		return []*cobra.Command{{
			Use: "noop",
			RunE: func(*cobra.Command, []string) error {
				got = gp
				return nil
			},
		}}
	}

	cmd := MakeCommand([]SubcommandFactory{factory})
	cmd.SetArgs([]string{"noop", "-c", "/tmp/wp.yaml", "-n"})
	require.NoError(t, cmd.Execute())
	require.NotNil(t, got)
	assert.Equal(t, "/tmp/wp.yaml", got.ConfFilePath)
	assert.True(t, got.NoColor)
}

func TestSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "write-probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nregistry:\n  pin_dir: /sys/fs/bpf/a\n"), 0o600))

	s, err := setupCommand(t, "", "-c", path)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.LogLevel)
	assert.Equal(t, "/sys/fs/bpf/a", s.PinDir)

	s, err = setupCommand(t, "off", "-c", path, "--pin-dir", "/sys/fs/bpf/b")
	require.NoError(t, err)
	assert.Equal(t, "off", s.LogLevel)
	assert.Equal(t, "/sys/fs/bpf/b", s.PinDir)

	s, err = setupCommand(t, "off", "-c", path, "-l", "error")
	require.NoError(t, err)
	assert.Equal(t, "error", s.LogLevel)

	s, err = setupCommand(t, "", "-c", path, "--log-level", "warn")
	require.NoError(t, err)
	assert.Equal(t, "warn", s.LogLevel)

	_, err = setupCommand(t, "", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSetupWithFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "write-probe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policy:\n  file: /etc/a.yaml\n"), 0o600))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("policy", "", "")
	require.NoError(t, flags.Parse([]string{"--policy", "/etc/b.yaml"}))

	gp := &GlobalParams{ConfFilePath: path}
	_, s, err := gp.SetupWithFlags("off", flags, map[string]string{"policy": config.PolicyFile})
	require.NoError(t, err)
	assert.Equal(t, "/etc/b.yaml", s.PolicyFile)

	_, _, err = gp.SetupWithFlags("off", flags, map[string]string{"unknown": config.PolicyFile})
	assert.Error(t, err)
}
