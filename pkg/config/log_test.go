// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package config

import (
	"path/filepath"
	"testing"

	"github.com/cihub/seelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/vfs-write-probe/pkg/util/log"
)

func TestBuildLoggerConfig(t *testing.T) {
	cfg, err := buildLoggerConfig("INFO", "")
	require.NoError(t, err)
	assert.Contains(t, cfg, `minlevel="info"`)
	assert.Contains(t, cfg, "<console />")
	assert.NotContains(t, cfg, "rollingfile")
	assert.NotContains(t, cfg, "%!")

	cfg, err = buildLoggerConfig("debug", "/var/log/write-probe.log")
	require.NoError(t, err)
	assert.Contains(t, cfg, `filename="/var/log/write-probe.log"`)
	assert.Contains(t, cfg, `maxsize="10485760"`)
	assert.NotContains(t, cfg, "%!")

	_, err = seelog.LoggerFromConfigAsString(cfg)
	assert.NoError(t, err)

	_, err = buildLoggerConfig("verbose", "")
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	require.NoError(t, SetupLogger("warn", filepath.Join(t.TempDir(), "write-probe.log")))
	lvl, err := log.GetLogLevel()
	require.NoError(t, err)
	assert.Equal(t, seelog.LogLevel(seelog.WarnLvl), lvl)
	log.Flush()
}

func TestChangeLogLevel(t *testing.T) {
	file := filepath.Join(t.TempDir(), "write-probe.log")
	require.NoError(t, SetupLogger("info", file))
	assert.False(t, log.ShouldLog(seelog.DebugLvl))

	require.NoError(t, ChangeLogLevel("DEBUG", file))
	lvl, err := log.GetLogLevel()
	require.NoError(t, err)
	assert.Equal(t, seelog.LogLevel(seelog.DebugLvl), lvl)
	assert.True(t, log.ShouldLog(seelog.DebugLvl))

	assert.Error(t, ChangeLogLevel("verbose", file))
	lvl, err = log.GetLogLevel()
	require.NoError(t, err)
	assert.Equal(t, seelog.LogLevel(seelog.DebugLvl), lvl)
	log.Flush()
}
