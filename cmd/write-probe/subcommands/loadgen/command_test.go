// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

//go:build linux

package loadgen

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3} \| INFO \| Purchase card=\d+ ssn=\d{3}-\d{2}-\d{4} total=\$\d+$`)

func TestLoadgen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.log")
	var stdout bytes.Buffer

	params := &cliParams{file: path, count: 20, quiet: true, simulate: true}
	require.NoError(t, loadgen(context.Background(), params, &stdout))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 20)
	for _, l := range lines {
		assert.Regexp(t, recordRe, l)
	}
	assert.Equal(t, "simulated probe: 20 writes, 20 reported, 0 identity failures, 0 recovered\n", stdout.String())
}

func TestLoadgenEcho(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.log")
	var stdout bytes.Buffer

	require.NoError(t, loadgen(context.Background(), &cliParams{file: path, count: 3}, &stdout))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(data), stdout.String())
}

func TestLoadgenStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	params := &cliParams{file: filepath.Join(t.TempDir(), "demo.log"), rate: 1, quiet: true}
	assert.NoError(t, loadgen(ctx, params, &bytes.Buffer{}))
}
