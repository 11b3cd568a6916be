// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package tracepipe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const protectedMsg = "eBPF intercept: protected file write\n"

const sample = `           <...>-2866    [000] d...2.1   590.130406: bpf_trace_printk: hi
     python3-41022   [003] ....1  9876.000001: bpf_trace_printk: eBPF intercept: protected file write
CPU:3 [LOST 497 EVENTS]
this is not a trace line
CPU:1 [LOST EVENTS]

          vim-77     [001] ....1  9877.000000: bpf_trace_printk: eBPF intercept: protected file write\n
`

func TestReaderConsume(t *testing.T) {
	var events []Event
	r, err := NewReader("", func(e Event) { events = append(events, e) }, protectedMsg)
	require.NoError(t, err)

	require.NoError(t, r.Consume(context.Background(), strings.NewReader(sample)))

	require.Len(t, events, 2)
	assert.Equal(t, Event{Comm: "python3", PID: 41022, CPU: 3, Timestamp: 9876*time.Second + time.Microsecond, Message: "eBPF intercept: protected file write"}, events[0])
	assert.Equal(t, "vim", events[1].Comm)
	assert.Equal(t, uint32(77), events[1].PID)

	assert.Equal(t, ReaderStats{Events: 2, LostEvents: 498, ParseErrors: 1}, r.Stats())
}

func TestReaderStopsOnCancel(t *testing.T) {
	calls := 0
	r, err := NewReader("", func(Event) { calls++ }, protectedMsg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Consume(ctx, strings.NewReader(sample)))
	assert.Zero(t, calls)
}

func TestReaderRunFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace_pipe")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	calls := 0
	r, err := NewReader(path, func(Event) { calls++ }, protectedMsg)
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestReaderRunMissingPipe(t *testing.T) {
	r, err := NewReader(filepath.Join(t.TempDir(), "missing"), func(Event) {}, protectedMsg)
	require.NoError(t, err)
	r.MaxOpenElapsed = 200 * time.Millisecond

	assert.Error(t, r.Run(context.Background()))
}

func TestNewReaderValidation(t *testing.T) {
	_, err := NewReader("", nil, protectedMsg)
	assert.Error(t, err)
	_, err = NewReader("", func(Event) {})
	assert.Error(t, err)
}
