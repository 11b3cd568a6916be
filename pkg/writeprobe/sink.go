// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package writeprobe

import (
	"strings"

	"go.uber.org/atomic"

	"github.com/DataDog/vfs-write-probe/pkg/util/log"
)

const (
	// TraceMessage is emitted once per write to a protected file
	TraceMessage = "eBPF intercept: protected file write\n"
	// BaselineMessage is emitted for every write in baseline mode
	BaselineMessage = "vfs_write hit\n"
)

// Sink receives the static trace message of the probe.
// message is always one of TraceMessage or BaselineMessage, never formatted per call.
type Sink interface {
	Emit(message string)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(message string)

// Emit implements Sink
func (f SinkFunc) Emit(message string) {
	f(message)
}

// LogSink logs every emitted message at info level
type LogSink struct{}

// Emit implements Sink
func (LogSink) Emit(message string) {
	log.Info(strings.TrimSuffix(message, "\n"))
}

// CountingSink counts emitted messages. Safe for concurrent use.
type CountingSink struct {
	protected atomic.Uint64
	baseline  atomic.Uint64
}

// Emit implements Sink
func (c *CountingSink) Emit(message string) {
	if message == BaselineMessage {
		c.baseline.Inc()
		return
	}
	c.protected.Inc()
}

// Protected returns the number of TraceMessage emissions
func (c *CountingSink) Protected() uint64 {
	return c.protected.Load()
}

// Baseline returns the number of BaselineMessage emissions
func (c *CountingSink) Baseline() uint64 {
	return c.baseline.Load()
}
