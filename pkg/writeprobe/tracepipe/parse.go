// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package tracepipe reads and parses the kernel trace pipe, where bpf_trace_printk output lands
package tracepipe

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownFormat is returned for lines that are neither a trace record nor a lost events marker
var ErrUnknownFormat = errors.New("unknown trace_pipe line format")

var (
	// <comm>-<pid> [(<tgid>)] [<cpu>] [<flags>] <ts>: <function>: <message>
	traceLineRe = regexp.MustCompile(`^\s*(.+)-(\d+)\s+(?:\(\s*[-\d]+\)\s+)?\[(\d+)\]\s+(?:(\S+)\s+)?(\d+\.\d+):\s+([^:\s]+):\s?(.*)$`)
	lostLineRe  = regexp.MustCompile(`^CPU:(\d+) \[LOST (?:(\d+) )?EVENTS\]$`)
)

// Line is a parsed trace_pipe line
type Line struct {
	Comm      string
	PID       uint32
	CPU       int
	Flags     string
	Timestamp time.Duration // since boot
	Function  string
	Message   string

	// Lost is set for "CPU:n [LOST k EVENTS]" markers, LostEvents is 0 when the kernel did not count them
	Lost       bool
	LostEvents uint64
}

// ParseLine parses a single line read from trace_pipe
func ParseLine(raw string) (Line, error) {
	raw = strings.TrimRight(raw, "\r\n")

	if m := lostLineRe.FindStringSubmatch(strings.TrimSpace(raw)); m != nil {
		cpu, _ := strconv.Atoi(m[1])
		l := Line{CPU: cpu, Lost: true}
		if m[2] != "" {
			l.LostEvents, _ = strconv.ParseUint(m[2], 10, 64)
		}
		return l, nil
	}

	m := traceLineRe.FindStringSubmatch(raw)
	if m == nil {
		return Line{}, fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}

	pid, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil {
		return Line{}, fmt.Errorf("invalid pid %q: %w", m[2], err)
	}
	cpu, err := strconv.Atoi(m[3])
	if err != nil {
		return Line{}, fmt.Errorf("invalid cpu %q: %w", m[3], err)
	}
	ts, err := parseTimestamp(m[5])
	if err != nil {
		return Line{}, err
	}

	return Line{
		Comm:      strings.TrimSpace(m[1]),
		PID:       uint32(pid),
		CPU:       cpu,
		Flags:     m[4],
		Timestamp: ts,
		Function:  m[6],
		Message:   m[7],
	}, nil
}

// parseTimestamp parses "<seconds>.<fraction>" without going through a float
func parseTimestamp(s string) (time.Duration, error) {
	secs, frac, _ := strings.Cut(s, ".")
	sec, err := strconv.ParseUint(secs, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	frac += strings.Repeat("0", 9-len(frac))
	nsec, err := strconv.ParseUint(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.Duration(sec)*time.Second + time.Duration(nsec), nil
}
