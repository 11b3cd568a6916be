// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package writeprobe holds the protected file write probe: key derivation, the
// protected file registry contract and the probe body run on every write.
package writeprobe

import (
	"fmt"

	"go.uber.org/atomic"
)

// Mode selects what the probe does on a write
type Mode int

const (
	// ModeFiltered emits TraceMessage only for writes to protected files
	ModeFiltered Mode = iota
	// ModeBaseline emits BaselineMessage for every write, without any lookup.
	// It is only meant to measure the overhead of the filter.
	ModeBaseline
)

func (m Mode) String() string {
	switch m {
	case ModeFiltered:
		return "filtered"
	case ModeBaseline:
		return "baseline"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses the name of a mode
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "filtered":
		return ModeFiltered, nil
	case "baseline":
		return ModeBaseline, nil
	}
	return ModeFiltered, fmt.Errorf("unknown probe mode %q", s)
}

// Stats holds the probe counters
type Stats struct {
	Writes           uint64 `json:"writes"`
	Matches          uint64 `json:"matches"`
	IdentityFailures uint64 `json:"identity_failures"`
	Recovered        uint64 `json:"recovered"`
}

// Probe is the write hook. It is stateless per invocation and safe for concurrent use.
type Probe struct {
	mode Mode
	reg  Reader
	sink Sink

	writes           atomic.Uint64
	matches          atomic.Uint64
	identityFailures atomic.Uint64
	recovered        atomic.Uint64
}

// Option configures a Probe
type Option func(*Probe)

// WithMode sets the probe mode
func WithMode(m Mode) Option {
	return func(p *Probe) {
		p.mode = m
	}
}

// NewProbe creates a probe reading reg and emitting to sink
func NewProbe(reg Reader, sink Sink, opts ...Option) *Probe {
	p := &Probe{reg: reg, sink: sink}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnWrite is invoked synchronously before a write to f. It always returns 0:
// nothing the probe does can change the outcome of the write.
func (p *Probe) OnWrite(f *File) int {
	defer p.absorb()
	p.writes.Inc()

	if p.mode == ModeBaseline {
		p.sink.Emit(BaselineMessage)
		return 0
	}

	id, err := IdentityOf(f)
	if err != nil {
		p.identityFailures.Inc()
		return 0
	}

	if !p.reg.Contains(DeriveKey(id)) {
		return 0
	}

	p.matches.Inc()
	p.sink.Emit(TraceMessage)
	return 0
}

// absorb turns a panic from the registry or the sink into a counted failure
func (p *Probe) absorb() {
	if r := recover(); r != nil {
		p.recovered.Inc()
	}
}

// Mode returns the probe mode
func (p *Probe) Mode() Mode {
	return p.mode
}

// Stats returns a snapshot of the probe counters
func (p *Probe) Stats() Stats {
	return Stats{
		Writes:           p.writes.Load(),
		Matches:          p.matches.Load(),
		IdentityFailures: p.identityFailures.Load(),
		Recovered:        p.recovered.Load(),
	}
}
