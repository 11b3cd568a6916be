// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

//go:build !linux || !linux_bpf

package kernel

import (
	"errors"

	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

// ErrNotImplemented is returned when the binary was built without eBPF support
var ErrNotImplemented = errors.New("eBPF write probe not supported on this platform or build")

// Options controls how the probe is loaded
type Options struct {
	Mode        writeprobe.Mode
	AttachPoint string
	MaxEntries  uint32
	PinDir      string
	Offsets     *Offsets
}

// MapRegistry is not available without eBPF support
type MapRegistry struct {
	writeprobe.Registry
}

// Close is a no-op
func (r *MapRegistry) Close() error { return nil }

// LookupFailures is always 0
func (r *MapRegistry) LookupFailures() uint64 { return 0 }

// Probe is not available without eBPF support
type Probe struct {
	Registry *MapRegistry
}

// Load is not supported on this platform
func Load(Options) (*Probe, error) {
	return nil, ErrNotImplemented
}

// OpenPinnedRegistry is not supported on this platform
func OpenPinnedRegistry(string) (*MapRegistry, error) {
	return nil, ErrNotImplemented
}

// Close is a no-op
func (p *Probe) Close() error { return nil }

// Unpin is a no-op
func (p *Probe) Unpin() error { return nil }
