// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

//go:build linux && linux_bpf

package kernel

import (
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
	"github.com/hashicorp/go-multierror"

	"github.com/DataDog/vfs-write-probe/pkg/util/log"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

// Options controls how the probe is loaded
type Options struct {
	Mode        writeprobe.Mode
	AttachPoint string // defaults to DefaultAttachPoint
	MaxEntries  uint32 // defaults to writeprobe.DefaultMaxEntries
	// PinDir, when set, pins the registry map there so that other processes can
	// administer it. An already pinned compatible map is reused.
	PinDir string
	// Offsets overrides the offsets resolved from the kernel BTF
	Offsets *Offsets
}

// Probe is a loaded and attached write probe
type Probe struct {
	Registry *MapRegistry

	prog *ebpf.Program
	kp   link.Link
}

// Load loads the program and its registry map and attaches it
func Load(opts Options) (*Probe, error) {
	if opts.AttachPoint == "" {
		opts.AttachPoint = DefaultAttachPoint
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("removing memlock rlimit: %w", err)
	}

	var off Offsets
	if opts.Offsets != nil {
		off = *opts.Offsets
	} else {
		var err error
		if off, err = KernelOffsets(); err != nil {
			return nil, err
		}
	}

	spec, err := CollectionSpec(opts.Mode, off, opts.MaxEntries)
	if err != nil {
		return nil, err
	}

	var collOpts ebpf.CollectionOptions
	if opts.PinDir != "" {
		if err := os.MkdirAll(opts.PinDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating pin directory: %w", err)
		}
		spec.Maps[MapName].Pinning = ebpf.PinByName
		collOpts.Maps.PinPath = opts.PinDir
	}

	coll, err := ebpf.NewCollectionWithOptions(spec, collOpts)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ProgramName, err)
	}
	defer coll.Close()

	p := &Probe{
		prog: coll.DetachProgram(ProgramName),
	}
	m := coll.DetachMap(MapName)
	if p.Registry, err = NewMapRegistry(m); err != nil {
		m.Close()
		p.prog.Close()
		return nil, err
	}

	p.kp, err = link.Kprobe(opts.AttachPoint, p.prog, nil)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("attaching kprobe to %s: %w", opts.AttachPoint, err)
	}

	log.Infof("%s attached to %s in %s mode, registry capacity %d", ProgramName, opts.AttachPoint, opts.Mode, m.MaxEntries())
	return p, nil
}

// Close detaches the probe and releases the program and map. A pinned map outlives it.
func (p *Probe) Close() error {
	var errs *multierror.Error
	if p.kp != nil {
		if err := p.kp.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("detaching kprobe: %w", err))
		}
	}
	if p.prog != nil {
		if err := p.prog.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing program: %w", err))
		}
	}
	if p.Registry != nil {
		if err := p.Registry.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing registry: %w", err))
		}
	}
	return errs.ErrorOrNil()
}

// Unpin removes the pinned registry, if any. The map is freed once the probe is closed.
func (p *Probe) Unpin() error {
	if p.Registry == nil || !p.Registry.Map().IsPinned() {
		return nil
	}
	return p.Registry.Map().Unpin()
}
