// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

//go:build linux && linux_bpf

package kernel

import (
	"errors"
	"fmt"
	"path/filepath"
	"unsafe"

	"github.com/cilium/ebpf"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/DataDog/vfs-write-probe/pkg/util/log"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

var present = uint8(1)

// MapRegistry is a writeprobe.Registry backed by the BPF hash map the kprobe reads.
// The kernel map gives lock-free lookups that are safe against concurrent updates.
type MapRegistry struct {
	m *ebpf.Map

	lookupFailures atomic.Uint64
}

// NewMapRegistry wraps m, which must match RegistryMapSpec
func NewMapRegistry(m *ebpf.Map) (*MapRegistry, error) {
	if m.Type() != ebpf.Hash || m.KeySize() != 8 || m.ValueSize() != 1 {
		return nil, fmt.Errorf("map %s is not a protected file registry (type %s, key %d bytes, value %d bytes)",
			m, m.Type(), m.KeySize(), m.ValueSize())
	}
	return &MapRegistry{m: m}, nil
}

// OpenPinnedRegistry opens the registry pinned in pinDir by a running probe
func OpenPinnedRegistry(pinDir string) (*MapRegistry, error) {
	path := filepath.Join(pinDir, MapName)
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err != nil {
		return nil, fmt.Errorf("opening pinned registry %s: %w", path, err)
	}
	r, err := NewMapRegistry(m)
	if err != nil {
		m.Close()
		return nil, err
	}
	return r, nil
}

// Contains implements writeprobe.Reader. Lookup errors other than a missing key are
// counted and reported as not found.
func (r *MapRegistry) Contains(key writeprobe.Key) bool {
	var value uint8
	err := r.m.Lookup(unsafe.Pointer(&key), unsafe.Pointer(&value))
	if err == nil {
		return true
	}
	if !errors.Is(err, ebpf.ErrKeyNotExist) {
		r.lookupFailures.Inc()
	}
	return false
}

// Upsert implements writeprobe.Registry
func (r *MapRegistry) Upsert(key writeprobe.Key) error {
	err := r.m.Update(unsafe.Pointer(&key), unsafe.Pointer(&present), ebpf.UpdateAny)
	if errors.Is(err, unix.E2BIG) {
		return fmt.Errorf("upsert %s: %w (max %d entries)", key, writeprobe.ErrCapacityExceeded, r.m.MaxEntries())
	}
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

// Remove implements writeprobe.Registry
func (r *MapRegistry) Remove(key writeprobe.Key) error {
	err := r.m.Delete(unsafe.Pointer(&key))
	if err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// Keys implements writeprobe.Registry
func (r *MapRegistry) Keys() ([]writeprobe.Key, error) {
	var (
		key   writeprobe.Key
		value uint8
		keys  []writeprobe.Key
	)
	it := r.m.Iterate()
	for it.Next(unsafe.Pointer(&key), unsafe.Pointer(&value)) {
		keys = append(keys, key)
		// Safety check to avoid an infinite loop on a map being rewritten under us
		if len(keys) > int(r.m.MaxEntries()) {
			break
		}
	}
	if err := it.Err(); err != nil {
		return keys, fmt.Errorf("iterating %s: %w", MapName, err)
	}
	return keys, nil
}

// Len implements writeprobe.Registry
func (r *MapRegistry) Len() int {
	keys, err := r.Keys()
	if err != nil {
		log.Debugf("counting registry entries: %s", err)
	}
	return len(keys)
}

// LookupFailures returns the number of lookups that failed for a reason other than a missing key
func (r *MapRegistry) LookupFailures() uint64 {
	return r.lookupFailures.Load()
}

// Map returns the underlying ebpf.Map
func (r *MapRegistry) Map() *ebpf.Map {
	return r.m
}

// Close closes the map file descriptor. The map itself lives on while it is pinned or
// referenced by the program.
func (r *MapRegistry) Close() error {
	return r.m.Close()
}
