// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package writeprobe

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultMaxEntries is the capacity of the protected file registry
const DefaultMaxEntries = 128

var (
	// ErrCapacityExceeded is returned by Upsert when the registry is full and the key is new
	ErrCapacityExceeded = errors.New("protected file registry is full")
	// ErrRegistryLookup marks an internal lookup failure. Readers never see it, it is only counted.
	ErrRegistryLookup = errors.New("protected file registry lookup failed")
)

// Reader is the part of the registry the probe depends on.
// Contains must never block, allocate or panic, and must report false on internal errors.
type Reader interface {
	Contains(key Key) bool
}

// Registry is the protected file membership table. Only the controller mutates it.
type Registry interface {
	Reader

	// Upsert marks key as protected. It is idempotent.
	Upsert(key Key) error
	// Remove unmarks key. Removing an absent key is not an error.
	Remove(key Key) error
	// Len returns the number of protected keys
	Len() int
	// Keys returns a snapshot of the protected keys
	Keys() ([]Key, error)
}

// MemoryRegistry is a bounded, in-process Registry.
// Reads are lock-free: they load an immutable snapshot. Writers copy the snapshot under
// a mutex and publish the new one atomically.
type MemoryRegistry struct {
	maxEntries int

	mu       sync.Mutex // serializes writers
	snapshot atomic.Pointer[map[Key]struct{}]
}

// NewMemoryRegistry returns an empty registry holding at most maxEntries keys.
// A non-positive maxEntries selects DefaultMaxEntries.
func NewMemoryRegistry(maxEntries int) *MemoryRegistry {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	r := &MemoryRegistry{maxEntries: maxEntries}
	empty := make(map[Key]struct{})
	r.snapshot.Store(&empty)
	return r
}

// Contains implements Reader
func (r *MemoryRegistry) Contains(key Key) bool {
	m := r.snapshot.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[key]
	return ok
}

// Upsert implements Registry
func (r *MemoryRegistry) Upsert(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	if _, ok := cur[key]; ok {
		return nil
	}
	if len(cur) >= r.maxEntries {
		return fmt.Errorf("upsert %s: %w (max %d entries)", key, ErrCapacityExceeded, r.maxEntries)
	}

	next := make(map[Key]struct{}, len(cur)+1)
	for k := range cur {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	r.snapshot.Store(&next)
	return nil
}

// Remove implements Registry
func (r *MemoryRegistry) Remove(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snapshot.Load()
	if _, ok := cur[key]; !ok {
		return nil
	}

	next := make(map[Key]struct{}, len(cur))
	for k := range cur {
		if k != key {
			next[k] = struct{}{}
		}
	}
	r.snapshot.Store(&next)
	return nil
}

// Len implements Registry
func (r *MemoryRegistry) Len() int {
	return len(*r.snapshot.Load())
}

// Keys implements Registry
func (r *MemoryRegistry) Keys() ([]Key, error) {
	cur := *r.snapshot.Load()
	keys := make([]Key, 0, len(cur))
	for k := range cur {
		keys = append(keys, k)
	}
	return keys, nil
}

// MaxEntries returns the capacity of the registry
func (r *MemoryRegistry) MaxEntries() int {
	return r.maxEntries
}
