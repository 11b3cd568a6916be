// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package controller keeps the protected file registry in sync with a list of paths
package controller

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"

	"github.com/DataDog/vfs-write-probe/pkg/util/log"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

// DefaultResyncInterval is used by Watch when no interval is given
const DefaultResyncInterval = 30 * time.Second

// policySettleDelay is how long the policy file has to stay unchanged before it is read
const policySettleDelay = 100 * time.Millisecond

// Controller installs and removes registry entries for file paths. It is the only
// writer of the registry it is given.
type Controller struct {
	reg     writeprobe.Registry
	resolve func(string) (writeprobe.FileIdentity, error)

	mu        sync.Mutex
	installed map[string]writeprobe.Key
	onSync    func(installed int)
}

// Option configures a Controller
type Option func(*Controller)

// WithResolver replaces IdentityFromPath
func WithResolver(resolve func(string) (writeprobe.FileIdentity, error)) Option {
	return func(c *Controller) {
		c.resolve = resolve
	}
}

// WithSyncHook registers a function called after every Sync with the number of installed paths
func WithSyncHook(fn func(installed int)) Option {
	return func(c *Controller) {
		c.onSync = fn
	}
}

// New returns a controller writing to reg
func New(reg writeprobe.Registry, opts ...Option) *Controller {
	c := &Controller{
		reg:       reg,
		resolve:   IdentityFromPath,
		installed: make(map[string]writeprobe.Key),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Protect installs the key of the file currently at path. If the path was protected
// under another identity, the stale key is removed.
func (c *Controller) Protect(path string) (writeprobe.Key, error) {
	path = filepath.Clean(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protect(path)
}

func (c *Controller) protect(path string) (writeprobe.Key, error) {
	old, installed := c.installed[path]

	id, err := c.resolve(path)
	if err != nil {
		if installed && errors.Is(err, fs.ErrNotExist) {
			// the inode of a deleted file can be reused by an unrelated one
			log.Debugf("%s is gone, removing %s", path, old)
			delete(c.installed, path)
			if rmErr := c.removeUnshared(old); rmErr != nil {
				return 0, multierror.Append(err, rmErr)
			}
		}
		return 0, err
	}

	key := writeprobe.DeriveKey(id)
	if installed && old != key {
		// the stale key goes first so that a full registry has room for the new one
		log.Debugf("%s changed identity, replacing %s with %s", path, old, key)
		delete(c.installed, path)
		if err := c.removeUnshared(old); err != nil {
			return 0, err
		}
	}

	if err := c.reg.Upsert(key); err != nil {
		return 0, fmt.Errorf("protecting %s (%s): %w", path, id, err)
	}
	c.installed[path] = key
	return key, nil
}

// Unprotect removes the entry of path. Paths this controller installed are removed by
// their recorded key, so this works after the file was deleted or replaced.
func (c *Controller) Unprotect(path string) error {
	path = filepath.Clean(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unprotect(path)
}

func (c *Controller) unprotect(path string) error {
	key, ok := c.installed[path]
	if !ok {
		id, err := c.resolve(path)
		if err != nil {
			return err
		}
		key = writeprobe.DeriveKey(id)
	}
	delete(c.installed, path)
	return c.removeUnshared(key)
}

// removeUnshared removes key unless another installed path (a hard link) still needs it
func (c *Controller) removeUnshared(key writeprobe.Key) error {
	for _, k := range c.installed {
		if k == key {
			return nil
		}
	}
	if err := c.reg.Remove(key); err != nil {
		return fmt.Errorf("unprotecting %s: %w", key, err)
	}
	return nil
}

// Sync makes paths the protected set: previously installed paths that are no longer
// listed are removed, then every resolvable path is (re)installed. Listed paths whose
// file is gone are removed too. It keeps going on errors and returns all of them.
func (c *Controller) Sync(paths []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	desired := make(map[string]struct{}, len(paths))
	ordered := make([]string, 0, len(paths))
	for _, p := range paths {
		p = filepath.Clean(p)
		if _, ok := desired[p]; ok {
			continue
		}
		desired[p] = struct{}{}
		ordered = append(ordered, p)
	}

	var errs *multierror.Error
	// removals first, a full registry only has room for new keys once they are done
	for p, key := range c.installed {
		if _, ok := desired[p]; ok {
			continue
		}
		delete(c.installed, p)
		if err := c.removeUnshared(key); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	for _, p := range ordered {
		if _, err := c.protect(p); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if c.onSync != nil {
		c.onSync(len(c.installed))
	}
	return errs.ErrorOrNil()
}

// Protected returns the installed paths and their keys, sorted by path
func (c *Controller) Protected() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]Entry, 0, len(c.installed))
	for p, k := range c.installed {
		entries = append(entries, Entry{Path: p, Key: k})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries
}

// Entry is an installed path
type Entry struct {
	Path string
	Key  writeprobe.Key
}

// SyncPolicy loads the policy at path and syncs to it. An unreadable, empty or
// invalid policy leaves the registry untouched.
func (c *Controller) SyncPolicy(path string) error {
	p, err := LoadPolicy(path)
	if err != nil {
		return err
	}
	return c.Sync(p.ProtectedFiles)
}

// Watch syncs to the policy at policyPath, then again once the policy stops changing
// and every interval so that files replaced by a rename are picked up. It returns
// when ctx is done.
func (c *Controller) Watch(ctx context.Context, policyPath string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	policyPath = filepath.Clean(policyPath)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy watcher: %w", err)
	}
	defer watcher.Close()

	// the directory is watched since editors replace files instead of writing them
	if err := watcher.Add(filepath.Dir(policyPath)); err != nil {
		return fmt.Errorf("watching %s: %w", policyPath, err)
	}

	c.resync(policyPath)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	settle := time.NewTimer(policySettleDelay)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != policyPath || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debugf("policy %s changed (%s)", policyPath, event.Op)
			settle.Reset(policySettleDelay)
		case <-settle.C:
			c.resync(policyPath)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_ = log.Warnf("policy watcher: %s", err)
		case <-ticker.C:
			c.resync(policyPath)
		}
	}
}

func (c *Controller) resync(policyPath string) {
	if err := c.SyncPolicy(policyPath); err != nil {
		_ = log.Warnf("syncing policy %s: %s", policyPath, err)
		return
	}
	log.Debugf("policy %s synced, %d files protected", policyPath, len(c.Protected()))
}
