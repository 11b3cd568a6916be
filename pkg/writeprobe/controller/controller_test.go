// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cihub/seelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataDog/vfs-write-probe/pkg/util/log"
	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

func TestMain(m *testing.M) {
	logLevel := os.Getenv("WP_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "warn"
	}
	log.SetupLogger(seelog.Default, logLevel)
	os.Exit(m.Run())
}

// fakeFS maps paths to identities without touching the file system
type fakeFS struct {
	mu    sync.Mutex
	files map[string]writeprobe.FileIdentity
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: make(map[string]writeprobe.FileIdentity)}
}

func (f *fakeFS) set(path string, dev uint32, ino uint64) writeprobe.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := writeprobe.FileIdentity{Device: dev, Inode: ino}
	f.files[path] = id
	return writeprobe.DeriveKey(id)
}

func (f *fakeFS) remove(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, path)
}

func (f *fakeFS) resolve(path string) (writeprobe.FileIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.files[path]
	if !ok {
		return writeprobe.FileIdentity{}, fmt.Errorf("stat %s: %w", path, os.ErrNotExist)
	}
	return id, nil
}

func newTestController(t *testing.T, maxEntries int, opts ...Option) (*Controller, *writeprobe.MemoryRegistry, *fakeFS) {
	t.Helper()
	fs := newFakeFS()
	reg := writeprobe.NewMemoryRegistry(maxEntries)
	return New(reg, append([]Option{WithResolver(fs.resolve)}, opts...)...), reg, fs
}

func TestProtectUnprotect(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	key := fs.set("/var/log/app.log", 8, 1001)

	got, err := c.Protect("/var/log/../log/app.log")
	require.NoError(t, err)
	assert.Equal(t, key, got)
	assert.True(t, reg.Contains(key))
	assert.Equal(t, []Entry{{Path: "/var/log/app.log", Key: key}}, c.Protected())

	require.NoError(t, c.Unprotect("/var/log/app.log"))
	assert.False(t, reg.Contains(key))
	assert.Empty(t, c.Protected())
}

func TestUnprotectDeletedFile(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	key := fs.set("/tmp/a", 8, 1)
	_, err := c.Protect("/tmp/a")
	require.NoError(t, err)

	fs.remove("/tmp/a")
	require.NoError(t, c.Unprotect("/tmp/a"))
	assert.False(t, reg.Contains(key))

	// unknown to the controller and gone from disk
	assert.ErrorIs(t, c.Unprotect("/tmp/a"), os.ErrNotExist)
}

func TestUnprotectNotInstalledByController(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	key := fs.set("/tmp/a", 8, 1)
	require.NoError(t, reg.Upsert(key))

	require.NoError(t, c.Unprotect("/tmp/a"))
	assert.False(t, reg.Contains(key))
}

func TestProtectReplacedFile(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	oldKey := fs.set("/etc/app.conf", 8, 10)
	_, err := c.Protect("/etc/app.conf")
	require.NoError(t, err)

	// the file was replaced by a rename, so it has a new inode
	newKey := fs.set("/etc/app.conf", 8, 11)
	_, err = c.Protect("/etc/app.conf")
	require.NoError(t, err)

	assert.True(t, reg.Contains(newKey))
	assert.False(t, reg.Contains(oldKey))
	assert.Equal(t, 1, reg.Len())
}

func TestHardLinksShareKey(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	key := fs.set("/data/a", 8, 5)
	fs.set("/data/b", 8, 5)

	require.NoError(t, c.Sync([]string{"/data/a", "/data/b"}))
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, c.Unprotect("/data/a"))
	assert.True(t, reg.Contains(key), "still needed by /data/b")

	require.NoError(t, c.Unprotect("/data/b"))
	assert.False(t, reg.Contains(key))
}

func TestSync(t *testing.T) {
	var synced []int
	c, reg, fs := newTestController(t, 0, WithSyncHook(func(n int) { synced = append(synced, n) }))
	ka := fs.set("/a", 8, 1)
	kb := fs.set("/b", 9, 1)

	err := c.Sync([]string{"/a", "/b", "/missing"})
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.ErrorContains(t, err, "/missing")
	assert.True(t, reg.Contains(ka))
	assert.True(t, reg.Contains(kb))

	require.NoError(t, c.Sync([]string{"/a"}))
	assert.True(t, reg.Contains(ka))
	assert.False(t, reg.Contains(kb))

	require.NoError(t, c.Sync(nil))
	assert.Zero(t, reg.Len())
	assert.Equal(t, []int{2, 1, 0}, synced)
}

func TestSyncCapacityExceeded(t *testing.T) {
	c, reg, fs := newTestController(t, 2)
	fs.set("/a", 8, 1)
	fs.set("/b", 8, 2)
	fs.set("/c", 8, 3)

	err := c.Sync([]string{"/a", "/b", "/c"})
	assert.ErrorIs(t, err, writeprobe.ErrCapacityExceeded)
	assert.Equal(t, 2, reg.Len())
	assert.Len(t, c.Protected(), 2)
}

func TestSyncReplacesEntriesAtCapacity(t *testing.T) {
	c, reg, fs := newTestController(t, 2)
	ka := fs.set("/a", 8, 1)
	kb := fs.set("/b", 8, 2)
	kc := fs.set("/c", 8, 3)
	kd := fs.set("/d", 8, 4)

	require.NoError(t, c.Sync([]string{"/a", "/b"}))
	require.NoError(t, c.Sync([]string{"/c", "/d"}))

	assert.True(t, reg.Contains(kc))
	assert.True(t, reg.Contains(kd))
	assert.False(t, reg.Contains(ka))
	assert.False(t, reg.Contains(kb))
	assert.Equal(t, []Entry{{Path: "/c", Key: kc}, {Path: "/d", Key: kd}}, c.Protected())
}

func TestProtectReplacedFileAtCapacity(t *testing.T) {
	c, reg, fs := newTestController(t, 1)
	fs.set("/etc/app.conf", 8, 10)
	_, err := c.Protect("/etc/app.conf")
	require.NoError(t, err)

	newKey := fs.set("/etc/app.conf", 8, 11)
	require.NoError(t, c.Sync([]string{"/etc/app.conf"}))
	assert.True(t, reg.Contains(newKey))
	assert.Equal(t, 1, reg.Len())
}

func TestSyncRemovesDeletedFile(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	ka := fs.set("/a", 8, 1)
	kb := fs.set("/b", 8, 1)
	require.NoError(t, c.Sync([]string{"/a"}))

	fs.remove("/a")
	err := c.Sync([]string{"/a"})
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.False(t, reg.Contains(ka), "the inode may be reused by another file")
	assert.Empty(t, c.Protected())

	// a hard link still listed keeps the key
	fs.set("/a", 8, 1)
	require.NoError(t, c.Sync([]string{"/a", "/b"}))
	fs.remove("/a")
	assert.Error(t, c.Sync([]string{"/a", "/b"}))
	assert.True(t, reg.Contains(kb))
	assert.Equal(t, []Entry{{Path: "/b", Key: kb}}, c.Protected())
}

func TestSyncPolicyKeepsStateOnEmptyOrBrokenPolicy(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	ka := fs.set("/a", 8, 1)

	policy := filepath.Join(t.TempDir(), "protected.yaml")
	writePolicy(t, policy, "/a")
	require.NoError(t, c.SyncPolicy(policy))
	require.True(t, reg.Contains(ka))

	// truncated in place, as an editor does before writing the new content
	require.NoError(t, os.WriteFile(policy, nil, 0o600))
	assert.ErrorIs(t, c.SyncPolicy(policy), ErrEmptyPolicy)
	assert.True(t, reg.Contains(ka))

	require.NoError(t, os.WriteFile(policy, []byte("protected_files: {"), 0o600))
	assert.ErrorContains(t, c.SyncPolicy(policy), "parsing policy")
	assert.True(t, reg.Contains(ka))

	require.NoError(t, os.WriteFile(policy, []byte("protected_files: []\n"), 0o600))
	require.NoError(t, c.SyncPolicy(policy))
	assert.False(t, reg.Contains(ka))
}

func writePolicy(t *testing.T, path string, files ...string) {
	t.Helper()
	data := "protected_files:\n"
	for _, f := range files {
		data += "  - " + f + "\n"
	}
	// write then rename, the way editors and config management do
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(data), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestWatch(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	ka := fs.set("/a", 8, 1)
	kb := fs.set("/b", 8, 2)

	policy := filepath.Join(t.TempDir(), "protected.yaml")
	writePolicy(t, policy, "/a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx, policy, time.Hour) }()

	require.Eventually(t, func() bool { return reg.Contains(ka) }, 5*time.Second, 10*time.Millisecond)

	writePolicy(t, policy, "/b")
	require.Eventually(t, func() bool {
		return reg.Contains(kb) && !reg.Contains(ka)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchPeriodicResync(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	oldKey := fs.set("/a", 8, 1)

	policy := filepath.Join(t.TempDir(), "protected.yaml")
	writePolicy(t, policy, "/a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Watch(ctx, policy, 20*time.Millisecond) //nolint:errcheck

	require.Eventually(t, func() bool { return reg.Contains(oldKey) }, 5*time.Second, 10*time.Millisecond)

	// the policy is unchanged but the file got a new inode
	newKey := fs.set("/a", 8, 2)
	require.Eventually(t, func() bool {
		return reg.Contains(newKey) && !reg.Contains(oldKey)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatchKeepsStateOnBrokenPolicy(t *testing.T) {
	c, reg, fs := newTestController(t, 0)
	ka := fs.set("/a", 8, 1)

	policy := filepath.Join(t.TempDir(), "protected.yaml")
	writePolicy(t, policy, "/a")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Watch(ctx, policy, 20*time.Millisecond) //nolint:errcheck

	require.Eventually(t, func() bool { return reg.Contains(ka) }, 5*time.Second, 10*time.Millisecond)

	// WriteFile truncates before writing, so the watcher may see an empty file too
	require.NoError(t, os.WriteFile(policy, []byte("protected_files: {"), 0o600))
	assert.Never(t, func() bool { return !reg.Contains(ka) }, 300*time.Millisecond, 5*time.Millisecond)
}

func TestWatchMissingDirectory(t *testing.T) {
	c, _, _ := newTestController(t, 0)
	err := c.Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "protected.yaml"), time.Second)
	assert.Error(t, err)
}
