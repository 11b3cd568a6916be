// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

//go:build linux

package controller

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

func TestIdentityFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	id, err := IdentityFromPath(path)
	require.NoError(t, err)

	var st unix.Stat_t
	require.NoError(t, unix.Stat(path, &st))
	assert.Equal(t, st.Ino, id.Inode)
	assert.Equal(t, unix.Major(uint64(st.Dev)), id.Device>>20)
	assert.Equal(t, unix.Minor(uint64(st.Dev)), id.Device&(1<<20-1))

	// same file through a hard link
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Link(path, link))
	linked, err := IdentityFromPath(link)
	require.NoError(t, err)
	assert.Equal(t, id, linked)

	// replaced by a rename: same path, new identity
	tmp := filepath.Join(dir, "tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("y"), 0o600))
	require.NoError(t, os.Rename(tmp, path))
	replaced, err := IdentityFromPath(path)
	require.NoError(t, err)
	assert.NotEqual(t, writeprobe.DeriveKey(id), writeprobe.DeriveKey(replaced))

	_, err = IdentityFromPath(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestControllerWithRealFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	reg := writeprobe.NewMemoryRegistry(0)
	c := New(reg)
	key, err := c.Protect(path)
	require.NoError(t, err)

	id, err := IdentityFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, writeprobe.DeriveKey(id), key)
	assert.True(t, reg.Contains(key))

	require.NoError(t, os.Remove(path))
	require.NoError(t, c.Unprotect(path))
	assert.Zero(t, reg.Len())
}
