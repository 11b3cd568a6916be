// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

//go:build linux

package controller

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

// IdentityFromPath returns the identity the kernel sees for the file at path.
// stat(2) reports the user space device encoding which is converted to the
// kernel one so that the derived key matches what the probe computes.
func IdentityFromPath(path string) (writeprobe.FileIdentity, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return writeprobe.FileIdentity{}, fmt.Errorf("stat %s: %w", path, err)
	}
	dev := uint64(st.Dev)
	return writeprobe.FileIdentity{
		Device: writeprobe.KernelDevice(unix.Major(dev), unix.Minor(dev)),
		Inode:  st.Ino,
	}, nil
}
