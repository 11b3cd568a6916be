// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package writeprobe

import (
	"errors"
	"fmt"
)

// ErrIdentityUnavailable is returned when the device/inode pair of a file cannot be read
var ErrIdentityUnavailable = errors.New("file identity unavailable")

// FileIdentity uniquely identifies a filesystem object.
// Device uses the kernel's internal dev_t encoding (see KernelDevice), which is what
// super_block.s_dev holds.
type FileIdentity struct {
	Device uint32
	Inode  uint64
}

func (id FileIdentity) String() string {
	return fmt.Sprintf("dev=%d:%d ino=%d", id.Device>>kernelMinorBits, id.Device&kernelMinorMask, id.Inode)
}

// Key is the registry key derived from a FileIdentity
type Key uint64

// DeriveKey folds a FileIdentity into a single registry key: the device goes into the
// high half, the inode is xor-ed into the low half.
func DeriveKey(id FileIdentity) Key {
	return Key(uint64(id.Device)<<32 ^ id.Inode)
}

func (k Key) String() string {
	return fmt.Sprintf("%#016x", uint64(k))
}

const (
	kernelMinorBits = 20
	kernelMinorMask = 1<<kernelMinorBits - 1
)

// KernelDevice encodes a major/minor pair the way the kernel stores it in super_block.s_dev
// (MKDEV). This differs from the encoding returned by stat(2).
func KernelDevice(major, minor uint32) uint32 {
	return major<<kernelMinorBits | minor&kernelMinorMask
}

// SuperBlock mirrors the fields of struct super_block read by the probe
type SuperBlock struct {
	Dev uint32
}

// Inode mirrors the fields of struct inode read by the probe
type Inode struct {
	Ino uint64
	SB  *SuperBlock
}

// File mirrors the fields of struct file read by the probe
type File struct {
	Inode *Inode
}

// IdentityOf walks file -> inode -> super block. It never writes to any of them.
func IdentityOf(f *File) (FileIdentity, error) {
	if f == nil || f.Inode == nil || f.Inode.SB == nil {
		return FileIdentity{}, ErrIdentityUnavailable
	}
	return FileIdentity{Device: f.Inode.SB.Dev, Inode: f.Inode.Ino}, nil
}
