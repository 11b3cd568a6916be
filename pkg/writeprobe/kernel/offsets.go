// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package kernel

import (
	"fmt"

	"github.com/cilium/ebpf/btf"

	"github.com/DataDog/vfs-write-probe/pkg/util/funcs"
	"github.com/DataDog/vfs-write-probe/pkg/util/log"
)

// Offsets are the byte offsets of the kernel struct fields read by the probe
type Offsets struct {
	FileInode     uint32 // struct file, f_inode
	InodeIno      uint32 // struct inode, i_ino
	InodeSB       uint32 // struct inode, i_sb
	SuperBlockDev uint32 // struct super_block, s_dev
}

type structLookup func(name string) (*btf.Struct, error)

type fieldRef struct {
	typ   string
	field string
	size  int
	dst   *uint32
}

// KernelOffsets resolves Offsets from the BTF of the running kernel. It only reads the
// kernel BTF once.
var KernelOffsets = funcs.Memoize(func() (Offsets, error) {
	spec, err := btf.LoadKernelSpec()
	if err != nil {
		return Offsets{}, fmt.Errorf("loading kernel BTF: %w", err)
	}
	off, err := ResolveOffsets(func(name string) (*btf.Struct, error) {
		var s *btf.Struct
		if err := spec.TypeByName(name, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return Offsets{}, err
	}
	log.Debugf("resolved kernel offsets: %+v", off)
	return off, nil
})

// ResolveOffsets finds the fields read by the probe through lookup and checks their sizes
// against what the program loads.
func ResolveOffsets(lookup structLookup) (Offsets, error) {
	var off Offsets
	refs := []fieldRef{
		{"file", "f_inode", 8, &off.FileInode},
		{"inode", "i_ino", 8, &off.InodeIno},
		{"inode", "i_sb", 8, &off.InodeSB},
		{"super_block", "s_dev", 4, &off.SuperBlockDev},
	}

	for _, ref := range refs {
		s, err := lookup(ref.typ)
		if err != nil {
			return Offsets{}, fmt.Errorf("struct %s: %w", ref.typ, err)
		}
		offset, typ, ok := findMember(s.Members, ref.field)
		if !ok {
			return Offsets{}, fmt.Errorf("field %s.%s not found", ref.typ, ref.field)
		}
		size, err := btf.Sizeof(typ)
		if err != nil {
			return Offsets{}, fmt.Errorf("size of %s.%s: %w", ref.typ, ref.field, err)
		}
		if size != ref.size {
			return Offsets{}, fmt.Errorf("field %s.%s is %d bytes, expected %d", ref.typ, ref.field, size, ref.size)
		}
		*ref.dst = offset
	}
	return off, nil
}

// findMember looks for name among members, descending into anonymous structs and unions
func findMember(members []btf.Member, name string) (uint32, btf.Type, bool) {
	for _, m := range members {
		if m.Name == name {
			return m.Offset.Bytes(), m.Type, true
		}
		if m.Name != "" {
			continue
		}

		var nested []btf.Member
		switch t := btf.UnderlyingType(m.Type).(type) {
		case *btf.Struct:
			nested = t.Members
		case *btf.Union:
			nested = t.Members
		default:
			continue
		}
		if offset, typ, ok := findMember(nested, name); ok {
			return m.Offset.Bytes() + offset, typ, true
		}
	}
	return 0, nil, false
}
