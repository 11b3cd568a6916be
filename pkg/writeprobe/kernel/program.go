// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package kernel holds the in-kernel side of the write probe: the kprobe program,
// the BTF offsets it depends on and the BPF map backing the protected file registry.
package kernel

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"

	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

const (
	// ProgramName is the name of the kprobe program, as shown by bpftool
	ProgramName = "protected_write"
	// MapName is the name of the protected file registry map
	MapName = "protected_files"
	// License is required by the loader: the helpers used are GPL only
	License = "GPL"
	// DefaultAttachPoint is the kernel function the program is attached to
	DefaultAttachPoint = "vfs_write"

	exitLabel = "exit"
)

// ErrUnsupportedArch is returned when the kprobe argument layout is unknown for the running architecture
var ErrUnsupportedArch = errors.New("kprobe arguments are not supported on this architecture")

// stack slots, relative to the frame pointer
const (
	slotScratch int16 = -8  // f_inode, then the registry key
	slotIno     int16 = -16 // i_ino
	slotSB      int16 = -24 // i_sb
	slotDev     int16 = -32 // s_dev
	slotsSize   int16 = 32
)

// Instructions returns the body of the kprobe.
//
// In filtered mode it reads file->f_inode->i_ino and file->f_inode->i_sb->s_dev, derives
// the registry key, looks it up in MapName and calls bpf_trace_printk with a static message
// on a hit. Any failed read jumps straight to the exit. In baseline mode it prints a static
// message on every call.
func Instructions(mode writeprobe.Mode, off Offsets) (asm.Instructions, error) {
	if firstArgOffset < 0 {
		return nil, ErrUnsupportedArch
	}

	switch mode {
	case writeprobe.ModeBaseline:
		insns := printk(writeprobe.BaselineMessage, 0)
		return append(insns, exit()...), nil
	case writeprobe.ModeFiltered:
	default:
		return nil, fmt.Errorf("unsupported probe mode %s", mode)
	}

	insns := asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),

		// file = PT_REGS_PARM1(ctx)
		asm.LoadMem(asm.R3, asm.R6, firstArgOffset, asm.DWord),
		asm.JEq.Imm(asm.R3, 0, exitLabel),
	}

	// inode = file->f_inode
	insns = append(insns, probeRead(slotScratch, 8, asm.R3, off.FileInode)...)
	insns = append(insns,
		asm.LoadMem(asm.R7, asm.RFP, slotScratch, asm.DWord),
		asm.JEq.Imm(asm.R7, 0, exitLabel),
	)

	// ino = inode->i_ino, sb = inode->i_sb
	insns = append(insns, probeRead(slotIno, 8, asm.R7, off.InodeIno)...)
	insns = append(insns, probeRead(slotSB, 8, asm.R7, off.InodeSB)...)
	insns = append(insns,
		asm.LoadMem(asm.R8, asm.RFP, slotSB, asm.DWord),
		asm.JEq.Imm(asm.R8, 0, exitLabel),
	)

	// dev = sb->s_dev
	insns = append(insns, probeRead(slotDev, 4, asm.R8, off.SuperBlockDev)...)

	insns = append(insns,
		// key = (u64)dev << 32 ^ ino
		asm.LoadMem(asm.R1, asm.RFP, slotDev, asm.Word),
		asm.LSh.Imm(asm.R1, 32),
		asm.LoadMem(asm.R2, asm.RFP, slotIno, asm.DWord),
		asm.Xor.Reg(asm.R1, asm.R2),
		asm.StoreMem(asm.RFP, slotScratch, asm.R1, asm.DWord),

		asm.LoadMapPtr(asm.R1, 0).WithReference(MapName),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, int32(slotScratch)),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, exitLabel),
	)

	insns = append(insns, printk(writeprobe.TraceMessage, slotsSize)...)
	return append(insns, exit()...), nil
}

// probeRead emits bpf_probe_read_kernel(fp+slot, size, base+offset) and bails out on failure.
// base is consumed before the helper call, so it may be R3.
func probeRead(slot int16, size int32, base asm.Register, offset uint32) asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, int32(slot)),
		asm.Mov.Imm(asm.R2, size),
		asm.Mov.Reg(asm.R3, base),
		asm.Add.Imm(asm.R3, int32(offset)),
		asm.FnProbeReadKernel.Call(),
		asm.JNE.Imm(asm.R0, 0, exitLabel),
	}
}

// printk writes msg and its NUL terminator on the stack below reserved bytes, then
// calls bpf_trace_printk on it.
func printk(msg string, reserved int16) asm.Instructions {
	buf := make([]byte, (len(msg)+1+7)/8*8)
	copy(buf, msg)
	base := -reserved - int16(len(buf))

	var insns asm.Instructions
	for i := 0; i < len(buf); i += 4 {
		word := binary.NativeEndian.Uint32(buf[i : i+4])
		insns = append(insns, asm.StoreImm(asm.RFP, base+int16(i), int64(int32(word)), asm.Word))
	}
	return append(insns,
		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, int32(base)),
		asm.Mov.Imm(asm.R2, int32(len(msg)+1)),
		asm.FnTracePrintk.Call(),
	)
}

func exit() asm.Instructions {
	return asm.Instructions{
		asm.Mov.Imm(asm.R0, 0).WithSymbol(exitLabel),
		asm.Return(),
	}
}

// RegistryMapSpec returns the spec of the protected file registry map
func RegistryMapSpec(maxEntries uint32) *ebpf.MapSpec {
	if maxEntries == 0 {
		maxEntries = writeprobe.DefaultMaxEntries
	}
	return &ebpf.MapSpec{
		Name:       MapName,
		Type:       ebpf.Hash,
		KeySize:    8, // writeprobe.Key
		ValueSize:  1, // presence marker
		MaxEntries: maxEntries,
	}
}

// CollectionSpec returns the program and the map it references, ready to be loaded
func CollectionSpec(mode writeprobe.Mode, off Offsets, maxEntries uint32) (*ebpf.CollectionSpec, error) {
	insns, err := Instructions(mode, off)
	if err != nil {
		return nil, err
	}
	return &ebpf.CollectionSpec{
		Maps: map[string]*ebpf.MapSpec{
			MapName: RegistryMapSpec(maxEntries),
		},
		Programs: map[string]*ebpf.ProgramSpec{
			ProgramName: {
				Name:         ProgramName,
				Type:         ebpf.Kprobe,
				Instructions: insns,
				License:      License,
			},
		},
	}, nil
}
