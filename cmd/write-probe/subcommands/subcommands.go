// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package subcommands holds the subcommands for the write-probe command
package subcommands

import (
	"github.com/DataDog/vfs-write-probe/cmd/write-probe/command"
	"github.com/DataDog/vfs-write-probe/cmd/write-probe/subcommands/key"
	"github.com/DataDog/vfs-write-probe/cmd/write-probe/subcommands/loadgen"
	"github.com/DataDog/vfs-write-probe/cmd/write-probe/subcommands/registry"
	"github.com/DataDog/vfs-write-probe/cmd/write-probe/subcommands/run"
	"github.com/DataDog/vfs-write-probe/cmd/write-probe/subcommands/version"
)

// WriteProbeSubcommands returns all subcommands for the write-probe command
func WriteProbeSubcommands() []command.SubcommandFactory {
	return []command.SubcommandFactory{
		run.Commands,
		registry.Commands,
		key.Commands,
		loadgen.Commands,
		version.Commands,
	}
}
