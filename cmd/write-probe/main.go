// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package main implements the write-probe binary
package main

import (
	"os"

	"github.com/DataDog/vfs-write-probe/cmd/write-probe/command"
	"github.com/DataDog/vfs-write-probe/cmd/write-probe/subcommands"
	"github.com/DataDog/vfs-write-probe/pkg/util/log"
)

func main() {
	cmd := command.MakeCommand(subcommands.WriteProbeSubcommands())
	err := cmd.Execute()
	log.Flush()
	if err != nil {
		os.Exit(1)
	}
}
