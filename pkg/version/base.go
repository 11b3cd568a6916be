// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

// Package version defines the version of the write probe
package version

// Version is populated at build time with -ldflags "-X github.com/DataDog/vfs-write-probe/pkg/version.Version=..."
var Version string

// Commit is populated with the short commit hash the binary was built from
var Commit string

var versionDefault = "0.1.0-dev"

func init() {
	if Version == "" {
		Version = versionDefault
	}
}
