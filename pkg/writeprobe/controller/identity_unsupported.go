// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

//go:build !linux

package controller

import (
	"errors"

	"github.com/DataDog/vfs-write-probe/pkg/writeprobe"
)

// ErrNotImplemented is returned on platforms where kernel file identities are unknown
var ErrNotImplemented = errors.New("file identities are only available on linux")

// IdentityFromPath is not supported on this platform
func IdentityFromPath(string) (writeprobe.FileIdentity, error) {
	return writeprobe.FileIdentity{}, ErrNotImplemented
}
