// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

//go:build !amd64 && !arm64

package kernel

// kprobe argument access is not wired for this architecture
const firstArgOffset int16 = -1
