// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2026-present Datadog, Inc.

package kernel

// offsetof(struct pt_regs, di)
const firstArgOffset int16 = 14 * 8
