// Copyright 2025 Flint ML. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go attention backend.
//
// Execution groups are goroutine teams synchronized by a lock-step
// barrier, mirroring how the WGSL kernels run on a GPU. Staging
// budgets come from the environment; see New.
//
// Example:
//
//	backend := cpu.New()
//	o, m, l, err := backend.Forward(q, k, v, attention.Scale(64))
package cpu

import (
	"github.com/flint-ml/flint/attention"
	internalcpu "github.com/flint-ml/flint/internal/backend/cpu"
)

// Backend is the CPU attention backend.
type Backend = internalcpu.CPUBackend

// Compile-time check that Backend implements attention.Backend.
var _ attention.Backend = (*Backend)(nil)

// New creates a CPU backend with the environment's device limits.
// FLINT_SMEM_BYTES and FLINT_GROUP_UNITS override the staging budget
// and group width; malformed overrides are logged and ignored.
func New() *Backend {
	return internalcpu.New()
}
