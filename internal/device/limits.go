// Package device describes the execution substrate capabilities the
// tile planner sizes against: the fast staging-memory budget and the
// number of concurrent execution units one group may use.
package device

import (
	"fmt"
	"os"
	"strconv"
)

// Environment overrides for the detected limits.
const (
	envSharedMemory = "FLINT_SMEM_BYTES"
	envGroupUnits   = "FLINT_GROUP_UNITS"
)

// Limits captures the per-group hardware budget the kernels tile
// against. These come from the environment or the device, not from
// user-facing flags.
type Limits struct {
	SharedMemoryBytes int // Staging-memory budget per execution group.
	MaxGroupUnits     int // Concurrent execution units per group.
}

// Default returns limits modelling a typical on-chip memory budget:
// 64 KiB of staging memory and 256 units per group.
func Default() Limits {
	return Limits{
		SharedMemoryBytes: 64 * 1024,
		MaxGroupUnits:     256,
	}
}

// WebGPUMinimum returns the limits every WebGPU implementation must
// support: 16 KiB of workgroup storage and 256 invocations per
// workgroup.
func WebGPUMinimum() Limits {
	return Limits{
		SharedMemoryBytes: 16 * 1024,
		MaxGroupUnits:     256,
	}
}

// FromEnv returns Default overridden by FLINT_SMEM_BYTES and
// FLINT_GROUP_UNITS if set.
func FromEnv() (Limits, error) {
	lim := Default()

	if v := os.Getenv(envSharedMemory); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Limits{}, fmt.Errorf("invalid %s: %q", envSharedMemory, v)
		}
		lim.SharedMemoryBytes = n
	}

	if v := os.Getenv(envGroupUnits); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Limits{}, fmt.Errorf("invalid %s: %q", envGroupUnits, v)
		}
		lim.MaxGroupUnits = n
	}

	if err := lim.Validate(); err != nil {
		return Limits{}, err
	}
	return lim, nil
}

// Validate checks that the limits are usable.
func (l Limits) Validate() error {
	if l.SharedMemoryBytes <= 0 {
		return fmt.Errorf("invalid shared memory budget: %d (must be positive)", l.SharedMemoryBytes)
	}
	if l.MaxGroupUnits <= 0 {
		return fmt.Errorf("invalid group unit limit: %d (must be positive)", l.MaxGroupUnits)
	}
	return nil
}
