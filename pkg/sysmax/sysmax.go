// Package sysmax persists the highest aggregate LC utilization the agent has
// ever observed, so a restart doesn't reset the CPU-quota controller's
// headroom model back to a pessimistic default.
package sysmax

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Load reads the persisted system-max utilization from path. A missing or
// malformed file is not an error: it falls back to cpuCount*100, one fully
// utilized logical core per CPU.
func Load(path string, cpuCount int) int {
	if cpuCount <= 0 {
		cpuCount = runtime.NumCPU()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cpuCount * 100
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return cpuCount * 100
	}
	return v
}

// Save writes lcUtils to path, overwriting any previous value.
func Save(path string, lcUtils int) error {
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", lcUtils)), 0o644); err != nil {
		return fmt.Errorf("sysmax: write %s: %w", path, err)
	}
	return nil
}
