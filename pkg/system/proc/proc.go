//go:build linux

// Package proc holds the one /proc fact the agent needs directly: whether a
// PID reported by container discovery is still alive. Per-PID CPU/IO/RSS
// accounting lives in internal/cgroupfs instead, sourced from cgroup files
// rather than /proc/<pid>/stat deltas.
package proc

import (
	"fmt"
	"os"
)

// Exists reports whether a given PID currently exists in /proc.
// It simply checks if /proc/<pid> is a valid directory.
func Exists(pid int) bool {
	_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
	return err == nil
}
