// Package resource implements the graduated CPU-budget controls applied to
// best-effort containers: CFS CPU quota and LLC cache-way allocation, each
// walked through a shared set of discrete budget levels by pkg/controller.
package resource

import "github.com/ja7ad/nodeguard/pkg/container"

const (
	// LevelFull means the resource is unrestricted.
	LevelFull = -1
	// LevelMin is the most restrictive budget level.
	LevelMin = 0
	// LevelMax is one past the last graduated level; reaching it wraps to
	// LevelFull.
	LevelMax = 20
)

// Resource is a throttleable CPU resource walked through budget levels by a
// controller. Implementations: CPUQuota (CFS bandwidth) and LLCMask (cache
// allocation).
type Resource interface {
	IsMinLevel() bool
	IsFullLevel() bool
	SetLevel(level int)
	IncreaseLevel()
	Budgeting(containers []*container.Record) error
}

// IsMinLevel reports whether level is the most restrictive budget level.
func IsMinLevel(level int) bool { return level == LevelMin }

// IsFullLevel reports whether level means unrestricted.
func IsFullLevel(level int) bool { return level == LevelFull }

// NextLevel returns the level one step less restrictive than level,
// wrapping to LevelFull once LevelMax is reached.
func NextLevel(level int) int {
	level++
	if level == LevelMax {
		level = LevelFull
	}
	return level
}
