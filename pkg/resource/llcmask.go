package resource

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ja7ad/nodeguard/pkg/container"
)

// llcBitmasks are the cache-way allocation bitmasks, one per budget level,
// each one way wider than the last.
var llcBitmasks = []string{
	"0x1", "0x3", "0x7", "0xf", "0x1f", "0x3f", "0x7f", "0xff",
	"0x1ff", "0x3ff", "0x7ff", "0xfff", "0x1fff", "0x3fff",
	"0x7fff", "0xffff", "0x1ffff", "0x3ffff", "0x7ffff", "0xfffff",
}

// catController is the subset of internal/cat.Controller the LLC resource
// needs: assigning PIDs to a class-of-service and setting its cache mask.
type catController interface {
	AssignPIDs(clos int, pids []int) error
	SetMask(clos int, mask string) error
}

// llcCLOS is the class-of-service slot this agent manages: a single fixed
// CLOS (1) shared by all best-effort containers.
const llcCLOS = 1

// LLCMask throttles best-effort containers' last-level-cache footprint by
// shrinking the set of cache ways their class-of-service may use.
type LLCMask struct {
	level int
	cat   catController
	log   *slog.Logger
}

// NewLLCMask creates an LLC resource at the given initial level (LevelMin
// to start throttled, LevelFull to disable CAT control entirely).
func NewLLCMask(initLevel int, cat catController, log *slog.Logger) *LLCMask {
	return &LLCMask{level: initLevel, cat: cat, log: log}
}

func (l *LLCMask) IsMinLevel() bool  { return IsMinLevel(l.level) }
func (l *LLCMask) IsFullLevel() bool { return IsFullLevel(l.level) }

func (l *LLCMask) SetLevel(level int) { l.level = level }

func (l *LLCMask) IncreaseLevel() { l.level = NextLevel(l.level) }

// Budgeting assigns containers' PIDs to the managed class-of-service and
// sets its cache-way mask to the bitmask for the current level.
func (l *LLCMask) Budgeting(containers []*container.Record) error {
	var pids []int
	var names []string
	for _, con := range containers {
		pids = append(pids, con.PIDs...)
		names = append(names, con.Name)
	}
	if err := l.cat.AssignPIDs(llcCLOS, pids); err != nil {
		return fmt.Errorf("assign pids for clos %d: %w", llcCLOS, err)
	}

	mask := l.maskForLevel()
	if err := l.cat.SetMask(llcCLOS, mask); err != nil {
		return fmt.Errorf("set llc mask: %w", err)
	}
	l.log.Info("set best-effort llc occupancy", "containers", strings.Join(names, ","), "mask", mask)
	return nil
}

func (l *LLCMask) maskForLevel() string {
	if l.IsFullLevel() || l.level >= len(llcBitmasks) {
		return llcBitmasks[len(llcBitmasks)-1]
	}
	return llcBitmasks[l.level]
}
