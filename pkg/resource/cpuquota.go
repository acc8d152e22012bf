package resource

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/ja7ad/nodeguard/pkg/container"
)

const (
	// QuotaDefault disables CFS bandwidth enforcement entirely.
	QuotaDefault = -1
	// QuotaMin is the smallest quota the kernel accepts, the floor applied
	// at the most restrictive budget level.
	QuotaMin = 1000
	// QuotaCore is cpu.cfs_period_us's conventional value: one full core
	// worth of quota per period.
	QuotaCore = 100000
	// QuotaPercent is QuotaCore scaled to a single percentage point of a core.
	QuotaPercent = QuotaCore / 100
	// ShareBE is the cpu.shares value assigned to best-effort containers at
	// first discovery: low enough to always lose a CFS scheduling contest
	// against an LC container.
	ShareBE = 2
	// ShareLC is the cpu.shares value assigned to latency-critical
	// containers at first discovery.
	ShareLC = 200000
)

// cgroupWriter is the subset of internal/cgroupfs.FS the CPU quota
// controller needs, kept as an interface so it can be faked in tests
// without touching a real filesystem.
type cgroupWriter interface {
	ReadPeriod(cid string) int
	WriteQuota(cid string, quota int) error
	WriteShares(cid string, shares int) error
}

// CPUQuota throttles best-effort containers' CFS bandwidth in graduated
// steps sized relative to the highest LC utilization observed on the node.
type CPUQuota struct {
	level          int
	minMarginRatio float64
	quotaMax       float64
	quotaStep      float64
	quota          float64
	cg             cgroupWriter
	log            *slog.Logger
}

// NewCPUQuota creates a quota controller sized from the node's current
// maximum observed LC utilization.
func NewCPUQuota(sysMaxUtil, minMarginRatio float64, cg cgroupWriter, log *slog.Logger) *CPUQuota {
	q := &CPUQuota{
		level:          LevelMin,
		minMarginRatio: minMarginRatio,
		cg:             cg,
		log:            log,
	}
	q.UpdateMaxSysUtil(sysMaxUtil)
	q.update()
	return q
}

// UpdateMaxSysUtil rescales the quota ceiling and step size to a new
// observed maximum LC utilization, called whenever utilization monitoring
// sees a new high-water mark.
func (q *CPUQuota) UpdateMaxSysUtil(lcMaxUtil float64) {
	q.quotaMax = lcMaxUtil * QuotaPercent
	q.quotaStep = q.quotaMax / LevelMax
}

func (q *CPUQuota) update() {
	switch {
	case q.IsFullLevel():
		q.quota = QuotaDefault
	case q.IsMinLevel():
		q.quota = QuotaMin
	default:
		q.quota = float64(q.level) * math.Floor(q.quotaStep)
	}
}

func (q *CPUQuota) IsMinLevel() bool  { return IsMinLevel(q.level) }
func (q *CPUQuota) IsFullLevel() bool { return IsFullLevel(q.level) }

func (q *CPUQuota) SetLevel(level int) {
	q.level = level
	q.update()
}

func (q *CPUQuota) IncreaseLevel() {
	q.level = NextLevel(q.level)
	q.update()
}

func (q *CPUQuota) setQuota(con *container.Record, quota float64) error {
	period := q.cg.ReadPeriod(con.CID)
	rquota := int(quota)
	if period != 0 && quota != QuotaDefault && quota != QuotaMin {
		rquota = int(quota * float64(period) / QuotaCore)
	}
	if err := q.cg.WriteQuota(con.CID, rquota); err != nil {
		return fmt.Errorf("set quota for %s: %w", con.Name, err)
	}
	q.log.Info("set container cpu quota", "container", con.Name, "quota", rquota)
	return nil
}

// SetShare writes the container's cpu.shares, called once at first
// discovery to bias CFS scheduling against best-effort containers.
func (q *CPUQuota) SetShare(con *container.Record, share int) error {
	if err := q.cg.WriteShares(con.CID, share); err != nil {
		return fmt.Errorf("set share for %s: %w", con.Name, err)
	}
	q.log.Info("set container cpu share", "container", con.Name, "share", share)
	return nil
}

// Budgeting applies the controller's current quota level to containers,
// splitting the budget evenly across them unless the level is min or full.
func (q *CPUQuota) Budgeting(containers []*container.Record) error {
	if len(containers) == 0 {
		return nil
	}
	newQ := math.Floor(q.quota / float64(len(containers)))
	for _, con := range containers {
		var err error
		if q.IsMinLevel() || q.IsFullLevel() {
			err = q.setQuota(con, q.quota)
		} else {
			err = q.setQuota(con, newQ)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// DetectMarginExceed reports whether best-effort utilization has eaten into
// the safety margin reserved for LC workloads (exceed), and whether the
// current level is close enough to the margin that it should be held
// rather than relaxed further (hold).
func (q *CPUQuota) DetectMarginExceed(lcUtils, beUtils float64) (exceed, hold bool) {
	margin := QuotaCore * q.minMarginRatio
	exceed = lcUtils == 0 || (lcUtils+beUtils)*QuotaPercent+margin > q.quotaMax
	hold = (lcUtils+beUtils)*QuotaPercent+margin+q.quotaStep >= q.quotaMax
	return exceed, hold
}
