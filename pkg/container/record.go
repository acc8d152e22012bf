package container

import (
	"fmt"
	"time"

	"github.com/ja7ad/nodeguard/pkg/fence"
)

// Metrics is one cycle's platform-counter sample for a container, plus the
// values derived from it (CPI, MPKI, NF).
type Metrics struct {
	Time         time.Time
	Cycles       uint64
	Instructions uint64
	LLCMiss      uint64
	LLCOccupancy uint64
	MBL          float64
	MBR          float64
	CPI          float64
	MPKI         float64
	NF           int
}

const defaultHistoryDepth = 5

// Record is the mutable per-container state one monitor loop owns: its PID
// set, utilization, latest metrics, bounded metrics history, and the
// threshold bins/thermal row it is evaluated against. A Record belongs to
// exactly one loop's map; the two loops never share or lock a Record.
type Record struct {
	CID   string
	Name  string
	Class Class
	PIDs  []int

	CPUUsageNs  uint64
	TimestampNs int64
	Utilization float64

	Metrics Metrics
	Bins    []fence.Bin
	Thermal *fence.ThermalRow

	history      []Metrics
	historyDepth int // H = depth+1, the bounded history capacity
}

// NewRecord creates a container record with the default history depth (5,
// giving a 6-entry history window).
func NewRecord(cid, name string, class Class, pids []int, bins []fence.Bin, thermal *fence.ThermalRow) *Record {
	return &Record{
		CID:          cid,
		Name:         name,
		Class:        class,
		PIDs:         pids,
		Bins:         bins,
		Thermal:      thermal,
		historyDepth: defaultHistoryDepth + 1,
	}
}

// UpdatePIDs replaces the container's known process IDs, called each cycle
// after container discovery.
func (r *Record) UpdatePIDs(pids []int) {
	r.PIDs = pids
}

// UpdateMetricsHistory appends the current metrics sample to the bounded
// history, dropping the oldest entry once historyDepth is exceeded. The
// history never grows past its capacity.
func (r *Record) UpdateMetricsHistory() {
	r.history = append(r.history, r.Metrics)
	if len(r.history) > r.historyDepth {
		r.history = r.history[len(r.history)-r.historyDepth:]
	}
}

// historyDelta returns sel(latest) minus the mean of sel over every
// preceding entry. With zero history it returns 0; with exactly one entry
// (no preceding samples to average) it returns that entry's own value.
func (r *Record) historyDelta(sel func(Metrics) float64) float64 {
	n := len(r.history)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sel(r.history[0])
	}
	sum := 0.0
	for _, m := range r.history[:n-1] {
		sum += sel(m)
	}
	mean := sum / float64(n-1)
	return sel(r.history[n-1]) - mean
}

// LLCOccupancyDelta returns the latest LLC occupancy's deviation from the
// mean of its preceding history, used to rank aggressor candidates during
// LLC contention.
func (r *Record) LLCOccupancyDelta() float64 {
	return r.historyDelta(func(m Metrics) float64 { return float64(m.LLCOccupancy) })
}

// FreqDelta returns the latest normalized-frequency deviation, used to rank
// aggressor candidates during thermal/frequency contention.
func (r *Record) FreqDelta() float64 {
	return r.historyDelta(func(m Metrics) float64 { return float64(m.NF) })
}

// LatestMBT returns the latest total (local+remote) memory bandwidth
// sample, used to rank aggressor candidates during bandwidth contention.
func (r *Record) LatestMBT() float64 {
	return r.Metrics.MBL + r.Metrics.MBR
}

// detectInBin evaluates one threshold bin against the current metrics, in
// priority order: CPI elevation first, then LLC-miss rate, then bandwidth
// collapse, else an unattributed performance impact.
func detectInBin(m Metrics, b fence.Bin) (Contention, bool) {
	if m.CPI <= b.CPIThresh {
		return 0, false
	}
	if m.MPKI > b.MPKIThresh {
		return LLC, true
	}
	if m.MBL+m.MBR < b.MBThresh {
		return MemBW, true
	}
	return Unknown, true
}

// DetectBin finds the utilization bin matching the container's current
// utilization and evaluates it. A container with no bins (BE workloads,
// or an LC workload the threshold model never covered) never detects.
func (r *Record) DetectBin() (Contention, bool) {
	if len(r.Bins) == 0 {
		return 0, false
	}
	for i, b := range r.Bins {
		if r.Utilization < b.UtilStart {
			if i == 0 {
				return 0, false
			}
			return detectInBin(r.Metrics, r.Bins[i-1])
		}
		if r.Utilization >= b.UtilStart {
			if r.Utilization < b.UtilEnd || i == len(r.Bins)-1 {
				return detectInBin(r.Metrics, b)
			}
		}
	}
	return 0, false
}

// DetectThermal flags TDP/frequency-floor contention: utilization at or
// above the workload's thermal threshold while its normalized frequency has
// fallen below the floor observed in the training data.
func (r *Record) DetectThermal() (Contention, bool) {
	if r.Thermal == nil {
		return 0, false
	}
	if r.Utilization >= r.Thermal.Util && float64(r.Metrics.NF) < r.Thermal.Bar {
		return TDP, true
	}
	return 0, false
}

// String renders the current metrics as one metrics.csv row.
func (r *Record) String() string {
	return fmt.Sprintf("%s,%s,%s,%d,%d,%g,%g,%d,%d,%g,%d,%g,%g\n",
		r.Metrics.Time.Format(time.RFC3339),
		r.CID, r.Name,
		r.Metrics.Instructions, r.Metrics.Cycles,
		r.Metrics.CPI, r.Metrics.MPKI,
		r.Metrics.LLCMiss, r.Metrics.NF,
		r.Utilization, r.Metrics.LLCOccupancy,
		r.Metrics.MBL, r.Metrics.MBR)
}
