// Package builder is the offline counterpart to the online agent: it turns
// a recorded metrics.csv plus a workload configuration into the per-bin
// anomaly threshold model (thresh.csv, tdp_thresh.csv) and the persisted
// system-max file the agent loads back at startup, the way analyze.py's
// process_by_partition/process_lc_max do.
package builder

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ja7ad/nodeguard/pkg/fence"
)

// MetricRow is one decoded row of a recorded metrics.csv.
type MetricRow struct {
	CID   string
	CName string
	Util  float64
	CPI   float64
	MPKI  float64
	MBL   float64
	MBR   float64
	NF    float64
}

// Workload describes one LC container's requested CPU count, the unit the
// utilization bins are partitioned against.
type Workload struct {
	CID   string
	CName string
	CPUs  int
}

// Output is everything Build produces for one workload.
type Output struct {
	CID   string
	CName string
	Bins  []fence.Bin
	TDP   *fence.ThermalRow
}

// PartitionUtilization returns the utilization bin boundaries for a workload
// requesting cpuCount CPUs, stepping by step utilization points and spanning
// [cpuCount*50, (cpuCount+1)*100), matching partition_utilization.
func PartitionUtilization(cpuCount int, step float64) []float64 {
	lower := float64(cpuCount) * 50
	upper := float64(cpuCount+1) * 100
	var bars []float64
	for v := lower; v < upper; v += step {
		bars = append(bars, v)
	}
	return bars
}

// Build computes the threshold model for every workload present in rows,
// using each workload's requested CPU count from workloads to partition its
// utilization bins.
func Build(workloads []Workload, rows []MetricRow, cfg fence.Config, strategy fence.Strategy) ([]Output, error) {
	cpusByCID := make(map[string]int, len(workloads))
	namesByCID := make(map[string]string, len(workloads))
	for _, w := range workloads {
		cpusByCID[w.CID] = w.CPUs
		namesByCID[w.CID] = w.CName
	}

	byCID := make(map[string][]MetricRow)
	order := make([]string, 0)
	for _, r := range rows {
		if _, ok := byCID[r.CID]; !ok {
			order = append(order, r.CID)
		}
		byCID[r.CID] = append(byCID[r.CID], r)
	}

	out := make([]Output, 0, len(order))
	for _, cid := range order {
		cpus, ok := cpusByCID[cid]
		if !ok {
			continue
		}
		jdata := byCID[cid]
		cname := namesByCID[cid]
		if cname == "" && len(jdata) > 0 {
			cname = jdata[0].CName
		}

		o := Output{CID: cid, CName: cname}
		o.TDP = buildThermalRow(jdata, cpus)

		bounds := PartitionUtilization(cpus, 50)
		for i, lower := range bounds {
			higher := lower + 50
			if i != len(bounds)-1 {
				higher = bounds[i+1]
			}
			bin, ok := buildBin(jdata, lower, higher, cfg, strategy)
			if !ok {
				continue
			}
			o.Bins = append(o.Bins, bin)
		}
		out = append(out, o)
	}
	return out, nil
}

func buildBin(jdata []MetricRow, lower, higher float64, cfg fence.Config, strategy fence.Strategy) (fence.Bin, bool) {
	var cpi, mpki, mb []float64
	for _, r := range jdata {
		if r.Util < lower || r.Util > higher {
			continue
		}
		cpi = append(cpi, r.CPI)
		mpki = append(mpki, r.MPKI)
		mb = append(mb, r.MBL+r.MBR)
	}
	if len(cpi) == 0 {
		return fence.Bin{}, false
	}
	return fence.Bin{
		UtilStart:  lower,
		UtilEnd:    higher,
		CPIThresh:  fence.Estimate(cpi, true, strategy, cfg),
		MPKIThresh: fence.Estimate(mpki, true, strategy, cfg),
		MBThresh:   fence.Estimate(mb, false, strategy, cfg),
	}, true
}

// buildThermalRow fits a thermal threshold from the rows at or above 95% of
// the workload's full CPU allotment, matching process_by_partition's
// tdp_data slice and stats.norm.fit call.
func buildThermalRow(jdata []MetricRow, cpus int) *fence.ThermalRow {
	utilThresh := float64(cpus) * 100 * 0.95
	var freq []float64
	for _, r := range jdata {
		if r.Util >= utilThresh {
			freq = append(freq, r.NF)
		}
	}
	if len(freq) == 0 {
		return nil
	}

	// stat.MeanStdDev is the unbiased (n-1) estimator; norm.fit's MLE divides
	// by n. The gap shrinks as len(freq) grows and stays within the fence's
	// threshold tolerance.
	mean, std := stat.MeanStdDev(freq, nil)
	fbar := mean - 3*std
	minFreq := freq[0]
	for _, f := range freq {
		if f < minFreq {
			minFreq = f
		}
	}
	if minFreq < fbar {
		fbar = minFreq
	}

	return &fence.ThermalRow{
		Util: utilThresh,
		Mean: mean,
		Std:  std,
		Bar:  fbar,
	}
}

// MaxLCUtilization returns the highest of the aggregate LC utilization
// values read from util.csv's "lcs" rows (the caller does the filtering),
// truncated to an integer, matching process_lc_max.
func MaxLCUtilization(lcsUtils []float64) (int, error) {
	if len(lcsUtils) == 0 {
		return 0, fmt.Errorf("builder: no lcs utilization rows")
	}
	sorted := append([]float64(nil), lcsUtils...)
	sort.Float64s(sorted)
	return int(sorted[len(sorted)-1]), nil
}
