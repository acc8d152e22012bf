// Package ioformat centralizes the on-disk file names and CSV header rows
// the agent and its offline threshold builder share, so the two stay in
// lockstep the way eris.py and analyze.py do through shared string literals.
package ioformat

const (
	// UtilFile is the utilization-cycle record, one row per container per
	// utilization-monitor tick plus per-cycle lcs/loadavg1m summary rows.
	UtilFile = "util.csv"
	// MetricsFile is the platform-metrics record, one row per LC container
	// per metrics-monitor tick.
	MetricsFile = "metrics.csv"
	// ThreshFile is the per-bin anomaly threshold model built offline.
	ThreshFile = "thresh.csv"
	// TDPThreshFile is the per-workload thermal threshold model built
	// offline.
	TDPThreshFile = "tdp_thresh.csv"
	// SysMaxFile persists the highest observed aggregate LC utilization
	// across agent restarts.
	SysMaxFile = "lcmax.txt"
)

// Header rows, newline-terminated, written verbatim as the first line of
// each CSV file below.
const (
	UtilHeader      = "TIME,CID,CNAME,UTIL\n"
	MetricsHeader   = "TIME,CID,CNAME,INST,CYC,CPI,L3MPKI,L3MISS,NF,UTIL,L3OCC,MBL,MBR\n"
	ThreshHeader    = "CID,CNAME,UTIL_START,UTIL_END,CPI_THRESH,MPKI_THRESH,MB_THRESH\n"
	TDPThreshHeader = "CID,CNAME,UTIL,MEAN,STD,BAR\n"
)

// Metric names as reported by the performance-counter collector's
// tab-separated output, matched against the second field of each line.
const (
	MetricCycles          = "cycles"
	MetricInstructions    = "instructions"
	MetricLLCMisses       = "LLC misses"
	MetricLLCOccupancy    = "LLC occupancy"
	MetricMemBWLocal      = "Memory bandwidth local"
	MetricMemBWRemote     = "Memory bandwidth remote"
)

// CgroupPerfEventDir is the cgroup path prefix the metrics loop hands to the
// collector for each LC container's perf_event cgroup.
const CgroupPerfEventDir = "/sys/fs/cgroup/perf_event/docker/"
