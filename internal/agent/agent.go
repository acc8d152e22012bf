// Package agent runs the two monitor loops that make up the online agent:
// a fast utilization cycle that throttles CPU quota, and a slower metrics
// cycle that collects platform counters, detects contention, and throttles
// LLC occupancy. Each loop owns its own container map; the only state they
// share is a single interrupt flag and the CPU-quota controller's
// system-max-utilization ceiling, which only the utilization loop mutates.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ja7ad/nodeguard/internal/collector"
	"github.com/ja7ad/nodeguard/internal/discovery"
	"github.com/ja7ad/nodeguard/pkg/container"
	"github.com/ja7ad/nodeguard/pkg/controller"
	"github.com/ja7ad/nodeguard/pkg/fence"
	"github.com/ja7ad/nodeguard/pkg/ioformat"
	"github.com/ja7ad/nodeguard/pkg/metrics"
	"github.com/ja7ad/nodeguard/pkg/resource"
	"github.com/ja7ad/nodeguard/pkg/sysmax"
	"github.com/ja7ad/nodeguard/pkg/system/util"
	"github.com/ja7ad/nodeguard/pkg/types"
	"github.com/ja7ad/nodeguard/pkg/workload"
)

// Config carries every tunable nodeguard exposes as a command line flag.
type Config struct {
	KeyByCID         bool
	CollectMetrics   bool
	Detect           bool
	Control          bool
	Record           bool
	EnableHold       bool
	DisableCAT       bool
	EnablePrometheus bool

	UtilInterval   time.Duration
	MetricInterval time.Duration
	LLCCycles      int
	QuotaCycles    int
	MarginRatio    float64

	CollectorPeriod    int
	CollectorFrequency int
	CollectorCycle     int
	CPUCount           int

	SysMaxFile string
}

// cgroupUsageReader is the subset of internal/cgroupfs.FS the agent needs to
// compute a container's CPU utilization.
type cgroupUsageReader interface {
	ReadUsage(cid string) (uint64, error)
}

// metricsCollector is the subset of internal/collector.Runner the metrics
// loop needs to gather platform counters for this cycle's LC containers.
type metricsCollector interface {
	Collect(ctx context.Context, cgroupPaths []string, period, frequency, cycle, cores int) ([]collector.Sample, error)
}

// Agent wires the container/resource/controller/fence packages into the two
// scheduled monitor loops.
type Agent struct {
	cfg Config
	log *slog.Logger

	ws     *workload.Set
	thresh map[string][]fence.Bin
	tdp    map[string]*fence.ThermalRow

	discoverer discovery.Discoverer
	cgroup     cgroupUsageReader
	collector  metricsCollector

	cpuQuota *resource.CPUQuota
	llcMask  *resource.LLCMask
	quotaCtl *controller.NaiveController
	llcCtl   *controller.NaiveController

	exporter      *metrics.Exporter
	utilWriter    io.Writer
	metricsWriter io.Writer

	sysMaxUtil int

	utilRecords   map[string]*container.Record
	metricRecords map[string]*container.Record

	interrupt atomic.Bool
}

// New builds an Agent. Any of cpuQuota/llcMask/exporter/utilWriter/
// metricsWriter may be nil when the corresponding feature (Control, Record,
// EnablePrometheus) is turned off in cfg.
func New(
	cfg Config,
	log *slog.Logger,
	ws *workload.Set,
	thresh map[string][]fence.Bin,
	tdp map[string]*fence.ThermalRow,
	discoverer discovery.Discoverer,
	cgroup cgroupUsageReader,
	coll metricsCollector,
	cpuQuota *resource.CPUQuota,
	llcMask *resource.LLCMask,
	exporter *metrics.Exporter,
	utilWriter, metricsWriter io.Writer,
	sysMaxUtil int,
) *Agent {
	a := &Agent{
		cfg:           cfg,
		log:           log,
		ws:            ws,
		thresh:        thresh,
		tdp:           tdp,
		discoverer:    discoverer,
		cgroup:        cgroup,
		collector:     coll,
		cpuQuota:      cpuQuota,
		llcMask:       llcMask,
		exporter:      exporter,
		utilWriter:    utilWriter,
		metricsWriter: metricsWriter,
		sysMaxUtil:    sysMaxUtil,
		utilRecords:   make(map[string]*container.Record),
		metricRecords: make(map[string]*container.Record),
	}
	if cfg.Control {
		a.quotaCtl = controller.New(cpuQuota, cfg.QuotaCycles)
		if !cfg.DisableCAT {
			a.llcCtl = controller.New(llcMask, cfg.LLCCycles)
		}
	}
	return a
}

// Interrupt requests both loops stop at the top of their next cycle.
func (a *Agent) Interrupt() { a.interrupt.Store(true) }

func (a *Agent) interrupted() bool { return a.interrupt.Load() }

// key returns the lookup key for a discovered container, honoring the
// --key-cid flag.
func (a *Agent) key(c discovery.Container) string {
	if a.cfg.KeyByCID {
		return c.ID
	}
	return c.Name
}

// Monitor runs fn on a drift-free schedule every interval until Interrupt is
// called, recovering from any panic inside fn so one bad cycle doesn't take
// the whole loop down silently.
func (a *Agent) Monitor(fn func() error, interval time.Duration) {
	next := time.Now()
	for !a.interrupted() {
		a.runCycle(fn)
		next = next.Add(interval)
		if delta := time.Until(next); delta > 0 {
			time.Sleep(delta)
		}
	}
}

func (a *Agent) runCycle(fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("monitor cycle panicked", "panic", r, "stack", string(debug.Stack()))
			os.Exit(1)
		}
	}()
	if err := fn(); err != nil {
		a.log.Warn("monitor cycle failed", "error", err)
	}
}

// RunUtilCycle is one tick of the CPU-utilization monitor: discover
// containers, refresh each one's utilization from its cgroup cpuacct usage,
// assign first-sighting cpu.shares, record util.csv rows, and dispatch the
// CPU-quota controller based on margin-exceed/hold.
func (a *Agent) RunUtilCycle(ctx context.Context) error {
	containers, err := a.discoverer.List(ctx)
	if err != nil {
		return fmt.Errorf("agent: discover containers: %w", err)
	}
	removeFinished(a.utilRecords, containers)

	var lcUtils, beUtils float64
	var bes []*container.Record
	findBE := false
	now := time.Now()

	for _, c := range containers {
		key := a.key(c)
		rec, existed := a.utilRecords[c.ID]
		if !existed {
			rec = container.NewRecord(c.ID, c.Name, classFor(a.ws, key), c.PIDs, nil, nil)
			a.utilRecords[c.ID] = rec
			if a.cfg.Control {
				if a.ws.IsBE(key) {
					if err := a.cpuQuota.Budgeting([]*container.Record{rec}); err != nil {
						a.log.Warn("initial budgeting failed", "container", rec.Name, "error", err)
					}
					if err := a.cpuQuota.SetShare(rec, resource.ShareBE); err != nil {
						a.log.Warn("set share failed", "container", rec.Name, "error", err)
					}
				} else {
					if err := a.cpuQuota.SetShare(rec, resource.ShareLC); err != nil {
						a.log.Warn("set share failed", "container", rec.Name, "error", err)
					}
				}
			}
		} else {
			rec.UpdatePIDs(c.PIDs)
		}

		a.updateUtilization(rec, now)

		if a.cfg.Record && a.utilWriter != nil {
			fmt.Fprintf(a.utilWriter, "%s,%s,%s,%g\n", now.Format(time.RFC3339), rec.CID, rec.Name, rec.Utilization)
		}

		if a.ws.IsLC(key) {
			lcUtils += rec.Utilization
		}
		if a.ws.IsBE(key) {
			findBE = true
			beUtils += rec.Utilization
			bes = append(bes, rec)
		}
	}

	if a.cfg.Record && a.utilWriter != nil {
		fmt.Fprintf(a.utilWriter, "%s,,lcs,%g\n", now.Format(time.RFC3339), lcUtils)
		if loadavg1m, err := readLoadAvg1m(); err != nil {
			a.log.Warn("read loadavg failed", "error", err)
		} else {
			fmt.Fprintf(a.utilWriter, "%s,,loadavg1m,%g\n", now.Format(time.RFC3339), loadavg1m)
		}
	}

	if lcUtils > float64(a.sysMaxUtil) {
		a.sysMaxUtil = int(lcUtils)
		if err := sysmax.Save(a.cfg.SysMaxFile, a.sysMaxUtil); err != nil {
			a.log.Warn("persist sysmax failed", "error", err)
		}
		if a.cfg.Control {
			a.cpuQuota.UpdateMaxSysUtil(lcUtils)
		}
	}

	if findBE && a.cfg.Control {
		exceed, hold := a.cpuQuota.DetectMarginExceed(lcUtils, beUtils)
		if !a.cfg.EnableHold {
			hold = false
		}
		if err := a.quotaCtl.Update(bes, exceed, hold); err != nil {
			return fmt.Errorf("agent: quota controller update: %w", err)
		}
	}
	return nil
}

func (a *Agent) updateUtilization(rec *container.Record, now time.Time) {
	usage, err := a.cgroup.ReadUsage(rec.CID)
	if err != nil {
		a.log.Warn("read cgroup usage failed", "container", rec.Name, "error", err)
		return
	}
	nowNs := now.UnixNano()
	if rec.CPUUsageNs != 0 {
		deltaUsage := util.DeltaU64(usage, rec.CPUUsageNs)
		deltaTime := float64(nowNs - rec.TimestampNs)
		rec.Utilization = util.SafeDiv(float64(deltaUsage)*100, deltaTime)
	}
	rec.CPUUsageNs = usage
	rec.TimestampNs = nowNs
}

// readLoadAvg1m reads the 1-minute load average, the first field of
// /proc/loadavg.
func readLoadAvg1m() (float64, error) {
	b, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, fmt.Errorf("read /proc/loadavg: %w", err)
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, fmt.Errorf("malformed /proc/loadavg: %q", string(b))
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse /proc/loadavg: %w", err)
	}
	return v, nil
}

func classFor(ws *workload.Set, key string) container.Class {
	if ws.IsLC(key) {
		return container.LC
	}
	return container.BE
}

func removeFinished(records map[string]*container.Record, containers []discovery.Container) {
	live := make(map[string]struct{}, len(containers))
	for _, c := range containers {
		live[c.ID] = struct{}{}
	}
	for cid := range records {
		if _, ok := live[cid]; !ok {
			delete(records, cid)
		}
	}
}

// RunMetricCycle is one tick of the platform-metrics monitor: discover
// containers, run the performance-counter collector over every LC
// container's perf_event cgroup, derive CPI/MPKI/NF, detect contention, and
// dispatch the LLC controller.
func (a *Agent) RunMetricCycle(ctx context.Context) error {
	containers, err := a.discoverer.List(ctx)
	if err != nil {
		return fmt.Errorf("agent: discover containers: %w", err)
	}
	removeFinished(a.metricRecords, containers)

	var cgroupPaths []string
	var newBEs []*container.Record

	for _, c := range containers {
		key := a.key(c)
		rec, existed := a.metricRecords[c.ID]
		if existed {
			rec.UpdatePIDs(c.PIDs)
		} else {
			rec = container.NewRecord(c.ID, c.Name, classFor(a.ws, key), c.PIDs, a.thresh[key], a.tdp[key])
			a.metricRecords[c.ID] = rec
			if a.ws.IsBE(key) && a.cfg.Control && !a.cfg.DisableCAT {
				newBEs = append(newBEs, rec)
			}
		}
		a.updateUtilization(rec, time.Now())
		if a.ws.IsLC(key) {
			cgroupPaths = append(cgroupPaths, ioformat.CgroupPerfEventDir+c.ID)
		}
	}

	if len(newBEs) > 0 {
		if err := a.llcMask.Budgeting(newBEs); err != nil {
			a.log.Warn("initial llc budgeting failed", "error", err)
		}
	}

	if len(cgroupPaths) == 0 {
		return nil
	}

	samples, err := a.collector.Collect(ctx, cgroupPaths,
		a.cfg.CollectorPeriod, a.cfg.CollectorFrequency, a.cfg.CollectorCycle, a.cfg.CPUCount)
	if err != nil {
		return fmt.Errorf("agent: collect metrics: %w", err)
	}

	return a.applySamples(samples)
}

func (a *Agent) applySamples(samples []collector.Sample) error {
	now := time.Now()
	byCID := make(map[string][]collector.Sample, len(samples))
	for _, s := range samples {
		byCID[s.CID] = append(byCID[s.CID], s)
	}

	contention := map[container.Contention]bool{container.LLC: false, container.MemBW: false, container.Unknown: false}
	contended := make(map[*container.Record]map[container.Contention]bool)

	var bes []*container.Record
	findBE := false

	for cid, rec := range a.metricRecords {
		key := rec.CID
		if !a.cfg.KeyByCID {
			key = rec.Name
		}

		if a.ws.IsBE(key) {
			findBE = true
			bes = append(bes, rec)
			continue
		}
		if !a.ws.IsLC(key) {
			continue
		}

		for _, s := range byCID[cid] {
			applySample(&rec.Metrics, s)
		}
		rec.Metrics.Time = now
		if rec.Metrics.Instructions == 0 {
			rec.Metrics.CPI = 0
			rec.Metrics.MPKI = 0
		} else {
			rec.Metrics.CPI = float64(rec.Metrics.Cycles) / float64(rec.Metrics.Instructions)
			rec.Metrics.MPKI = float64(rec.Metrics.LLCMiss) * 1000 / float64(rec.Metrics.Instructions)
		}
		if rec.Utilization == 0 {
			rec.Metrics.NF = 0
		} else {
			rec.Metrics.NF = int(float64(rec.Metrics.Cycles) / a.cfg.MetricInterval.Seconds() / 10000 / rec.Utilization)
		}

		if a.cfg.Detect {
			rec.UpdateMetricsHistory()
		}

		if a.cfg.Record && a.metricsWriter != nil {
			fmt.Fprint(a.metricsWriter, rec.String())
		}
		if a.cfg.EnablePrometheus && a.exporter != nil {
			a.exporter.Send(metrics.Sample{
				ContainerName:      rec.Name,
				CPUUsagePercentage: rec.Utilization,
				UnhaltedCycles:     float64(rec.Metrics.Cycles),
				LLCMiss:            float64(rec.Metrics.LLCMiss),
				Instructions:       float64(rec.Metrics.Instructions),
				AverageFrequency:   float64(rec.Metrics.NF),
				MemoryBandwidth:    rec.Metrics.MBL + rec.Metrics.MBR,
				LLCOccupancy:       float64(rec.Metrics.LLCOccupancy),
				LLCOccupancyBytes:  0, // never converted to bytes upstream either
			})
		}

		if !a.cfg.Detect {
			continue
		}
		found := false
		verdict := map[container.Contention]bool{container.LLC: false, container.MemBW: false, container.Unknown: false}
		if c, ok := rec.DetectBin(); ok {
			found = true
			verdict[c] = true
			contention[c] = true
		}
		if c, ok := rec.DetectThermal(); ok {
			found = true
			verdict[c] = true
			contention[c] = true
		}
		if found {
			contended[rec] = verdict
		}
		if a.cfg.EnablePrometheus && a.exporter != nil {
			a.exporter.SendContention(rec.Name, verdict[container.LLC], verdict[container.MemBW], verdict[container.TDP])
		}
	}

	if a.cfg.Detect {
		for rec, verdict := range contended {
			for kind, happened := range verdict {
				if !happened || kind == container.Unknown {
					continue
				}
				suspect := attributeAggressor(a.metricRecords, rec, kind)
				a.log.Info("contention detected", "type", kind, "container", rec.Name, "suspect", suspect,
					"llc_occupancy", types.Bytes(rec.Metrics.LLCOccupancy).Humanized())
			}
		}
	}

	if findBE && a.cfg.Control && a.llcCtl != nil {
		if err := a.llcCtl.Update(bes, contention[container.LLC], false); err != nil {
			return fmt.Errorf("agent: llc controller update: %w", err)
		}
	}
	return nil
}

func applySample(m *container.Metrics, s collector.Sample) {
	switch s.Metric {
	case ioformat.MetricCycles:
		m.Cycles = uint64(s.Value)
	case ioformat.MetricInstructions:
		m.Instructions = uint64(s.Value)
	case ioformat.MetricLLCMisses:
		m.LLCMiss = uint64(s.Value)
	case ioformat.MetricLLCOccupancy:
		m.LLCOccupancy = uint64(s.Value)
	case ioformat.MetricMemBWLocal:
		m.MBL = s.Value
	case ioformat.MetricMemBWRemote:
		m.MBR = s.Value
	}
}

// contentionMemBWCompare is deliberately NOT container.MemBW: aggressor
// attribution compares the contention kind against a misspelled constant,
// so the bandwidth branch of suspect selection never fires in practice.
// Kept here, unreachable by construction, rather than silently fixed.
const contentionMemBWCompare container.Contention = -1

// attributeAggressor ranks every other container by the delta metric for
// the given contention kind and returns the name of the one with the
// largest positive deviation, or "unknown" if none exceeds zero.
func attributeAggressor(all map[string]*container.Record, contended *container.Record, kind container.Contention) string {
	maxDelta := math.Inf(-1)
	suspect := "unknown"
	for cid, rec := range all {
		if cid == contended.CID {
			continue
		}
		var delta float64
		switch kind {
		case container.LLC:
			delta = rec.LLCOccupancyDelta()
		case contentionMemBWCompare:
			delta = rec.LatestMBT()
		case container.TDP:
			delta = rec.FreqDelta()
		default:
			delta = 0
		}
		if delta > 0 && delta > maxDelta {
			maxDelta = delta
			suspect = rec.Name
		}
	}
	return suspect
}

// WaitGroup-coordinated shutdown: Run starts both configured loops and
// blocks until Interrupt is called and both have drained their current
// cycle.
func (a *Agent) Run(ctx context.Context, collectMetrics bool) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Monitor(func() error { return a.RunUtilCycle(ctx) }, a.cfg.UtilInterval)
	}()

	if collectMetrics {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Monitor(func() error { return a.RunMetricCycle(ctx) }, a.cfg.MetricInterval)
		}()
	}

	wg.Wait()
}
