//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ja7ad/nodeguard/internal/agent"
	"github.com/ja7ad/nodeguard/internal/cat"
	"github.com/ja7ad/nodeguard/internal/cgroupfs"
	"github.com/ja7ad/nodeguard/internal/collector"
	"github.com/ja7ad/nodeguard/internal/discovery"
	"github.com/ja7ad/nodeguard/pkg/builder"
	"github.com/ja7ad/nodeguard/pkg/config"
	"github.com/ja7ad/nodeguard/pkg/fence"
	"github.com/ja7ad/nodeguard/pkg/ioformat"
	"github.com/ja7ad/nodeguard/pkg/metrics"
	"github.com/ja7ad/nodeguard/pkg/resource"
	"github.com/ja7ad/nodeguard/pkg/sysmax"
	"github.com/ja7ad/nodeguard/pkg/system/cgroup"
	"github.com/ja7ad/nodeguard/pkg/workload"
)

type opts struct {
	verbose          bool
	collectMetrics   bool
	detect           bool
	control          bool
	record           bool
	keyByCID         bool
	enableHold       bool
	disableCAT       bool
	enablePrometheus bool

	utilInterval   int
	metricInterval int
	llcCycles      int
	quotaCycles    int
	marginRatio    float64
	threshFile     string
	configFile     string
	prometheusAddr string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "nodeguard workload_conf_file",
		Short: "Node-local CPU-contention monitor and best-effort throttling agent",
		Long: `nodeguard watches container CPU utilization and platform performance
counters, detects resource contention between latency-critical and
best-effort containers, and throttles best-effort CPU/cache usage to
protect latency-critical workloads.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o, args[0])
		},
	}

	flags := root.Flags()
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "increase output verbosity")
	flags.BoolVarP(&o.collectMetrics, "collect-metrics", "g", false, "collect platform performance metrics (CPI, MPKI, etc)")
	flags.BoolVarP(&o.detect, "detect", "d", false, "detect resource contention between containers")
	flags.BoolVarP(&o.control, "control", "c", false, "regulate best-effort task resource usage")
	flags.BoolVarP(&o.record, "record", "r", false, "record container CPU utilization and platform metrics to csv")
	flags.BoolVarP(&o.keyByCID, "key-cid", "i", false, "use container id in workload configuration file as key")
	flags.BoolVarP(&o.enableHold, "enable-hold", "e", false, "hold resource usage at current level near the throttle threshold")
	flags.BoolVarP(&o.disableCAT, "disable-cat", "n", false, "disable CAT control during resource regulation")
	flags.BoolVarP(&o.enablePrometheus, "enable-prometheus", "p", false, "send metrics to prometheus")
	flags.IntVarP(&o.utilInterval, "util-interval", "u", 2, "CPU utilization monitor interval (seconds)")
	flags.IntVarP(&o.metricInterval, "metric-interval", "m", 20, "platform metrics monitor interval (seconds)")
	flags.IntVarP(&o.llcCycles, "llc-cycles", "l", 6, "quiet-cycle count before the LLC controller relaxes")
	flags.IntVarP(&o.quotaCycles, "quota-cycles", "q", 7, "quiet-cycle count before the CPU quota controller relaxes")
	flags.Float64VarP(&o.marginRatio, "margin-ratio", "k", 0.5, "margin ratio per logical processor used in CPU cycle regulation")
	flags.StringVarP(&o.threshFile, "thresh-file", "t", "", "threshold model file built by nodeguard-analyze")
	flags.StringVar(&o.configFile, "config", "", "optional TOML file of flag defaults")
	flags.StringVar(&o.prometheusAddr, "prometheus-addr", ":8080", "address the prometheus exporter listens on")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts, workloadConfFile string) error {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	runID := uuid.New()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With("run_id", runID)

	if ver, detail, err := cgroup.CheckV1Compatible(); err != nil {
		return fmt.Errorf("nodeguard: %w", err)
	} else {
		log.Info("cgroup hierarchy detected", "version", ver, "detail", detail)
	}

	defaults, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	applyDefaults(&o, defaults)

	ws, err := workload.LoadFile(workloadConfFile, o.keyByCID)
	if err != nil {
		return fmt.Errorf("nodeguard: %w", err)
	}

	cpuCount := runtime.NumCPU()
	sysMaxUtil := sysmax.Load(ioformat.SysMaxFile, cpuCount)
	log.Info("loaded system-max utilization", "value", sysMaxUtil)

	var exporter *metrics.Exporter
	if o.enablePrometheus {
		exporter = metrics.New()
		if err := exporter.Start(o.prometheusAddr); err != nil {
			return fmt.Errorf("nodeguard: start prometheus exporter: %w", err)
		}
		log.Info("prometheus exporter started", "addr", o.prometheusAddr)
	}

	var threshMap map[string][]fence.Bin
	var tdpMap map[string]*fence.ThermalRow
	if o.detect {
		threshFile := o.threshFile
		if threshFile == "" {
			threshFile = ioformat.ThreshFile
		}
		threshMap, err = loadThreshMap(threshFile, o.keyByCID)
		if err != nil {
			return fmt.Errorf("nodeguard: %w", err)
		}
		tdpMap, err = loadTDPMap(ioformat.TDPThreshFile, o.keyByCID)
		if err != nil {
			return fmt.Errorf("nodeguard: %w", err)
		}
	}

	cg := cgroupfs.FS{}
	var cpuQuota *resource.CPUQuota
	var llcMask *resource.LLCMask
	if o.control {
		cpuQuota = resource.NewCPUQuota(float64(sysMaxUtil), o.marginRatio, cg, log)
		initLevel := resource.LevelMin
		if o.disableCAT {
			initLevel = resource.LevelFull
		}
		llcMask = resource.NewLLCMask(initLevel, cat.NewController(log), log)
	}

	disc, err := discovery.NewDockerDiscoverer()
	if err != nil {
		return fmt.Errorf("nodeguard: connect to docker: %w", err)
	}
	coll := collector.NewRunner(log)

	var utilWriter, metricsWriter *os.File
	if o.record {
		utilWriter, err = os.Create(ioformat.UtilFile)
		if err != nil {
			return fmt.Errorf("nodeguard: %w", err)
		}
		defer utilWriter.Close()
		if _, err := utilWriter.WriteString(ioformat.UtilHeader); err != nil {
			return fmt.Errorf("nodeguard: %w", err)
		}

		if o.collectMetrics {
			metricsWriter, err = os.Create(ioformat.MetricsFile)
			if err != nil {
				return fmt.Errorf("nodeguard: %w", err)
			}
			defer metricsWriter.Close()
			if _, err := metricsWriter.WriteString(ioformat.MetricsHeader); err != nil {
				return fmt.Errorf("nodeguard: %w", err)
			}
		}
	}

	cfg := agent.Config{
		KeyByCID:           o.keyByCID,
		CollectMetrics:     o.collectMetrics,
		Detect:             o.detect,
		Control:            o.control,
		Record:             o.record,
		EnableHold:         o.enableHold,
		DisableCAT:         o.disableCAT,
		EnablePrometheus:   o.enablePrometheus,
		UtilInterval:       time.Duration(o.utilInterval) * time.Second,
		MetricInterval:     time.Duration(o.metricInterval) * time.Second,
		LLCCycles:          o.llcCycles,
		QuotaCycles:        o.quotaCycles,
		MarginRatio:        o.marginRatio,
		CollectorPeriod:    18,
		CollectorFrequency: 18,
		CollectorCycle:     1,
		CPUCount:           cpuCount,
		SysMaxFile:         ioformat.SysMaxFile,
	}

	a := agent.New(cfg, log, ws, threshMap, tdpMap, disc, cg, coll, cpuQuota, llcMask, exporter,
		utilWriter, metricsWriter, sysMaxUtil)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Info("shutdown requested, draining monitor loops")
		a.Interrupt()
	}()

	fmt.Printf("nodeguard agent started (util=%ds metric=%ds control=%v detect=%v)\n",
		o.utilInterval, o.metricInterval, o.control, o.detect)

	a.Run(ctx, o.collectMetrics)

	if exporter != nil {
		_ = exporter.Shutdown(context.Background())
	}
	return nil
}

func applyDefaults(o *opts, d config.Defaults) {
	if d.UtilInterval != 0 {
		o.utilInterval = d.UtilInterval
	}
	if d.MetricInterval != 0 {
		o.metricInterval = d.MetricInterval
	}
	if d.LLCCycles != 0 {
		o.llcCycles = d.LLCCycles
	}
	if d.QuotaCycles != 0 {
		o.quotaCycles = d.QuotaCycles
	}
	if d.MarginRatio != 0 {
		o.marginRatio = d.MarginRatio
	}
	if d.ThreshFile != "" {
		o.threshFile = d.ThreshFile
	}
	if d.PrometheusAddr != "" {
		o.prometheusAddr = d.PrometheusAddr
	}
	o.keyByCID = o.keyByCID || d.KeyByCID
	o.enableHold = o.enableHold || d.EnableHold
	o.disableCAT = o.disableCAT || d.DisableCAT
	o.enablePrometheus = o.enablePrometheus || d.EnablePrometheus
}

func loadThreshMap(path string, keyByCID bool) (map[string][]fence.Bin, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return builder.ReadThreshCSV(f, keyByCID)
}

func loadTDPMap(path string, keyByCID bool) (map[string]*fence.ThermalRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return builder.ReadTDPThreshCSV(f, keyByCID)
}
