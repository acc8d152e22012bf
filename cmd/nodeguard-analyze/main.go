package main

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ja7ad/nodeguard/pkg/builder"
	"github.com/ja7ad/nodeguard/pkg/fence"
	"github.com/ja7ad/nodeguard/pkg/ioformat"
)

type opts struct {
	verbose    bool
	thresh     int
	fenseType  string
	metricFile string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "nodeguard-analyze workload_conf_file",
		Short: "Build a per-workload anomaly threshold model from recorded metrics",
		Long: `nodeguard-analyze reads a recorded metrics.csv and a workload configuration
file and builds the per-bin CPU/cache/bandwidth anomaly thresholds and the
thermal threshold row nodeguard uses to detect resource contention.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(o, args[0])
		},
	}

	flags := root.Flags()
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "increase output verbosity")
	flags.IntVarP(&o.thresh, "thresh", "t", 4, "threshold used in outlier detection")
	flags.StringVarP(&o.fenseType, "fense-type", "f", "gmm-strict", "fence type used in outlier detection (quartile, normal, gmm-strict, gmm-normal)")
	flags.StringVarP(&o.metricFile, "metric-file", "m", ioformat.MetricsFile, "metrics file collected from the nodeguard agent")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(o opts, workloadConfFile string) error {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	runID := uuid.New()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).With("run_id", runID)

	strategy, err := parseStrategy(o.fenseType)
	if err != nil {
		return err
	}
	cfg := fence.DefaultConfig()
	cfg.Thresh = float64(o.thresh)

	workloads, err := loadWorkloads(workloadConfFile)
	if err != nil {
		return fmt.Errorf("nodeguard-analyze: %w", err)
	}
	log.Debug("loaded workloads", "count", len(workloads))

	rows, err := loadMetricRows(o.metricFile)
	if err != nil {
		return fmt.Errorf("nodeguard-analyze: %w", err)
	}
	log.Debug("loaded metric rows", "count", len(rows))

	outputs, err := builder.Build(workloads, rows, cfg, strategy)
	if err != nil {
		return fmt.Errorf("nodeguard-analyze: build threshold model: %w", err)
	}

	for _, out := range outputs {
		for _, b := range out.Bins {
			log.Debug("bin threshold",
				"workload", out.CName, "util_start", b.UtilStart, "util_end", b.UtilEnd,
				"cpi_thresh", b.CPIThresh, "mpki_thresh", b.MPKIThresh, "mb_thresh", b.MBThresh)
		}
	}

	if err := writeThreshFiles(outputs, runID); err != nil {
		return fmt.Errorf("nodeguard-analyze: %w", err)
	}

	utilRows, err := loadLCUtilSamples(ioformat.UtilFile)
	if err != nil {
		return fmt.Errorf("nodeguard-analyze: %w", err)
	}
	maxLC, err := builder.MaxLCUtilization(utilRows)
	if err != nil {
		log.Warn("no lcs utilization samples found, leaving lcmax.txt untouched", "error", err)
		return nil
	}
	if err := os.WriteFile(ioformat.SysMaxFile, []byte(fmt.Sprintf("%d\n", maxLC)), 0o644); err != nil {
		return fmt.Errorf("nodeguard-analyze: write %s: %w", ioformat.SysMaxFile, err)
	}
	fmt.Printf("maximum LC utilization: %d\n", maxLC)
	return nil
}

func parseStrategy(name string) (fence.Strategy, error) {
	switch name {
	case "quartile":
		return fence.Quartile, nil
	case "normal":
		return fence.Normal, nil
	case "gmm-strict":
		return fence.GMMStrict, nil
	case "gmm-normal":
		return fence.GMMNormal, nil
	default:
		return 0, fmt.Errorf("unsupported fence type %q", name)
	}
}

func writeThreshFiles(outputs []builder.Output, runID uuid.UUID) error {
	threshF, err := os.Create(ioformat.ThreshFile)
	if err != nil {
		return err
	}
	defer threshF.Close()
	fmt.Fprintf(threshF, "# run %s\n", runID)
	if err := builder.WriteThreshCSV(threshF, outputs); err != nil {
		return err
	}

	tdpF, err := os.Create(ioformat.TDPThreshFile)
	if err != nil {
		return err
	}
	defer tdpF.Close()
	fmt.Fprintf(tdpF, "# run %s\n", runID)
	return builder.WriteTDPThreshCSV(tdpF, outputs)
}

func loadWorkloads(path string) ([]builder.Workload, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil || len(records) == 0 {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, want := range []string{"CID", "CNAME", "CPUS"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("%s: missing column %s", path, want)
		}
	}

	var out []builder.Workload
	for _, row := range records[1:] {
		cpus, err := strconv.Atoi(strings.TrimSpace(row[col["CPUS"]]))
		if err != nil {
			continue
		}
		out = append(out, builder.Workload{
			CID:   strings.TrimSpace(row[col["CID"]]),
			CName: strings.TrimSpace(row[col["CNAME"]]),
			CPUs:  cpus,
		})
	}
	return out, nil
}

func loadMetricRows(path string) ([]builder.MetricRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil || len(records) == 0 {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.ToUpper(strings.TrimSpace(h))] = i
	}

	var rows []builder.MetricRow
	for _, rec := range records[1:] {
		rows = append(rows, builder.MetricRow{
			CID:   rec[col["CID"]],
			CName: rec[col["CNAME"]],
			Util:  parseFloatOr0(rec[col["UTIL"]]),
			CPI:   parseFloatOr0(rec[col["CPI"]]),
			MPKI:  parseFloatOr0(rec[col["L3MPKI"]]),
			MBL:   parseFloatOr0(rec[col["MBL"]]),
			MBR:   parseFloatOr0(rec[col["MBR"]]),
			NF:    parseFloatOr0(rec[col["NF"]]),
		})
	}
	return rows, nil
}

// loadLCUtilSamples reads util.csv and returns every "lcs" row's
// utilization value, matching process_lc_max's `udf[udf['CNAME']=='lcs']`
// filter.
func loadLCUtilSamples(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil || len(records) == 0 {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	col := make(map[string]int, len(records[0]))
	for i, h := range records[0] {
		col[strings.ToUpper(strings.TrimSpace(h))] = i
	}

	var out []float64
	for _, rec := range records[1:] {
		if len(rec) <= col["CNAME"] || rec[col["CNAME"]] != "lcs" {
			continue
		}
		out = append(out, parseFloatOr0(rec[col["UTIL"]]))
	}
	return out, nil
}

func parseFloatOr0(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
