// Package collector wraps the external performance-counter collector binary
// ("pgos") that this agent invokes once per metrics cycle and parses
// tab-separated output from. The counter tool itself is out of scope: this
// package only shells out to it and parses its lines.
package collector

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// Sample is one parsed counter value: a container ID, the metric name, and
// its value. The collector's tab-separated wire format is
// "<cid>\t<metric_name>\t<unused>\t<value>".
type Sample struct {
	CID    string
	Metric string
	Value  float64
}

// Runner invokes the external counter-collector binary and parses its output.
type Runner struct {
	// Binary is the collector executable (default "./pgos").
	Binary string
	Log    *slog.Logger
}

// NewRunner creates a Runner invoking the default collector binary name.
func NewRunner(log *slog.Logger) *Runner {
	return &Runner{Binary: "./pgos", Log: log}
}

func (r *Runner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "./pgos"
}

// Collect runs the counter collector against the given cgroup paths for one
// cycle and returns its parsed samples.
func (r *Runner) Collect(ctx context.Context, cgroupPaths []string, period, frequency, cycle, cores int) ([]Sample, error) {
	if len(cgroupPaths) == 0 {
		return nil, nil
	}
	args := []string{
		"-cgroup", strings.Join(cgroupPaths, ","),
		"-period", strconv.Itoa(period),
		"-frequency", strconv.Itoa(frequency),
		"-cycle", strconv.Itoa(cycle),
		"-core", strconv.Itoa(cores),
	}
	cmd := exec.CommandContext(ctx, r.binary(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.Log.Warn("counter collector invocation failed", "binary", r.binary(), "error", err, "output", string(out))
		return nil, fmt.Errorf("%s: %w", r.binary(), err)
	}
	return ParseLines(string(out)), nil
}

// ParseLines parses the collector's tab-separated output. Lines with fewer
// than four fields are skipped silently.
func ParseLines(output string) []Sample {
	var samples []Sample
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		items := strings.Split(sc.Text(), "\t")
		if len(items) < 4 {
			continue
		}
		val, err := strconv.ParseFloat(strings.TrimSpace(items[3]), 64)
		if err != nil {
			continue
		}
		samples = append(samples, Sample{CID: items[0], Metric: items[1], Value: val})
	}
	return samples
}
