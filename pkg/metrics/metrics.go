// Package metrics exposes the agent's per-container counters as Prometheus
// gauges and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter owns the registry and the named gauge vectors the monitor loops
// populate once per metrics cycle.
type Exporter struct {
	reg *prometheus.Registry

	CPUUsagePercentage   *prometheus.GaugeVec
	LLCMisses            *prometheus.GaugeVec
	UnhaltedCycles       *prometheus.GaugeVec
	Instructions         *prometheus.GaugeVec
	AverageFrequency     *prometheus.GaugeVec
	MemoryBandwidth      *prometheus.GaugeVec
	LLCOccupancy         *prometheus.GaugeVec
	LLCOccupancyBytes    *prometheus.GaugeVec
	ContentionLLC        *prometheus.GaugeVec
	ContentionOther      *prometheus.GaugeVec
	ContentionTDP        *prometheus.GaugeVec

	srv *http.Server
}

// New builds an Exporter registered against a fresh registry, so tests can
// spin up independent exporters without colliding on the default registry.
func New() *Exporter {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	labels := []string{"container"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, labels)
	}

	return &Exporter{
		reg:                reg,
		CPUUsagePercentage: gauge("cma_cpu_usage_percentage", "CPU usage percentage of a container"),
		LLCMisses:          gauge("cma_llc_misses", "LLC cache misses of a container"),
		UnhaltedCycles:     gauge("cma_unhalted_cycles", "Unhalted CPU cycles of a container"),
		Instructions:       gauge("cma_instructions", "Retired instructions of a container"),
		AverageFrequency:   gauge("cma_average_frequency", "Average CPU frequency of a container"),
		MemoryBandwidth:    gauge("cma_memory_bandwidth", "Local+remote memory bandwidth of a container"),
		LLCOccupancy:       gauge("cma_llc_occupancy", "LLC occupancy of a container"),
		LLCOccupancyBytes:  gauge("cma_llc_occupancy_bytes", "LLC occupancy in bytes of a container"),
		ContentionLLC:      gauge("cma_contention_llc_detected", "Whether LLC contention was detected against a container"),
		ContentionOther:    gauge("cma_contention_other_detected", "Whether memory-bandwidth contention was detected against a container"),
		ContentionTDP:      gauge("cma_contention_tdp_detected", "Whether thermal (TDP) contention was detected against a container"),
	}
}

// Sample is one container's worth of metrics-cycle readings.
type Sample struct {
	ContainerName      string
	CPUUsagePercentage float64
	UnhaltedCycles     float64
	LLCMiss            float64
	Instructions       float64
	AverageFrequency   float64
	MemoryBandwidth    float64
	LLCOccupancy       float64
	LLCOccupancyBytes  float64
}

// Send records one container's sample across the gauge set.
func (e *Exporter) Send(s Sample) {
	e.CPUUsagePercentage.WithLabelValues(s.ContainerName).Set(s.CPUUsagePercentage)
	e.UnhaltedCycles.WithLabelValues(s.ContainerName).Set(s.UnhaltedCycles)
	e.LLCMisses.WithLabelValues(s.ContainerName).Set(s.LLCMiss)
	e.Instructions.WithLabelValues(s.ContainerName).Set(s.Instructions)
	e.AverageFrequency.WithLabelValues(s.ContainerName).Set(s.AverageFrequency)
	e.MemoryBandwidth.WithLabelValues(s.ContainerName).Set(s.MemoryBandwidth)
	e.LLCOccupancy.WithLabelValues(s.ContainerName).Set(s.LLCOccupancy)
	e.LLCOccupancyBytes.WithLabelValues(s.ContainerName).Set(s.LLCOccupancyBytes)
}

// SendContention records this cycle's per-resource contention verdicts for a
// container as 0/1 gauges.
func (e *Exporter) SendContention(containerName string, llc, other, tdp bool) {
	e.ContentionLLC.WithLabelValues(containerName).Set(boolToFloat(llc))
	e.ContentionOther.WithLabelValues(containerName).Set(boolToFloat(other))
	e.ContentionTDP.WithLabelValues(containerName).Set(boolToFloat(tdp))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Start serves the registry's metrics over HTTP on addr (e.g. ":8080").
func (e *Exporter) Start(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{}))
	e.srv = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- e.srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Shutdown gracefully stops the HTTP server, if it was started.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.srv == nil {
		return nil
	}
	return e.srv.Shutdown(ctx)
}
