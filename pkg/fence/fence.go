// Package fence estimates anomaly thresholds ("fences") from a sample of
// historical metric values, the way the offline threshold-model builder
// turns a recorded metrics.csv into per-bin contention thresholds.
package fence

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Strategy selects the statistical method used to compute a fence.
type Strategy int

const (
	// Quartile computes a Tukey-style fence from the interquartile range.
	Quartile Strategy = iota
	// Normal computes a fence at mean ± Thresh standard deviations.
	Normal
	// GMMStrict fits a Gaussian mixture and returns the more conservative
	// (closer to the data) of its strict and normal fences.
	GMMStrict
	// GMMNormal fits a Gaussian mixture and returns its normal (mean ±
	// span*std of the boundary cluster) fence.
	GMMNormal
)

func (s Strategy) String() string {
	switch s {
	case Quartile:
		return "quartile"
	case Normal:
		return "normal"
	case GMMStrict:
		return "gmm-strict"
	case GMMNormal:
		return "gmm-normal"
	default:
		return "unknown"
	}
}

// Config carries the tunables every strategy reads from.
type Config struct {
	// Thresh is the outlier severity used by Quartile (IQR coefficient input)
	// and Normal (sigma multiplier). Defaults to 4.
	Thresh float64
	// MaxMixture bounds the number of Gaussian components tried by the GMM
	// strategies; the component count minimizing BIC is kept. Default 10.
	MaxMixture int
	// GMMThreshold is the cumulative cluster-weight probability a GMM
	// strategy must cross before it reports a fence. Default 0.1.
	GMMThreshold float64
	// GMMSpan is the sigma span used for the GMM normal fence. Default 3.
	GMMSpan float64
	// GMMSeed fixes the mixture-model initialization for reproducible
	// bin-to-bin thresholds across repeated builder runs.
	GMMSeed uint64
}

// DefaultConfig returns the analysis tool's default tunables.
func DefaultConfig() Config {
	return Config{
		Thresh:       4,
		MaxMixture:   10,
		GMMThreshold: 0.1,
		GMMSpan:      3,
		GMMSeed:      1005,
	}
}

// Bin is one utilization-range row of a workload's threshold model.
type Bin struct {
	UtilStart  float64
	UtilEnd    float64
	CPIThresh  float64
	MPKIThresh float64
	MBThresh   float64
}

// ThermalRow holds the TDP/frequency-floor contention threshold for a
// workload, valid only once utilization crosses Util.
type ThermalRow struct {
	Util float64
	Mean float64
	Std  float64
	Bar  float64
}

// Estimate computes the fence for sample using strategy. An empty sample is
// degenerate and returns NaN, which never triggers a detection downstream:
// any comparison against a NaN fence evaluates false.
func Estimate(sample []float64, upper bool, strategy Strategy, cfg Config) float64 {
	if len(sample) == 0 {
		return math.NaN()
	}
	switch strategy {
	case Quartile:
		return quartileFence(sample, upper, cfg.Thresh)
	case Normal:
		return normalFence(sample, upper, cfg.Thresh)
	case GMMStrict:
		return gmmStrictFence(sample, upper, cfg)
	case GMMNormal:
		return gmmNormalFence(sample, upper, cfg)
	default:
		return math.NaN()
	}
}

func quartileFence(sample []float64, upper bool, thresh float64) float64 {
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	n := len(sorted)
	quar1 := sorted[n/4]
	quar3 := sorted[n*3/4]
	iqr := quar3 - quar1
	val := iqr * (thresh*3/4 - 2.0/3.0)
	if upper {
		return quar3 + val
	}
	return quar1 - val
}

func normalFence(sample []float64, upper bool, thresh float64) float64 {
	mean, std := stat.MeanStdDev(sample, nil)
	if upper {
		return mean + thresh*std
	}
	return mean - thresh*std
}
