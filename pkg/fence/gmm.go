package fence

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// No package in the retrieval pack ships a Gaussian-mixture fit, so this
// univariate EM loop is hand-written on top of gonum's mean/variance
// primitives rather than reimplementing a general-purpose ML library.

// mixture1D is a fitted univariate Gaussian mixture model.
type mixture1D struct {
	weights []float64
	means   []float64
	vars    []float64
}

const (
	emMaxIters = 200
	emTol      = 1e-6
	varFloor   = 1e-9
)

// fitMixture1D fits k components to data via expectation-maximization,
// seeded deterministically so repeated builder runs over the same sample
// produce the same fence.
func fitMixture1D(data []float64, k int, seed uint64) mixture1D {
	rng := rand.New(rand.NewSource(int64(seed)))
	n := len(data)

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	_, globalVar := stat.MeanVariance(data, nil)
	if globalVar < varFloor {
		globalVar = varFloor
	}

	m := mixture1D{
		weights: make([]float64, k),
		means:   make([]float64, k),
		vars:    make([]float64, k),
	}
	// Spread initial means across quantiles of the sorted sample, jittered
	// by the seeded RNG so distinct k values don't collapse onto identical
	// starting points when the sample has repeated values.
	for i := 0; i < k; i++ {
		idx := (i * n) / (k + 1)
		if idx >= n {
			idx = n - 1
		}
		jitter := (rng.Float64() - 0.5) * math.Sqrt(globalVar) * 0.1
		m.means[i] = sorted[idx] + jitter
		m.vars[i] = globalVar
		m.weights[i] = 1.0 / float64(k)
	}

	resp := make([][]float64, n)
	for i := range resp {
		resp[i] = make([]float64, k)
	}

	prevLL := math.Inf(-1)
	for iter := 0; iter < emMaxIters; iter++ {
		// E-step
		for i, x := range data {
			sum := 0.0
			for j := 0; j < k; j++ {
				resp[i][j] = m.weights[j] * gaussianPDF(x, m.means[j], m.vars[j])
				sum += resp[i][j]
			}
			if sum < varFloor {
				for j := 0; j < k; j++ {
					resp[i][j] = 1.0 / float64(k)
				}
				continue
			}
			for j := 0; j < k; j++ {
				resp[i][j] /= sum
			}
		}

		// M-step
		for j := 0; j < k; j++ {
			nj := 0.0
			for i := range data {
				nj += resp[i][j]
			}
			if nj < varFloor {
				continue
			}
			mean := 0.0
			for i, x := range data {
				mean += resp[i][j] * x
			}
			mean /= nj
			variance := 0.0
			for i, x := range data {
				d := x - mean
				variance += resp[i][j] * d * d
			}
			variance /= nj
			if variance < varFloor {
				variance = varFloor
			}
			m.means[j] = mean
			m.vars[j] = variance
			m.weights[j] = nj / float64(n)
		}

		ll := mixtureLogLikelihood(data, m)
		if math.Abs(ll-prevLL) < emTol {
			break
		}
		prevLL = ll
	}
	return m
}

func gaussianPDF(x, mean, variance float64) float64 {
	if variance < varFloor {
		variance = varFloor
	}
	coeff := 1.0 / math.Sqrt(2*math.Pi*variance)
	return coeff * math.Exp(-((x-mean)*(x-mean))/(2*variance))
}

func mixtureLogLikelihood(data []float64, m mixture1D) float64 {
	ll := 0.0
	for _, x := range data {
		p := 0.0
		for j := range m.weights {
			p += m.weights[j] * gaussianPDF(x, m.means[j], m.vars[j])
		}
		if p < varFloor {
			p = varFloor
		}
		ll += math.Log(p)
	}
	return ll
}

// bic computes the Bayesian Information Criterion for m over data: lower is
// better. A k-component univariate mixture has 3k-1 free parameters (k
// means, k variances, k-1 independent weights).
func bic(data []float64, m mixture1D) float64 {
	k := len(m.weights)
	params := float64(3*k - 1)
	ll := mixtureLogLikelihood(data, m)
	return -2*ll + params*math.Log(float64(len(data)))
}

// fitBestMixture tries 1..maxK components and keeps the one with lowest BIC.
func fitBestMixture(data []float64, maxK int, seed uint64) mixture1D {
	if maxK < 1 {
		maxK = 1
	}
	if maxK > len(data) {
		maxK = len(data)
	}
	best := fitMixture1D(data, 1, seed)
	bestBIC := bic(data, best)
	for k := 2; k <= maxK; k++ {
		cand := fitMixture1D(data, k, seed)
		candBIC := bic(data, cand)
		if candBIC < bestBIC {
			bestBIC = candBIC
			best = cand
		}
	}
	return best
}

// predict returns the index of the component most likely to have generated x.
func (m mixture1D) predict(x float64) int {
	best := 0
	bestP := math.Inf(-1)
	for j := range m.weights {
		p := m.weights[j] * gaussianPDF(x, m.means[j], m.vars[j])
		if p > bestP {
			bestP = p
			best = j
		}
	}
	return best
}

// gmmFense walks the sample from the extreme inward, accumulating the
// weight of newly-seen clusters, until cumulative weight exceeds thresh. It
// returns the strict fence (the data value at that point) and the normal
// fence (mean ± span*std of that boundary cluster).
func gmmFense(sample []float64, upper bool, cfg Config) (strict, normal float64, ok bool) {
	m := fitBestMixture(sample, cfg.MaxMixture, cfg.GMMSeed)

	sorted := append([]float64(nil), sample...)
	if upper {
		sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	} else {
		sort.Float64s(sorted)
	}

	seen := map[int]bool{}
	cumWeight := 0.0
	for _, x := range sorted {
		idx := m.predict(x)
		if seen[idx] {
			continue
		}
		seen[idx] = true
		cumWeight += m.weights[idx]
		if cumWeight > cfg.GMMThreshold {
			std := math.Sqrt(m.vars[idx])
			if upper {
				normal = m.means[idx] + std*cfg.GMMSpan
			} else {
				normal = m.means[idx] - std*cfg.GMMSpan
			}
			return x, normal, true
		}
	}
	return 0, 0, false
}

func gmmNormalFence(sample []float64, upper bool, cfg Config) float64 {
	_, normal, ok := gmmFense(sample, upper, cfg)
	if !ok {
		return math.NaN()
	}
	return normal
}

func gmmStrictFence(sample []float64, upper bool, cfg Config) float64 {
	strict, normal, ok := gmmFense(sample, upper, cfg)
	if !ok {
		return math.NaN()
	}
	if upper {
		if normal < strict {
			return normal
		}
		return strict
	}
	if normal > strict {
		return normal
	}
	return strict
}
