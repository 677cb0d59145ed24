package raptor

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

const (
	gmmMaxIter  = 100
	gmmTol      = 1e-3
	gmmRegCovar = 1e-6
	gmmEpsilon  = 2.220446049250313e-16
)

// mixture is a gaussian mixture with diagonal covariances
type mixture struct {
	weights   []float64
	means     [][]float64
	variances [][]float64
}

// fitMixture fits k components to points with expectation maximization.
// Means start from a k-means++ draw of rng. It returns the model and the total log likelihood.
func fitMixture(points [][]float64, k int, rng *rand.Rand) (*mixture, float64) {
	n := len(points)
	d := len(points[0])
	m := &mixture{
		weights:   make([]float64, k),
		means:     make([][]float64, k),
		variances: make([][]float64, k),
	}
	for c := range k {
		m.means[c] = make([]float64, d)
		m.variances[c] = make([]float64, d)
	}

	// Hard assignment to the nearest seed mean gives the first responsibilities.
	seeds := seedMeans(points, k, rng)
	resp := make([][]float64, n)
	for i, p := range points {
		resp[i] = make([]float64, k)
		best, bestDist := 0, math.Inf(1)
		for c, seed := range seeds {
			if dist := sqDist(p, seed); dist < bestDist {
				best, bestDist = c, dist
			}
		}
		resp[i][best] = 1
	}
	m.maximize(points, resp)

	prev := math.Inf(-1)
	logLikelihood := 0.0
	for range gmmMaxIter {
		logLikelihood = m.expect(points, resp)
		m.maximize(points, resp)
		if math.Abs(logLikelihood/float64(n)-prev) < gmmTol {
			break
		}
		prev = logLikelihood / float64(n)
	}
	return m, m.expect(points, resp)
}

// expect fills resp with the posterior of every component and returns the log likelihood
func (m *mixture) expect(points [][]float64, resp [][]float64) float64 {
	total := 0.0
	logProb := make([]float64, len(m.weights))
	for i, p := range points {
		for c := range m.weights {
			logProb[c] = math.Log(m.weights[c]) + m.logDensity(c, p)
		}
		norm := floats.LogSumExp(logProb)
		total += norm
		for c := range logProb {
			resp[i][c] = math.Exp(logProb[c] - norm)
		}
	}
	return total
}

func (m *mixture) maximize(points [][]float64, resp [][]float64) {
	n := float64(len(points))
	d := len(points[0])
	for c := range m.weights {
		nk := 10 * gmmEpsilon
		for i := range points {
			nk += resp[i][c]
		}
		m.weights[c] = nk / n

		mean := m.means[c]
		for j := range d {
			sum := 0.0
			for i, p := range points {
				sum += resp[i][c] * p[j]
			}
			mean[j] = sum / nk
		}
		variance := m.variances[c]
		for j := range d {
			sum := 0.0
			for i, p := range points {
				diff := p[j] - mean[j]
				sum += resp[i][c] * diff * diff
			}
			variance[j] = sum/nk + gmmRegCovar
		}
	}
}

func (m *mixture) logDensity(c int, p []float64) float64 {
	sum := 0.0
	for j, x := range p {
		v := m.variances[c][j]
		diff := x - m.means[c][j]
		sum += math.Log(2*math.Pi*v) + diff*diff/v
	}
	return -0.5 * sum
}

// probabilities returns the component posteriors of every point
func (m *mixture) probabilities(points [][]float64) [][]float64 {
	resp := make([][]float64, len(points))
	for i := range resp {
		resp[i] = make([]float64, len(m.weights))
	}
	m.expect(points, resp)
	return resp
}

// bic is the bayesian information criterion of a k component fit
func bic(logLikelihood float64, k int, n int, d int) float64 {
	params := float64(k*d*2 + k - 1)
	return -2*logLikelihood + params*math.Log(float64(n))
}

// seedMeans draws k initial means with k-means++
func seedMeans(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	chosen := map[int]bool{}
	first := rng.IntN(n)
	chosen[first] = true
	seeds := [][]float64{points[first]}

	dist := make([]float64, n)
	for len(seeds) < k {
		total := 0.0
		for i, p := range points {
			dist[i] = math.Inf(1)
			for _, s := range seeds {
				dist[i] = min(dist[i], sqDist(p, s))
			}
			total += dist[i]
		}

		next := -1
		if total > 0 {
			target := rng.Float64() * total
			for i, dd := range dist {
				target -= dd
				if target <= 0 && !chosen[i] {
					next = i
					break
				}
			}
		}
		if next < 0 {
			for i := range n {
				if !chosen[i] {
					next = i
					break
				}
			}
		}
		chosen[next] = true
		seeds = append(seeds, points[next])
	}
	return seeds
}

func sqDist(a []float64, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// optimalClusters returns the component count in [1, min(maxCluster, n)-1]
// with the lowest BIC. Ties keep the smaller count.
func optimalClusters(points [][]float64, maxCluster int, seed uint64) int {
	n := len(points)
	if n <= 2 || identical(points) {
		return 1
	}

	upper := max(1, min(maxCluster, n)-1)
	best, bestBIC := 0, math.Inf(1)
	for k := 1; k <= upper; k++ {
		_, logLikelihood := fitMixture(points, k, newRand(seed))
		score := bic(logLikelihood, k, n, len(points[0]))
		if math.IsNaN(score) || math.IsInf(score, 0) {
			continue
		}
		if score < bestBIC {
			best, bestBIC = k, score
		}
	}
	if best == 0 {
		return min(2, n)
	}
	return best
}

// assign labels every point with its most probable component among those
// above threshold, falling back to the most probable component overall.
func assign(probabilities [][]float64, threshold float64) []int {
	labels := make([]int, len(probabilities))
	for i, probs := range probabilities {
		labels[i] = floats.MaxIdx(probs)
		best := threshold
		for c, p := range probs {
			if p > best {
				labels[i], best = c, p
			}
		}
	}
	return labels
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
