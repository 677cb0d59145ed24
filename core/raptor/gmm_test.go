package raptor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// twoGroups returns n points around (0, 0) followed by n points around (10, 10)
func twoGroups(n int) [][]float64 {
	points := [][]float64{}
	for i := range n {
		points = append(points, []float64{0.1 * float64(i%3), 0.1 * float64(i%2)})
	}
	for i := range n {
		points = append(points, []float64{10 + 0.1*float64(i%3), 10 + 0.1*float64(i%2)})
	}
	return points
}

func TestFitMixture(t *testing.T) {
	t.Run("Weights sum to one", func(t *testing.T) {
		m, logLikelihood := fitMixture(twoGroups(6), 2, newRand(1))

		assert.InDelta(t, 1.0, floats.Sum(m.weights), 1e-9)
		assert.False(t, math.IsNaN(logLikelihood))
	})

	t.Run("Posteriors separate the groups", func(t *testing.T) {
		points := twoGroups(6)
		m, _ := fitMixture(points, 2, newRand(7))

		labels := assign(m.probabilities(points), 0.5)

		for i := 1; i < 6; i++ {
			assert.Equal(t, labels[0], labels[i])
			assert.Equal(t, labels[6], labels[6+i])
		}
		assert.NotEqual(t, labels[0], labels[6])
	})

	t.Run("Same seed gives the same fit", func(t *testing.T) {
		points := twoGroups(5)
		a, llA := fitMixture(points, 3, newRand(42))
		b, llB := fitMixture(points, 3, newRand(42))

		assert.Equal(t, llA, llB)
		assert.Equal(t, a.means, b.means)
	})

	t.Run("Probabilities of a point sum to one", func(t *testing.T) {
		points := twoGroups(4)
		m, _ := fitMixture(points, 3, newRand(3))

		for _, row := range m.probabilities(points) {
			assert.InDelta(t, 1.0, floats.Sum(row), 1e-9)
		}
	})
}

func TestOptimalClusters(t *testing.T) {
	t.Run("Small levels have one cluster", func(t *testing.T) {
		assert.Equal(t, 1, optimalClusters([][]float64{{0, 1}}, 8, 1))
		assert.Equal(t, 1, optimalClusters([][]float64{{0, 1}, {1, 0}}, 8, 1))
	})

	t.Run("Identical points have one cluster", func(t *testing.T) {
		points := [][]float64{{1, 2}, {1, 2}, {1, 2}, {1, 2}}
		assert.Equal(t, 1, optimalClusters(points, 8, 1))
	})

	t.Run("Separated groups need more than one cluster", func(t *testing.T) {
		k := optimalClusters(twoGroups(8), 8, 224)
		assert.GreaterOrEqual(t, k, 2)
		assert.LessOrEqual(t, k, 7)
	})

	t.Run("Count stays below the point count", func(t *testing.T) {
		points := twoGroups(2)
		k := optimalClusters(points, 64, 1)
		assert.LessOrEqual(t, k, len(points)-1)
	})

	t.Run("Max cluster of one", func(t *testing.T) {
		assert.Equal(t, 1, optimalClusters(twoGroups(4), 1, 1))
	})
}

func TestBIC(t *testing.T) {
	t.Run("More components cost more", func(t *testing.T) {
		assert.Less(t, bic(-10, 1, 20, 2), bic(-10, 2, 20, 2))
	})

	t.Run("Better fit scores lower", func(t *testing.T) {
		assert.Less(t, bic(-5, 2, 20, 2), bic(-10, 2, 20, 2))
	})
}

func TestAssign(t *testing.T) {
	t.Run("Most probable component above threshold", func(t *testing.T) {
		labels := assign([][]float64{{0.3, 0.7}, {0.05, 0.95}, {0.6, 0.4}}, 0.1)
		assert.Equal(t, []int{1, 1, 0}, labels)
	})

	t.Run("Falls back to the most probable component", func(t *testing.T) {
		labels := assign([][]float64{{0.2, 0.5, 0.3}}, 0.9)
		assert.Equal(t, []int{1}, labels)
	})
}

func TestSeedMeans(t *testing.T) {
	t.Run("Distinct points are chosen", func(t *testing.T) {
		points := twoGroups(3)
		seeds := seedMeans(points, 4, newRand(9))

		require.Len(t, seeds, 4)
		seen := map[*float64]bool{}
		for _, s := range seeds {
			assert.False(t, seen[&s[0]])
			seen[&s[0]] = true
		}
	})

	t.Run("Duplicates do not block seeding", func(t *testing.T) {
		points := [][]float64{{1, 1}, {1, 1}, {1, 1}}
		seeds := seedMeans(points, 3, newRand(2))
		assert.Len(t, seeds, 3)
	})
}
