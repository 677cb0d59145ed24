package raptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestReducedDims(t *testing.T) {
	cases := map[int]int{1: 2, 3: 2, 4: 2, 5: 3, 10: 8, 14: 12, 100: 12}
	for n, want := range cases {
		assert.Equal(t, want, reducedDims(n), "n=%d", n)
	}
}

func TestNeighbors(t *testing.T) {
	assert.Equal(t, 2, neighbors(3))
	assert.Equal(t, 5, neighbors(10))
	assert.Equal(t, 39, neighbors(100))
}

func TestNormalize(t *testing.T) {
	t.Run("Rows have unit length", func(t *testing.T) {
		out := normalize([][]float32{{3, 4}, {0, 2}})

		assert.InDeltaSlice(t, []float64{0.6, 0.8}, out[0], 1e-6)
		assert.InDeltaSlice(t, []float64{0, 1}, out[1], 1e-6)
	})

	t.Run("Zero vectors stay zero", func(t *testing.T) {
		out := normalize([][]float32{{0, 0}})
		assert.Equal(t, []float64{0, 0}, out[0])
	})
}

func TestReduce(t *testing.T) {
	t.Run("Projects to the component count", func(t *testing.T) {
		points := make([][]float64, 10)
		for i := range points {
			row := make([]float64, 20)
			for j := range row {
				row[j] = float64((i*7+j*3)%11) / 11
			}
			points[i] = row
		}

		reduced, ok := reduce(normalize(toFloat32(points)))

		require.True(t, ok)
		require.Len(t, reduced, 10)
		for _, row := range reduced {
			assert.Len(t, row, reducedDims(10))
		}
	})

	t.Run("Low dimensional data is unchanged", func(t *testing.T) {
		points := [][]float64{{1, 0}, {0, 1}, {0.5, 0.5}, {0.2, 0.8}}

		reduced, ok := reduce(points)

		assert.False(t, ok)
		assert.Equal(t, points, reduced)
	})

	t.Run("Projection keeps the largest distances", func(t *testing.T) {
		points := [][]float64{}
		for i := range 6 {
			row := make([]float64, 16)
			row[0] = 1
			row[1] = 0.01 * float64(i)
			points = append(points, row)
		}
		for i := range 6 {
			row := make([]float64, 16)
			row[2] = 1
			row[3] = 0.01 * float64(i)
			points = append(points, row)
		}

		reduced, ok := reduce(points)

		require.True(t, ok)
		within := floats.Distance(reduced[0], reduced[1], 2)
		across := floats.Distance(reduced[0], reduced[6], 2)
		assert.Greater(t, across, 10*within)
	})
}

func TestIdentical(t *testing.T) {
	assert.True(t, identical([][]float64{{1, 2}, {1, 2}}))
	assert.False(t, identical([][]float64{{1, 2}, {1, 2.1}}))
}

func toFloat32(points [][]float64) [][]float32 {
	out := make([][]float32, len(points))
	for i, row := range points {
		out[i] = make([]float32, len(row))
		for j, x := range row {
			out[i][j] = float32(x)
		}
	}
	return out
}
