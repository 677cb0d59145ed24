package raptor

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// reducedDims returns the number of components a level of n points is reduced to
func reducedDims(n int) int {
	return max(2, min(12, n-2))
}

// neighbors returns the neighborhood size of a level of n points
func neighbors(n int) int {
	return max(2, min(int(math.Pow(float64(n-1), 0.8)), n-1))
}

// normalize converts vectors to float64 and scales them to unit length,
// so euclidean geometry on the result follows cosine similarity.
func normalize(vectors [][]float32) [][]float64 {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		row := make([]float64, len(v))
		for j, x := range v {
			row[j] = float64(x)
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
		out[i] = row
	}
	return out
}

// reduce projects unit vectors on their first principal components.
// Data that already has few dimensions, or that PCA cannot factorize, is returned unchanged.
func reduce(points [][]float64) ([][]float64, bool) {
	n := len(points)
	if n == 0 {
		return points, false
	}
	d := len(points[0])
	components := min(reducedDims(n), n, d)
	if d <= components {
		return points, false
	}

	data := mat.NewDense(n, d, nil)
	for i, row := range points {
		data.SetRow(i, row)
	}

	var pc stat.PC
	if !pc.PrincipalComponents(data, nil) {
		return points, false
	}
	var vectors mat.Dense
	pc.VectorsTo(&vectors)

	means := make([]float64, d)
	for j := range d {
		means[j] = stat.Mean(mat.Col(nil, j, data), nil)
	}
	centered := mat.NewDense(n, d, nil)
	centered.Apply(func(i, j int, v float64) float64 { return v - means[j] }, data)

	var projected mat.Dense
	projected.Mul(centered, vectors.Slice(0, d, 0, components))

	out := make([][]float64, n)
	for i := range n {
		out[i] = mat.Row(nil, i, &projected)
	}
	return out, true
}

// identical reports whether all points are equal within a small tolerance
func identical(points [][]float64) bool {
	for _, p := range points[1:] {
		if !floats.EqualApprox(p, points[0], 1e-10) {
			return false
		}
	}
	return true
}
