package clustering

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch signals vectors of different lengths. It is a
// configuration bug, never a transient failure.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Cosine returns the cosine similarity of a and b clamped to [0, 1].
// Zero or empty vectors yield 0.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	switch {
	case math.IsNaN(sim), sim < 0:
		return 0, nil
	case sim > 1:
		return 1, nil
	}
	return sim, nil
}

// Centroid is the element-wise mean of vectors. It is always computed over
// the full member set.
func Centroid(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, errors.New("centroid of empty set")
	}
	dims := len(vectors[0])
	sums := make([]float64, dims)
	for _, vec := range vectors {
		if len(vec) != dims {
			return nil, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, dims, len(vec))
		}
		for i, v := range vec {
			sums[i] += float64(v)
		}
	}
	out := make([]float32, dims)
	n := float64(len(vectors))
	for i, s := range sums {
		out[i] = float32(s / n)
	}
	return out, nil
}
