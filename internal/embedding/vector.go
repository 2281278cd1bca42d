package embedding

import (
	"errors"
	"math"
)

// ErrZeroVector is returned when a provider yields a vector that cannot be
// normalized.
var ErrZeroVector = errors.New("embedding: zero-norm vector")

// Normalize returns a unit-length copy of v.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, ErrZeroVector
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// Dot is the inner product of a and b over their common prefix. For unit
// vectors it equals cosine similarity.
func Dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

// Valid reports whether v is usable as a stored embedding. An empty vector is
// the invalid sentinel. dim <= 0 accepts any dimension.
func Valid(v []float32, dim int) bool {
	if len(v) == 0 {
		return false
	}
	if dim > 0 && len(v) != dim {
		return false
	}
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
