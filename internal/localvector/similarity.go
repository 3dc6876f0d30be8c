package localvector

import "math"

// Similarity scores a against b. Vectors of different length score 0.
func Similarity(alg Algorithm, a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	switch alg {
	case DotProduct:
		return dot(a, b)
	case Euclidean:
		return 1 / (1 + euclidean(a, b))
	default:
		return cosine(a, b)
	}
}

// cosine is rescaled from [-1,1] to [0,1]; a zero vector scores 0.
func cosine(a, b []float32) float64 {
	var d, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		d += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := d / (math.Sqrt(na) * math.Sqrt(nb))
	return (c + 1) / 2
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func euclidean(a, b []float32) float64 {
	var s float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		s += d * d
	}
	return math.Sqrt(s)
}
