package vectorindex

import (
	"fmt"
	"math"
	"strings"
)

type Metric string

const (
	Cosine     Metric = "cosine"
	DotProduct Metric = "dot"
	Euclidean  Metric = "euclidean"
)

// ParseMetric accepts the metric names used in configuration. Empty means cosine.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine":
		return Cosine, nil
	case "dot", "dotproduct", "dot_product":
		return DotProduct, nil
	case "euclidean", "l2":
		return Euclidean, nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidInput, s)
}

// Score returns the similarity of a and b under m. Higher is always more similar.
func Score(m Metric, a, b []float32) float64 {
	switch m {
	case DotProduct:
		return dot(a, b)
	case Euclidean:
		return 1 / (1 + euclideanDistance(a, b))
	default:
		return cosineSimilarity(a, b)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosineSimilarity(a, b []float32) float64 {
	var ab, aa, bb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		ab += x * y
		aa += x * x
		bb += y * y
	}
	if aa == 0 || bb == 0 {
		return 0
	}
	s := ab / (math.Sqrt(aa) * math.Sqrt(bb))
	// rounding can push |s| marginally past 1
	return math.Max(-1, math.Min(1, s))
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
