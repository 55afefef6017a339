package vector

import (
	"fmt"
	"math"
)

// Metric is the similarity function, fixed when an index is created.
type Metric string

const (
	// MetricCosine scores by cosine similarity; zero-magnitude vectors score 0.
	MetricCosine Metric = "cosine"
	// MetricDot scores by raw inner product.
	MetricDot Metric = "dot"
)

// ParseMetric maps a config value to a Metric. Empty means cosine.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricDot:
		return MetricDot, nil
	default:
		return "", fmt.Errorf("unknown similarity metric: %s (supported: cosine, dot)", s)
	}
}

// InnerProduct returns the inner product of two vectors, or 0 when lengths differ.
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b in [-1, 1], or 0 if either is a zero vector.
func Cosine(a, b []float32) float64 {
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return InnerProduct(a, b) / (na * nb)
}

// Score applies the metric to a and b.
func (m Metric) Score(a, b []float32) float64 {
	if m == MetricDot {
		return InnerProduct(a, b)
	}
	return Cosine(a, b)
}
