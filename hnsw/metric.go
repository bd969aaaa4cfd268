// Package hnsw implements an in-memory Hierarchical Navigable Small
// World graph for approximate k-nearest-neighbor search over
// fixed-dimension float64 vectors.
package hnsw

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/arcvector/vectordb/common"
)

// Metric names accepted by New. Unknown names fail construction with
// common.ErrUnsupportedMetric.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
	MetricManhattan = "manhattan"
	MetricDot       = "dot"
	MetricAngular   = "angular"
)

// distanceFunc computes a distance between two equal-length vectors;
// smaller is nearer. Built on gonum/floats rather than hand-rolled
// loops, the way the rest of the domain-math surface in this module
// leans on gonum.
type distanceFunc func(a, b []float64) float64

func newDistanceFunc(metric string) (distanceFunc, error) {
	switch metric {
	case MetricEuclidean:
		return euclideanDistance, nil
	case MetricCosine:
		return cosineDistance, nil
	case MetricManhattan:
		return manhattanDistance, nil
	case MetricDot:
		return negativeDotDistance, nil
	case MetricAngular:
		return angularDistance, nil
	default:
		return nil, common.ErrUnsupportedMetric
	}
}

func euclideanDistance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

func manhattanDistance(a, b []float64) float64 {
	return floats.Distance(a, b, 1)
}

func negativeDotDistance(a, b []float64) float64 {
	return -floats.Dot(a, b)
}

// cosineSimilarity returns dot(a,b) / (||a||·||b||), treating either
// zero vector's similarity to anything else as 0 rather than NaN.
func cosineSimilarity(a, b []float64) float64 {
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 0
	}
	return floats.Dot(a, b) / (normA * normB)
}

func cosineDistance(a, b []float64) float64 {
	return 1.0 - cosineSimilarity(a, b)
}

// angularDistance converts cosine similarity to a proper angular
// distance in [0,1]: arccos(sim)/pi, clamped against float error
// pushing sim just outside [-1,1].
func angularDistance(a, b []float64) float64 {
	sim := cosineSimilarity(a, b)
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return math.Acos(sim) / math.Pi
}
