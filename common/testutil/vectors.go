package testutil

import "math/rand"

// RandomVectors generates n deterministic pseudo-random vectors of
// dimension d using the given seed, for HNSW/PQ test fixtures.
func RandomVectors(seed int64, n, d int) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	vectors := make([][]float64, n)
	for i := range vectors {
		v := make([]float64, d)
		for j := range v {
			v[j] = rng.Float64()*2 - 1
		}
		vectors[i] = v
	}
	return vectors
}
