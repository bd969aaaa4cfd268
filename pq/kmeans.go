package pq

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// kMeans runs Lloyd's algorithm with k-means++ seeding over points (each
// a row of subDim floats), returning k centroids. See DESIGN.md for
// the standard-library justification. Per-point distance accumulation
// still goes through gonum/floats rather than hand-rolled loops,
// consistent with the rest of this package's vector math.
func kMeans(points [][]float64, k int, maxIters int, rng *rand.Rand) [][]float64 {
	centroids := kMeansPlusPlusInit(points, k, rng)

	assignment := make([]int, len(points))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, squaredDistance(p, centroids[0])
			for c := 1; c < k; c++ {
				d := squaredDistance(p, centroids[c])
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, len(points[0]))
		}
		for i, p := range points {
			c := assignment[i]
			floats.Add(sums[c], p)
			counts[c]++
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Empty cluster: re-seed it at a random point rather than
				// leaving a degenerate all-zero centroid.
				centroids[c] = append([]float64{}, points[rng.Intn(len(points))]...)
				continue
			}
			floats.Scale(1/float64(counts[c]), sums[c])
			centroids[c] = sums[c]
		}

		if !changed && iter > 0 {
			break
		}
	}

	return centroids
}

// kMeansPlusPlusInit seeds k centroids by the k-means++ rule: the
// first centroid is a uniformly random point, each subsequent one is
// drawn with probability proportional to its squared distance from
// the nearest already-chosen centroid.
func kMeansPlusPlusInit(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := append([]float64{}, points[rng.Intn(len(points))]...)
	centroids = append(centroids, first)

	for len(centroids) < k {
		weights := make([]float64, len(points))
		var total float64
		for i, p := range points {
			minDist := squaredDistance(p, centroids[0])
			for _, c := range centroids[1:] {
				if d := squaredDistance(p, c); d < minDist {
					minDist = d
				}
			}
			weights[i] = minDist
			total += minDist
		}

		if total == 0 {
			// All remaining points coincide with a chosen centroid;
			// fall back to uniform pick to keep k distinct rows.
			centroids = append(centroids, append([]float64{}, points[rng.Intn(len(points))]...))
			continue
		}

		target := rng.Float64() * total
		var cum float64
		chosen := len(points) - 1
		for i, w := range weights {
			cum += w
			if cum >= target {
				chosen = i
				break
			}
		}
		centroids = append(centroids, append([]float64{}, points[chosen]...))
	}

	return centroids
}

func squaredDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}
