// Package pq implements a trainable product-quantization vector
// compressor: vectors are split into contiguous subvectors, each
// compressed to the index of its nearest learned centroid.
package pq

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/arcvector/vectordb/common"
	"github.com/arcvector/vectordb/metrics"
)

const maxKMeansIters = 25

// Config configures a Compressor. There is no environment or CLI
// configuration surface; callers always construct a Config explicitly.
type Config struct {
	D int // vector dimension

	// NSubvectors is the number of contiguous subvectors D is split
	// into. Zero means auto-select: try min(2, D), decrementing until
	// it divides D.
	NSubvectors int

	NClusters int // codebook size per subvector position; must be <= 256

	// Seed fixes the k-means RNG for reproducible training. 0 means
	// time-seeded.
	Seed int64

	// Metrics receives counters for trainings/compressions. A nil
	// Metrics is fine — every Registry method no-ops on a nil receiver.
	Metrics *metrics.Registry
}

// Compressor is a trained (or untrained) product quantizer for
// fixed-dimension vectors.
type Compressor struct {
	config      Config
	nSubvectors int
	subDim      int

	trained   bool
	codebooks [][][]float64 // codebooks[subvector][cluster] -> centroid
	minVals   []float64
	maxVals   []float64

	rng *rand.Rand
}

// NewCompressor validates config and resolves NSubvectors if unset.
func NewCompressor(config Config) (*Compressor, error) {
	if config.D <= 0 {
		return nil, fmt.Errorf("dimension must be > 0, got %d", config.D)
	}
	if config.NClusters <= 0 || config.NClusters > 256 {
		return nil, fmt.Errorf("n_clusters must be in (0, 256], got %d", config.NClusters)
	}

	nSub := config.NSubvectors
	if nSub == 0 {
		nSub = config.D
		if nSub > 2 {
			nSub = 2
		}
		for nSub > 1 && config.D%nSub != 0 {
			nSub--
		}
	}
	if config.D%nSub != 0 {
		return nil, fmt.Errorf("dimension %d not divisible by n_subvectors %d", config.D, nSub)
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Compressor{
		config:      config,
		nSubvectors: nSub,
		subDim:      config.D / nSub,
		rng:         rand.New(rand.NewSource(seed)),
	}, nil
}

// Train fits a codebook of NClusters centroids for each subvector
// position from the given training vectors, first normalizing every
// dimension to [0,1] via the observed per-dimension min/max.
func (c *Compressor) Train(vectors [][]float64) error {
	if len(vectors) < c.config.NClusters {
		return common.ErrInsufficientTraining
	}
	for _, v := range vectors {
		if len(v) != c.config.D {
			return common.ErrDimensionMismatch
		}
	}

	c.minVals, c.maxVals = minMaxPerDim(vectors, c.config.D)
	normalized := make([][]float64, len(vectors))
	for i, v := range vectors {
		normalized[i] = c.normalize(v)
	}

	c.codebooks = make([][][]float64, c.nSubvectors)
	for s := 0; s < c.nSubvectors; s++ {
		start := s * c.subDim
		end := start + c.subDim
		subPoints := make([][]float64, len(normalized))
		for i, v := range normalized {
			subPoints[i] = v[start:end]
		}
		c.codebooks[s] = kMeans(subPoints, c.config.NClusters, maxKMeansIters, c.rng)
	}

	c.trained = true
	c.config.Metrics.IncPQTraining()
	return nil
}

// minMaxPerDim computes the observed min and max for each of d
// dimensions across vectors.
func minMaxPerDim(vectors [][]float64, d int) (mins, maxs []float64) {
	mins = make([]float64, d)
	maxs = make([]float64, d)
	copy(mins, vectors[0])
	copy(maxs, vectors[0])
	for _, v := range vectors[1:] {
		for i, x := range v {
			if x < mins[i] {
				mins[i] = x
			}
			if x > maxs[i] {
				maxs[i] = x
			}
		}
	}
	return mins, maxs
}

// normalize maps v into [0,1]^D using the trained min/max; a
// zero-width dimension (min == max) maps to 0.
func (c *Compressor) normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		width := c.maxVals[i] - c.minVals[i]
		if width == 0 {
			out[i] = 0
			continue
		}
		out[i] = (x - c.minVals[i]) / width
	}
	return out
}

// denormalize reverses normalize.
func (c *Compressor) denormalize(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x*(c.maxVals[i]-c.minVals[i]) + c.minVals[i]
	}
	return out
}

// Compress encodes v as one centroid-index byte per subvector.
func (c *Compressor) Compress(v []float64) ([]byte, error) {
	if !c.trained {
		return nil, common.ErrCompressorNotTrained
	}
	if len(v) != c.config.D {
		return nil, common.ErrDimensionMismatch
	}

	normalized := c.normalize(v)
	codes := make([]byte, c.nSubvectors)
	for s := 0; s < c.nSubvectors; s++ {
		start := s * c.subDim
		sub := normalized[start : start+c.subDim]

		best, bestDist := 0, squaredDistance(sub, c.codebooks[s][0])
		for ci := 1; ci < len(c.codebooks[s]); ci++ {
			d := squaredDistance(sub, c.codebooks[s][ci])
			if d < bestDist {
				best, bestDist = ci, d
			}
		}
		codes[s] = byte(best)
	}
	c.config.Metrics.IncPQCompression()
	return codes, nil
}

// Decompress reconstructs a D-length vector from PQ codes.
func (c *Compressor) Decompress(codes []byte) ([]float64, error) {
	if !c.trained {
		return nil, common.ErrCompressorNotTrained
	}
	if len(codes) != c.nSubvectors {
		return nil, fmt.Errorf("expected %d codes, got %d", c.nSubvectors, len(codes))
	}

	normalized := make([]float64, c.config.D)
	for s, code := range codes {
		centroid := c.codebooks[s][code]
		copy(normalized[s*c.subDim:(s+1)*c.subDim], centroid)
	}
	return c.denormalize(normalized), nil
}

// IsTrained reports whether Train has completed successfully.
func (c *Compressor) IsTrained() bool { return c.trained }

// NSubvectors returns the resolved subvector count (after auto-selection).
func (c *Compressor) NSubvectors() int { return c.nSubvectors }
