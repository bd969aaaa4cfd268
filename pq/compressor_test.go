package pq

import (
	"math/rand"
	"testing"

	"github.com/arcvector/vectordb/common"
)

func TestNewCompressorAutoSelectsSubvectors(t *testing.T) {
	tests := []struct {
		d    int
		want int
	}{
		{d: 8, want: 2},
		{d: 7, want: 1},
		{d: 1, want: 1},
	}
	for _, tt := range tests {
		c, err := NewCompressor(Config{D: tt.d, NClusters: 4, Seed: 1})
		if err != nil {
			t.Fatalf("D=%d: %v", tt.d, err)
		}
		if got := c.NSubvectors(); got != tt.want {
			t.Errorf("D=%d: got %d subvectors, want %d", tt.d, got, tt.want)
		}
	}
}

func TestNewCompressorRejectsBadConfig(t *testing.T) {
	if _, err := NewCompressor(Config{D: 0, NClusters: 4}); err == nil {
		t.Error("expected error for zero dimension")
	}
	if _, err := NewCompressor(Config{D: 8, NClusters: 0}); err == nil {
		t.Error("expected error for zero n_clusters")
	}
	if _, err := NewCompressor(Config{D: 8, NClusters: 300}); err == nil {
		t.Error("expected error for n_clusters > 256")
	}
	if _, err := NewCompressor(Config{D: 8, NSubvectors: 3, NClusters: 4}); err == nil {
		t.Error("expected error when D not divisible by explicit n_subvectors")
	}
}

func TestTrainRequiresNClustersVectors(t *testing.T) {
	c, err := NewCompressor(Config{D: 4, NSubvectors: 2, NClusters: 4, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	vectors := randomVectors(rand.New(rand.NewSource(2)), 3, 4)
	if err := c.Train(vectors); err != common.ErrInsufficientTraining {
		t.Fatalf("got %v, want ErrInsufficientTraining", err)
	}

	vectors = randomVectors(rand.New(rand.NewSource(2)), 4, 4)
	if err := c.Train(vectors); err != nil {
		t.Fatalf("training with exactly n_clusters vectors failed: %v", err)
	}
}

func TestCompressDecompressBeforeTrain(t *testing.T) {
	c, err := NewCompressor(Config{D: 4, NSubvectors: 2, NClusters: 4, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Compress([]float64{1, 2, 3, 4}); err != common.ErrCompressorNotTrained {
		t.Fatalf("got %v, want ErrCompressorNotTrained", err)
	}
	if _, err := c.Decompress([]byte{0, 0}); err != common.ErrCompressorNotTrained {
		t.Fatalf("got %v, want ErrCompressorNotTrained", err)
	}
}

func TestCompressDecompressRoundTripBoundedDistortion(t *testing.T) {
	c, err := NewCompressor(Config{D: 8, NSubvectors: 4, NClusters: 16, Seed: 7})
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(7))
	training := randomVectors(rng, 200, 8)
	if err := c.Train(training); err != nil {
		t.Fatal(err)
	}

	for _, v := range training[:20] {
		codes, err := c.Compress(v)
		if err != nil {
			t.Fatal(err)
		}
		if len(codes) != 4 {
			t.Fatalf("got %d codes, want 4", len(codes))
		}
		recovered, err := c.Decompress(codes)
		if err != nil {
			t.Fatal(err)
		}
		if len(recovered) != 8 {
			t.Fatalf("got %d-length vector, want 8", len(recovered))
		}
		var sqErr float64
		for i := range v {
			diff := v[i] - recovered[i]
			sqErr += diff * diff
		}
		if sqErr > 4.0 {
			t.Errorf("distortion too large for %v: recovered %v (sqErr=%v)", v, recovered, sqErr)
		}
	}
}

func TestCompressRejectsDimensionMismatch(t *testing.T) {
	c, err := NewCompressor(Config{D: 4, NSubvectors: 2, NClusters: 4, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Train(randomVectors(rand.New(rand.NewSource(1)), 4, 4)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Compress([]float64{1, 2, 3}); err != common.ErrDimensionMismatch {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func randomVectors(rng *rand.Rand, n, d int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		v := make([]float64, d)
		for j := range v {
			v[j] = rng.Float64()*10 - 5
		}
		out[i] = v
	}
	return out
}
