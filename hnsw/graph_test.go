package hnsw

import (
	"math/rand"
	"testing"

	"github.com/arcvector/vectordb/common"
)

func baseConfig() Config {
	return Config{
		D:              4,
		M:              8,
		EfConstruction: 32,
		MlMax:          4,
		Metric:         MetricEuclidean,
		Seed:           1,
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		mut  func(c *Config)
	}{
		{"zero dimension", func(c *Config) { c.D = 0 }},
		{"zero M", func(c *Config) { c.M = 0 }},
		{"zero efConstruction", func(c *Config) { c.EfConstruction = 0 }},
		{"negative mlMax", func(c *Config) { c.MlMax = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := baseConfig()
			tt.mut(&c)
			if _, err := New(c); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestNewRejectsUnsupportedMetric(t *testing.T) {
	c := baseConfig()
	c.Metric = "manhattan-ish"
	_, err := New(c)
	if err != common.ErrUnsupportedMetric {
		t.Fatalf("got %v, want ErrUnsupportedMetric", err)
	}
}

func TestInsertRejectsDuplicateAndDimensionMismatch(t *testing.T) {
	idx, err := New(baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert("a", []float64{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Insert("a", []float64{5, 6, 7, 8}); err != common.ErrDuplicateID {
		t.Fatalf("got %v, want ErrDuplicateID", err)
	}
	if err := idx.Insert("b", []float64{1, 2, 3}); err != common.ErrDimensionMismatch {
		t.Fatalf("got %v, want ErrDimensionMismatch", err)
	}
}

func TestSearchOnEmptyIndexReturnsEmpty(t *testing.T) {
	idx, err := New(baseConfig())
	if err != nil {
		t.Fatal(err)
	}
	results, err := idx.Search([]float64{1, 2, 3, 4}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0", len(results))
	}
}

// TestSelfQuery mirrors the end-to-end "HNSW self-query" scenario:
// insert 50 random vectors with a fixed seed; each inserted vector,
// queried for its own nearest neighbor, must return itself at
// distance 0.
func TestSelfQuery(t *testing.T) {
	const n = 50
	const d = 8

	c := baseConfig()
	c.D = d
	c.M = 12
	c.EfConstruction = 64
	c.Seed = 42
	idx, err := New(c)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(42))
	vectors := make(map[string][]float64, n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i%26))
		if i >= 26 {
			id += string(rune('0' + i/26))
		}
		v := make([]float64, d)
		for j := range v {
			v[j] = rng.Float64()
		}
		vectors[id] = v
		if err := idx.Insert(id, v); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	for id, v := range vectors {
		results, err := idx.Search(v, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 {
			t.Fatalf("search(%s) returned %d results, want 1", id, len(results))
		}
		if results[0].ID != id {
			t.Errorf("search(%s) returned %s at distance %v, want self at 0", id, results[0].ID, results[0].Distance)
		}
		if results[0].Distance > 1e-9 {
			t.Errorf("search(%s) self-distance = %v, want ~0", id, results[0].Distance)
		}
	}
}

// TestSearchReturnsSortedAscending mirrors the "HNSW k-NN sorted"
// scenario: distances in a result set never decrease.
func TestSearchReturnsSortedAscending(t *testing.T) {
	const n = 200
	const d = 6

	c := baseConfig()
	c.D = d
	c.M = 10
	c.EfConstruction = 48
	c.Seed = 7
	idx, err := New(c)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(99))
	stored := make(map[string][]float64, n)
	for i := 0; i < n; i++ {
		id := randomID(rng, i)
		v := randomVector(rng, d)
		stored[id] = v
		if err := idx.Insert(id, v); err != nil {
			t.Fatal(err)
		}
	}

	query := randomVector(rng, d)
	results, err := idx.Search(query, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 10 {
		t.Fatalf("got %d results, want 10", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Fatalf("results not ascending at index %d: %v then %v", i, results[i-1].Distance, results[i].Distance)
		}
	}
	for _, r := range results {
		want := euclideanDistance(query, stored[r.ID])
		if diff := want - r.Distance; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("result %s distance = %v, want %v (metric(q, stored))", r.ID, r.Distance, want)
		}
	}
}

func TestGraphSymmetryAndLayerNesting(t *testing.T) {
	c := baseConfig()
	c.Seed = 5
	idx, err := New(c)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 60; i++ {
		id := randomID(rng, i)
		v := randomVector(rng, c.D)
		if err := idx.Insert(id, v); err != nil {
			t.Fatal(err)
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for id, n := range idx.nodes {
		for layer, neighbors := range n.neighbors {
			for otherID := range neighbors {
				other := idx.nodes[otherID]
				if layer >= len(other.neighbors) {
					t.Errorf("node %s present at layer %d but neighbor %s is not", id, layer, otherID)
					continue
				}
				if _, ok := other.neighbors[layer][id]; !ok {
					t.Errorf("edge %s->%s at layer %d is not symmetric", id, otherID, layer)
				}
			}
		}
		topLayer := len(n.neighbors) - 1
		for l := 0; l < topLayer; l++ {
			if n.neighbors[l] == nil {
				t.Errorf("node %s participates in layer %d but not lower layer %d", id, topLayer, l)
			}
		}
	}
}

func randomID(rng *rand.Rand, i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	for j := range b {
		b[j] = letters[rng.Intn(len(letters))]
	}
	return string(b) + "-" + string(rune('a'+i%26))
}

func randomVector(rng *rand.Rand, d int) []float64 {
	v := make([]float64, d)
	for i := range v {
		v[i] = rng.Float64()*2 - 1
	}
	return v
}
