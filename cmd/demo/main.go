package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/arcvector/vectordb/hnsw"
	"github.com/arcvector/vectordb/metrics"
	"github.com/arcvector/vectordb/pq"
	"github.com/arcvector/vectordb/vectorstore"
)

const dim = 8

func main() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("Vector DB Demo: Segmented Storage, HNSW Search, and PQ Compression")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	demoStore()
	fmt.Println()
	demoHNSW()
	fmt.Println()
	demoPQ()
}

func demoStore() {
	fmt.Println("### VectorStore Demo ###")
	fmt.Println(strings.Repeat("-", 40))

	dataDir := "./data-vectorstore"
	defer os.RemoveAll(dataDir)

	reg := metrics.NewRegistry()
	config := vectorstore.DefaultConfig(dataDir, dim)
	config.Metrics = reg

	s, err := vectorstore.New(config)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	fmt.Println("✓ Opened vector store at", dataDir)

	vectors := map[string][]float64{
		"doc:1": {0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8},
		"doc:2": {0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2},
		"doc:3": {0.2, 0.2, 0.2, 0.2, 0.2, 0.2, 0.2, 0.2},
	}

	fmt.Println("\n[Writing vectors]")
	for id, v := range vectors {
		if err := s.Put(id, v); err != nil {
			log.Printf("Error writing %s: %v", id, err)
			continue
		}
		fmt.Printf("  PUT %s\n", id)
	}

	fmt.Println("\n[Reading vectors back]")
	for id := range vectors {
		v, found, err := s.Get(id)
		if err != nil {
			log.Printf("Error reading %s: %v", id, err)
			continue
		}
		fmt.Printf("  GET %s -> found=%v %v\n", id, found, v)
	}

	fmt.Println("\n[Engine stats]")
	stats := s.Stats()
	fmt.Printf("  segments=%d puts=%d gets=%d compactions=%d\n",
		stats.NumSegments, stats.PutCount, stats.GetCount, stats.CompactCount)
}

func demoHNSW() {
	fmt.Println("### HNSW Index Demo ###")
	fmt.Println(strings.Repeat("-", 40))

	idx, err := hnsw.New(hnsw.Config{
		D:              dim,
		M:              8,
		EfConstruction: 64,
		MlMax:          4,
		Metric:         hnsw.MetricCosine,
		EfSearch:       32,
		Seed:           42,
	})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("✓ Built empty HNSW index, metric =", hnsw.MetricCosine)

	corpus := map[string][]float64{
		"a": {1, 0, 0, 0, 0, 0, 0, 0},
		"b": {0, 1, 0, 0, 0, 0, 0, 0},
		"c": {0.9, 0.1, 0, 0, 0, 0, 0, 0},
		"d": {0, 0, 1, 0, 0, 0, 0, 0},
	}
	for id, v := range corpus {
		if err := idx.Insert(id, v); err != nil {
			log.Printf("Error inserting %s: %v", id, err)
		}
	}
	fmt.Printf("✓ Inserted %d vectors\n", idx.Len())

	results, err := idx.Search([]float64{1, 0, 0, 0, 0, 0, 0, 0}, 2)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("\n[Nearest neighbors of vector \"a\"]")
	for _, r := range results {
		fmt.Printf("  %s (distance=%.4f)\n", r.ID, r.Distance)
	}
}

func demoPQ() {
	fmt.Println("### Product Quantization Demo ###")
	fmt.Println(strings.Repeat("-", 40))

	c, err := pq.NewCompressor(pq.Config{D: dim, NClusters: 4, Seed: 7})
	if err != nil {
		log.Fatal(err)
	}

	training := make([][]float64, 200)
	for i := range training {
		v := make([]float64, dim)
		for j := range v {
			v[j] = float64((i*7+j*3)%100) / 100
		}
		training[i] = v
	}
	if err := c.Train(training); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✓ Trained %d-subvector codebook on %d vectors\n", c.NSubvectors(), len(training))

	v := []float64{0.1, 0.9, 0.2, 0.8, 0.3, 0.7, 0.4, 0.6}
	codes, err := c.Compress(v)
	if err != nil {
		log.Fatal(err)
	}
	decoded, err := c.Decompress(codes)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("\n  original:  %v\n", v)
	fmt.Printf("  codes:     %v (%d bytes vs %d for raw float64s)\n", codes, len(codes), dim*8)
	fmt.Printf("  decoded:   %v\n", decoded)
}
