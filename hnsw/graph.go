package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/arcvector/vectordb/common"
	"github.com/arcvector/vectordb/metrics"
)

// Config configures an Index. There is no environment or CLI
// configuration surface; callers always construct a Config explicitly.
type Config struct {
	D              int    // vector dimension
	M              int    // neighbors per node above layer 0
	EfConstruction int    // candidate list size during insert
	MlMax          int    // maximum layer any node may occupy
	Metric         string // one of the Metric* constants
	EfSearch       int    // candidate list size at search time; 0 means "use k"

	// Seed fixes the level-sampling RNG so tests can reproduce a given
	// graph shape. 0 means time-seeded.
	Seed int64

	// Metrics receives counters for inserts/searches. A nil Metrics
	// is fine — every Registry method no-ops on a nil receiver.
	Metrics *metrics.Registry
}

// Result is one (id, distance) pair returned by Search, ascending by
// distance.
type Result struct {
	ID       string
	Distance float64
}

// node is a single graph vertex. Neighbors are held as sets of ids
// rather than direct pointers, decoupling graph topology from node
// lifetime — this graph is naturally cyclic.
type node struct {
	id        string
	vector    []float64
	neighbors []map[string]struct{} // neighbors[layer] -> neighbor ids
}

// Index is an in-memory HNSW graph over fixed-dimension vectors. It
// owns every node and neighbor set; vectors are held by value inside
// the index so that Search requires no I/O.
type Index struct {
	mu sync.RWMutex

	config   Config
	distance distanceFunc
	mMax0    int

	nodes      map[string]*node
	entryPoint string
	maxLayer   int

	rng *rand.Rand
}

// New constructs an empty Index. M_max0 is fixed at 2*M.
func New(config Config) (*Index, error) {
	if config.D <= 0 {
		return nil, fmt.Errorf("dimension must be > 0, got %d", config.D)
	}
	if config.M <= 0 {
		return nil, fmt.Errorf("M must be > 0, got %d", config.M)
	}
	if config.EfConstruction <= 0 {
		return nil, fmt.Errorf("efConstruction must be > 0, got %d", config.EfConstruction)
	}
	if config.MlMax < 0 {
		return nil, fmt.Errorf("mlMax must be >= 0, got %d", config.MlMax)
	}

	dist, err := newDistanceFunc(config.Metric)
	if err != nil {
		return nil, err
	}

	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Index{
		config:     config,
		distance:   dist,
		mMax0:      config.M * 2,
		nodes:      make(map[string]*node),
		entryPoint: "",
		maxLayer:   -1,
		rng:        rand.New(rand.NewSource(seed)),
	}, nil
}

// Len returns the number of vectors currently held.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.nodes)
}

// sampleLevel draws l_top = min(floor(-ln(U)*M), ml_max), U ~ Uniform(0,1].
// Caller must hold idx.mu.
func (idx *Index) sampleLevel() int {
	u := 1 - idx.rng.Float64() // Float64 is [0,1); shift to (0,1]
	level := int(math.Floor(-math.Log(u) * float64(idx.config.M)))
	if level > idx.config.MlMax {
		level = idx.config.MlMax
	}
	return level
}

// Insert adds id/vector to the index, holding idx.mu for writing for
// the whole insertion.
func (idx *Index) Insert(id string, vector []float64) error {
	if len(vector) != idx.config.D {
		return common.ErrDimensionMismatch
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.nodes[id]; exists {
		return common.ErrDuplicateID
	}

	level := idx.sampleLevel()
	vecCopy := make([]float64, len(vector))
	copy(vecCopy, vector)

	n := &node{id: id, vector: vecCopy, neighbors: make([]map[string]struct{}, level+1)}
	for l := 0; l <= level; l++ {
		n.neighbors[l] = make(map[string]struct{})
	}
	idx.nodes[id] = n

	if idx.entryPoint == "" {
		idx.entryPoint = id
		idx.maxLayer = level
		return nil
	}

	curr := idx.entryPoint
	for l := idx.maxLayer; l > level; l-- {
		if res := idx.searchLayer(vector, curr, 1, l); len(res) > 0 {
			curr = res[0].id
		}
	}

	top := level
	if idx.maxLayer < top {
		top = idx.maxLayer
	}
	for l := top; l >= 0; l-- {
		mL := idx.config.M
		if l == 0 {
			mL = idx.mMax0
		}

		candidates := idx.searchLayer(vector, curr, idx.config.EfConstruction, l)
		chosen := selectNeighbors(candidates, mL)

		for _, c := range chosen {
			idx.addEdgeLocked(id, c.id, l)
			idx.addEdgeLocked(c.id, id, l)

			neighborNode := idx.nodes[c.id]
			if len(neighborNode.neighbors[l]) > mL {
				idx.shrinkLocked(neighborNode, l, mL)
			}
		}

		if len(candidates) > 0 {
			curr = candidates[0].id
		}
	}

	if level > idx.maxLayer {
		idx.maxLayer = level
		idx.entryPoint = id
	}

	idx.config.Metrics.IncHNSWInsert()
	idx.config.Metrics.SetHNSWGraphNodes(len(idx.nodes))

	return nil
}

// addEdgeLocked records a directed neighbor edge; callers add both
// directions to keep the graph symmetric within a layer.
func (idx *Index) addEdgeLocked(from, to string, layer int) {
	idx.nodes[from].neighbors[layer][to] = struct{}{}
}

// shrinkLocked re-selects n's top-m neighbors at layer, replacing its
// full neighbor set, and removes n from the neighbor set of every node
// it dropped so edges stay symmetric. Without this, a node that
// accumulates an edge pushing it past its degree bound would never be
// re-pruned.
func (idx *Index) shrinkLocked(n *node, layer, m int) {
	candidates := make([]scored, 0, len(n.neighbors[layer]))
	for nid := range n.neighbors[layer] {
		other := idx.nodes[nid]
		candidates = append(candidates, scored{id: nid, distance: idx.distance(n.vector, other.vector)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })

	kept := selectNeighbors(candidates, m)
	newSet := make(map[string]struct{}, len(kept))
	for _, c := range kept {
		newSet[c.id] = struct{}{}
	}
	for nid := range n.neighbors[layer] {
		if _, ok := newSet[nid]; !ok {
			delete(idx.nodes[nid].neighbors[layer], n.id)
		}
	}
	n.neighbors[layer] = newSet
}

// selectNeighbors implements simple-nearest selection: the M
// smallest-distance candidates. cands must already be ascending by
// distance (searchLayer's contract).
func selectNeighbors(cands []scored, m int) []scored {
	if len(cands) <= m {
		return cands
	}
	return cands[:m]
}

// searchLayer runs a two-structure beam search: a min-heap of
// unexplored candidates, and a max-heap bounded to ef holding the best
// results found so far. Returns results ascending by distance. Caller
// must hold idx.mu (shared or exclusive).
func (idx *Index) searchLayer(query []float64, entry string, ef, layer int) []scored {
	entryNode := idx.nodes[entry]
	d0 := idx.distance(query, entryNode.vector)

	visited := map[string]bool{entry: true}

	candidates := &minHeap{{id: entry, distance: d0}}
	heap.Init(candidates)
	results := &maxHeap{{id: entry, distance: d0}}
	heap.Init(results)

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(scored)

		worst := math.Inf(1)
		if results.Len() > 0 {
			worst = (*results)[0].distance
		}
		if c.distance > worst && results.Len() >= ef {
			break
		}

		curNode := idx.nodes[c.id]
		if layer >= len(curNode.neighbors) {
			continue
		}
		for nid := range curNode.neighbors[layer] {
			if visited[nid] {
				continue
			}
			visited[nid] = true

			d := idx.distance(query, idx.nodes[nid].vector)
			if results.Len() < ef || d < worst {
				heap.Push(candidates, scored{id: nid, distance: d})
				heap.Push(results, scored{id: nid, distance: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
				if results.Len() > 0 {
					worst = (*results)[0].distance
				}
			}
		}
	}

	return drainSorted(results)
}

// Search returns up to k nearest neighbors of query, ascending by
// distance. An empty index returns an empty, non-error result.
func (idx *Index) Search(query []float64, k int) ([]Result, error) {
	if len(query) != idx.config.D {
		return nil, common.ErrDimensionMismatch
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be >= 1, got %d", k)
	}

	start := time.Now()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.entryPoint == "" {
		idx.config.Metrics.ObserveHNSWSearch(time.Since(start).Seconds())
		return []Result{}, nil
	}

	curr := idx.entryPoint
	for l := idx.maxLayer; l > 0; l-- {
		if res := idx.searchLayer(query, curr, 1, l); len(res) > 0 {
			curr = res[0].id
		}
	}

	ef := idx.config.EfSearch
	if ef < k {
		ef = k
	}

	found := idx.searchLayer(query, curr, ef, 0)
	if len(found) > k {
		found = found[:k]
	}

	out := make([]Result, len(found))
	for i, r := range found {
		out[i] = Result{ID: r.id, Distance: r.distance}
	}
	idx.config.Metrics.ObserveHNSWSearch(time.Since(start).Seconds())
	return out, nil
}
