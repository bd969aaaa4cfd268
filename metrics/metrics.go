// Package metrics exposes in-process Prometheus instrumentation for
// the storage and indexing core. There is no HTTP exporter here —
// scraping an endpoint is the network-service layer's job, explicitly
// out of scope; callers that want exposition register
// Registry.Prometheus() with their own http.Handler.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every metric this module emits. A nil *Registry is
// valid everywhere a Registry is accepted: every method no-ops on a
// nil receiver, so components can be constructed without metrics in
// tests without threading an interface or sentinel through call sites.
type Registry struct {
	SegmentAppendsTotal   prometheus.Counter
	SegmentBytesTotal     prometheus.Counter
	SegmentGrowthsTotal   prometheus.Counter

	LSMPutsTotal      prometheus.Counter
	LSMGetsTotal      prometheus.Counter
	LSMFlushesTotal   prometheus.Counter
	LSMCompactionsTotal *prometheus.CounterVec
	LSMTablesPerLevel *prometheus.GaugeVec

	HNSWInsertsTotal  prometheus.Counter
	HNSWSearchesTotal prometheus.Counter
	HNSWSearchDuration prometheus.Histogram
	HNSWGraphNodes    prometheus.Gauge

	PQTrainingsTotal  prometheus.Counter
	PQCompressionsTotal prometheus.Counter

	StoreVectorsTotal prometheus.Gauge
	StoreSegmentsTotal prometheus.Gauge

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// Default returns a process-wide Registry, constructing it on first use.
func Default() *Registry {
	once.Do(func() { defaultRegistry = NewRegistry() })
	return defaultRegistry
}

// NewRegistry builds an independent Registry backed by its own
// prometheus.Registry, so tests can construct one per store instance
// without colliding on metric names in the global default registry.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}

	r.SegmentAppendsTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_segment_appends_total",
		Help: "Total number of segment append operations.",
	})
	r.SegmentBytesTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_segment_bytes_total",
		Help: "Total bytes appended across all segments.",
	})
	r.SegmentGrowthsTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_segment_growths_total",
		Help: "Total number of segment mapping growth events.",
	})

	r.LSMPutsTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_lsm_puts_total",
		Help: "Total number of LSM tree put operations.",
	})
	r.LSMGetsTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_lsm_gets_total",
		Help: "Total number of LSM tree get operations.",
	})
	r.LSMFlushesTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_lsm_flushes_total",
		Help: "Total number of memtable flushes to L0.",
	})
	r.LSMCompactionsTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "vectordb_lsm_compactions_total",
		Help: "Total number of level compactions.",
	}, []string{"level"})
	r.LSMTablesPerLevel = promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
		Name: "vectordb_lsm_tables_per_level",
		Help: "Current number of SSTables held at each level.",
	}, []string{"level"})

	r.HNSWInsertsTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_hnsw_inserts_total",
		Help: "Total number of HNSW index inserts.",
	})
	r.HNSWSearchesTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_hnsw_searches_total",
		Help: "Total number of HNSW index searches.",
	})
	r.HNSWSearchDuration = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Name:    "vectordb_hnsw_search_duration_seconds",
		Help:    "HNSW search latency in seconds.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})
	r.HNSWGraphNodes = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "vectordb_hnsw_graph_nodes",
		Help: "Current number of nodes in the HNSW graph.",
	})

	r.PQTrainingsTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_pq_trainings_total",
		Help: "Total number of PQ compressor training runs.",
	})
	r.PQCompressionsTotal = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name: "vectordb_pq_compressions_total",
		Help: "Total number of vectors compressed via PQ.",
	})

	r.StoreVectorsTotal = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "vectordb_store_vectors_total",
		Help: "Current number of vectors tracked by the store.",
	})
	r.StoreSegmentsTotal = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name: "vectordb_store_segments_total",
		Help: "Current number of live segment files.",
	})

	return r
}

// Prometheus returns the underlying prometheus.Registry for exposition
// by a caller-owned HTTP handler.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Registry) IncSegmentAppend(n int) {
	if r == nil {
		return
	}
	r.SegmentAppendsTotal.Inc()
	r.SegmentBytesTotal.Add(float64(n))
}

func (r *Registry) IncSegmentGrowth() {
	if r == nil {
		return
	}
	r.SegmentGrowthsTotal.Inc()
}

func (r *Registry) IncLSMPut() {
	if r == nil {
		return
	}
	r.LSMPutsTotal.Inc()
}

func (r *Registry) IncLSMGet() {
	if r == nil {
		return
	}
	r.LSMGetsTotal.Inc()
}

func (r *Registry) IncLSMFlush() {
	if r == nil {
		return
	}
	r.LSMFlushesTotal.Inc()
}

func (r *Registry) IncLSMCompaction(level int) {
	if r == nil {
		return
	}
	r.LSMCompactionsTotal.WithLabelValues(levelLabel(level)).Inc()
}

func (r *Registry) SetLSMTablesPerLevel(level, count int) {
	if r == nil {
		return
	}
	r.LSMTablesPerLevel.WithLabelValues(levelLabel(level)).Set(float64(count))
}

func (r *Registry) IncHNSWInsert() {
	if r == nil {
		return
	}
	r.HNSWInsertsTotal.Inc()
}

func (r *Registry) ObserveHNSWSearch(seconds float64) {
	if r == nil {
		return
	}
	r.HNSWSearchesTotal.Inc()
	r.HNSWSearchDuration.Observe(seconds)
}

func (r *Registry) SetHNSWGraphNodes(n int) {
	if r == nil {
		return
	}
	r.HNSWGraphNodes.Set(float64(n))
}

func (r *Registry) IncPQTraining() {
	if r == nil {
		return
	}
	r.PQTrainingsTotal.Inc()
}

func (r *Registry) IncPQCompression() {
	if r == nil {
		return
	}
	r.PQCompressionsTotal.Inc()
}

func (r *Registry) SetStoreVectors(n int64) {
	if r == nil {
		return
	}
	r.StoreVectorsTotal.Set(float64(n))
}

func (r *Registry) SetStoreSegments(n int) {
	if r == nil {
		return
	}
	r.StoreSegmentsTotal.Set(float64(n))
}

func levelLabel(level int) string {
	return strconv.Itoa(level)
}
