// Package vectorstore orchestrates segments, the LSM metadata tree,
// and the PQ compressor into the vector database's put/get/compact
// surface.
package vectorstore

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/arcvector/vectordb/common"
	"github.com/arcvector/vectordb/lsm"
	"github.com/arcvector/vectordb/metrics"
	"github.com/arcvector/vectordb/pq"
	"github.com/arcvector/vectordb/segment"
)

// defaultSegmentCacheSize bounds how many non-active segments stay
// memory-mapped at once.
const defaultSegmentCacheSize = 16

// defaultSegmentSizeThreshold is the data-byte size at which Put
// rotates to a fresh active segment.
const defaultSegmentSizeThreshold = 64 * 1024 * 1024

// Config configures a Store. There is no environment or CLI
// configuration surface; callers always construct a Config explicitly.
type Config struct {
	D       int
	DataDir string

	MemTableSizeLimit int
	MaxLevel          int

	SegmentCacheSize     int
	SegmentSizeThreshold int64

	// CompressionEnabled gates whether Put ever writes PQ-compressed
	// records; a per-store policy flag, default off, flipped on once a
	// compressor has been trained.
	CompressionEnabled bool
	NSubvectors        int
	NClusters          int

	Metrics *metrics.Registry
}

// DefaultConfig fills in numeric defaults for everything except
// D and DataDir, which the caller must always supply.
func DefaultConfig(dataDir string, d int) Config {
	return Config{
		D:                    d,
		DataDir:              dataDir,
		MemTableSizeLimit:    1000,
		MaxLevel:             7,
		SegmentCacheSize:     defaultSegmentCacheSize,
		SegmentSizeThreshold: defaultSegmentSizeThreshold,
		NClusters:            16,
	}
}

// Store glues Segments, an LSMTree[SegmentRef], and a PQCompressor
// into vector put/get/compact. It owns every Segment and the LSMTree.
type Store struct {
	mu sync.Mutex // guards activeSegment, its name, and nextSegmentID

	config     Config
	metadata   *lsm.LSMTree[common.SegmentRef]
	compressor *pq.Compressor
	segCache   *segmentCache

	activeSegment     *segment.Segment
	activeSegmentName string
	nextSegmentID     int64

	trainingBuffer [][]float64
}

// New opens (or creates) a store rooted at config.DataDir.
func New(config Config) (*Store, error) {
	if config.D <= 0 {
		return nil, fmt.Errorf("dimension must be > 0, got %d", config.D)
	}
	if config.SegmentCacheSize <= 0 {
		config.SegmentCacheSize = defaultSegmentCacheSize
	}
	if config.SegmentSizeThreshold <= 0 {
		config.SegmentSizeThreshold = defaultSegmentSizeThreshold
	}
	if config.NClusters <= 0 {
		config.NClusters = 16
	}

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, common.NewIOError("create store data dir", err)
	}

	metadata, err := lsm.New(lsm.Config{
		DataDir:           config.DataDir,
		MemTableSizeLimit: config.MemTableSizeLimit,
		MaxLevel:          config.MaxLevel,
		Metrics:           config.Metrics,
	}, lsm.JSONCodec[common.SegmentRef]{})
	if err != nil {
		return nil, fmt.Errorf("opening metadata tree: %w", err)
	}

	compressor, err := pq.NewCompressor(pq.Config{
		D:           config.D,
		NSubvectors: config.NSubvectors,
		NClusters:   config.NClusters,
		Metrics:     config.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing compressor: %w", err)
	}

	s := &Store{
		config:     config,
		metadata:   metadata,
		compressor: compressor,
		segCache:   newSegmentCache(config.SegmentCacheSize),
	}

	if err := s.openActiveSegmentLocked(); err != nil {
		return nil, err
	}

	log.Printf("vector store initialized at %s (active segment %s)", config.DataDir, s.activeSegmentName)
	return s, nil
}

// segmentFileName formats a zero-padded segment file name.
func segmentFileName(id int64) string {
	return fmt.Sprintf("segment_%06d.db", id)
}

// openActiveSegmentLocked finds the highest-numbered existing segment
// file and reopens it as the active segment, continuing its append
// stream; if none exist, it creates segment_000000.db. Only called
// from New, before the store is reachable by any other goroutine.
func (s *Store) openActiveSegmentLocked() error {
	entries, err := os.ReadDir(s.config.DataDir)
	if err != nil {
		return common.NewIOError("read store data dir", err)
	}

	var maxID int64 = -1
	for _, entry := range entries {
		var id int64
		if _, err := fmt.Sscanf(entry.Name(), "segment_%06d.db", &id); err != nil {
			log.Printf("Warning: skipping malformed segment filename: %s", entry.Name())
			continue
		}
		if id > maxID {
			maxID = id
		}
	}

	create := maxID < 0
	if create {
		maxID = 0
	}

	name := segmentFileName(maxID)
	seg, err := segment.Open(filepath.Join(s.config.DataDir, name), create)
	if err != nil {
		return fmt.Errorf("opening active segment %s: %w", name, err)
	}

	s.activeSegment = seg
	s.activeSegmentName = name
	s.nextSegmentID = maxID + 1
	return nil
}

// encodeVector serializes v as D little-endian IEEE-754 float64 values.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], math.Float64bits(x))
	}
	return buf
}

func decodeVector(buf []byte, d int) []float64 {
	v := make([]float64, d)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8 : i*8+8]))
	}
	return v
}

// Put stores vector under id. It fails with DimensionMismatch if the
// vector's length doesn't match the store's dimension.
func (s *Store) Put(id string, vector []float64) error {
	if id == "" {
		return common.ErrKeyEmpty
	}
	if len(vector) != s.config.D {
		return common.ErrDimensionMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	compressed := s.config.CompressionEnabled && s.compressor.IsTrained()

	var payload []byte
	if compressed {
		codes, err := s.compressor.Compress(vector)
		if err != nil {
			return fmt.Errorf("compressing vector %q: %w", id, err)
		}
		payload = codes
	} else {
		payload = encodeVector(vector)
	}

	offset, err := s.activeSegment.Append(payload)
	if err != nil {
		return fmt.Errorf("appending vector %q: %w", id, err)
	}
	s.config.Metrics.IncSegmentAppend(len(payload))

	ref := common.SegmentRef{
		SegmentName: s.activeSegmentName,
		Offset:      offset,
		Size:        int64(len(payload)),
		Compressed:  compressed,
	}
	if err := s.metadata.Put(id, ref); err != nil {
		return fmt.Errorf("recording metadata for %q: %w", id, err)
	}

	if s.activeSegment.Size() >= s.config.SegmentSizeThreshold {
		if err := s.rotateActiveSegmentLocked(); err != nil {
			return err
		}
	}

	return nil
}

// rotateActiveSegmentLocked retires the current active segment into
// the read cache and opens a fresh one. Caller must hold s.mu.
func (s *Store) rotateActiveSegmentLocked() error {
	retiring, retiringName := s.activeSegment, s.activeSegmentName

	id := s.nextSegmentID
	s.nextSegmentID++
	name := segmentFileName(id)
	seg, err := segment.Open(filepath.Join(s.config.DataDir, name), true)
	if err != nil {
		s.nextSegmentID--
		return fmt.Errorf("creating rotated segment %s: %w", name, err)
	}

	s.activeSegment = seg
	s.activeSegmentName = name

	if err := s.segCache.put(retiringName, retiring); err != nil {
		return fmt.Errorf("caching retired segment %s: %w", retiringName, err)
	}
	return nil
}

// openSegmentForRead returns an open segment by name, reusing the
// active segment directly (it must never be subject to LRU eviction
// while still accepting appends) or going through the read cache for
// any other segment.
func (s *Store) openSegmentForRead(name string) (*segment.Segment, error) {
	s.mu.Lock()
	if name == s.activeSegmentName {
		seg := s.activeSegment
		s.mu.Unlock()
		return seg, nil
	}
	s.mu.Unlock()

	if seg, ok := s.segCache.get(name); ok {
		return seg, nil
	}

	seg, err := segment.Open(filepath.Join(s.config.DataDir, name), false)
	if err != nil {
		return nil, fmt.Errorf("opening segment %s: %w", name, err)
	}
	if err := s.segCache.put(name, seg); err != nil {
		return nil, fmt.Errorf("caching segment %s: %w", name, err)
	}
	return seg, nil
}

// Get resolves id's SegmentRef via the metadata tree and returns its
// vector, or found=false if id is unknown. A missing id is not an
// error.
func (s *Store) Get(id string) ([]float64, bool, error) {
	ref, found, err := s.metadata.Get(id)
	if err != nil {
		return nil, false, fmt.Errorf("resolving metadata for %q: %w", id, err)
	}
	if !found {
		return nil, false, nil
	}

	seg, err := s.openSegmentForRead(ref.SegmentName)
	if err != nil {
		return nil, false, err
	}

	raw, err := seg.Read(ref.Offset, ref.Size)
	if err != nil {
		return nil, false, fmt.Errorf("reading vector %q: %w", id, err)
	}

	if ref.Compressed {
		v, err := s.compressor.Decompress(raw)
		if err != nil {
			return nil, false, fmt.Errorf("decompressing vector %q: %w", id, err)
		}
		return v, true, nil
	}
	return decodeVector(raw, s.config.D), true, nil
}

// TrainCompression trains the store's PQ compressor on vectors.
func (s *Store) TrainCompression(vectors [][]float64) error {
	return s.compressor.Train(vectors)
}

// BufferForTraining accumulates vectors for a later TrainCompression
// call; callers that train eagerly on every put can ignore this and
// call TrainCompression directly.
func (s *Store) BufferForTraining(vector []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]float64, len(vector))
	copy(v, vector)
	s.trainingBuffer = append(s.trainingBuffer, v)
}

// TrainFromBuffer trains on every vector accumulated via
// BufferForTraining and clears the buffer.
func (s *Store) TrainFromBuffer() error {
	s.mu.Lock()
	buffered := s.trainingBuffer
	s.trainingBuffer = nil
	s.mu.Unlock()

	return s.compressor.Train(buffered)
}

// MaybeCompact merges every existing segment into a single fresh one
// once the live segment count exceeds threshold: for every LSM entry
// whose segment points at a source segment, its bytes
// are copied into the new segment, its offset is re-recorded, and only
// once every live entry has been migrated are the source segments
// closed and unlinked. The current active segment is among the sources
// and is retired in favor of the new one, exactly as a size-triggered
// rotation would.
func (s *Store) MaybeCompact(threshold int) error {
	entries, err := os.ReadDir(s.config.DataDir)
	if err != nil {
		return common.NewIOError("read store data dir", err)
	}

	sources := make(map[string]bool)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".db" {
			sources[e.Name()] = true
		}
	}
	if len(sources) <= threshold {
		return nil
	}

	all, err := s.metadata.All()
	if err != nil {
		return fmt.Errorf("snapshotting metadata for compaction: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Every source segment that must be read is kept open for the
	// whole migration in this function-local set, bypassing the
	// bounded segCache: its LRU eviction would close a source segment
	// still needed for a later entry in the same merge.
	held := make(map[string]*segment.Segment, len(sources))
	held[s.activeSegmentName] = s.activeSegment

	id := s.nextSegmentID
	s.nextSegmentID++
	newName := segmentFileName(id)
	newSeg, err := segment.Open(filepath.Join(s.config.DataDir, newName), true)
	if err != nil {
		s.nextSegmentID--
		return fmt.Errorf("creating compacted segment %s: %w", newName, err)
	}

	for vectorID, ref := range all {
		if !sources[ref.SegmentName] {
			continue
		}

		srcSeg, ok := held[ref.SegmentName]
		if !ok {
			if cached, inCache := s.segCache.get(ref.SegmentName); inCache {
				s.segCache.remove(ref.SegmentName)
				srcSeg = cached
			} else {
				opened, err := segment.Open(filepath.Join(s.config.DataDir, ref.SegmentName), false)
				if err != nil {
					return fmt.Errorf("opening source segment %s: %w", ref.SegmentName, err)
				}
				srcSeg = opened
			}
			held[ref.SegmentName] = srcSeg
		}

		raw, err := srcSeg.Read(ref.Offset, ref.Size)
		if err != nil {
			return fmt.Errorf("reading vector %q from %s during compaction: %w", vectorID, ref.SegmentName, err)
		}

		newOffset, err := newSeg.Append(raw)
		if err != nil {
			return fmt.Errorf("migrating vector %q during compaction: %w", vectorID, err)
		}

		newRef := ref
		newRef.SegmentName = newName
		newRef.Offset = newOffset
		if err := s.metadata.Put(vectorID, newRef); err != nil {
			return fmt.Errorf("repointing metadata for %q during compaction: %w", vectorID, err)
		}
	}

	s.activeSegment = newSeg
	s.activeSegmentName = newName

	for name := range sources {
		seg, ok := held[name]
		if !ok {
			// A source segment with no live entries at all: never
			// opened above, so open it just to close and unlink it.
			opened, err := segment.Open(filepath.Join(s.config.DataDir, name), false)
			if err != nil {
				return fmt.Errorf("opening empty source segment %s: %w", name, err)
			}
			seg = opened
		}
		if err := seg.Remove(); err != nil {
			return fmt.Errorf("removing compacted segment %s: %w", name, err)
		}
		delete(held, name)
	}

	return nil
}

// Close flushes and closes the metadata tree, the active segment, and
// every cached segment.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.metadata.Close(); err != nil {
		return err
	}
	if err := s.segCache.closeAll(); err != nil {
		return err
	}
	return s.activeSegment.Close()
}

// Stats reports store-level counters layered on top of the metadata
// tree's own Stats.
func (s *Store) Stats() common.Stats {
	stats := s.metadata.Stats()

	entries, err := os.ReadDir(s.config.DataDir)
	if err == nil {
		var segments int
		for _, e := range entries {
			if filepath.Ext(e.Name()) == ".db" {
				segments++
			}
		}
		stats.NumSegments = segments
		s.config.Metrics.SetStoreSegments(segments)
	}

	s.mu.Lock()
	stats.ActiveSegSize = s.activeSegment.Size()
	s.mu.Unlock()

	return stats
}
