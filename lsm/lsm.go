// Package lsm implements a generic log-structured merge tree: a
// write-buffering memtable, flush-to-SSTable, and leveled compaction,
// parameterized over an arbitrary value type via Codec[V].
package lsm

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/arcvector/vectordb/common"
	"github.com/arcvector/vectordb/metrics"
)

// Config configures an LSMTree instance. There is no environment or
// CLI configuration surface — callers always construct a Config
// explicitly.
type Config struct {
	DataDir           string
	MemTableSizeLimit int // max entries per memtable before rotation
	MaxLevel          int // number of levels, L ∈ [0, MaxLevel)

	// Metrics receives counters for puts/gets/flushes/compactions. A
	// nil Metrics is fine — every Registry method no-ops on a nil
	// receiver.
	Metrics *metrics.Registry
}

// DefaultConfig fills in reasonable numeric defaults for everything
// except DataDir, which the caller must always supply.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:           dataDir,
		MemTableSizeLimit: 1000,
		MaxLevel:          7,
	}
}

// LSMTree is the main LSM-tree engine, generic over the stored value
// type V (fixed to common.SegmentRef by the vector store).
type LSMTree[V any] struct {
	mu sync.RWMutex

	config Config
	codec  Codec[V]

	active     *memTable[V]
	immutable  []*memTable[V]
	levels     *levelManager[V]
	nextTableID int64

	putCount     atomic.Int64
	getCount     atomic.Int64
	compactCount atomic.Int64
}

// New creates (or reopens) an LSM tree rooted at config.DataDir.
func New[V any](config Config, codec Codec[V]) (*LSMTree[V], error) {
	if config.MemTableSizeLimit <= 0 {
		return nil, fmt.Errorf("memtable size limit must be > 0")
	}
	if config.MaxLevel <= 0 {
		config.MaxLevel = 7
	}
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, common.NewIOError("create lsm data dir", err)
	}

	tree := &LSMTree[V]{
		config: config,
		codec:  codec,
		active: newMemTable[V](config.MemTableSizeLimit),
		levels: newLevelManager[V](config.MaxLevel),
	}

	if err := tree.loadExistingTables(); err != nil {
		return nil, err
	}

	return tree, nil
}

// loadExistingTables scans DataDir for L{level}-{tableID}.sst files
// left by a prior session and reopens them, restoring durability
// across process restarts.
func (t *LSMTree[V]) loadExistingTables() error {
	entries, err := os.ReadDir(t.config.DataDir)
	if err != nil {
		return common.NewIOError("read lsm data dir", err)
	}

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".sst" {
			continue
		}
		var level int
		var tableID int64
		if _, err := fmt.Sscanf(entry.Name(), "L%d-%d.sst", &level, &tableID); err != nil {
			log.Printf("Warning: skipping malformed sstable filename: %s", entry.Name())
			continue
		}
		if level >= t.config.MaxLevel {
			log.Printf("Warning: skipping sstable %s: level %d exceeds configured MaxLevel %d", entry.Name(), level, t.config.MaxLevel)
			continue
		}

		path := filepath.Join(t.config.DataDir, entry.Name())
		table, err := openSSTable(path, level, tableID, t.codec)
		if err != nil {
			return fmt.Errorf("reopening sstable %s: %w", entry.Name(), err)
		}
		t.levels.add(level, table)

		if tableID >= t.nextTableID {
			t.nextTableID = tableID + 1
		}
	}
	return nil
}

// Put inserts or overwrites key with value, rotating and flushing the
// memtable when it reaches MemTableSizeLimit.
func (t *LSMTree[V]) Put(key string, value V) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active.Put(key, value)
	t.putCount.Add(1)
	t.config.Metrics.IncLSMPut()

	if t.active.IsFull() {
		return t.rotateAndFlushLocked()
	}
	return nil
}

// Get retrieves the value for key: active memtable, then immutable
// memtables newest-first, then level 0..MaxLevel-1 SSTables. A missing
// key returns found=false, not an error.
func (t *LSMTree[V]) Get(key string) (V, bool, error) {
	t.mu.RLock()
	active := t.active
	immutable := make([]*memTable[V], len(t.immutable))
	copy(immutable, t.immutable)
	snapshot := make([][]*sstable[V], t.config.MaxLevel)
	for l := 0; l < t.config.MaxLevel; l++ {
		snapshot[l] = t.levels.all(l)
	}
	t.mu.RUnlock()

	t.getCount.Add(1)
	t.config.Metrics.IncLSMGet()

	var zero V

	if v, ok := active.Get(key); ok {
		return v, true, nil
	}
	for i := len(immutable) - 1; i >= 0; i-- {
		if v, ok := immutable[i].Get(key); ok {
			return v, true, nil
		}
	}

	for _, tables := range snapshot {
		for _, table := range tables {
			if !table.Overlaps(key, key) {
				continue
			}
			v, found, err := table.Get(key)
			if err != nil {
				return zero, false, err
			}
			if found {
				return v, true, nil
			}
		}
	}

	return zero, false, nil
}

// rotateAndFlushLocked retires the active memtable, merges it with any
// pending immutable memtables, and flushes the result to a new L0
// SSTable. Caller must hold t.mu for writing.
func (t *LSMTree[V]) rotateAndFlushLocked() error {
	t.immutable = append(t.immutable, t.active)
	t.active = newMemTable[V](t.config.MemTableSizeLimit)

	merged := make(map[string]V)
	for _, mt := range t.immutable {
		for _, e := range mt.Entries() {
			merged[e.Key] = e.Value
		}
	}
	if len(merged) == 0 {
		t.immutable = nil
		return nil
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]memEntry[V], len(keys))
	for i, k := range keys {
		entries[i] = memEntry[V]{Key: k, Value: merged[k]}
	}

	tableID := t.nextTableID
	t.nextTableID++
	path := filepath.Join(t.config.DataDir, fmt.Sprintf("L0-%d.sst", tableID))

	table, err := writeSSTable(path, 0, tableID, t.codec, entries)
	if err != nil {
		// Flush failed: leave the immutable list in place so a caller
		// can retry.
		t.nextTableID--
		return fmt.Errorf("flushing memtable to L0: %w", err)
	}

	t.levels.add(0, table)
	t.immutable = nil
	t.config.Metrics.IncLSMFlush()
	t.config.Metrics.SetLSMTablesPerLevel(0, t.levels.count(0))

	return t.cascadeCompactLocked(0)
}

// cascadeCompactLocked compacts level, then level+1, and so on for as
// long as each resulting level still exceeds its 4^L threshold.
func (t *LSMTree[V]) cascadeCompactLocked(level int) error {
	for level < t.config.MaxLevel-1 && t.levels.shouldCompact(level) {
		sources := append([]*sstable[V]{}, t.levels.tables[level]...)

		merged, err := compactLevel(t.config.DataDir, t.codec, sources, level+1, &t.nextTableID)
		if err != nil {
			// Abort without touching any source file.
			return fmt.Errorf("compacting level %d: %w", level, err)
		}

		for _, s := range sources {
			t.levels.remove(level, s)
		}
		t.levels.add(level+1, merged)

		for _, s := range sources {
			if err := s.Remove(); err != nil {
				return fmt.Errorf("removing compacted sstable %s: %w", s.path, err)
			}
		}

		t.compactCount.Add(1)
		t.config.Metrics.IncLSMCompaction(level)
		t.config.Metrics.SetLSMTablesPerLevel(level, t.levels.count(level))
		t.config.Metrics.SetLSMTablesPerLevel(level+1, t.levels.count(level+1))
		level++
	}
	return nil
}

// All returns every live key/value pair, newest version winning,
// merged across the active memtable, immutable memtables, and every
// level's SSTables. There is no key-range Scan in this tree's surface
// — segment compaction (the sole caller) needs a full snapshot of
// vector_id -> SegmentRef, not an ordered streaming cursor, so this
// follows the same priority-merge-into-map approach already used by
// rotateAndFlushLocked and compactLevel rather than a generic
// iterator abstraction.
func (t *LSMTree[V]) All() (map[string]V, error) {
	t.mu.RLock()
	active := t.active
	immutable := make([]*memTable[V], len(t.immutable))
	copy(immutable, t.immutable)
	snapshot := make([][]*sstable[V], t.config.MaxLevel)
	for l := 0; l < t.config.MaxLevel; l++ {
		snapshot[l] = t.levels.all(l) // newest first
	}
	t.mu.RUnlock()

	merged := make(map[string]V)

	// Lowest priority first, so higher-priority writers overwrite.
	for l := len(snapshot) - 1; l >= 0; l-- {
		for i := len(snapshot[l]) - 1; i >= 0; i-- { // oldest table first within a level
			entries, err := snapshot[l][i].entries()
			if err != nil {
				return nil, fmt.Errorf("reading sstable %s: %w", snapshot[l][i].path, err)
			}
			for _, e := range entries {
				merged[e.Key] = e.Value
			}
		}
	}
	for i := 0; i < len(immutable); i++ {
		for _, e := range immutable[i].Entries() {
			merged[e.Key] = e.Value
		}
	}
	for _, e := range active.Entries() {
		merged[e.Key] = e.Value
	}

	return merged, nil
}

// Stats reports engine counters for puts, gets, compactions, and the
// current on-disk table count.
func (t *LSMTree[V]) Stats() common.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var totalFiles int
	for l := 0; l < t.config.MaxLevel; l++ {
		totalFiles += t.levels.count(l)
	}

	return common.Stats{
		NumSegments:  totalFiles,
		PutCount:     t.putCount.Load(),
		GetCount:     t.getCount.Load(),
		CompactCount: t.compactCount.Load(),
	}
}

// Close flushes any buffered writes and closes every open SSTable.
func (t *LSMTree[V]) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active.Len() > 0 {
		if err := t.rotateAndFlushLocked(); err != nil {
			return err
		}
	}
	return t.levels.closeAll()
}
