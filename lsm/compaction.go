package lsm

import (
	"fmt"
	"path/filepath"
	"sort"
)

// compactLevel merges every table at sourceLevel into a single new
// table at sourceLevel+1, newest source table winning per key. It
// returns the new table; the caller is responsible for updating the
// level manager and unlinking the source files only after the new
// table has been durably written, so a failed compaction never
// unlinks a source file.
func compactLevel[V any](dataDir string, codec Codec[V], sources []*sstable[V], targetLevel int, nextTableID *int64) (*sstable[V], error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("compactLevel called with no source tables")
	}

	// Ascending tableID so later entries overwrite earlier ones below —
	// "newest table wins per key".
	ordered := make([]*sstable[V], len(sources))
	copy(ordered, sources)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].tableID < ordered[j].tableID })

	merged := make(map[string]V)
	for _, t := range ordered {
		entries, err := t.entries()
		if err != nil {
			return nil, fmt.Errorf("reading sstable %s during compaction: %w", t.path, err)
		}
		for _, e := range entries {
			merged[e.Key] = e.Value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mergedEntries := make([]memEntry[V], len(keys))
	for i, k := range keys {
		mergedEntries[i] = memEntry[V]{Key: k, Value: merged[k]}
	}

	tableID := *nextTableID
	*nextTableID++
	path := filepath.Join(dataDir, fmt.Sprintf("L%d-%d.sst", targetLevel, tableID))

	return writeSSTable(path, targetLevel, tableID, codec, mergedEntries)
}
