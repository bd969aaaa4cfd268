package vectorstore

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/arcvector/vectordb/common"
	"github.com/arcvector/vectordb/common/testutil"
)

func closeVectors(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func newTestStore(t *testing.T, d int) *Store {
	t.Helper()
	dir := testutil.TempDir(t)
	s, err := New(DefaultConfig(dir, d))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutThenGet(t *testing.T) {
	s := newTestStore(t, 4)

	v := []float64{1, 2, 3, 4}
	if err := s.Put("a", v); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := s.Get("a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if !closeVectors(got, v) {
		t.Fatalf("got %v, want %v", got, v)
	}
}

func TestGetMissingIsNotError(t *testing.T) {
	s := newTestStore(t, 4)

	_, found, err := s.Get("nonexistent")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if found {
		t.Fatal("expected found=false")
	}
}

func TestPutRejectsDimensionMismatch(t *testing.T) {
	s := newTestStore(t, 4)

	err := s.Put("a", []float64{1, 2, 3})
	if !errors.Is(err, common.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestPutRejectsEmptyID(t *testing.T) {
	s := newTestStore(t, 4)

	err := s.Put("", []float64{1, 2, 3, 4})
	if !errors.Is(err, common.ErrKeyEmpty) {
		t.Fatalf("expected ErrKeyEmpty, got %v", err)
	}
}

// TestOverwritePreservesLatestValue: putting the same id twice must
// make Get return the second value,
// even once the first write has been flushed to an SSTable.
func TestOverwritePreservesLatestValue(t *testing.T) {
	dir := testutil.TempDir(t)
	config := DefaultConfig(dir, 2)
	config.MemTableSizeLimit = 2
	s, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Put("x", []float64{1, 1}); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	// Force a flush by filling the memtable with unrelated keys.
	if err := s.Put("filler", []float64{0, 0}); err != nil {
		t.Fatalf("Put filler: %v", err)
	}
	if err := s.Put("x", []float64{2, 2}); err != nil {
		t.Fatalf("Put 2: %v", err)
	}

	got, found, err := s.Get("x")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if !closeVectors(got, []float64{2, 2}) {
		t.Fatalf("got %v, want [2 2]", got)
	}
}

// TestReopenDurability: data written in one store session must be
// visible after closing and reopening a store rooted at the same
// directory.
func TestReopenDurability(t *testing.T) {
	dir := testutil.TempDir(t)
	config := DefaultConfig(dir, 3)

	s, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Put("a", []float64{1, 2, 3}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("b", []float64{4, 5, 6}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(config)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, found, err := reopened.Get("a")
	if err != nil || !found {
		t.Fatalf("Get(a) after reopen: found=%v err=%v", found, err)
	}
	if !closeVectors(got, []float64{1, 2, 3}) {
		t.Fatalf("got %v, want [1 2 3]", got)
	}

	got, found, err = reopened.Get("b")
	if err != nil || !found {
		t.Fatalf("Get(b) after reopen: found=%v err=%v", found, err)
	}
	if !closeVectors(got, []float64{4, 5, 6}) {
		t.Fatalf("got %v, want [4 5 6]", got)
	}
}

// TestMaybeCompactPreservesVisibility: after compacting many small
// segments into one, every live id must
// still resolve to the same vector, and the source segment files must
// be gone.
func TestMaybeCompactPreservesVisibility(t *testing.T) {
	dir := testutil.TempDir(t)
	config := DefaultConfig(dir, 2)
	config.SegmentSizeThreshold = 1 // rotate on every put
	s, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	want := map[string][]float64{
		"a": {1, 1},
		"b": {2, 2},
		"c": {3, 3},
		"d": {4, 4},
	}
	for id, v := range want {
		if err := s.Put(id, v); err != nil {
			t.Fatalf("Put(%s): %v", id, err)
		}
	}

	statsBefore := s.Stats()
	if statsBefore.NumSegments < 4 {
		t.Fatalf("expected at least 4 rotated segments before compaction, got %d", statsBefore.NumSegments)
	}

	if err := s.MaybeCompact(1); err != nil {
		t.Fatalf("MaybeCompact: %v", err)
	}

	for id, v := range want {
		got, found, err := s.Get(id)
		if err != nil {
			t.Fatalf("Get(%s) after compaction: %v", id, err)
		}
		if !found {
			t.Fatalf("Get(%s) after compaction: not found", id)
		}
		if !closeVectors(got, v) {
			t.Fatalf("Get(%s) after compaction: got %v, want %v", id, got, v)
		}
	}

	statsAfter := s.Stats()
	if statsAfter.NumSegments != 1 {
		t.Fatalf("expected exactly 1 segment after compaction, got %d", statsAfter.NumSegments)
	}
}

func TestMaybeCompactBelowThresholdIsNoop(t *testing.T) {
	s := newTestStore(t, 2)

	if err := s.Put("a", []float64{1, 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.MaybeCompact(100); err != nil {
		t.Fatalf("MaybeCompact: %v", err)
	}

	got, found, err := s.Get("a")
	if err != nil || !found {
		t.Fatalf("Get after noop compaction: found=%v err=%v", found, err)
	}
	if !closeVectors(got, []float64{1, 1}) {
		t.Fatalf("got %v, want [1 1]", got)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	dir := testutil.TempDir(t)
	config := DefaultConfig(dir, 4)
	config.CompressionEnabled = true
	config.NSubvectors = 2
	config.NClusters = 4
	s, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	training := testutil.RandomVectors(1, 50, 4)
	if err := s.TrainCompression(training); err != nil {
		t.Fatalf("TrainCompression: %v", err)
	}

	v := []float64{0.5, -0.25, 0.75, -0.9}
	if err := s.Put("a", v); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, found, err := s.Get("a")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if len(got) != 4 {
		t.Fatalf("expected reconstructed vector of length 4, got %d", len(got))
	}
}

func TestSegmentRotationCreatesNewActiveSegment(t *testing.T) {
	dir := testutil.TempDir(t)
	config := DefaultConfig(dir, 2)
	config.SegmentSizeThreshold = 1
	s, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Put("a", []float64{1, 1}); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	firstActive := s.activeSegmentName

	if err := s.Put("b", []float64{2, 2}); err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if s.activeSegmentName == firstActive {
		t.Fatal("expected active segment to rotate after crossing size threshold")
	}

	if _, err := filepath.Abs(filepath.Join(dir, firstActive)); err != nil {
		t.Fatalf("unexpected path error: %v", err)
	}
}
