package segment

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/arcvector/vectordb/common/testutil"
)

func TestAppendReadRoundTrip(t *testing.T) {
	dir := testutil.TempDir(t)
	seg, err := Open(filepath.Join(dir, "segment_000000.db"), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer seg.Close()

	payload := []byte("hello vector bytes")
	offset, err := seg.Append(payload)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected offset 0 for first append, got %d", offset)
	}

	got, err := seg.Read(offset, int64(len(payload)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}
}

func TestAppendOffsetIsPriorLogicalSize(t *testing.T) {
	dir := testutil.TempDir(t)
	seg, err := Open(filepath.Join(dir, "segment_000000.db"), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer seg.Close()

	var offsets []int64
	chunks := [][]byte{[]byte("aaa"), []byte("bb"), []byte("c")}
	for _, c := range chunks {
		before := seg.Size()
		off, err := seg.Append(c)
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if off != before {
			t.Fatalf("offset %d != logical size before append %d", off, before)
		}
		offsets = append(offsets, off)
	}

	for i, c := range chunks {
		got, err := seg.Read(offsets[i], int64(len(c)))
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if !bytes.Equal(got, c) {
			t.Fatalf("chunk %d: read %q want %q", i, got, c)
		}
	}
}

func TestReadBeyondLogicalSizeIsEmpty(t *testing.T) {
	dir := testutil.TempDir(t)
	seg, err := Open(filepath.Join(dir, "segment_000000.db"), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer seg.Close()

	if _, err := seg.Append([]byte("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := seg.Read(100, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty read beyond logical size, got %d bytes", len(got))
	}
}

func TestGrowthAcrossInitialReserve(t *testing.T) {
	dir := testutil.TempDir(t)
	seg, err := Open(filepath.Join(dir, "segment_000000.db"), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer seg.Close()

	big := bytes.Repeat([]byte{0xAB}, initialReserve*3)
	offset, err := seg.Append(big)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := seg.Read(offset, int64(len(big)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Fatalf("data corrupted across a growth remap")
	}
}

func TestReopenPreservesLogicalSize(t *testing.T) {
	dir := testutil.TempDir(t)
	path := filepath.Join(dir, "segment_000000.db")

	seg, err := Open(path, true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := seg.Append([]byte("persisted")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := seg.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Size() != int64(len("persisted")) {
		t.Fatalf("logical size after reopen = %d, want %d", reopened.Size(), len("persisted"))
	}
	got, err := reopened.Read(0, reopened.Size())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "persisted" {
		t.Fatalf("read %q after reopen, want %q", got, "persisted")
	}
}

func TestClosedSegmentRejectsAccess(t *testing.T) {
	dir := testutil.TempDir(t)
	seg, err := Open(filepath.Join(dir, "segment_000000.db"), true)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := seg.Append([]byte("x")); err == nil {
		t.Fatal("expected error appending to closed segment")
	}
	if _, err := seg.Read(0, 1); err == nil {
		t.Fatal("expected error reading from closed segment")
	}
}
