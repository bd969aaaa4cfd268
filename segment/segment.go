// Package segment implements append-only, memory-mapped blob files.
//
// A Segment is identified by a monotonically increasing zero-padded
// integer (segment_NNNNNN.db). Bytes once written never move or
// mutate; the file only grows. The logical size — the number of
// data bytes actually appended — is tracked independently of the
// file's physical length so the mapping can be grown in large,
// amortized-constant steps instead of once per append.
package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/arcvector/vectordb/common"
)

// headerSize is the 8-byte little-endian logical-size header reserved
// at offset 0 of every segment file. Data bytes start immediately
// after it.
const headerSize = 8

// initialReserve is the file length a freshly created segment is
// truncated to before the first mmap, so mapping a brand new segment
// never needs a zero-length mmap.Map call.
const initialReserve = 64 * 1024

// growthFactor controls how aggressively the mapping is grown past
// what's strictly required, to keep remaps amortized-constant.
const growthFactor = 2

// Segment is an append-only memory-mapped blob file.
type Segment struct {
	mu sync.RWMutex

	path string
	file *os.File
	data mmap.MMap // current mapping, length >= headerSize+capacity

	logicalSize int64 // bytes of actual data appended (excludes header)
	capacity    int64 // data bytes currently reserved by the mapping
	closed      bool
}

// Open opens (or creates) a segment file at path. When create is
// true the file is truncated/created fresh with logical size 0; when
// false, the existing file is mapped and its logical size is read
// back from the header.
func Open(path string, create bool) (*Segment, error) {
	var file *os.File
	var err error

	if create {
		file, err = os.Create(path)
		if err != nil {
			return nil, common.NewIOError("create segment", err)
		}
		if err := file.Truncate(initialReserve); err != nil {
			file.Close()
			return nil, common.NewIOError("truncate segment", err)
		}
	} else {
		file, err = os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return nil, common.NewIOError("open segment", err)
		}
	}

	data, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, common.NewIOError("mmap segment", err)
	}

	s := &Segment{
		path: path,
		file: file,
		data: data,
	}

	if create {
		binary.LittleEndian.PutUint64(s.data[0:headerSize], 0)
		s.logicalSize = 0
	} else {
		if len(data) < headerSize {
			data.Unmap()
			file.Close()
			return nil, fmt.Errorf("%w: segment file %s too small for header", common.ErrCorruption, path)
		}
		s.logicalSize = int64(binary.LittleEndian.Uint64(data[0:headerSize]))
	}
	s.capacity = int64(len(s.data)) - headerSize

	return s, nil
}

// Path returns the file path this segment was opened from.
func (s *Segment) Path() string { return s.path }

// Size returns the current logical size (data bytes appended so far).
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logicalSize
}

// Append writes bytes to the segment and returns the offset they were
// written at — which equals the logical size observed immediately
// before the call. Append is writer-exclusive.
func (s *Segment) Append(b []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, common.ErrClosed
	}

	offset := s.logicalSize
	needed := offset + int64(len(b))

	if needed > s.capacity {
		if err := s.growLocked(needed); err != nil {
			return 0, err
		}
	}

	start := headerSize + offset
	copy(s.data[start:start+int64(len(b))], b)

	s.logicalSize = needed
	binary.LittleEndian.PutUint64(s.data[0:headerSize], uint64(s.logicalSize))

	return offset, nil
}

// growLocked grows the mapping to hold at least `needed` data bytes.
// Caller must hold mu for writing.
func (s *Segment) growLocked(needed int64) error {
	newCapacity := s.capacity * growthFactor
	if newCapacity < needed {
		newCapacity = needed
	}
	if newCapacity < initialReserve {
		newCapacity = initialReserve
	}

	if err := s.data.Unmap(); err != nil {
		return common.NewIOError("unmap segment for growth", err)
	}
	if err := s.file.Truncate(headerSize + newCapacity); err != nil {
		return common.NewIOError("truncate segment for growth", err)
	}
	data, err := mmap.Map(s.file, mmap.RDWR, 0)
	if err != nil {
		return common.NewIOError("remap segment after growth", err)
	}

	s.data = data
	s.capacity = newCapacity
	return nil
}

// Read returns the slice [offset, min(offset+size, logicalSize)) as a
// freshly allocated copy — the mapping can be unmapped and remapped
// concurrently with reads (Append grows by unmap/truncate/remap), so
// handing back a view directly into s.data would not be safe once a
// growth has happened underneath the caller.
func (s *Segment) Read(offset, size int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, common.ErrClosed
	}
	if offset >= s.logicalSize {
		return []byte{}, nil
	}

	end := offset + size
	if end > s.logicalSize {
		end = s.logicalSize
	}

	out := make([]byte, end-offset)
	copy(out, s.data[headerSize+offset:headerSize+end])
	return out, nil
}

// Sync flushes the mapping to disk.
func (s *Segment) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return common.ErrClosed
	}
	if err := s.data.Flush(); err != nil {
		return common.NewIOError("flush segment", err)
	}
	return nil
}

// Close unmaps and closes the segment. Subsequent access returns ErrClosed.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.data.Unmap(); err != nil {
		s.file.Close()
		return common.NewIOError("unmap segment", err)
	}
	if err := s.file.Close(); err != nil {
		return common.NewIOError("close segment file", err)
	}
	return nil
}

// Remove closes and unlinks the segment's backing file.
func (s *Segment) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.Remove(s.path); err != nil {
		return common.NewIOError("remove segment", err)
	}
	return nil
}
