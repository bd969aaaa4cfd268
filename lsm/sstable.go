package lsm

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/klauspost/compress/snappy"

	"github.com/arcvector/vectordb/common"
)

// sstableMagic identifies a well-formed footer; "VSST" in ASCII.
const sstableMagic = 0x56535354

// footerSize: [bloomOffset(8)][numRecords(8)][magic(4)]
const footerSize = 20

// sstable is an immutable sorted key->value file, L{level}-{tableID}.sst.
// Records are self-delimited and length-prefixed; values are
// snappy-compressed before being written. A Bloom filter trailer lets
// Get skip files that provably don't contain a key.
type sstable[V any] struct {
	codec   Codec[V]
	file    *os.File
	path    string
	level   int
	tableID int64

	minKey, maxKey string
	index          map[string]int64 // key -> record start offset
	bloom          *bloomFilter
}

// writeSSTable serializes sorted entries (ascending key order) to path
// and fsyncs before returning.
func writeSSTable[V any](path string, level int, tableID int64, codec Codec[V], entries []memEntry[V]) (*sstable[V], error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, common.NewIOError("create sstable", err)
	}

	bloom := newBloomFilter(len(entries), 0.01)
	index := make(map[string]int64, len(entries))

	var offset int64
	var minKey, maxKey string
	for i, e := range entries {
		if i == 0 {
			minKey = e.Key
		}
		maxKey = e.Key

		raw, err := codec.Encode(e.Value)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("encode value for key %q: %w", e.Key, err)
		}
		payload := snappy.Encode(nil, raw)

		record := encodeRecord(e.Key, payload)
		if _, err := file.Write(record); err != nil {
			file.Close()
			return nil, common.NewIOError("write sstable record", err)
		}

		index[e.Key] = offset
		bloom.add(e.Key)
		offset += int64(len(record))
	}

	bloomBlock := bloom.encode()
	bloomOffset := offset
	if _, err := file.Write(bloomBlock); err != nil {
		file.Close()
		return nil, common.NewIOError("write sstable bloom block", err)
	}

	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(footer[0:8], uint64(bloomOffset))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(entries)))
	binary.LittleEndian.PutUint32(footer[16:20], sstableMagic)
	if _, err := file.Write(footer); err != nil {
		file.Close()
		return nil, common.NewIOError("write sstable footer", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return nil, common.NewIOError("fsync sstable", err)
	}

	return &sstable[V]{
		codec: codec, file: file, path: path, level: level, tableID: tableID,
		minKey: minKey, maxKey: maxKey, index: index, bloom: bloom,
	}, nil
}

// encodeRecord frames one key/value pair as
// [crc32(4)][keyLen(4)][key][payloadLen(4)][payload].
func encodeRecord(key string, payload []byte) []byte {
	keyBytes := []byte(key)
	body := make([]byte, 4+len(keyBytes)+4+len(payload))
	binary.LittleEndian.PutUint32(body[0:4], uint32(len(keyBytes)))
	copy(body[4:4+len(keyBytes)], keyBytes)
	binary.LittleEndian.PutUint32(body[4+len(keyBytes):8+len(keyBytes)], uint32(len(payload)))
	copy(body[8+len(keyBytes):], payload)

	crc := crc32.ChecksumIEEE(body)
	record := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(record[0:4], crc)
	copy(record[4:], body)
	return record
}

// decodeRecord parses a single framed record starting at the
// beginning of buf, returning the key, payload, and total record length.
func decodeRecord(buf []byte) (key string, payload []byte, recordLen int, err error) {
	if len(buf) < 12 {
		return "", nil, 0, fmt.Errorf("%w: record header truncated", common.ErrCorruption)
	}
	crcStored := binary.LittleEndian.Uint32(buf[0:4])
	keyLen := binary.LittleEndian.Uint32(buf[4:8])
	if len(buf) < int(8+keyLen+4) {
		return "", nil, 0, fmt.Errorf("%w: record key truncated", common.ErrCorruption)
	}
	key = string(buf[8 : 8+keyLen])
	payloadLenOffset := 8 + keyLen
	payloadLen := binary.LittleEndian.Uint32(buf[payloadLenOffset : payloadLenOffset+4])
	payloadStart := payloadLenOffset + 4
	if uint64(len(buf)) < uint64(payloadStart)+uint64(payloadLen) {
		return "", nil, 0, fmt.Errorf("%w: record payload truncated", common.ErrCorruption)
	}
	payload = buf[payloadStart : payloadStart+payloadLen]

	body := buf[4 : payloadStart+payloadLen]
	if crc32.ChecksumIEEE(body) != crcStored {
		return "", nil, 0, fmt.Errorf("%w: crc mismatch for key %q", common.ErrCorruption, key)
	}

	return key, payload, int(4 + uint32(len(body))), nil
}

// openSSTable reopens a previously written SSTable and rebuilds its
// index by a linear scan over the file's records.
func openSSTable[V any](path string, level int, tableID int64, codec Codec[V]) (*sstable[V], error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, common.NewIOError("open sstable", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, common.NewIOError("stat sstable", err)
	}
	size := info.Size()
	if size < footerSize {
		file.Close()
		return nil, fmt.Errorf("%w: sstable %s smaller than footer", common.ErrCorruption, path)
	}

	footer := make([]byte, footerSize)
	if _, err := file.ReadAt(footer, size-footerSize); err != nil {
		file.Close()
		return nil, common.NewIOError("read sstable footer", err)
	}
	magic := binary.LittleEndian.Uint32(footer[16:20])
	if magic != sstableMagic {
		file.Close()
		return nil, fmt.Errorf("%w: bad sstable magic in %s", common.ErrCorruption, path)
	}
	bloomOffset := int64(binary.LittleEndian.Uint64(footer[0:8]))
	numRecords := binary.LittleEndian.Uint64(footer[8:16])

	bloomBlock := make([]byte, size-footerSize-bloomOffset)
	if _, err := file.ReadAt(bloomBlock, bloomOffset); err != nil {
		file.Close()
		return nil, common.NewIOError("read sstable bloom block", err)
	}
	bloom := decodeBloomFilter(bloomBlock)

	data := make([]byte, bloomOffset)
	if bloomOffset > 0 {
		if _, err := file.ReadAt(data, 0); err != nil {
			file.Close()
			return nil, common.NewIOError("read sstable records", err)
		}
	}

	index := make(map[string]int64, numRecords)
	var minKey, maxKey string
	var offset int64
	first := true
	for offset < int64(len(data)) {
		key, _, recordLen, err := decodeRecord(data[offset:])
		if err != nil {
			file.Close()
			return nil, err
		}
		index[key] = offset
		if first {
			minKey = key
			first = false
		}
		maxKey = key
		offset += int64(recordLen)
	}

	return &sstable[V]{
		codec: codec, file: file, path: path, level: level, tableID: tableID,
		minKey: minKey, maxKey: maxKey, index: index, bloom: bloom,
	}, nil
}

// Get returns the value for key, or found=false if absent from this table.
func (s *sstable[V]) Get(key string) (V, bool, error) {
	var zero V
	if s.bloom != nil && !s.bloom.mayContain(key) {
		return zero, false, nil
	}
	offset, ok := s.index[key]
	if !ok {
		return zero, false, nil
	}

	// A record is at most a handful of KB (a JSON-encoded SegmentRef);
	// read a generous bounded window and reparse precisely.
	const maxRecordSize = 1 << 16
	end := offset + maxRecordSize
	info, err := s.file.Stat()
	if err != nil {
		return zero, false, common.NewIOError("stat sstable", err)
	}
	if fileSize := info.Size(); end > fileSize {
		end = fileSize
	}

	buf := make([]byte, end-offset)
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return zero, false, common.NewIOError("read sstable record", err)
	}

	_, payload, _, err := decodeRecord(buf)
	if err != nil {
		return zero, false, err
	}

	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return zero, false, fmt.Errorf("%w: snappy decode: %v", common.ErrCorruption, err)
	}

	value, err := s.codec.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("%w: decode value: %v", common.ErrCorruption, err)
	}
	return value, true, nil
}

// entries reads and decodes every record in the table, in file order
// (ascending key), for use by compaction's merge step.
func (s *sstable[V]) entries() ([]memEntry[V], error) {
	info, err := s.file.Stat()
	if err != nil {
		return nil, common.NewIOError("stat sstable", err)
	}
	footer := make([]byte, footerSize)
	if _, err := s.file.ReadAt(footer, info.Size()-footerSize); err != nil {
		return nil, common.NewIOError("read sstable footer", err)
	}
	dataLen := int64(binary.LittleEndian.Uint64(footer[0:8]))

	data := make([]byte, dataLen)
	if dataLen > 0 {
		if _, err := s.file.ReadAt(data, 0); err != nil {
			return nil, common.NewIOError("read sstable records", err)
		}
	}

	out := make([]memEntry[V], 0, len(s.index))
	var offset int64
	for offset < dataLen {
		key, payload, recordLen, err := decodeRecord(data[offset:])
		if err != nil {
			return nil, err
		}
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy decode: %v", common.ErrCorruption, err)
		}
		value, err := s.codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: decode value: %v", common.ErrCorruption, err)
		}
		out = append(out, memEntry[V]{Key: key, Value: value})
		offset += int64(recordLen)
	}
	return out, nil
}

// Overlaps reports whether [start, end] intersects this table's key range.
func (s *sstable[V]) Overlaps(start, end string) bool {
	if start != "" && s.maxKey < start {
		return false
	}
	if end != "" && s.minKey > end {
		return false
	}
	return true
}

func (s *sstable[V]) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

func (s *sstable[V]) Remove() error {
	s.Close()
	return os.Remove(s.path)
}
