package lsm

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// bloomFilter is a probabilistic set-membership structure written
// alongside each SSTable so SSTable.Get can skip the file entirely for
// keys it is certain aren't present. False positives are possible;
// false negatives are not.
type bloomFilter struct {
	bits []byte
	m    uint64 // total bits
	k    uint32 // hash function count
}

// newBloomFilter sizes a filter for n expected keys at the given
// false-positive rate using the standard optimal-parameter formulas:
// m = ceil(-n*ln(p) / ln(2)^2), k = ceil(m/n * ln(2)).
func newBloomFilter(n int, falsePositiveRate float64) *bloomFilter {
	if n < 1 {
		n = 1
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if m < 8 {
		m = 8
	}
	k := uint32(math.Ceil(float64(m) / float64(n) * math.Ln2))
	if k == 0 {
		k = 1
	}

	return &bloomFilter{
		bits: make([]byte, (m+7)/8),
		m:    m,
		k:    k,
	}
}

// doubleHash derives k bit positions from two independent FNV hashes
// via h_i(x) = (h1(x) + i*h2(x)) mod m, avoiding k separate hash passes.
func (bf *bloomFilter) doubleHash(key string) []uint64 {
	ha := fnv.New64a()
	ha.Write([]byte(key))
	h1 := ha.Sum64()

	hb := fnv.New64()
	hb.Write([]byte(key))
	h2 := hb.Sum64()

	positions := make([]uint64, bf.k)
	for i := uint32(0); i < bf.k; i++ {
		positions[i] = (h1 + uint64(i)*h2) % bf.m
	}
	return positions
}

func (bf *bloomFilter) add(key string) {
	for _, bit := range bf.doubleHash(key) {
		bf.bits[bit/8] |= 1 << (bit % 8)
	}
}

func (bf *bloomFilter) mayContain(key string) bool {
	for _, bit := range bf.doubleHash(key) {
		if bf.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

// encode serializes the filter as [m(8)][k(4)][bits...].
func (bf *bloomFilter) encode() []byte {
	buf := make([]byte, 12+len(bf.bits))
	binary.LittleEndian.PutUint64(buf[0:8], bf.m)
	binary.LittleEndian.PutUint32(buf[8:12], bf.k)
	copy(buf[12:], bf.bits)
	return buf
}

func decodeBloomFilter(data []byte) *bloomFilter {
	if len(data) < 12 {
		return nil
	}
	m := binary.LittleEndian.Uint64(data[0:8])
	k := binary.LittleEndian.Uint32(data[8:12])
	bits := make([]byte, len(data)-12)
	copy(bits, data[12:])
	return &bloomFilter{bits: bits, m: m, k: k}
}
