package lsm

import "encoding/json"

// Codec turns a value type V into bytes for on-disk SSTable storage
// and back. LSMTree is parameterized over V with a Codec instead of
// hard-coding a value shape, so the vector store can instantiate
// LSMTree[common.SegmentRef] while still reusing every byte of
// flush/compaction machinery.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// JSONCodec is the default Codec, encoding values as JSON.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
