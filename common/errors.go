package common

import "errors"

// Sentinel errors for the storage and indexing core. Callers use
// errors.Is to discriminate; wrapped errors (fmt.Errorf("...: %w", Err...))
// still satisfy errors.Is against these.
var (
	// ErrDimensionMismatch is returned when a vector's length does not
	// equal the store or index's configured dimension D.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrDuplicateID is returned by hnsw.Index.Insert for an id already present.
	ErrDuplicateID = errors.New("duplicate vector id")

	// ErrInsufficientTraining is returned when pq.Compressor.Train is
	// called with fewer vectors than n_clusters requires.
	ErrInsufficientTraining = errors.New("insufficient training vectors")

	// ErrCompressorNotTrained is returned by Compress/Decompress before Train.
	ErrCompressorNotTrained = errors.New("compressor not trained")

	// ErrUnsupportedMetric is returned when an HNSW index is constructed
	// with an unrecognized distance metric name.
	ErrUnsupportedMetric = errors.New("unsupported distance metric")

	// ErrCorruption is returned when an SSTable record fails to
	// deserialize (bad length prefix, CRC mismatch, truncated record).
	ErrCorruption = errors.New("corrupt record")

	// ErrClosed is returned by Segment Append, Read and Sync after Close.
	ErrClosed = errors.New("closed")

	// ErrKeyEmpty is returned for an empty vector id.
	ErrKeyEmpty = errors.New("vector id cannot be empty")

	// errIO is the marker every IOError wraps, so errors.Is(err, ErrIO) works
	// without callers needing to know the underlying os/mmap error.
	errIO = errors.New("io error")
)

// ErrIO is the sentinel matched by errors.Is for any IOError, regardless
// of which filesystem or mmap call underneath actually failed.
var ErrIO = errIO

// IOError wraps a filesystem or mmap failure so callers can test
// errors.Is(err, common.ErrIO) without caring which os.* call failed.
type IOError struct {
	Op  string
	Err error
}

func NewIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}

func (e *IOError) Error() string { return "io: " + e.Op + ": " + e.Err.Error() }

func (e *IOError) Unwrap() []error { return []error{errIO, e.Err} }
