package queue

import "sync"

// BufferPool provides pooled byte slices to avoid hot-path allocations.
// Uses size-bucketed pools (256B, 1KB, 4KB, 16KB) to balance memory
// efficiency with allocation reduction. Collector leases one of these
// buffers per decoded uapi.Record and Processor returns it once it has
// unmarshaled the row, so every tracked-PID's hot path reuses a fixed set
// of row buffers instead of allocating one per poll.
//
// Uses *[]byte pattern to avoid sync.Pool interface allocation overhead.

// Buffer size thresholds.
const (
	size256b = 256
	size1k   = 1024
	size4k   = 4 * 1024
	size16k  = 16 * 1024
)

// globalPool is the shared buffer pool for all Collector and Processor row
// buffers. Uses pointer-to-slice pattern for efficient sync.Pool usage.
var globalPool = struct {
	pool256b sync.Pool
	pool1k   sync.Pool
	pool4k   sync.Pool
	pool16k  sync.Pool
}{
	pool256b: sync.Pool{New: func() any { b := make([]byte, size256b); return &b }},
	pool1k:   sync.Pool{New: func() any { b := make([]byte, size1k); return &b }},
	pool4k:   sync.Pool{New: func() any { b := make([]byte, size4k); return &b }},
	pool16k:  sync.Pool{New: func() any { b := make([]byte, size16k); return &b }},
}

// GetBuffer returns a pooled buffer of at least the requested size. Caller
// must call PutBuffer when done.
func GetBuffer(size uint32) []byte {
	switch {
	case size <= size256b:
		return (*globalPool.pool256b.Get().(*[]byte))[:size]
	case size <= size1k:
		return (*globalPool.pool1k.Get().(*[]byte))[:size]
	case size <= size4k:
		return (*globalPool.pool4k.Get().(*[]byte))[:size]
	default:
		return (*globalPool.pool16k.Get().(*[]byte))[:size]
	}
}

// PutBuffer returns a buffer to the pool. The buffer's capacity determines
// which pool it goes to.
func PutBuffer(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size256b:
		globalPool.pool256b.Put(&buf)
	case size1k:
		globalPool.pool1k.Put(&buf)
	case size4k:
		globalPool.pool4k.Put(&buf)
	case size16k:
		globalPool.pool16k.Put(&buf)
	}
	// Buffers with non-standard capacity are not returned to the pool.
}
