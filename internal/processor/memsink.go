package processor

import (
	"bytes"
	"errors"
	"sync"
)

// MemorySink is an in-memory io.WriteCloser standing in for a real CSV
// file in tests, adapted from the sharded RAM-backed device used
// elsewhere in this module: a Processor's writes are strictly sequential
// and single-writer, so no sharded locking is needed here, just one mutex
// guarding a growable buffer.
type MemorySink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("processor: write to closed sink")
	}
	return s.buf.Write(p)
}

// Close marks the sink closed; further writes fail.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// String returns everything written so far.
func (s *MemorySink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// IsClosed reports whether Close has been called.
func (s *MemorySink) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
