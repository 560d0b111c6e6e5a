package testutils

import (
	"bytes"
	"io"
)

// MemorySource is an in-memory stream.Source backed by a byte slice, for
// exercising the box navigator, sample-table model, and moov locator
// against hand-built fixtures without touching the filesystem or network.
type MemorySource struct {
	reader   *bytes.Reader
	requests int64
	read     int64
}

// NewMemorySource wraps data as a stream.Source.
func NewMemorySource(data []byte) *MemorySource {
	return &MemorySource{reader: bytes.NewReader(data)}
}

func (s *MemorySource) Read(buf []byte) (int, error) {
	n, err := s.reader.Read(buf)
	s.requests++
	s.read += int64(n)

	return n, err
}

func (s *MemorySource) Seek(offset int64, whence int) (int64, error) {
	return s.reader.Seek(offset, whence)
}

func (s *MemorySource) Close() error { return nil }

func (s *MemorySource) Len() (int64, error) { return s.reader.Size(), nil }

func (s *MemorySource) Stats() (requests, bytesFetched int64) { return s.requests, s.read }

var _ io.ReadSeeker = (*MemorySource)(nil)
