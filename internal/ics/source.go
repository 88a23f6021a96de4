package ics

import (
	"context"
	"io"
)

// ChunkSource yields the raw feed bytes in arbitrarily sized chunks. Next
// returns io.EOF when the stream ends; an empty chunk with a nil error is
// valid and means "no data yet".
type ChunkSource interface {
	Next(ctx context.Context) ([]byte, error)
}

// ReaderSource adapts an io.Reader into a ChunkSource with a fixed read size.
type ReaderSource struct {
	r    io.Reader
	size int
}

// NewReaderSource wraps r. A non-positive chunkSize falls back to 4096.
func NewReaderSource(r io.Reader, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &ReaderSource{r: r, size: chunkSize}
}

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.size)
	n, err := s.r.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// BytesSource serves a byte slice as a single chunk. Convenient for callers
// that already hold the whole payload, like the refresher after a fetch.
type BytesSource struct {
	data []byte
	done bool
}

func NewBytesSource(data []byte) *BytesSource {
	return &BytesSource{data: data}
}

func (s *BytesSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	return s.data, nil
}
