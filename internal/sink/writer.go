// Package sink holds the destinations a poller fans new data out to.
package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// Writer copies every chunk to an io.Writer
type Writer struct {
	name   string
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewWriter wraps w. The caller keeps ownership of w.
func NewWriter(name string, w io.Writer) *Writer {
	return &Writer{name: name, w: w}
}

// OpenFile opens path for appending, creating it if needed
func OpenFile(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return &Writer{name: "file:" + path, w: f, closer: f}, nil
}

// Name returns the sink name used in logs
func (s *Writer) Name() string { return s.name }

// Write writes data in full or returns an error
func (s *Writer) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(data), err)
	}
	return nil
}

// Close closes the underlying file for sinks created by OpenFile
func (s *Writer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
