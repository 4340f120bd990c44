// Package storage defines the contract between the directory aggregator and
// the places a watched directory can live (local disk, a remote file-transfer
// session, memory).
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
)

// ErrRead matches every *ReadError through errors.Is
var ErrRead = errors.New("read error")

// Lister lists the regular files directly inside the watched directory.
// The order of the returned snapshots is unspecified.
type Lister interface {
	ListEntries(ctx context.Context) ([]models.FileSnapshot, error)
}

// TailReader returns the bytes of a file from skip through its current end.
// skip equal to the file length yields an empty slice and no error. A missing
// file or a skip past the end of the file fails with a *ReadError.
type TailReader interface {
	ReadTail(ctx context.Context, name string, skip uint64) ([]byte, error)
}

// FileWriter creates or replaces a file in the watched directory
type FileWriter interface {
	WriteFile(ctx context.Context, name string, contents []byte) error
}

// Backend is the full capability set a storage implementation provides
type Backend interface {
	Lister
	TailReader
	FileWriter
}

// ReadError reports a failed or inconsistent read of a single file
type ReadError struct {
	Name   string // File that could not be read
	Offset uint64 // Requested starting offset
	Want   uint64 // Bytes the caller expected at least, 0 if unknown
	Got    uint64 // Bytes actually available
	Err    error  // Underlying cause, may be nil for short reads
}

func (e *ReadError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("read %s at offset %d: %v", e.Name, e.Offset, e.Err)
	case e.Want > 0:
		return fmt.Sprintf("read %s at offset %d: short read, want %d bytes, got %d", e.Name, e.Offset, e.Want, e.Got)
	default:
		return fmt.Sprintf("read %s at offset %d: offset beyond end of file (size %d)", e.Name, e.Offset, e.Got)
	}
}

func (e *ReadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRead) true for every ReadError
func (e *ReadError) Is(target error) bool { return target == ErrRead }

// ValidateName rejects names that would escape the watched directory
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("file name %q must not contain a path separator", name)
	}
	return nil
}
