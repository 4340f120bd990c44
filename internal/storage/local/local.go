// Package local serves a watched directory from the local filesystem
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/akynaston/idmunit-connectors-sub001/internal/storage"
	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
	"go.uber.org/zap"
)

// Backend lists and reads files directly inside one directory
type Backend struct {
	dir    string
	logger *zap.Logger
}

var _ storage.Backend = (*Backend)(nil)

// New creates a backend for dir. The directory must exist.
func New(dir string, logger *zap.Logger) (*Backend, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %s is not a directory", dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{dir: filepath.Clean(dir), logger: logger}, nil
}

// Dir returns the watched directory
func (b *Backend) Dir() string {
	return b.dir
}

// ListEntries returns the regular files in the directory. Subdirectories,
// symlinks and files that vanish while listing are skipped.
func (b *Backend) ListEntries(ctx context.Context) ([]models.FileSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", b.dir, err)
	}

	entries := make([]models.FileSnapshot, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// Renamed or removed between ReadDir and Lstat
				b.logger.Debug("Entry vanished while listing", zap.String("name", de.Name()))
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", de.Name(), err)
		}
		entries = append(entries, models.FileSnapshot{
			Name:    de.Name(),
			Size:    uint64(info.Size()),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// ReadTail reads name from skip to its current end
func (b *Backend) ReadTail(ctx context.Context, name string, skip uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(name); err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}

	f, err := os.Open(filepath.Join(b.dir, name))
	if err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}
	size := uint64(info.Size())
	if skip > size {
		return nil, &storage.ReadError{Name: name, Offset: skip, Got: size}
	}

	if _, err := f.Seek(int64(skip), io.SeekStart); err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: err}
	}

	b.logger.Debug("Read tail",
		zap.String("name", name),
		zap.Uint64("offset", skip),
		zap.Int("bytes", len(data)))
	return data, nil
}

// WriteFile writes contents to a hidden temporary file and renames it into
// place, so a concurrent lister never sees a half-written file under name
func (b *Backend) WriteFile(ctx context.Context, name string, contents []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to chmod file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(b.dir, name)); err != nil {
		return fmt.Errorf("failed to rename file into place: %w", err)
	}

	b.logger.Debug("Wrote file", zap.String("name", name), zap.Int("bytes", len(contents)))
	return nil
}
