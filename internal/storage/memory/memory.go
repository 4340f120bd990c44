// Package memory is an in-process storage backend. It plays the writer side
// in tests and in the scenario simulator: files can be created, appended to,
// renamed and removed while an aggregator polls the same Backend.
package memory

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/internal/storage"
	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
)

// Epoch is the initial value of the logical clock
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type file struct {
	data    []byte
	modTime time.Time
}

// Backend holds a single flat directory in memory. Every mutation stamps the
// touched file with the current logical time; Advance moves the clock.
// Rename keeps the modification time, like rename(2).
type Backend struct {
	mu    sync.Mutex
	files map[string]*file
	now   time.Time
}

var _ storage.Backend = (*Backend)(nil)

// New creates an empty directory with the clock at Epoch
func New() *Backend {
	return &Backend{
		files: make(map[string]*file),
		now:   Epoch,
	}
}

// Now returns the logical clock
func (b *Backend) Now() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// Advance moves the logical clock forward by d
func (b *Backend) Advance(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = b.now.Add(d)
}

// Create makes a file with the given initial contents, replacing any file of
// the same name
func (b *Backend) Create(name string, data []byte) error {
	if err := storage.ValidateName(name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[name] = &file{data: append([]byte(nil), data...), modTime: b.now}
	return nil
}

// Append adds data to the end of an existing file
func (b *Backend) Append(name string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[name]
	if !ok {
		return fmt.Errorf("append %s: %w", name, fs.ErrNotExist)
	}
	f.data = append(f.data, data...)
	f.modTime = b.now
	return nil
}

// Rename moves a file to a new name, replacing any file already there
func (b *Backend) Rename(from, to string) error {
	if err := storage.ValidateName(to); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[from]
	if !ok {
		return fmt.Errorf("rename %s: %w", from, fs.ErrNotExist)
	}
	delete(b.files, from)
	b.files[to] = f
	return nil
}

// Remove deletes a file
func (b *Backend) Remove(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.files[name]; !ok {
		return fmt.Errorf("remove %s: %w", name, fs.ErrNotExist)
	}
	delete(b.files, name)
	return nil
}

// SetModTime overrides the modification time of a file
func (b *Backend) SetModTime(name string, t time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[name]
	if !ok {
		return fmt.Errorf("touch %s: %w", name, fs.ErrNotExist)
	}
	f.modTime = t
	return nil
}

// Contents returns a copy of a file's bytes
func (b *Backend) Contents(name string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.files[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), f.data...), true
}

// ListEntries returns the files sorted by name. Callers must not rely on the
// order; it only keeps test output stable.
func (b *Backend) ListEntries(ctx context.Context) ([]models.FileSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := make([]models.FileSnapshot, 0, len(b.files))
	for name, f := range b.files {
		entries = append(entries, models.FileSnapshot{
			Name:    name,
			Size:    uint64(len(f.data)),
			ModTime: f.modTime,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ReadTail returns a copy of the bytes from skip to the end of the file
func (b *Backend) ReadTail(ctx context.Context, name string, skip uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.files[name]
	if !ok {
		return nil, &storage.ReadError{Name: name, Offset: skip, Err: fs.ErrNotExist}
	}
	size := uint64(len(f.data))
	if skip > size {
		return nil, &storage.ReadError{Name: name, Offset: skip, Got: size}
	}
	return append([]byte{}, f.data[skip:]...), nil
}

// WriteFile creates or replaces a file
func (b *Backend) WriteFile(ctx context.Context, name string, contents []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.Create(name, contents)
}
