package models

import (
	"strings"
	"time"
)

// FileSnapshot is one directory entry as reported by a storage backend at
// listing time. Snapshots are values: a later listing of the same name
// produces a new, independent snapshot.
type FileSnapshot struct {
	Name    string    // Base name, unique within the directory at listing time
	Size    uint64    // Length in bytes
	ModTime time.Time // Last modification time (backend clock and resolution)
}

// HasSuffix reports whether the snapshot name ends with a non-empty suffix
func (f FileSnapshot) HasSuffix(suffix string) bool {
	return suffix != "" && strings.HasSuffix(f.Name, suffix)
}
