package rowlog

import (
	"sync"

	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
)

// History keeps the most recent rows, newest first. When full, adding a row
// evicts the oldest one. It is safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	buf   []*models.Record
	next  int
	count int
	total uint64
}

// NewHistory creates a history holding up to capacity rows
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]*models.Record, capacity)}
}

// Add stores a row as the newest entry
func (h *History) Add(r *models.Record) {
	if r == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = r
	h.next = (h.next + 1) % len(h.buf)
	if h.count < len(h.buf) {
		h.count++
	}
	h.total++
}

// at returns the i-th newest row; callers hold the lock
func (h *History) at(i int) *models.Record {
	idx := (h.next - 1 - i + len(h.buf)) % len(h.buf)
	return h.buf[idx]
}

// Latest returns the newest row, or nil if none has been added
func (h *History) Latest() *models.Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return nil
	}
	return h.at(0)
}

// Len returns the number of rows held
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Capacity returns the maximum number of rows held
func (h *History) Capacity() int {
	return len(h.buf)
}

// Total returns the number of rows ever added, including evicted ones
func (h *History) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Rows returns up to limit rows, newest first. A limit of zero or less
// returns every row held.
func (h *History) Rows(limit int) []*models.Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	rows := make([]*models.Record, n)
	for i := 0; i < n; i++ {
		rows[i] = h.at(i)
	}
	return rows
}

// Find returns the newest row accepted by m, or nil
func (h *History) Find(m *Matcher) *models.Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := 0; i < h.count; i++ {
		if r := h.at(i); m.Match(r) {
			return r
		}
	}
	return nil
}
