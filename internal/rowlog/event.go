package rowlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/internal/storage"
)

// EventWriter writes single rows as new completed files
type EventWriter struct {
	backend   storage.FileWriter
	columns   []string
	delimiter rune
	prefix    string
	suffix    string
	now       func() time.Time

	mu  sync.Mutex
	seq uint64
}

// NewEventWriter creates a writer producing <prefix>-<timestamp>-<seq><suffix> files
func NewEventWriter(backend storage.FileWriter, columns []string, delimiter rune, prefix, suffix string) (*EventWriter, error) {
	if len(columns) == 0 {
		return nil, errors.New("at least one column is required")
	}
	if suffix == "" {
		return nil, errors.New("file suffix is required")
	}
	if prefix == "" {
		prefix = "event"
	}
	return &EventWriter{
		backend:   backend,
		columns:   append([]string(nil), columns...),
		delimiter: delimiter,
		prefix:    prefix,
		suffix:    suffix,
		now:       time.Now,
	}, nil
}

// Format renders values as one delimited line in column order. Columns
// without a value are left empty.
func (w *EventWriter) Format(values map[string]string) ([]byte, error) {
	known := make(map[string]bool, len(w.columns))
	for _, c := range w.columns {
		known[c] = true
	}
	for c := range values {
		if !known[c] {
			return nil, fmt.Errorf("unknown column %q", c)
		}
	}

	record := make([]string, len(w.columns))
	for i, c := range w.columns {
		record[i] = values[c]
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	cw.Comma = w.delimiter
	if err := cw.Write(record); err != nil {
		return nil, fmt.Errorf("failed to format row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("failed to format row: %w", err)
	}
	return buf.Bytes(), nil
}

// Write formats values and stores them as a new file, returning its name
func (w *EventWriter) Write(ctx context.Context, values map[string]string) (string, error) {
	data, err := w.Format(values)
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	w.seq++
	name := fmt.Sprintf("%s-%s-%04d%s", w.prefix, w.now().UTC().Format("20060102T150405Z"), w.seq, w.suffix)
	w.mu.Unlock()

	if err := w.backend.WriteFile(ctx, name, data); err != nil {
		return "", fmt.Errorf("failed to write event %s: %w", name, err)
	}
	return name, nil
}
