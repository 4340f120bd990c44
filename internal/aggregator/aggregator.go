// Package aggregator turns a directory written by a single external process
// into one ordered byte stream. The writer appends to a temp-suffixed file
// and later renames it to its final suffix; the aggregator polls directory
// listings and returns only the bytes appended since the previous poll.
//
// An Aggregator is not safe for concurrent use. One goroutine owns it and
// serializes calls to PollNewData.
package aggregator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/akynaston/idmunit-connectors-sub001/internal/storage"
	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
	"go.uber.org/zap"
)

// TempSuffix marks the file the writer is still appending to
const TempSuffix = ".tmp"

// Source is what a consumer of the aggregated stream depends on
type Source interface {
	// PollNewData returns every byte that became available since the previous
	// call. It never blocks waiting for data and never re-delivers bytes.
	PollNewData(ctx context.Context) ([]byte, error)
}

// State is a copy of the aggregator's bookkeeping
type State struct {
	Known        int    `json:"known"`
	ActiveName   string `json:"active_name,omitempty"`
	ActiveOffset uint64 `json:"active_offset"`
}

// Aggregator tracks which files of a directory have been delivered
type Aggregator struct {
	backend      storage.Backend
	outputSuffix string
	logger       *zap.Logger

	known        map[string]struct{}
	activeName   string
	activeOffset uint64

	// err is set once a continuity error has been returned
	err error
}

var _ Source = (*Aggregator)(nil)

// New lists the directory once and records the baseline: final files already
// present are never replayed, and the bytes already in the temp file are
// skipped.
func New(ctx context.Context, backend storage.Backend, outputSuffix string, logger *zap.Logger) (*Aggregator, error) {
	if err := validateSuffix(outputSuffix); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	entries, err := backend.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list baseline entries: %w", err)
	}

	a := &Aggregator{
		backend:      backend,
		outputSuffix: outputSuffix,
		logger:       logger,
		known:        make(map[string]struct{}),
	}

	for _, e := range entries {
		switch {
		case e.HasSuffix(outputSuffix):
			a.known[e.Name] = struct{}{}
		case e.HasSuffix(TempSuffix):
			if a.activeName != "" {
				return nil, &ConfigError{Reason: fmt.Sprintf("more than one temp file in baseline: %s and %s", a.activeName, e.Name)}
			}
			a.activeName = e.Name
			a.activeOffset = e.Size
		}
	}

	logger.Info("Baseline established",
		zap.Int("known", len(a.known)),
		zap.String("active", a.activeName),
		zap.Uint64("offset", a.activeOffset))

	return a, nil
}

func validateSuffix(outputSuffix string) error {
	switch {
	case outputSuffix == "":
		return &ConfigError{Reason: "output suffix must not be empty"}
	case strings.HasSuffix(outputSuffix, TempSuffix):
		return &ConfigError{Reason: fmt.Sprintf("output suffix %q collides with temp suffix %q", outputSuffix, TempSuffix)}
	case strings.HasSuffix(TempSuffix, outputSuffix):
		return &ConfigError{Reason: fmt.Sprintf("temp suffix %q ends with output suffix %q", TempSuffix, outputSuffix)}
	}
	return nil
}

// OutputSuffix returns the configured final-file suffix
func (a *Aggregator) OutputSuffix() string {
	return a.outputSuffix
}

// State returns a copy of the current bookkeeping
func (a *Aggregator) State() State {
	return State{
		Known:        len(a.known),
		ActiveName:   a.activeName,
		ActiveOffset: a.activeOffset,
	}
}

// isActive reports whether name is the tracked temp file, under its temp name
// or the name it gets after rollover
func (a *Aggregator) isActive(name string) bool {
	if a.activeName == "" {
		return false
	}
	return name == a.activeName || name == rolledName(a.activeName, a.outputSuffix)
}

// candidates filters a listing down to unconsumed entries of either suffix
func (a *Aggregator) candidates(entries []models.FileSnapshot) []models.FileSnapshot {
	out := make([]models.FileSnapshot, 0, len(entries))
	for _, e := range entries {
		if _, ok := a.known[e.Name]; ok {
			continue
		}
		if !e.HasSuffix(a.outputSuffix) && !e.HasSuffix(TempSuffix) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// poll carries the tentative state of one PollNewData call. It is copied
// into the Aggregator only when the whole walk succeeded.
type poll struct {
	buf          bytes.Buffer
	consumed     []string
	activeName   string
	activeOffset uint64
}

// PollNewData returns the bytes written to the directory since the previous
// call. A continuity error is permanent for this Aggregator. On a read error
// nothing is committed, so the next call starts from the same position.
func (a *Aggregator) PollNewData(ctx context.Context) ([]byte, error) {
	if a.err != nil {
		return nil, a.err
	}

	entries, err := a.backend.ListEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	cands := a.candidates(entries)
	sortCandidates(cands, a.isActive)

	p := &poll{activeName: a.activeName, activeOffset: a.activeOffset}
	err = a.checkActivePresent(entries)
	if err == nil {
		err = a.walk(ctx, p, cands)
	}
	if err != nil {
		var cerr *ContinuityError
		if errors.As(err, &cerr) {
			a.err = cerr
			a.logger.Error("Continuity lost, aggregator stopped",
				zap.String("expected", cerr.Expected),
				zap.String("found", cerr.Found),
				zap.String("reason", cerr.Reason))
		}
		return nil, err
	}

	for _, name := range p.consumed {
		a.known[name] = struct{}{}
	}
	a.activeName = p.activeName
	a.activeOffset = p.activeOffset

	if p.buf.Len() > 0 {
		a.logger.Debug("Polled new data",
			zap.Int("bytes", p.buf.Len()),
			zap.Int("consumed", len(p.consumed)),
			zap.String("active", a.activeName),
			zap.Uint64("offset", a.activeOffset))
	}
	return p.buf.Bytes(), nil
}

// checkActivePresent fails when the tracked temp file is gone under both of
// its names
func (a *Aggregator) checkActivePresent(entries []models.FileSnapshot) error {
	if a.activeName == "" {
		return nil
	}
	for _, e := range entries {
		if a.isActive(e.Name) {
			return nil
		}
	}
	return &ContinuityError{
		Expected: a.activeName,
		Reason:   "tracked temp file disappeared from the directory",
	}
}

// walk visits the sorted candidates oldest first and fills p
func (a *Aggregator) walk(ctx context.Context, p *poll, cands []models.FileSnapshot) error {
	for _, c := range cands {
		temp := c.HasSuffix(TempSuffix)

		if p.activeName == "" {
			data, err := a.readTail(ctx, c, 0)
			if err != nil {
				return err
			}
			p.buf.Write(data)
			if temp {
				// A new temp file is drained before anything newer is looked at
				p.activeName = c.Name
				p.activeOffset = uint64(len(data))
				a.logger.Info("Tracking temp file", zap.String("name", c.Name), zap.Uint64("offset", p.activeOffset))
				return nil
			}
			p.consumed = append(p.consumed, c.Name)
			continue
		}

		if c.Name != p.activeName && c.Name != rolledName(p.activeName, a.outputSuffix) {
			return &ContinuityError{
				Expected: p.activeName,
				Found:    c.Name,
				Reason:   "oldest unconsumed file is not the tracked temp file",
			}
		}
		if c.Size < p.activeOffset {
			return &ContinuityError{
				Expected: p.activeName,
				Reason:   fmt.Sprintf("%s shrank to %d bytes after %d were delivered", c.Name, c.Size, p.activeOffset),
			}
		}

		if c.Size > p.activeOffset {
			data, err := a.readTail(ctx, c, p.activeOffset)
			if err != nil {
				return err
			}
			p.buf.Write(data)
			p.activeOffset += uint64(len(data))
		}

		if temp {
			return nil
		}

		a.logger.Info("Temp file rolled over",
			zap.String("from", p.activeName),
			zap.String("to", c.Name),
			zap.Uint64("size", p.activeOffset))
		p.consumed = append(p.consumed, c.Name)
		p.activeName = ""
		p.activeOffset = 0
	}
	return nil
}

// readTail reads c from skip and checks the backend returned at least the
// bytes its own listing promised
func (a *Aggregator) readTail(ctx context.Context, c models.FileSnapshot, skip uint64) ([]byte, error) {
	data, err := a.backend.ReadTail(ctx, c.Name, skip)
	if err != nil {
		return nil, err
	}
	if want := c.Size - skip; uint64(len(data)) < want {
		return nil, &storage.ReadError{Name: c.Name, Offset: skip, Want: want, Got: uint64(len(data))}
	}
	return data, nil
}
