package sink

import (
	"context"
	"errors"

	"github.com/akynaston/idmunit-connectors-sub001/internal/rowlog"
)

// Rows parses complete lines into the row history. Lines that fail to
// parse are skipped and reported together in the returned error; the
// rows around them are still stored.
type Rows struct {
	framer  rowlog.Framer
	parser  *rowlog.Parser
	history *rowlog.History

	parsed uint64
	failed uint64
}

// NewRows creates a row sink feeding history
func NewRows(parser *rowlog.Parser, history *rowlog.History) *Rows {
	return &Rows{parser: parser, history: history}
}

// Name returns the sink name used in logs
func (s *Rows) Name() string { return "rows" }

// Counts returns the number of parsed and rejected lines
func (s *Rows) Counts() (parsed, failed uint64) {
	return s.parsed, s.failed
}

// Write frames and parses data
func (s *Rows) Write(ctx context.Context, data []byte) error {
	var errs []error
	for _, line := range s.framer.Feed(data) {
		r, err := s.parser.Parse(line)
		if err != nil {
			s.failed++
			errs = append(errs, err)
			continue
		}
		if r == nil {
			continue
		}
		s.parsed++
		s.history.Add(r)
	}
	return errors.Join(errs...)
}
