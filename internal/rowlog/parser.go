package rowlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
)

// ErrColumns is returned for a row with fewer fields than configured columns
var ErrColumns = errors.New("row has fewer fields than columns")

// ParseError describes a line that could not be turned into a record
type ParseError struct {
	Line string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse row %q: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser converts delimited lines to records. Sequence numbers count
// parsed rows, so a Parser should see the whole stream in order.
type Parser struct {
	columns   []string
	delimiter rune
	seq       uint64
	now       func() time.Time
}

// NewParser creates a parser for the given column layout
func NewParser(columns []string, delimiter rune) (*Parser, error) {
	if len(columns) == 0 {
		return nil, errors.New("at least one column is required")
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c == "" {
			return nil, errors.New("column names must not be empty")
		}
		if seen[c] {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	if delimiter == 0 || delimiter == '"' || delimiter == '\r' || delimiter == '\n' {
		return nil, fmt.Errorf("invalid delimiter %q", delimiter)
	}

	return &Parser{
		columns:   append([]string(nil), columns...),
		delimiter: delimiter,
		now:       time.Now,
	}, nil
}

// Columns returns the configured column names
func (p *Parser) Columns() []string {
	return append([]string(nil), p.columns...)
}

// Parse parses one line. Blank lines return a nil record and no error.
func (p *Parser) Parse(line string) (*models.Record, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	r := csv.NewReader(strings.NewReader(line))
	r.Comma = p.delimiter
	r.FieldsPerRecord = -1
	fields, err := r.Read()
	if err != nil {
		return nil, &ParseError{Line: line, Err: err}
	}
	if len(fields) < len(p.columns) {
		return nil, &ParseError{
			Line: line,
			Err:  fmt.Errorf("%w: got %d, want %d", ErrColumns, len(fields), len(p.columns)),
		}
	}

	values := make(map[string]string, len(p.columns))
	for i, c := range p.columns {
		values[c] = fields[i]
	}

	p.seq++
	return &models.Record{
		Seq:      p.seq,
		Fields:   fields,
		Values:   values,
		Raw:      line,
		Received: p.now(),
	}, nil
}
