package rowlog

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/akynaston/idmunit-connectors-sub001/pkg/models"
)

// ErrNoMatch is returned when no row in the history matches a key
var ErrNoMatch = errors.New("no matching row")

// Mismatch is one column whose value did not match its expected pattern
type Mismatch struct {
	Column string `json:"column"`
	Want   string `json:"want"`
	Got    string `json:"got"`
}

// MismatchError lists every column of a found row that failed to match
type MismatchError struct {
	Seq        uint64     `json:"seq"`
	Mismatches []Mismatch `json:"mismatches"`
}

func (e *MismatchError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = fmt.Sprintf("%s: want %q, got %q", m.Column, m.Want, m.Got)
	}
	return fmt.Sprintf("row %d does not match: %s", e.Seq, strings.Join(parts, "; "))
}

type columnPattern struct {
	column  string
	pattern string
	re      *regexp.Regexp
}

// Matcher checks record columns against regular expressions. Each
// expression must match the whole field value.
type Matcher struct {
	patterns []columnPattern
}

// NewMatcher compiles one expression per column
func NewMatcher(fields map[string]string) (*Matcher, error) {
	columns := make([]string, 0, len(fields))
	for c := range fields {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	m := &Matcher{patterns: make([]columnPattern, 0, len(columns))}
	for _, c := range columns {
		re, err := regexp.Compile("^(?:" + fields[c] + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid pattern for column %s: %w", c, err)
		}
		m.patterns = append(m.patterns, columnPattern{column: c, pattern: fields[c], re: re})
	}
	return m, nil
}

// Match reports whether every column of r matches. A matcher with no
// columns matches any row.
func (m *Matcher) Match(r *models.Record) bool {
	if r == nil {
		return false
	}
	for _, p := range m.patterns {
		if !p.re.MatchString(r.Value(p.column)) {
			return false
		}
	}
	return true
}

// Mismatches returns the columns of r that do not match
func (m *Matcher) Mismatches(r *models.Record) []Mismatch {
	var out []Mismatch
	for _, p := range m.patterns {
		got := r.Value(p.column)
		if !p.re.MatchString(got) {
			out = append(out, Mismatch{Column: p.column, Want: p.pattern, Got: got})
		}
	}
	return out
}

// Verify finds the newest row matching key and checks fields against it.
// The most recent write wins: older rows with the same key are not
// consulted.
func Verify(h *History, key, fields map[string]string) (*models.Record, error) {
	keyMatcher, err := NewMatcher(key)
	if err != nil {
		return nil, err
	}
	fieldMatcher, err := NewMatcher(fields)
	if err != nil {
		return nil, err
	}

	row := h.Find(keyMatcher)
	if row == nil {
		return nil, ErrNoMatch
	}
	if mismatches := fieldMatcher.Mismatches(row); len(mismatches) > 0 {
		return row, &MismatchError{Seq: row.Seq, Mismatches: mismatches}
	}
	return row, nil
}
