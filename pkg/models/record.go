package models

import "time"

// Record is one parsed row from the aggregated byte stream
type Record struct {
	Seq      uint64            `json:"seq"`      // Position in the stream, starting at 1
	Fields   []string          `json:"fields"`   // Raw field values in column order
	Values   map[string]string `json:"values"`   // Field values by column name
	Raw      string            `json:"raw"`      // Original line without the terminator
	Received time.Time         `json:"received"` // When the row was delivered
}

// Value returns the named column value, or "" when the column is unknown
func (r *Record) Value(column string) string {
	if r == nil || r.Values == nil {
		return ""
	}
	return r.Values[column]
}
