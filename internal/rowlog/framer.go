// Package rowlog turns the aggregated byte stream into rows: it frames the
// stream into lines, parses delimited fields into records, keeps a bounded
// history of recent rows and checks expected values against them.
package rowlog

import "bytes"

// Framer splits a byte stream into complete lines. Chunks may end in the
// middle of a line; the partial tail is held until the next Feed.
type Framer struct {
	partial []byte
}

// Feed appends data and returns every line completed by it, without the
// line terminator. A trailing carriage return is dropped.
func (f *Framer) Feed(data []byte) []string {
	var lines []string
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			f.partial = append(f.partial, data...)
			break
		}

		line := data[:i]
		if len(f.partial) > 0 {
			line = append(f.partial, line...)
			f.partial = nil
		}
		lines = append(lines, string(bytes.TrimSuffix(line, []byte{'\r'})))
		data = data[i+1:]
	}
	return lines
}

// Pending returns the number of buffered bytes not yet ending in a newline
func (f *Framer) Pending() int {
	return len(f.partial)
}

// Flush returns the buffered partial line, if any, and clears it
func (f *Framer) Flush() (string, bool) {
	if len(f.partial) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(f.partial, []byte{'\r'}))
	f.partial = nil
	return line, true
}
